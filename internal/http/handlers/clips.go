package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/models"
	"github.com/jmylchreest/ttshub/internal/repository"
	"github.com/jmylchreest/ttshub/internal/storage"
	"github.com/jmylchreest/ttshub/pkg/duration"
)

// ClipsHandler serves the rendered-clip history ledger.
type ClipsHandler struct {
	repo   repository.ClipRepository
	layout *storage.Layout
	logger *slog.Logger
}

// NewClipsHandler creates a new clips handler.
func NewClipsHandler(repo repository.ClipRepository, layout *storage.Layout, logger *slog.Logger) *ClipsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClipsHandler{repo: repo, layout: layout, logger: logger}
}

// Register registers the clip ledger routes with the API.
func (h *ClipsHandler) Register(api huma.API, prefix string) {
	huma.Register(api, huma.Operation{
		OperationID: "listClips",
		Method:      http.MethodGet,
		Path:        prefix + "/clips",
		Summary:     "Clip history",
		Description: "Rendered clips, newest first",
		Tags:        []string{"Clips"},
	}, h.ListClips)

	huma.Register(api, huma.Operation{
		OperationID: "deleteClip",
		Method:      http.MethodDelete,
		Path:        prefix + "/clips/{id}",
		Summary:     "Delete a clip",
		Description: "Removes the ledger row and best-effort unlinks the audio artifact",
		Tags:        []string{"Clips"},
	}, h.DeleteClip)
}

// ListClipsInput filters the clip history. Kind is one of synthesis,
// audition, or preview; unknown kinds simply match nothing. Since takes
// a look-back window ("24h", "7d") or an ISO timestamp.
type ListClipsInput struct {
	Engine string `query:"engine"`
	Kind   string `query:"kind"`
	Since  string `query:"since"`
	Limit  int    `query:"limit" minimum:"0" maximum:"500"`
}

// ClipsListResponse is the clip history payload.
type ClipsListResponse struct {
	Clips []*models.Clip `json:"clips"`
	Count int            `json:"count"`
}

// ListClipsOutput is the clip history payload.
type ListClipsOutput struct {
	Body ClipsListResponse
}

// ListClips returns ledger rows, newest first.
func (h *ClipsHandler) ListClips(ctx context.Context, input *ListClipsInput) (*ListClipsOutput, error) {
	filter := repository.ClipFilter{
		Engine: input.Engine,
		Kind:   models.ClipKind(input.Kind),
		Limit:  input.Limit,
	}
	if s := strings.TrimSpace(input.Since); s != "" {
		cutoff, err := duration.ParseSince(s)
		if err != nil {
			return nil, apperr.BadRequest("Field 'since' accepts a look-back window like '24h' or '7d', or an ISO timestamp.")
		}
		filter.Since = cutoff
	}

	clips, err := h.repo.List(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "could not list clips", err)
	}
	if clips == nil {
		clips = []*models.Clip{}
	}
	return &ListClipsOutput{Body: ClipsListResponse{Clips: clips, Count: len(clips)}}, nil
}

// DeleteClipInput addresses one ledger row.
type DeleteClipInput struct {
	ID string `path:"id"`
}

// DeleteClipOutput is the removal acknowledgement.
type DeleteClipOutput struct {
	Body DeletedResponse
}

// DeleteClip removes a ledger row and unlinks its artifact when it
// still exists under the output tree. Artifact removal is best effort:
// cached previews may be shared and files may already be gone.
func (h *ClipsHandler) DeleteClip(ctx context.Context, input *DeleteClipInput) (*DeleteClipOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, apperr.NotFound("Not found")
	}
	clip, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "could not load the clip", err)
	}
	if clip == nil {
		return nil, apperr.NotFound("Not found")
	}

	if rel := strings.TrimPrefix(clip.Path, "/audio/"); rel != clip.Path && rel != "" && clip.Kind != models.ClipKindPreview {
		if err := h.layout.Sandbox().Remove(rel); err != nil {
			h.logger.Debug("clip artifact unlink failed",
				slog.String("clip", input.ID),
				slog.String("path", rel),
				slog.String("error", err.Error()))
		}
	}

	if err := h.repo.Delete(ctx, clip.ID); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "could not delete the clip", err)
	}
	return &DeleteClipOutput{Body: DeletedResponse{OK: true}}, nil
}
