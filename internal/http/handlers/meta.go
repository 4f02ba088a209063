package handlers

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/engine"
	"github.com/jmylchreest/ttshub/internal/proxy"
	"github.com/jmylchreest/ttshub/internal/voices"
)

// MetaHandler serves the service descriptor the frontend boots from.
type MetaHandler struct {
	cfg      *config.Config
	registry *engine.Registry
	ollama   *proxy.Ollama
	lanIP    string
	logger   *slog.Logger
}

// NewMetaHandler creates a new meta handler. The LAN address is probed
// once at startup; it only changes when the host moves networks.
func NewMetaHandler(cfg *config.Config, registry *engine.Registry, ollama *proxy.Ollama, logger *slog.Logger) *MetaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetaHandler{
		cfg:      cfg,
		registry: registry,
		ollama:   ollama,
		lanIP:    lanIP(),
		logger:   logger,
	}
}

// Register registers the meta route with the API.
func (h *MetaHandler) Register(api huma.API, prefix string) {
	huma.Register(api, huma.Operation{
		OperationID: "getMeta",
		Method:      http.MethodGet,
		Path:        prefix + "/meta",
		Summary:     "Service descriptor",
		Description: "Engine inventory, defaults, voice counts, and reachable URL hints",
		Tags:        []string{"Meta"},
	}, h.GetMeta)
}

// FrontendBundle reports whether a built SPA is being served.
type FrontendBundle struct {
	Path      string `json:"path"`
	Available bool   `json:"available"`
}

// MetaURLs lists base URLs peers can reach the API on. Entries are null
// when the corresponding host is unknown.
type MetaURLs struct {
	Local *string `json:"local"`
	Bind  *string `json:"bind"`
	LAN   *string `json:"lan"`
	WG    *string `json:"wg"`
}

// MetaResponse is the service descriptor payload.
type MetaResponse struct {
	APIPrefix        string         `json:"api_prefix"`
	Port             int            `json:"port"`
	HasModel         bool           `json:"has_model"`
	HasVoices        bool           `json:"has_voices"`
	RandomCategories []string       `json:"random_categories"`
	AccentGroups     []voices.Group `json:"accent_groups"`
	VoiceCount       int            `json:"voice_count"`
	FrontendBundle   FrontendBundle `json:"frontend_bundle"`
	OllamaAvailable  bool           `json:"ollama_available"`
	Engines          []engine.Meta  `json:"engines"`
	DefaultEngine    string         `json:"default_engine"`
	BindHost         string         `json:"bind_host"`
	PublicHost       string         `json:"public_host"`
	LANIP            string         `json:"lan_ip"`
	URLs             MetaURLs       `json:"urls"`
}

// GetMetaInput is the input for the meta descriptor.
type GetMetaInput struct{}

// GetMetaOutput is the output for the meta descriptor.
type GetMetaOutput struct {
	Body MetaResponse
}

// GetMeta assembles the service descriptor.
func (h *MetaHandler) GetMeta(ctx context.Context, input *GetMetaInput) (*GetMetaOutput, error) {
	kokoroGroups := []voices.Group{}
	kokoroCount := 0
	if eng, ok := h.registry.Get(engine.DefaultEngine); ok {
		if catalog := eng.Voices(); catalog != nil {
			if catalog.AccentGroups != nil {
				kokoroGroups = catalog.AccentGroups
			}
			kokoroCount = catalog.Count
		}
	}

	bundleDir := h.cfg.Server.FrontendDir
	bundleAvailable := false
	if bundleDir != "" {
		if info, err := os.Stat(filepath.Join(bundleDir, "index.html")); err == nil && info.Mode().IsRegular() {
			bundleAvailable = true
		}
	}

	inventory := h.ollama.Models(ctx)

	resp := MetaResponse{
		APIPrefix:        h.cfg.Server.APIPrefix,
		Port:             h.cfg.Server.Port,
		HasModel:         fileIsRegular(h.cfg.Engines.Kokoro.ModelPath),
		HasVoices:        fileIsRegular(h.cfg.Engines.Kokoro.VoicesPath),
		RandomCategories: proxy.Categories(),
		AccentGroups:     kokoroGroups,
		VoiceCount:       kokoroCount,
		FrontendBundle:   FrontendBundle{Path: bundleDir, Available: bundleAvailable},
		OllamaAvailable:  inventory.Available(),
		Engines:          h.registry.Metas(),
		DefaultEngine:    engine.DefaultEngine,
		BindHost:         h.cfg.Server.Host,
		PublicHost:       h.cfg.Server.PublicHost,
		LANIP:            h.lanIP,
		URLs: MetaURLs{
			Local: h.baseURL("127.0.0.1"),
			Bind:  h.baseURL(h.cfg.Server.Host),
			LAN:   h.baseURL(h.lanIP),
			WG:    h.baseURL(h.cfg.Server.PublicHost),
		},
	}
	return &GetMetaOutput{Body: resp}, nil
}

// baseURL builds the API base URL for one host, or nil when the host is
// unknown.
func (h *MetaHandler) baseURL(host string) *string {
	if host == "" {
		return nil
	}
	url := "http://" + host + ":" + strconv.Itoa(h.cfg.Server.Port) + h.cfg.Server.NormalizedAPIPrefix()
	return &url
}

// fileIsRegular reports whether path names an existing regular file.
func fileIsRegular(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// lanIP discovers the outbound interface address without sending any
// packets. Hosts with no route report an empty address.
func lanIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}
