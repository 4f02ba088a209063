package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/codec"
)

// multipartMemory bounds how much of a parsed form stays in memory
// before spilling to disk.
const multipartMemory = 32 << 20

// savedUpload is a multipart file persisted to a temp path, ready for
// probing. Compressed payloads are already unwrapped on disk; Name keeps
// the inner filename so downstream extension handling sees the media
// container, not the compression suffix.
type savedUpload struct {
	Path string
	Name string
}

// Cleanup removes the temp file. Safe to call more than once.
func (u *savedUpload) Cleanup() {
	if u.Path != "" {
		_ = os.Remove(u.Path)
		u.Path = ""
	}
}

// saveUpload reads the named multipart file into a temp file,
// transparently decompressing gzip, bzip2, and xz payloads by magic
// bytes. The caller must bound r.Body with MaxBytesReader beforehand
// and Cleanup the result.
func saveUpload(r *http.Request, field string) (*savedUpload, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			return nil, apperr.BadRequest("Uploaded file is too large.")
		}
		return nil, apperr.BadRequest("No file uploaded.")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, apperr.BadRequest("No file uploaded.")
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "upload.bin"
	}
	innerName, _ := codec.InnerName(name)

	rc, comp, err := codec.NewReader(file)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "could not read the uploaded file", err)
	}
	defer rc.Close()
	if comp != codec.CompressionNone {
		name = innerName
	}

	tmp, err := os.CreateTemp("", "ttshub-upload-*"+filepath.Ext(name))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not stage the upload", err)
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		if isBodyTooLarge(err) {
			return nil, apperr.BadRequest("Uploaded file is too large.")
		}
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not stage the upload", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not stage the upload", err)
	}
	return &savedUpload{Path: tmp.Name(), Name: name}, nil
}

// isBodyTooLarge recognizes the MaxBytesReader rejection, which can
// surface from form parsing or from the copy, wrapped or bare.
func isBodyTooLarge(err error) bool {
	if err == nil {
		return false
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
