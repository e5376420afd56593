package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/college-resources/internal/apperror"
	"github.com/sakif/college-resources/internal/auth"
	"github.com/sakif/college-resources/internal/model"
	"github.com/sakif/college-resources/internal/ranking"
	"github.com/sakif/college-resources/internal/service"
)

// DefaultMaxUploadBytes caps a multipart upload when the config leaves it unset.
const DefaultMaxUploadBytes = 20 << 20

// multipartMemory is how much of a multipart form is held in memory before
// the rest spills to temp files.
const multipartMemory = 8 << 20

// Resources is the slice of service.ResourceService the handlers use.
type Resources interface {
	Upload(ctx context.Context, in service.UploadInput, userID string) (*model.Resource, error)
	List(ctx context.Context, query string) ([]model.ResourceWithUploader, error)
	MyUploads(ctx context.Context, userID string) ([]model.ResourceWithUploader, error)
	Get(ctx context.Context, id string) (*model.Resource, error)
	TopRated(ctx context.Context, limit int) ([]model.Resource, error)
	MostDownloaded(ctx context.Context, limit int) ([]model.Resource, error)
	Open(ctx context.Context, id string) (*service.Document, error)
	Download(ctx context.Context, id string) (*service.Document, error)
	DeleteOwn(ctx context.Context, id, userID string) error
	DeleteAny(ctx context.Context, id, adminID string) error
}

// Recommender produces the personalised resource list for a user.
type Recommender interface {
	For(ctx context.Context, userID string) ([]model.Resource, error)
}

// ResourceHandler serves the resource catalogue: listing and search, upload,
// the ranked lists, file viewing and downloading, and deletion.
type ResourceHandler struct {
	resources      Resources
	recommender    Recommender
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewResourceHandler creates a ResourceHandler. A maxUploadBytes of zero or
// less means DefaultMaxUploadBytes.
func NewResourceHandler(resources Resources, recommender Recommender, maxUploadBytes int64, logger *slog.Logger) *ResourceHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &ResourceHandler{
		resources:      resources,
		recommender:    recommender,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// HandleList returns all resources, newest first, optionally filtered.
//
// HTTP: GET /api/resources?q=calculus
//
// q is a case-insensitive substring matched against title, subject and tags.
func (h *ResourceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	resources, err := h.resources.List(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.logger.Error("listing resources failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

// HandleUpload stores a new document.
//
// HTTP: POST /api/resources/upload
// Auth: Required
// BODY: multipart/form-data with fields file, title, subject, semester, tags
// (tags comma-separated).
func (h *ResourceHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	// MaxBytesReader makes the multipart parser fail once the limit is hit
	// instead of spooling an arbitrarily large body to disk.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, apperror.ValidationFailed("file",
				fmt.Sprintf("file must be %d MB or less", h.maxUploadBytes>>20)))
			return
		}
		writeError(w, apperror.ValidationFailed("file", "expected a multipart form with a file"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	in := service.UploadInput{
		Title:    r.FormValue("title"),
		Subject:  r.FormValue("subject"),
		Semester: r.FormValue("semester"),
		Tags:     r.FormValue("tags"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// Body stays nil; the service reports the missing file.
	case err != nil:
		writeError(w, apperror.ValidationFailed("file", "could not read uploaded file"))
		return
	default:
		defer file.Close()
		in.Body = file
		in.FileName = header.Filename
		in.ContentType = header.Header.Get("Content-Type")
	}

	res, err := h.resources.Upload(r.Context(), in, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleTopRated returns resources ordered by average rating.
//
// HTTP: GET /api/resources/top-rated?limit=6
func (h *ResourceHandler) HandleTopRated(w http.ResponseWriter, r *http.Request) {
	limit := ranking.ParseLimit(r.URL.Query().Get("limit"), ranking.DefaultLimit)
	resources, err := h.resources.TopRated(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

// HandleMostDownloaded returns resources ordered by download count.
//
// HTTP: GET /api/resources/most-downloaded?limit=6
func (h *ResourceHandler) HandleMostDownloaded(w http.ResponseWriter, r *http.Request) {
	limit := ranking.ParseLimit(r.URL.Query().Get("limit"), ranking.DefaultLimit)
	resources, err := h.resources.MostDownloaded(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

// HandleRecommendations returns resources similar to what the caller rated.
//
// HTTP: GET /api/resources/recommendations
// Auth: Required
func (h *ResourceHandler) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	resources, err := h.recommender.For(r.Context(), userID)
	if err != nil {
		h.logger.Error("recommendations failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

// HandleMyUploads returns the caller's own resources, newest first.
//
// HTTP: GET /api/resources/my-uploads
// Auth: Required
func (h *ResourceHandler) HandleMyUploads(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	resources, err := h.resources.MyUploads(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

// HandleGet returns one resource with its ratings.
//
// HTTP: GET /api/resources/{id}
func (h *ResourceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	res, err := h.resources.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleView streams the file for display in the browser. Not a download.
//
// HTTP: GET /api/resources/{id}/view
func (h *ResourceHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	doc, err := h.resources.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.serveDocument(w, r, doc, "inline")
}

// HandleDownload streams the file as an attachment and counts the download.
// A Range request that doesn't start at byte 0 resumes a transfer that was
// already counted, so it is served without counting again.
//
// HTTP: GET /api/resources/{id}/download
func (h *ResourceHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	fetch := h.resources.Download
	if resumesDownload(r) {
		fetch = h.resources.Open
	}
	doc, err := fetch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.serveDocument(w, r, doc, "attachment")
}

// resumesDownload reports whether the first range in r's Range header starts
// past byte 0. Suffix ranges ("bytes=-500") count as resuming. A missing or
// unparsable header means a fresh download.
func resumesDownload(r *http.Request) bool {
	spec, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Range")), "bytes=")
	if !ok {
		return false
	}
	first, _, _ := strings.Cut(spec, ",")
	start, _, found := strings.Cut(strings.TrimSpace(first), "-")
	if !found {
		return false
	}
	start = strings.TrimSpace(start)
	if start == "" {
		return true
	}
	offset, err := strconv.ParseInt(start, 10, 64)
	return err == nil && offset > 0
}

// serveDocument hands the file to http.ServeContent, which sets
// Content-Type from the extension and handles Range and If-Modified-Since.
func (h *ResourceHandler) serveDocument(w http.ResponseWriter, r *http.Request, doc *service.Document, disposition string) {
	defer doc.File.Close()

	info, err := doc.File.Stat()
	if err != nil {
		h.logger.Error("stat on resource file failed",
			slog.String("id", doc.Resource.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Disposition",
		mime.FormatMediaType(disposition, map[string]string{"filename": doc.Name}))
	http.ServeContent(w, r, doc.Name, info.ModTime(), doc.File)
}

// HandleDeleteOwn deletes one of the caller's own resources.
//
// HTTP: DELETE /api/resources/my/{id}
// HTTP: DELETE /api/admin/student/resources/{id}
// Auth: Required
func (h *ResourceHandler) HandleDeleteOwn(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	if err := h.resources.DeleteOwn(r.Context(), r.PathValue("id"), userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Resource deleted"})
}

// HandleDeleteAny deletes any resource.
//
// HTTP: DELETE /api/resources/{id}
// HTTP: DELETE /api/admin/resources/{id}
// Auth: Admin
func (h *ResourceHandler) HandleDeleteAny(w http.ResponseWriter, r *http.Request) {
	adminID, _ := auth.UserIDFromContext(r.Context())
	if err := h.resources.DeleteAny(r.Context(), r.PathValue("id"), adminID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Resource deleted"})
}
