package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/sakif/college-resources/internal/apperror"
	"github.com/sakif/college-resources/internal/events"
	"github.com/sakif/college-resources/internal/metrics"
	"github.com/sakif/college-resources/internal/model"
	"github.com/sakif/college-resources/internal/ranking"
	"github.com/sakif/college-resources/internal/repository"
	"github.com/sakif/college-resources/internal/storage"
)

// Accepted document types.
const (
	MimePDF  = "application/pdf"
	MimeDOC  = "application/msword"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var allowedMimeTypes = map[string]bool{
	MimePDF:  true,
	MimeDOC:  true,
	MimeDOCX: true,
}

// sniffBytes is how much of an upload is read to detect its type when the
// client didn't declare one. mimetype never looks further than this.
const sniffBytes = 3072

// ResourceService owns the resource lifecycle: upload, listing, file access
// and deletion. Rating writes go through RatingService instead.
type ResourceService struct {
	repo   repository.ResourceRepository
	files  FileStore
	events events.Publisher
	logger *slog.Logger
	now    clock
}

func NewResourceService(
	repo repository.ResourceRepository,
	files FileStore,
	publisher events.Publisher,
	logger *slog.Logger,
) *ResourceService {
	return &ResourceService{
		repo:   repo,
		files:  files,
		events: publisher,
		logger: logger,
		now:    time.Now,
	}
}

// UploadInput is one multipart upload after the handler has parsed it.
// Tags is the raw comma-separated list as typed by the user.
type UploadInput struct {
	Title       string
	Subject     string
	Semester    string
	Tags        string
	FileName    string
	ContentType string
	Body        io.Reader
}

// Document is an opened resource file ready to stream. The caller closes File.
type Document struct {
	Resource *model.Resource
	File     *os.File
	Name     string
}

// Upload validates the input, stores the file and creates the resource.
// The file is stored first; if the database insert then fails the file is
// removed again so no orphan is left on disk.
func (s *ResourceService) Upload(ctx context.Context, in UploadInput, userID string) (*model.Resource, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("valid authentication required")
	}
	if in.Body == nil {
		return nil, apperror.ValidationFailed("file", "file is required")
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperror.ValidationFailed("title", "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	subject := strings.TrimSpace(in.Subject)
	semester := strings.TrimSpace(in.Semester)
	if utf8.RuneCountInString(subject) > MaxFieldLength || utf8.RuneCountInString(semester) > MaxFieldLength {
		return nil, apperror.ValidationFailed("subject",
			fmt.Sprintf("subject and semester must be %d characters or less", MaxFieldLength))
	}
	tags, err := ParseTags(in.Tags)
	if err != nil {
		return nil, err
	}

	body, err := checkContentType(in.ContentType, in.Body)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(in.FileName))
	if ext == "" {
		ext = ".pdf"
	}
	base := strconv.FormatInt(s.now().UnixMilli(), 10)

	name, size, err := s.files.Save(base, ext, body)
	if err != nil {
		s.logger.Error("failed to store upload",
			slog.String("file_name", in.FileName),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Internal("storing file", err)
	}

	res := &model.Resource{
		Title:      title,
		Subject:    subject,
		Semester:   semester,
		Tags:       tags,
		FileURL:    storage.URLFor(name),
		UploadedBy: userID,
	}
	if err := s.repo.Create(ctx, res); err != nil {
		if rmErr := s.files.Delete(name); rmErr != nil {
			s.logger.Error("failed to remove orphaned upload",
				slog.String("file", name),
				slog.String("error", rmErr.Error()),
			)
		}
		s.logger.Error("failed to create resource",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Internal("creating resource", err)
	}

	metrics.RecordUpload()
	s.events.Publish(ctx, events.Event{
		Type:       events.TypeResourceUploaded,
		ResourceID: res.ID,
		UserID:     userID,
	})
	s.logger.Info("resource uploaded",
		slog.String("id", res.ID),
		slog.String("title", res.Title),
		slog.String("uploaded_by", userID),
		slog.Int64("bytes", size),
	)
	return res, nil
}

// ParseTags splits a comma-separated tag list, trimming each entry and
// dropping empty ones. Order and duplicates are kept.
func ParseTags(raw string) ([]string, error) {
	tags := []string{}
	for _, part := range strings.Split(raw, ",") {
		tag := strings.TrimSpace(part)
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxFieldLength {
			return nil, apperror.ValidationFailed("tags",
				fmt.Sprintf("each tag must be %d characters or less", MaxFieldLength))
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// checkContentType enforces the PDF/DOC/DOCX allowlist.
//
// A declared type is trusted as-is, matching what browsers send. Only when the
// client declared nothing useful is the head of the body sniffed; the bytes
// read for that are stitched back in front of the returned reader.
func checkContentType(declared string, body io.Reader) (io.Reader, error) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}

	if declared != "" && declared != "application/octet-stream" {
		if !allowedMimeTypes[declared] {
			return nil, apperror.ValidationFailed("file", "only PDF/DOC files allowed")
		}
		return body, nil
	}

	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, apperror.Internal("reading upload", err)
	}
	head = head[:n]

	detected := mimetype.Detect(head)
	for mime := range allowedMimeTypes {
		if detected.Is(mime) {
			return io.MultiReader(bytes.NewReader(head), body), nil
		}
	}
	return nil, apperror.ValidationFailed("file", "only PDF/DOC files allowed")
}

// List returns every resource newest first, filtered by a case-insensitive
// substring of title, subject or any tag when query is non-empty.
func (s *ResourceService) List(ctx context.Context, query string) ([]model.ResourceWithUploader, error) {
	list, err := s.repo.Search(ctx, repository.ResourceFilter{Query: query})
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	return nonNil(list), nil
}

// MyUploads lists userID's own resources, newest first.
func (s *ResourceService) MyUploads(ctx context.Context, userID string) ([]model.ResourceWithUploader, error) {
	list, err := s.repo.Search(ctx, repository.ResourceFilter{UploadedBy: userID})
	if err != nil {
		return nil, fmt.Errorf("listing uploads for %s: %w", userID, err)
	}
	return nonNil(list), nil
}

func (s *ResourceService) Get(ctx context.Context, id string) (*model.Resource, error) {
	res, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting resource: %w", err)
	}
	return res, nil
}

// TopRated ranks the whole store by average rating, then number of ratings.
func (s *ResourceService) TopRated(ctx context.Context, limit int) ([]model.Resource, error) {
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing top rated: %w", err)
	}
	return ranking.TopRated(all, limit), nil
}

// MostDownloaded ranks the whole store by download count.
func (s *ResourceService) MostDownloaded(ctx context.Context, limit int) ([]model.Resource, error) {
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing most downloaded: %w", err)
	}
	return ranking.MostDownloaded(all, limit), nil
}

// Open returns the resource's file for inline viewing. It does not count
// as a download.
func (s *ResourceService) Open(ctx context.Context, id string) (*Document, error) {
	res, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("opening resource: %w", err)
	}
	return s.openFile(res)
}

// Download opens the file and counts one download. The counter is bumped
// only once the file is known to exist.
func (s *ResourceService) Download(ctx context.Context, id string) (*Document, error) {
	res, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("downloading resource: %w", err)
	}
	doc, err := s.openFile(res)
	if err != nil {
		return nil, err
	}

	downloads, err := s.repo.IncrementDownloads(ctx, id)
	if err != nil {
		doc.File.Close()
		s.logger.Error("failed to count download",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("counting download: %w", err)
	}
	res.Downloads = downloads

	metrics.RecordDownload()
	s.events.Publish(ctx, events.Event{
		Type:       events.TypeResourceDownloaded,
		ResourceID: id,
	})
	return doc, nil
}

func (s *ResourceService) openFile(res *model.Resource) (*Document, error) {
	name := storage.NameFromURL(res.FileURL)
	f, err := s.files.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrInvalidName) {
			return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "file not found"}
		}
		return nil, apperror.Internal("opening file", err)
	}
	return &Document{Resource: res, File: f, Name: name}, nil
}

// DeleteOwn deletes a resource on behalf of its uploader.
func (s *ResourceService) DeleteOwn(ctx context.Context, id, userID string) error {
	res, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting resource: %w", err)
	}
	if res.UploadedBy != userID {
		return apperror.Forbidden("you can only delete your own resources")
	}
	return s.delete(ctx, res, userID)
}

// DeleteAny deletes any resource. Callers must have checked for admin.
func (s *ResourceService) DeleteAny(ctx context.Context, id, adminID string) error {
	res, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting resource: %w", err)
	}
	return s.delete(ctx, res, adminID)
}

// delete removes the row (ratings cascade), then the file. A file that can't
// be removed is logged and left behind: the resource is already gone.
func (s *ResourceService) delete(ctx context.Context, res *model.Resource, actorID string) error {
	if err := s.repo.Delete(ctx, res.ID); err != nil {
		return fmt.Errorf("deleting resource: %w", err)
	}
	if err := s.files.Delete(storage.NameFromURL(res.FileURL)); err != nil {
		s.logger.Warn("resource deleted but file removal failed",
			slog.String("id", res.ID),
			slog.String("file_url", res.FileURL),
			slog.String("error", err.Error()),
		)
	}

	metrics.RecordDelete()
	s.events.Publish(ctx, events.Event{
		Type:       events.TypeResourceDeleted,
		ResourceID: res.ID,
		UserID:     actorID,
	})
	s.logger.Info("resource deleted",
		slog.String("id", res.ID),
		slog.String("by", actorID),
	)
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
