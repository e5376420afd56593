// Package repository declares the storage contracts the services depend on.
//
// Services take these interfaces, never the concrete sqlite types, so unit
// tests can hand in in-memory fakes and the SQL lives in one package.
package repository

import (
	"context"

	"github.com/sakif/college-resources/internal/model"
)

// ResourceFilter narrows a resource listing.
// Query is a case-insensitive substring matched against title, subject and
// every tag. UploadedBy restricts to one uploader. Zero values mean "no filter".
type ResourceFilter struct {
	Query      string
	UploadedBy string
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	ListNonAdmins(ctx context.Context) ([]model.User, error)
	UpdateRole(ctx context.Context, id string, role model.Role) error
	UpdateStatus(ctx context.Context, id string, status model.Status) error
	Count(ctx context.Context) (int, error)
}

// ResourceRepository is the Resource Store. Every read returns resources with
// their ratings loaded in submission order.
type ResourceRepository interface {
	Create(ctx context.Context, resource *model.Resource) error
	GetByID(ctx context.Context, id string) (*model.Resource, error)

	// ListAll returns every resource in store (insertion) order.
	ListAll(ctx context.Context) ([]model.Resource, error)

	// Search returns matching resources, newest first, with uploader identity.
	Search(ctx context.Context, filter ResourceFilter) ([]model.ResourceWithUploader, error)

	// ListRatedBy returns every resource holding a rating authored by userID.
	ListRatedBy(ctx context.Context, userID string) ([]model.Resource, error)

	// SaveRatings persists resource.Ratings and resource.AvgRating as one unit.
	// The write only applies if the stored version still equals
	// resource.Version; otherwise it returns apperror.ErrConflict and leaves
	// the stored state untouched. On success resource.Version is advanced.
	SaveRatings(ctx context.Context, resource *model.Resource) error

	// IncrementDownloads adds one to the counter and returns the new value.
	IncrementDownloads(ctx context.Context, id string) (int64, error)

	Delete(ctx context.Context, id string) error
}

// StatsRepository holds the read-only aggregate queries behind the dashboards.
// All of them return zero values or empty slices on an empty store.
type StatsRepository interface {
	CountResources(ctx context.Context) (int, error)
	TotalDownloads(ctx context.Context) (int64, error)
	MostActiveUploaders(ctx context.Context, limit int) ([]model.UploaderActivity, error)
	TopByDownloads(ctx context.Context, limit int) ([]model.DownloadSummary, error)
	UploadsBy(ctx context.Context, userID string) ([]model.UploadSummary, error)
}
