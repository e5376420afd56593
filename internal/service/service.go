// Package service contains the business rules of the application.
//
// THE THREE LAYERS:
//
//	Handler (HTTP)       → parses requests, writes responses
//	Service (this)       → validates, enforces rules, orchestrates
//	Repository (storage) → reads and writes the database
//
// Services accept plain values, never *http.Request, and return apperror
// values the handler layer maps to status codes. Every dependency comes in
// through a constructor as an interface (repository.*, FileStore,
// events.Publisher), so tests run against in-memory fakes.
package service

import (
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate checks single values (emails) the same way the handler layer
// checks request bodies. A Validate is safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validation limits.
const (
	MaxNameLength     = 100
	MaxTitleLength    = 200
	MaxFieldLength    = 100 // subject, semester and each tag
	MaxFeedbackLength = 2000
	MinPasswordLength = 6
	MinScore          = 1
	MaxScore          = 5

	// dashboardLimit is the size of the fixed "top N" lists on both dashboards.
	dashboardLimit = 5
)

// FileStore is the blob storage the resource service writes documents to.
// storage.Local implements it.
type FileStore interface {
	Save(base, ext string, r io.Reader) (name string, n int64, err error)
	Open(name string) (*os.File, error)
	Delete(name string) error
}

// clock is swapped in tests that need deterministic timestamps.
type clock func() time.Time
