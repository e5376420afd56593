package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sakif/college-resources/internal/apperror"
	"github.com/sakif/college-resources/internal/events"
	"github.com/sakif/college-resources/internal/model"
	"github.com/sakif/college-resources/internal/repository"
)

// =========================================================================
// FAKE REPOSITORIES
// =========================================================================
//
// Hand-written in-memory implementations of the repository interfaces.
// They copy on every read and write so a test can't accidentally share
// state with the service through a pointer, which is exactly the class of
// bug the real database would hide.

type fakeUserRepo struct {
	mu     sync.Mutex
	users  []*model.User
	nextID int

	// set to simulate a database failure
	err error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, u := range f.users {
		if u.Email == strings.ToLower(user.Email) {
			return apperror.Conflict("user", user.Email)
		}
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	if user.Status == "" {
		user.Status = model.StatusActive
	}
	stored := *user
	f.users = append(f.users, &stored)
	return nil
}

func (f *fakeUserRepo) find(match func(*model.User) bool, key string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if match(u) {
			found := *u
			return &found, nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id }, id)
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return f.find(func(u *model.User) bool { return u.Email == email }, email)
}

func (f *fakeUserRepo) ListNonAdmins(_ context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []model.User
	for i := len(f.users) - 1; i >= 0; i-- {
		if !f.users[i].IsAdmin() {
			out = append(out, *f.users[i])
		}
	}
	return out, nil
}

func (f *fakeUserRepo) update(id string, apply func(*model.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, u := range f.users {
		if u.ID == id {
			apply(u)
			return nil
		}
	}
	return apperror.NotFound("user", id)
}

func (f *fakeUserRepo) UpdateRole(_ context.Context, id string, role model.Role) error {
	return f.update(id, func(u *model.User) { u.Role = role })
}

func (f *fakeUserRepo) UpdateStatus(_ context.Context, id string, status model.Status) error {
	return f.update(id, func(u *model.User) { u.Status = status })
}

func (f *fakeUserRepo) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), f.err
}

// fakeResourceRepo implements both ResourceRepository and StatsRepository.
type fakeResourceRepo struct {
	mu        sync.Mutex
	resources []*model.Resource // store order
	nextID    int

	createErr error
	saveErr   error
	// saves counts successful SaveRatings calls
	saves int
}

var (
	_ repository.ResourceRepository = (*fakeResourceRepo)(nil)
	_ repository.StatsRepository    = (*fakeResourceRepo)(nil)
)

func newFakeResourceRepo() *fakeResourceRepo {
	return &fakeResourceRepo{}
}

func cloneResource(r *model.Resource) model.Resource {
	c := *r
	c.Tags = slices.Clone(r.Tags)
	c.Ratings = slices.Clone(r.Ratings)
	if c.Ratings == nil {
		c.Ratings = []model.Rating{}
	}
	return c
}

// add stores a resource directly, bypassing Create's resets.
func (f *fakeResourceRepo) add(res model.Resource) *model.Resource {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res.ID == "" {
		f.nextID++
		res.ID = fmt.Sprintf("res-%d", f.nextID)
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	stored := cloneResource(&res)
	f.resources = append(f.resources, &stored)
	out := cloneResource(&stored)
	return &out
}

func (f *fakeResourceRepo) Create(_ context.Context, res *model.Resource) error {
	if f.createErr != nil {
		return f.createErr
	}
	res.Ratings = []model.Rating{}
	res.AvgRating = 0
	res.Downloads = 0
	created := f.add(*res)
	*res = *created
	return nil
}

func (f *fakeResourceRepo) get(id string) (*model.Resource, bool) {
	for _, r := range f.resources {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

func (f *fakeResourceRepo) GetByID(_ context.Context, id string) (*model.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.get(id)
	if !ok {
		return nil, apperror.NotFound("resource", id)
	}
	out := cloneResource(r)
	return &out, nil
}

func (f *fakeResourceRepo) ListAll(_ context.Context) ([]model.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Resource, 0, len(f.resources))
	for _, r := range f.resources {
		out = append(out, cloneResource(r))
	}
	return out, nil
}

func (f *fakeResourceRepo) Search(_ context.Context, filter repository.ResourceFilter) ([]model.ResourceWithUploader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := strings.ToLower(filter.Query)
	var out []model.ResourceWithUploader
	for i := len(f.resources) - 1; i >= 0; i-- {
		r := f.resources[i]
		if filter.UploadedBy != "" && r.UploadedBy != filter.UploadedBy {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(r.Title), q) {
			continue
		}
		out = append(out, model.ResourceWithUploader{Resource: cloneResource(r)})
	}
	return out, nil
}

func (f *fakeResourceRepo) ListRatedBy(_ context.Context, userID string) ([]model.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Resource
	for _, r := range f.resources {
		if r.FindRating(userID) >= 0 {
			out = append(out, cloneResource(r))
		}
	}
	return out, nil
}

func (f *fakeResourceRepo) SaveRatings(_ context.Context, res *model.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	stored, ok := f.get(res.ID)
	if !ok {
		return apperror.NotFound("resource", res.ID)
	}
	if stored.Version != res.Version {
		return apperror.Conflict("resource", res.ID)
	}
	stored.Ratings = slices.Clone(res.Ratings)
	stored.AvgRating = res.AvgRating
	stored.Version++
	res.Version = stored.Version
	f.saves++
	return nil
}

func (f *fakeResourceRepo) IncrementDownloads(_ context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.get(id)
	if !ok {
		return 0, apperror.NotFound("resource", id)
	}
	r.Downloads++
	return r.Downloads, nil
}

func (f *fakeResourceRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.resources {
		if r.ID == id {
			f.resources = slices.Delete(f.resources, i, i+1)
			return nil
		}
	}
	return apperror.NotFound("resource", id)
}

func (f *fakeResourceRepo) CountResources(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resources), nil
}

func (f *fakeResourceRepo) TotalDownloads(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, r := range f.resources {
		total += r.Downloads
	}
	return total, nil
}

func (f *fakeResourceRepo) MostActiveUploaders(_ context.Context, limit int) ([]model.UploaderActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.UploaderActivity
	index := map[string]int{}
	for _, r := range f.resources {
		if i, ok := index[r.UploadedBy]; ok {
			out[i].Uploads++
			continue
		}
		index[r.UploadedBy] = len(out)
		out = append(out, model.UploaderActivity{UserID: r.UploadedBy, Uploads: 1})
	}
	slices.SortStableFunc(out, func(a, b model.UploaderActivity) int { return b.Uploads - a.Uploads })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeResourceRepo) TopByDownloads(_ context.Context, limit int) ([]model.DownloadSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DownloadSummary
	for _, r := range f.resources {
		out = append(out, model.DownloadSummary{ID: r.ID, Title: r.Title, Downloads: r.Downloads})
	}
	slices.SortStableFunc(out, func(a, b model.DownloadSummary) int { return int(b.Downloads - a.Downloads) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeResourceRepo) UploadsBy(_ context.Context, userID string) ([]model.UploadSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.UploadSummary
	for _, r := range f.resources {
		if r.UploadedBy == userID {
			out = append(out, model.UploadSummary{ID: r.ID, Title: r.Title, Subject: r.Subject, Downloads: r.Downloads, CreatedAt: r.CreatedAt})
		}
	}
	return out, nil
}

// =========================================================================
// FAKE PUBLISHER
// =========================================================================

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
