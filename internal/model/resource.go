package model

import "time"

// Rating is one user's score and feedback on a resource.
// There is at most one Rating per (resource, user): re-submitting overwrites
// Score, Feedback and CreatedAt in place.
type Rating struct {
	User      string    `json:"user"`
	Score     int       `json:"score"`
	Feedback  string    `json:"feedback"`
	CreatedAt time.Time `json:"createdAt"`
}

// Resource is an uploaded document with its ratings and download counter.
//
// INVARIANTS:
//   - Ratings is in submission order (first submission first), not score order.
//   - AvgRating equals the mean of Ratings[i].Score, or 0 when Ratings is empty.
//     It is a cached, derived value recomputed on every rating write.
//   - Downloads never decreases.
//
// Version is the optimistic-concurrency counter used by the store when a
// rating write replaces the whole ratings set. It is not part of the API.
type Resource struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Subject    string    `json:"subject"`
	Semester   string    `json:"semester"`
	Tags       []string  `json:"tags"`
	FileURL    string    `json:"fileUrl"`
	UploadedBy string    `json:"uploadedBy"`
	Ratings    []Rating  `json:"ratings"`
	AvgRating  float64   `json:"avgRating"`
	Downloads  int64     `json:"downloads"`
	Version    int64     `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// RatingsCount is the number of distinct users who rated the resource.
func (r *Resource) RatingsCount() int {
	return len(r.Ratings)
}

// FindRating returns the index of userID's rating, or -1.
// Ratings per resource are few, so a linear scan is fine.
func (r *Resource) FindRating(userID string) int {
	for i := range r.Ratings {
		if r.Ratings[i].User == userID {
			return i
		}
	}
	return -1
}

// ResourceWithUploader is a resource listing row with the uploader's identity
// joined in. Uploader is nil when the uploading account no longer resolves.
type ResourceWithUploader struct {
	Resource
	Uploader *UserRef `json:"uploader"`
}
