package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/college-resources/internal/auth"
	"github.com/sakif/college-resources/internal/service"
)

// Rater is the slice of service.RatingService the rating endpoint uses.
type Rater interface {
	Submit(ctx context.Context, resourceID, userID string, score int, feedback string) (*service.RatingResult, error)
}

// RatingHandler serves rating submission.
type RatingHandler struct {
	ratings Rater
	logger  *slog.Logger
}

func NewRatingHandler(ratings Rater, logger *slog.Logger) *RatingHandler {
	return &RatingHandler{ratings: ratings, logger: logger}
}

type rateRequest struct {
	Score    int    `json:"score" validate:"required,min=1,max=5"`
	Feedback string `json:"feedback" validate:"max=2000"`
}

// rateResponse carries the recomputed aggregate back to the client.
type rateResponse struct {
	Success      bool    `json:"success"`
	AvgRating    float64 `json:"avgRating"`
	RatingsCount int     `json:"ratingsCount"`
}

// HandleRate adds the caller's rating, or replaces it if they rated before.
//
// HTTP: POST /api/rating/{id}/rate
// Auth: Required
// REQUEST BODY: {"score": 4, "feedback": "clear notes"}
func (h *RatingHandler) HandleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	result, err := h.ratings.Submit(r.Context(), r.PathValue("id"), userID, req.Score, req.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rateResponse{
		Success:      true,
		AvgRating:    result.AvgRating,
		RatingsCount: result.RatingsCount,
	})
}
