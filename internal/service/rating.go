package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/college-resources/internal/apperror"
	"github.com/sakif/college-resources/internal/events"
	"github.com/sakif/college-resources/internal/metrics"
	"github.com/sakif/college-resources/internal/model"
	"github.com/sakif/college-resources/internal/ranking"
	"github.com/sakif/college-resources/internal/repository"
)

// RatingService is the rating aggregator: it keeps each resource's ratings
// at one per user and its avgRating equal to the mean of those ratings.
type RatingService struct {
	repo   repository.ResourceRepository
	events events.Publisher
	logger *slog.Logger
	locks  *keyedMutex
	now    clock
}

func NewRatingService(repo repository.ResourceRepository, publisher events.Publisher, logger *slog.Logger) *RatingService {
	return &RatingService{
		repo:   repo,
		events: publisher,
		logger: logger,
		locks:  newKeyedMutex(),
		now:    time.Now,
	}
}

// RatingResult is the resource's aggregate after a submission.
type RatingResult struct {
	AvgRating    float64 `json:"avgRating"`
	RatingsCount int     `json:"ratingsCount"`
}

// Submit records userID's score for a resource, replacing any earlier rating
// by the same user, and recomputes the average from the full set.
//
// THE READ-MODIFY-WRITE:
// Submit loads the resource, edits its ratings in memory and writes the
// whole set back. Two concurrent submissions for one resource would each see
// the old set and the second write would drop the first rating. Two guards
// stop that:
//
//  1. Within this process, submissions for the same resource take turns on a
//     per-resource lock. Different resources never wait on each other.
//  2. Across processes, SaveRatings only applies if the stored version is the
//     one we read. A loser gets apperror.ErrConflict and nothing is written.
//
// The overwrite keeps the rating's position: ratings stay in the order users
// first rated, not the order of their latest change.
func (s *RatingService) Submit(ctx context.Context, resourceID, userID string, score int, feedback string) (*RatingResult, error) {
	if strings.TrimSpace(resourceID) == "" {
		return nil, apperror.ValidationFailed("resourceId", "resource id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, apperror.ValidationFailed("user", "user id is required")
	}
	if score < MinScore || score > MaxScore {
		return nil, apperror.ValidationFailed("score",
			fmt.Sprintf("score must be between %d and %d", MinScore, MaxScore))
	}
	feedback = strings.TrimSpace(feedback)
	if utf8.RuneCountInString(feedback) > MaxFeedbackLength {
		return nil, apperror.ValidationFailed("feedback",
			fmt.Sprintf("feedback must be %d characters or less", MaxFeedbackLength))
	}

	unlock := s.locks.Lock(resourceID)
	defer unlock()

	res, err := s.repo.GetByID(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("submitting rating: %w", err)
	}

	now := s.now()
	if i := res.FindRating(userID); i >= 0 {
		res.Ratings[i].Score = score
		res.Ratings[i].Feedback = feedback
		res.Ratings[i].CreatedAt = now
	} else {
		res.Ratings = append(res.Ratings, model.Rating{
			User:      userID,
			Score:     score,
			Feedback:  feedback,
			CreatedAt: now,
		})
	}
	res.AvgRating = ranking.Average(res.Ratings)

	if err := s.repo.SaveRatings(ctx, res); err != nil {
		if errors.Is(err, apperror.ErrConflict) || errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("rating write lost a race",
				slog.String("resource_id", resourceID),
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("submitting rating: %w", err)
		}
		s.logger.Error("failed to save rating",
			slog.String("resource_id", resourceID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Internal("saving rating", err)
	}

	metrics.RecordRating()
	s.events.Publish(ctx, events.Event{
		Type:       events.TypeRatingSubmitted,
		ResourceID: resourceID,
		UserID:     userID,
		Score:      score,
		OccurredAt: now,
	})

	s.logger.Info("rating submitted",
		slog.String("resource_id", resourceID),
		slog.String("user_id", userID),
		slog.Int("score", score),
		slog.Float64("avg_rating", res.AvgRating),
		slog.Int("ratings_count", res.RatingsCount()),
	)

	return &RatingResult{
		AvgRating:    res.AvgRating,
		RatingsCount: res.RatingsCount(),
	}, nil
}
