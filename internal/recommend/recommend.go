// Package recommend suggests resources from what a user has already rated.
//
// HOW IT WORKS:
//  1. Every resource the user rated (any score, even 1 star) contributes its
//     tags and its subject to a preference profile.
//  2. Resources sharing at least one tag or the subject with that profile are
//     candidates. Resources the user already rated or uploaded are NOT
//     filtered out.
//  3. Candidates are ranked by average rating, then downloads.
//
// A user with no ratings gets the global ranking instead. Nothing is cached;
// every call reads the store again.
package recommend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/college-resources/internal/model"
	"github.com/sakif/college-resources/internal/ranking"
)

// Limit is the maximum number of recommendations returned.
const Limit = 6

// Store is the subset of the resource repository the engine reads.
type Store interface {
	ListAll(ctx context.Context) ([]model.Resource, error)
	ListRatedBy(ctx context.Context, userID string) ([]model.Resource, error)
}

type Engine struct {
	store  Store
	logger *slog.Logger
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// For returns up to Limit resources for userID.
func (e *Engine) For(ctx context.Context, userID string) ([]model.Resource, error) {
	rated, err := e.store.ListRatedBy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("recommend: loading rated resources: %w", err)
	}
	profile := buildProfile(rated)

	all, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("recommend: loading resources: %w", err)
	}

	e.logger.DebugContext(ctx, "recommendation signal",
		"user_id", userID,
		"rated", len(rated),
		"tags", len(profile.tags),
		"subjects", len(profile.subjects),
	)

	if profile.empty() {
		return ranking.ByRatingThenDownloads(all, Limit), nil
	}

	matches := make([]model.Resource, 0, len(all))
	for _, res := range all {
		if profile.matches(res) {
			matches = append(matches, res)
		}
	}
	return ranking.ByRatingThenDownloads(matches, Limit), nil
}

type profile struct {
	tags     map[string]struct{}
	subjects map[string]struct{}
}

func buildProfile(rated []model.Resource) profile {
	p := profile{
		tags:     make(map[string]struct{}),
		subjects: make(map[string]struct{}),
	}
	for _, res := range rated {
		for _, tag := range res.Tags {
			p.tags[tag] = struct{}{}
		}
		if res.Subject != "" {
			p.subjects[res.Subject] = struct{}{}
		}
	}
	return p
}

func (p profile) empty() bool {
	return len(p.tags) == 0 && len(p.subjects) == 0
}

func (p profile) matches(res model.Resource) bool {
	if _, ok := p.subjects[res.Subject]; ok && res.Subject != "" {
		return true
	}
	for _, tag := range res.Tags {
		if _, ok := p.tags[tag]; ok {
			return true
		}
	}
	return false
}
