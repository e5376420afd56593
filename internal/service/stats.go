package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/college-resources/internal/model"
	"github.com/sakif/college-resources/internal/repository"
)

// StatsService assembles the two dashboards. Every number is computed by the
// store at request time; nothing here is cached or incrementally maintained.
type StatsService struct {
	users  repository.UserRepository
	stats  repository.StatsRepository
	logger *slog.Logger
}

func NewStatsService(users repository.UserRepository, stats repository.StatsRepository, logger *slog.Logger) *StatsService {
	return &StatsService{users: users, stats: stats, logger: logger}
}

// Admin returns site-wide totals and the five most active uploaders.
func (s *StatsService) Admin(ctx context.Context) (*model.AdminStats, error) {
	users, err := s.users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin stats: %w", err)
	}
	resources, err := s.stats.CountResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin stats: %w", err)
	}
	downloads, err := s.stats.TotalDownloads(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin stats: %w", err)
	}
	active, err := s.stats.MostActiveUploaders(ctx, dashboardLimit)
	if err != nil {
		return nil, fmt.Errorf("admin stats: %w", err)
	}

	return &model.AdminStats{
		TotalUsers:      users,
		TotalResources:  resources,
		TotalDownloads:  downloads,
		MostActiveUsers: nonNil(active),
	}, nil
}

// Student returns the site total, the five most downloaded resources and
// the caller's own uploads.
func (s *StatsService) Student(ctx context.Context, userID string) (*model.StudentStats, error) {
	resources, err := s.stats.CountResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("student stats: %w", err)
	}
	top, err := s.stats.TopByDownloads(ctx, dashboardLimit)
	if err != nil {
		return nil, fmt.Errorf("student stats: %w", err)
	}
	mine, err := s.stats.UploadsBy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("student stats: %w", err)
	}

	return &model.StudentStats{
		TotalResources: resources,
		TopResources:   nonNil(top),
		MyUploads:      nonNil(mine),
	}, nil
}
