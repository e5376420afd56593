// Package ranking orders resources for the "top rated", "most downloaded" and
// recommendation listings.
//
// Every function copies its input before sorting, so callers can hand in the
// slice they got from the store and keep using it in store order. Sorting is
// stable: resources that tie on every key keep their relative input order.
package ranking

import (
	"slices"
	"strconv"
	"strings"

	"github.com/sakif/college-resources/internal/model"
)

const (
	// DefaultLimit is used when a listing is asked for without a usable limit.
	DefaultLimit = 6
	// MaxLimit caps what a client can request in one listing.
	MaxLimit = 100
)

// Average is the arithmetic mean of the scores, or 0 for no ratings.
func Average(ratings []model.Rating) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r.Score
	}
	return float64(sum) / float64(len(ratings))
}

// TopRated orders by average rating, then by how many people rated.
// A single 5-star vote can outrank many 4.9s; that is intended.
func TopRated(resources []model.Resource, limit int) []model.Resource {
	return sortAndTruncate(resources, limit, func(a, b model.Resource) int {
		if c := compareDesc(a.AvgRating, b.AvgRating); c != 0 {
			return c
		}
		return compareDesc(a.RatingsCount(), b.RatingsCount())
	})
}

// MostDownloaded orders by download count only.
func MostDownloaded(resources []model.Resource, limit int) []model.Resource {
	return sortAndTruncate(resources, limit, func(a, b model.Resource) int {
		return compareDesc(a.Downloads, b.Downloads)
	})
}

// ByRatingThenDownloads orders by average rating, breaking ties by downloads.
func ByRatingThenDownloads(resources []model.Resource, limit int) []model.Resource {
	return sortAndTruncate(resources, limit, func(a, b model.Resource) int {
		if c := compareDesc(a.AvgRating, b.AvgRating); c != 0 {
			return c
		}
		return compareDesc(a.Downloads, b.Downloads)
	})
}

// ParseLimit reads a limit query parameter. Anything missing, non-numeric or
// non-positive silently becomes def; values above MaxLimit are capped.
func ParseLimit(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, MaxLimit)
}

func sortAndTruncate(resources []model.Resource, limit int, cmp func(a, b model.Resource) int) []model.Resource {
	sorted := slices.Clone(resources)
	if sorted == nil {
		sorted = []model.Resource{}
	}
	slices.SortStableFunc(sorted, cmp)
	if limit >= 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func compareDesc[T int | int64 | float64](a, b T) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}
