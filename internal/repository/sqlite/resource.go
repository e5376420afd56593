package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/xid"

	"github.com/sakif/college-resources/internal/apperror"
	"github.com/sakif/college-resources/internal/model"
	"github.com/sakif/college-resources/internal/repository"
)

var (
	_ repository.ResourceRepository = (*ResourceDB)(nil)
	_ repository.StatsRepository    = (*ResourceDB)(nil)
)

// ResourceDB is the resources table together with its embedded ratings.
//
// Ratings live in their own table but are never addressed on their own:
// every read attaches them to their resource, and every write replaces the
// full set inside the same transaction as avg_rating. That keeps the
// "ratings and average always agree" invariant a property of the store.
type ResourceDB struct {
	conn *sql.DB
}

const resourceColumns = `r.id, r.title, r.subject, r.semester, r.tags, r.file_url, r.uploaded_by,
	r.avg_rating, r.downloads, r.version, r.created_at, r.updated_at`

// Create inserts a new resource with a generated ID. Ratings, average and
// downloads always start at zero regardless of what the caller set.
func (d *ResourceDB) Create(ctx context.Context, res *model.Resource) error {
	now := time.Now()
	res.ID = xid.New().String()
	res.CreatedAt = now
	res.UpdatedAt = now
	res.Ratings = []model.Rating{}
	res.AvgRating = 0
	res.Downloads = 0
	res.Version = 0
	if res.Tags == nil {
		res.Tags = []string{}
	}

	tags, err := json.Marshal(res.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	_, err = d.conn.ExecContext(ctx,
		`INSERT INTO resources (id, title, subject, semester, tags, file_url, uploaded_by,
		                        avg_rating, downloads, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)`,
		res.ID,
		res.Title,
		res.Subject,
		res.Semester,
		string(tags),
		res.FileURL,
		res.UploadedBy,
		res.CreatedAt,
		res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating resource: %w", err)
	}
	return nil
}

// GetByID retrieves one resource with its ratings.
// Returns apperror.ErrNotFound if it doesn't exist.
func (d *ResourceDB) GetByID(ctx context.Context, id string) (*model.Resource, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resources r WHERE r.id = ?`, id)

	res, err := scanResource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("resource", id)
		}
		return nil, fmt.Errorf("sqlite: getting resource %s: %w", id, err)
	}

	byID := map[string]*model.Resource{res.ID: res}
	if err := d.attachRatings(ctx, byID); err != nil {
		return nil, err
	}
	return res, nil
}

// ListAll returns every resource in insertion order.
func (d *ResourceDB) ListAll(ctx context.Context) ([]model.Resource, error) {
	return d.listResources(ctx,
		`SELECT `+resourceColumns+` FROM resources r ORDER BY r.rowid ASC`)
}

// ListRatedBy returns the resources that carry a rating by userID, in
// insertion order. The score doesn't matter: a 1-star rating still counts.
func (d *ResourceDB) ListRatedBy(ctx context.Context, userID string) ([]model.Resource, error) {
	return d.listResources(ctx,
		`SELECT `+resourceColumns+` FROM resources r
		 WHERE r.id IN (SELECT resource_id FROM ratings WHERE user_id = ?)
		 ORDER BY r.rowid ASC`,
		userID,
	)
}

// Search lists resources newest first with the uploader joined in.
//
// The query is matched with LIKE against title and subject, and against each
// element of the tags JSON array via json_each, so a query can never match
// across two tags.
func (d *ResourceDB) Search(ctx context.Context, filter repository.ResourceFilter) ([]model.ResourceWithUploader, error) {
	var (
		where []string
		args  []any
	)
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
		where = append(where, `(LOWER(r.title) LIKE ? ESCAPE '\'
			OR LOWER(r.subject) LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM json_each(r.tags) t WHERE LOWER(t.value) LIKE ? ESCAPE '\'))`)
		args = append(args, pattern, pattern, pattern)
	}
	if filter.UploadedBy != "" {
		where = append(where, `r.uploaded_by = ?`)
		args = append(args, filter.UploadedBy)
	}

	query := `SELECT ` + resourceColumns + `, u.id, u.name, u.email
		FROM resources r
		LEFT JOIN users u ON u.id = r.uploaded_by`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY r.created_at DESC, r.rowid DESC`

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: searching resources: %w", err)
	}

	var items []*model.ResourceWithUploader
	for rows.Next() {
		var (
			item                      model.ResourceWithUploader
			tags                      string
			uploaderID, uName, uEmail sql.NullString
		)
		if err := rows.Scan(
			&item.ID, &item.Title, &item.Subject, &item.Semester, &tags,
			&item.FileURL, &item.UploadedBy, &item.AvgRating, &item.Downloads,
			&item.Version, &item.CreatedAt, &item.UpdatedAt,
			&uploaderID, &uName, &uEmail,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning resource row: %w", err)
		}
		if err := decodeTags(tags, &item.Resource); err != nil {
			rows.Close()
			return nil, err
		}
		if uploaderID.Valid {
			item.Uploader = &model.UserRef{ID: uploaderID.String, Name: uName.String, Email: uEmail.String}
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: iterating resources: %w", err)
	}
	// Close before the ratings query: the pool holds a single connection.
	rows.Close()

	byID := make(map[string]*model.Resource, len(items))
	for _, item := range items {
		byID[item.ID] = &item.Resource
	}
	if err := d.attachRatings(ctx, byID); err != nil {
		return nil, err
	}

	result := make([]model.ResourceWithUploader, 0, len(items))
	for _, item := range items {
		result = append(result, *item)
	}
	return result, nil
}

// SaveRatings replaces the stored ratings and avg_rating in one transaction.
//
// OPTIMISTIC CONCURRENCY:
// The UPDATE only matches when version still equals the version the caller
// read. If another writer got in first, zero rows match, the transaction is
// rolled back, and the caller gets a Conflict with nothing changed.
func (d *ResourceDB) SaveRatings(ctx context.Context, res *model.Resource) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning ratings tx: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE resources
		 SET avg_rating = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		res.AvgRating, now, res.ID, res.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating resource %s average: %w", res.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM resources WHERE id = ?`, res.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("sqlite: checking resource %s: %w", res.ID, err)
		}
		if exists == 0 {
			return apperror.NotFound("resource", res.ID)
		}
		return apperror.Conflict("resource", res.ID)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ratings WHERE resource_id = ?`, res.ID,
	); err != nil {
		return fmt.Errorf("sqlite: clearing ratings for %s: %w", res.ID, err)
	}

	for i, rating := range res.Ratings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ratings (resource_id, user_id, position, score, feedback, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			res.ID, rating.User, i, rating.Score, rating.Feedback, rating.CreatedAt,
		); err != nil {
			return fmt.Errorf("sqlite: inserting rating for %s by %s: %w", res.ID, rating.User, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing ratings for %s: %w", res.ID, err)
	}

	res.Version++
	res.UpdatedAt = now
	return nil
}

// IncrementDownloads bumps the counter in a single statement so concurrent
// downloads never lose an increment.
func (d *ResourceDB) IncrementDownloads(ctx context.Context, id string) (int64, error) {
	var downloads int64
	err := d.conn.QueryRowContext(ctx,
		`UPDATE resources SET downloads = downloads + 1 WHERE id = ? RETURNING downloads`, id,
	).Scan(&downloads)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperror.NotFound("resource", id)
		}
		return 0, fmt.Errorf("sqlite: incrementing downloads for %s: %w", id, err)
	}
	return downloads, nil
}

// Delete removes a resource; its ratings go with it via ON DELETE CASCADE.
func (d *ResourceDB) Delete(ctx context.Context, id string) error {
	result, err := d.conn.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting resource %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("resource", id)
	}
	return nil
}

// listResources runs a resource SELECT, then loads ratings for every row.
func (d *ResourceDB) listResources(ctx context.Context, query string, args ...any) ([]model.Resource, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing resources: %w", err)
	}

	var list []*model.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning resource row: %w", err)
		}
		list = append(list, res)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: iterating resources: %w", err)
	}
	rows.Close()

	byID := make(map[string]*model.Resource, len(list))
	for _, res := range list {
		byID[res.ID] = res
	}
	if err := d.attachRatings(ctx, byID); err != nil {
		return nil, err
	}

	resources := make([]model.Resource, 0, len(list))
	for _, res := range list {
		resources = append(resources, *res)
	}
	return resources, nil
}

// attachRatings fills Ratings for each resource in byID, in position order.
// Resources without ratings get an empty (non-nil) slice.
func (d *ResourceDB) attachRatings(ctx context.Context, byID map[string]*model.Resource) error {
	if len(byID) == 0 {
		return nil
	}

	ids := make([]any, 0, len(byID))
	for id, res := range byID {
		res.Ratings = []model.Rating{}
		ids = append(ids, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := d.conn.QueryContext(ctx,
		`SELECT resource_id, user_id, score, feedback, created_at
		 FROM ratings
		 WHERE resource_id IN (`+placeholders+`)
		 ORDER BY resource_id, position ASC`,
		ids...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: loading ratings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			resourceID string
			rating     model.Rating
		)
		if err := rows.Scan(&resourceID, &rating.User, &rating.Score, &rating.Feedback, &rating.CreatedAt); err != nil {
			return fmt.Errorf("sqlite: scanning rating row: %w", err)
		}
		if res, ok := byID[resourceID]; ok {
			res.Ratings = append(res.Ratings, rating)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: iterating ratings: %w", err)
	}
	return nil
}

func scanResource(s scanner) (*model.Resource, error) {
	var (
		res  model.Resource
		tags string
	)
	if err := s.Scan(
		&res.ID, &res.Title, &res.Subject, &res.Semester, &tags,
		&res.FileURL, &res.UploadedBy, &res.AvgRating, &res.Downloads,
		&res.Version, &res.CreatedAt, &res.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := decodeTags(tags, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func decodeTags(raw string, res *model.Resource) error {
	res.Tags = []string{}
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &res.Tags); err != nil {
		return fmt.Errorf("sqlite: decoding tags for %s: %w", res.ID, err)
	}
	return nil
}

// escapeLike escapes LIKE wildcards so a query like "100%" matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
