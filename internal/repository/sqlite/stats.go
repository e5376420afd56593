package sqlite

import (
	"context"
	"fmt"

	"github.com/sakif/college-resources/internal/model"
)

// The dashboard aggregates. They read the resources table only and never
// touch ratings, so none of them need the two-step collect-then-attach dance.

// CountResources returns the number of stored resources.
func (d *ResourceDB) CountResources(ctx context.Context) (int, error) {
	var n int
	if err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting resources: %w", err)
	}
	return n, nil
}

// TotalDownloads sums the download counters. SUM over zero rows is NULL in
// SQL, hence the COALESCE: an empty store reports 0.
func (d *ResourceDB) TotalDownloads(ctx context.Context) (int64, error) {
	var total int64
	if err := d.conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(downloads), 0) FROM resources`,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("sqlite: summing downloads: %w", err)
	}
	return total, nil
}

// MostActiveUploaders groups resources by uploader, most uploads first.
// The LEFT JOIN keeps uploaders whose account no longer resolves; their
// name and email come back empty.
func (d *ResourceDB) MostActiveUploaders(ctx context.Context, limit int) ([]model.UploaderActivity, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT r.uploaded_by, COUNT(*) AS uploads,
		        COALESCE(u.name, ''), COALESCE(u.email, '')
		 FROM resources r
		 LEFT JOIN users u ON u.id = r.uploaded_by
		 GROUP BY r.uploaded_by
		 ORDER BY uploads DESC, MIN(r.rowid) ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: grouping uploaders: %w", err)
	}
	defer rows.Close()

	activity := []model.UploaderActivity{}
	for rows.Next() {
		var a model.UploaderActivity
		if err := rows.Scan(&a.UserID, &a.Uploads, &a.Name, &a.Email); err != nil {
			return nil, fmt.Errorf("sqlite: scanning uploader row: %w", err)
		}
		activity = append(activity, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating uploaders: %w", err)
	}
	return activity, nil
}

// TopByDownloads returns the limit most downloaded resources as summaries.
// Equal counts keep store order.
func (d *ResourceDB) TopByDownloads(ctx context.Context, limit int) ([]model.DownloadSummary, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, title, downloads FROM resources
		 ORDER BY downloads DESC, rowid ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing top downloads: %w", err)
	}
	defer rows.Close()

	top := []model.DownloadSummary{}
	for rows.Next() {
		var s model.DownloadSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Downloads); err != nil {
			return nil, fmt.Errorf("sqlite: scanning download row: %w", err)
		}
		top = append(top, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating downloads: %w", err)
	}
	return top, nil
}

// UploadsBy lists one user's resources in store order.
func (d *ResourceDB) UploadsBy(ctx context.Context, userID string) ([]model.UploadSummary, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, title, subject, downloads, created_at FROM resources
		 WHERE uploaded_by = ?
		 ORDER BY rowid ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing uploads for %s: %w", userID, err)
	}
	defer rows.Close()

	uploads := []model.UploadSummary{}
	for rows.Next() {
		var s model.UploadSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Subject, &s.Downloads, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning upload row: %w", err)
		}
		uploads = append(uploads, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating uploads: %w", err)
	}
	return uploads, nil
}
