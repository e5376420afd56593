package model

import "time"

// UploaderActivity is one row of the "most active uploaders" leaderboard.
type UploaderActivity struct {
	UserID  string `json:"userId"`
	Uploads int    `json:"uploads"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}

// AdminStats backs the admin dashboard.
type AdminStats struct {
	TotalUsers      int                `json:"totalUsers"`
	TotalResources  int                `json:"totalResources"`
	TotalDownloads  int64              `json:"totalDownloads"`
	MostActiveUsers []UploaderActivity `json:"mostActiveUsers"`
}

// DownloadSummary is the title+downloads projection used for "top resources".
type DownloadSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Downloads int64  `json:"downloads"`
}

// UploadSummary is a row of a student's own uploads.
type UploadSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Subject   string    `json:"subject"`
	Downloads int64     `json:"downloads"`
	CreatedAt time.Time `json:"createdAt"`
}

// StudentStats backs the student dashboard.
type StudentStats struct {
	TotalResources int               `json:"totalResources"`
	TopResources   []DownloadSummary `json:"topResources"`
	MyUploads      []UploadSummary   `json:"myUploads"`
}
