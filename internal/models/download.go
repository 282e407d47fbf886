package models

import "time"

// Download is an audit record written after an authorized file access.
type Download struct {
	ID           string    `bson:"_id" json:"id"`
	UserID       string    `bson:"userId" json:"userId"`
	BookID       string    `bson:"bookId" json:"bookId"`
	OrderID      string    `bson:"orderId" json:"orderId"`
	DownloadedAt time.Time `bson:"downloadedAt" json:"downloadedAt"`
}

// DownloadGrant is what the gate hands back for an allowed access.
type DownloadGrant struct {
	OrderID    string `json:"orderId"`
	BookID     string `json:"bookId"`
	Title      string `json:"title"`
	FileRef    string `json:"fileRef"`
	DownloadID string `json:"downloadId,omitempty"`
	Warning    string `json:"warning,omitempty"`
}
