package model

import "time"

// Asset describes a downloadable file.
type Asset struct {
	Name         string    `json:"name"`
	SizeBytes    int64     `json:"size_bytes"`
	Modified     time.Time `json:"modified"`
	DownloadPath string    `json:"download_path"`
}
