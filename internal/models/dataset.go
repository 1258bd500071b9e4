package models

import "time"

// Dataset is one committed upload of survey data. Rows are never updated in
// place; a new version is a new row.
type Dataset struct {
	ID            int64     `json:"id"`
	DisplayName   string    `json:"dataset_display_name"`
	VersionNumber int       `json:"version_number"`
	UploadDate    time.Time `json:"upload_date"`
	Payload       []byte    `json:"-"`
}

// DatasetInfo is a Dataset without its payload, used for listings
type DatasetInfo struct {
	ID            int64     `json:"id"`
	DisplayName   string    `json:"dataset_display_name"`
	VersionNumber int       `json:"version_number"`
	UploadDate    time.Time `json:"upload_date"`
	SizeBytes     int64     `json:"size_bytes"`
}
