package models

import "time"

// BackupArtifact is a point-in-time snapshot of the data store, held either
// on local disk or in remote storage.
type BackupArtifact struct {
	Name        string    `json:"name"`
	PathOrKey   string    `json:"path_or_key"`
	OSTag       string    `json:"os_tag"`
	EnvTag      string    `json:"env_tag"`
	Destination string    `json:"destination"` // "local", "s3", "sftp"
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// BackupOperationState is the state of a single backup or restore run
type BackupOperationState string

const (
	OperationIdle    BackupOperationState = "idle"
	OperationRunning BackupOperationState = "running"
	OperationStored  BackupOperationState = "stored"  // backup finished
	OperationApplied BackupOperationState = "applied" // restore finished
	OperationFailed  BackupOperationState = "failed"
)

// BackupOperation records one backup or restore run
type BackupOperation struct {
	ID              string               `json:"id"`
	Kind            string               `json:"kind"` // "backup", "restore"
	ArtifactName    string               `json:"artifact_name"`
	DestinationType string               `json:"destination_type"`
	DestinationPath string               `json:"destination_path"`
	State           BackupOperationState `json:"state"`
	SizeBytes       int64                `json:"size_bytes"`
	CorrelationID   string               `json:"correlation_id,omitempty"`
	ErrorMessage    string               `json:"error_message,omitempty"`
	StartedAt       time.Time            `json:"started_at"`
	FinishedAt      *time.Time           `json:"finished_at,omitempty"`
}
