package dataset

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateDataset = errors.New("dataset already exists")
	ErrDatasetNotFound  = errors.New("dataset not found")
	ErrInvalidName      = errors.New("invalid dataset name")
)

// DuplicateDatasetError is returned when an upload reuses a display name
type DuplicateDatasetError struct {
	Name string
}

func (e *DuplicateDatasetError) Error() string {
	return fmt.Sprintf("a dataset named %q already exists in the database", e.Name)
}

func (e *DuplicateDatasetError) Is(target error) bool { return target == ErrDuplicateDataset }

// DatasetNotFoundError is returned when no dataset has the requested id
type DatasetNotFoundError struct {
	ID int64
}

func (e *DatasetNotFoundError) Error() string {
	return fmt.Sprintf("dataset with ID %d not found", e.ID)
}

func (e *DatasetNotFoundError) Is(target error) bool { return target == ErrDatasetNotFound }
