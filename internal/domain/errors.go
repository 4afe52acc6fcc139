package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacity is returned when the user's remaining space cannot hold the upload.
	ErrCapacity = errors.New("not enough space to upload this file")
	// ErrCollectionNotFound is returned when an explicit target collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrNoArchiveData is returned when parsing produced no recordings.
	ErrNoArchiveData = errors.New("no archive data found")
	// ErrMalformedMetadata marks a metadata record that could not be decoded.
	ErrMalformedMetadata = errors.New("malformed metadata record")
	// ErrSegmentTransfer wraps a failed segment transfer.
	ErrSegmentTransfer = errors.New("segment transfer failed")
)

// SizeMismatchError reports a declared upload size that differs from the bytes received.
type SizeMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: expected %d, got %d", e.Expected, e.Actual)
}
