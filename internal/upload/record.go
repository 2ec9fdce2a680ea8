package upload

import (
	"net/url"
	"time"
)

// Status is the lifecycle state of a record or of the widget as a whole.
type Status string

const (
	StatusEmpty     Status = "empty"
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
)

// Terminal reports whether no further tick can change a record in this status.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// FailureKind says why a record ended in StatusFailure.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureCancelled FailureKind = "cancelled"
	FailureSimulated FailureKind = "simulated_failure"
)

// File is what the intake surface hands over. Only Name drives the state machine.
type File struct {
	Name        string
	Size        int64
	ContentType string
}

// Record is one tracked upload attempt.
type Record struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Size            int64       `json:"size"`
	ContentType     string      `json:"content_type,omitempty"`
	Status          Status      `json:"status"`
	Progress        int         `json:"progress"`
	CancelRequested bool        `json:"cancel_requested"`
	Failure         FailureKind `json:"failure,omitempty"`
	URL             string      `json:"url"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// DetailsURL is the "view details" reference for a file name.
func DetailsURL(name string) string {
	return "/api/files/" + url.PathEscape(name)
}

// Snapshot is the state published to subscribers after every mutation.
type Snapshot struct {
	Seq       uint64   `json:"seq"`
	Aggregate Status   `json:"aggregate"`
	Records   []Record `json:"records"`
}
