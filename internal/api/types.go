package api

import (
	"uploadsim/internal/upload"

	"github.com/docker/go-units"
	"github.com/samber/lo"
)

// ProgressMessage is the websocket frame sent to progress subscribers
type ProgressMessage struct {
	Type      string           `json:"type"` // "connected", "snapshot"
	UploadID  string           `json:"upload_id,omitempty"`
	Seq       uint64           `json:"seq"`
	Aggregate upload.Status    `json:"aggregate,omitempty"`
	Records   []UploadResponse `json:"records,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// UploadResponse is a record as rendered to clients.
type UploadResponse struct {
	upload.Record
	SizeHuman string `json:"size_human,omitempty"`
}

// SnapshotResponse is the body of GET /uploads and of mutations that change the aggregate.
type SnapshotResponse struct {
	Aggregate upload.Status    `json:"aggregate"`
	Uploads   []UploadResponse `json:"uploads"`
	Count     int              `json:"count"`
}

// AcceptRequest is the JSON intake body; multipart intake uses the "files" field instead.
type AcceptRequest struct {
	Names []string `json:"names" binding:"required,min=1,dive,required"`
}

func toResponse(rec upload.Record) UploadResponse {
	resp := UploadResponse{Record: rec}
	if rec.Size > 0 {
		resp.SizeHuman = units.HumanSize(float64(rec.Size))
	}
	return resp
}

func toResponses(records []upload.Record) []UploadResponse {
	return lo.Map(records, func(rec upload.Record, _ int) UploadResponse {
		return toResponse(rec)
	})
}

func toSnapshotResponse(snap upload.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		Aggregate: snap.Aggregate,
		Uploads:   toResponses(snap.Records),
		Count:     len(snap.Records),
	}
}
