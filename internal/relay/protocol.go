package relay

import "github.com/ligustah/chunkstream/pkg/stream"

// Client message types.
const (
	TypeLoad   = "load"
	TypeCancel = "cancel"
)

// Server message types.
const (
	TypeStarted   = "started"
	TypeChunk     = "chunk"
	TypeComplete  = "complete"
	TypeFailed    = "failed"
	TypeCancelled = "cancelled"
	TypeError     = "error"
)

// Request is sent by the client.
type Request struct {
	Type     string `json:"type"`
	Manifest string `json:"manifest,omitempty"`
}

// Started announces a new load. It precedes the first chunk of the load.
type Started struct {
	Type          string        `json:"type"`
	Session       string        `json:"session"`
	ChunkCount    int           `json:"chunkCount"`
	TotalRecords  int64         `json:"totalRecords"`
	TotalBytes    int64         `json:"totalBytes"`
	OverallBounds stream.Bounds `json:"overallBounds"`
}

// ChunkHeader describes the binary frame that immediately follows it.
type ChunkHeader struct {
	Type        string        `json:"type"`
	Session     string        `json:"session"`
	Index       int           `json:"index"`
	Total       int           `json:"total"`
	ID          string        `json:"identifier"`
	RecordCount int64         `json:"recordCount"`
	Bounds      stream.Bounds `json:"bounds"`
	Bytes       int           `json:"bytes"`
	// Points is set when the server decoded the chunk as a point cloud.
	Points int `json:"points,omitempty"`
}

// Status reports the end of a load or a protocol error.
type Status struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Error   string `json:"error,omitempty"`
}
