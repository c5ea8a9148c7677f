package coordinator

import (
	"time"

	"filesync-coordinator/internal/delta"
	"filesync-coordinator/internal/model"
	"filesync-coordinator/internal/vclock"
)

// RegisterNodeRequest is the input to RegisterNode.
type RegisterNodeRequest struct {
	NodeID           string   `json:"node_id"`
	Name             string   `json:"name"`
	Address          string   `json:"address"`
	Port             int      `json:"port"`
	WatchDirectories []string `json:"watch_directories"`
	Capabilities     []string `json:"capabilities"`
}

// RegisterNodeResult is the output of RegisterNode.
type RegisterNodeResult struct {
	VectorClock vclock.Clock `json:"vector_clock"`
}

// UploadFileRequest is the input to UploadFile.
type UploadFileRequest struct {
	FileID      string `json:"file_id"`
	Name        string `json:"name"`
	LogicalPath string `json:"logical_path"`
	ContentType string `json:"content_type"`
	OwnerNodeID string `json:"owner_node_id"`
	Content     []byte `json:"content"`
	// DeclaredHash is the caller's claimed hash for Content. A strict
	// implementation (SPEC_FULL §9 decision) rejects empty or
	// mismatching hashes with BadRequest rather than silently
	// recomputing.
	DeclaredHash string       `json:"declared_hash"`
	VectorClock  vclock.Clock `json:"vector_clock"`
	UseDeltaSync bool         `json:"use_delta_sync"`
}

// UploadFileResult is the output of UploadFile.
type UploadFileResult struct {
	VersionID    string        `json:"version_id"`
	SyncLatency  time.Duration `json:"sync_latency"`
	DeltaMetrics DeltaMetrics  `json:"delta_metrics"`
	VectorClock  vclock.Clock  `json:"vector_clock"`
}

// DeltaMetrics mirrors the spec's DeltaMetrics payload shape (§6.1).
type DeltaMetrics struct {
	FileID           string        `json:"file_id"`
	OriginalSize     int           `json:"original_size"`
	CompressedSize   int           `json:"compressed_size"`
	BandwidthSaved   int           `json:"bandwidth_saved"`
	ChunksTotal      int           `json:"chunks_total"`
	ChunksUnchanged  int           `json:"chunks_unchanged"`
	ChunksModified   int           `json:"chunks_modified"`
	ChunksNew        int           `json:"chunks_new"`
	SyncTime         time.Duration `json:"sync_time"`
	Throughput       float64       `json:"throughput"`         // bytes/s
	CompressionRatio float64       `json:"compression_ratio"` // fraction, 0..1
}

func deltaMetricsFrom(fileID string, d delta.Delta, elapsed time.Duration) DeltaMetrics {
	chunksTotal := len(d.Unchanged) + len(d.ChunksToAdd)
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(d.OriginalSize) / elapsed.Seconds()
	}
	return DeltaMetrics{
		FileID:           fileID,
		OriginalSize:     d.OriginalSize,
		CompressedSize:   d.OriginalSize - d.BandwidthSaved,
		BandwidthSaved:   d.BandwidthSaved,
		ChunksTotal:      chunksTotal,
		ChunksUnchanged:  len(d.Unchanged),
		ChunksModified:   0,
		ChunksNew:        len(d.ChunksToAdd),
		SyncTime:         elapsed,
		Throughput:       throughput,
		CompressionRatio: d.CompressionRatio,
	}
}

// DeltaSyncRequest is the input to ApplyDeltaSync.
type DeltaSyncRequest struct {
	FileID         string       `json:"file_id"`
	CurrentVersion string       `json:"current_version"`
	VectorClock    vclock.Clock `json:"vector_clock"`
}

// DeltaSyncResult is the output of ApplyDeltaSync.
type DeltaSyncResult struct {
	Success     bool         `json:"success"`
	Delta       delta.Delta  `json:"delta"`
	Metrics     DeltaMetrics `json:"metrics"`
	VectorClock vclock.Clock `json:"vector_clock"`
}

// FileHistory is the ordered version chain plus the file's current
// metadata, returned by GetFileHistory.
type FileHistory struct {
	File     model.FileMetadata  `json:"file"`
	Versions []model.FileVersion `json:"versions"`
}

// Topology is a coordinator-wide view of nodes and their file counts,
// used by the dashboard.
type Topology struct {
	Nodes []model.Node   `json:"nodes"`
	Files map[string]int `json:"files_by_owner"`
}
