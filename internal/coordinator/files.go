package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"filesync-coordinator/internal/delta"
	"filesync-coordinator/internal/errs"
	"filesync-coordinator/internal/model"
)

// UploadFile stores a new version of a file, computes the delta against
// its previous current version (if any), triggers replication to online
// peers, and emits file_created or file_modified.
//
// The caller's DeclaredHash must match the SHA-256 of Content exactly —
// an empty or mismatching hash is rejected with BadRequest rather than
// silently trusted or recomputed (SPEC_FULL §9).
func (c *Coordinator) UploadFile(ctx context.Context, req UploadFileRequest) (UploadFileResult, error) {
	if err := checkDeadline(ctx); err != nil {
		return UploadFileResult{}, err
	}
	if req.FileID == "" {
		return UploadFileResult{}, errs.BadRequestf("file_id is required")
	}
	actualHash := delta.StrongHash(req.Content)
	if req.DeclaredHash == "" {
		return UploadFileResult{}, errs.BadRequestf("declared content hash is required")
	}
	if req.DeclaredHash != actualHash {
		return UploadFileResult{}, errs.BadRequestf("declared content hash %s does not match computed hash %s", req.DeclaredHash, actualHash)
	}

	unlock := c.lockFile(req.FileID)
	defer unlock()

	if err := checkDeadline(ctx); err != nil {
		return UploadFileResult{}, err
	}

	start := time.Now()

	existing, err := c.store.GetFile(req.FileID)
	isNew := errs.KindOf(err) == errs.NotFound

	clock := c.clocks.IncrementLocal(req.OwnerNodeID)

	var oldBytes []byte
	if !isNew {
		if prior, perr := c.versions.GetCurrent(req.FileID); perr == nil {
			oldBytes, _ = c.versions.GetBytes(prior.VersionID)
		}
	}
	d := delta.Optimize(delta.ComputeDelta(oldBytes, req.Content, c.chunkSize))
	d.FileID = req.FileID
	for _, add := range d.ChunksToAdd {
		c.chunks.Put(delta.StrongHash(add.Data), add.Data)
	}

	version := c.versions.CreateVersion(req.FileID, req.Content, req.OwnerNodeID, clock)

	meta := model.FileMetadata{
		FileID:        req.FileID,
		Name:          req.Name,
		LogicalPath:   req.LogicalPath,
		Size:          int64(len(req.Content)),
		ContentHash:   actualHash,
		CreatedAt:     version.CreatedAt,
		ModifiedAt:    version.CreatedAt,
		OwnerNodeID:   req.OwnerNodeID,
		VersionNumber: version.VersionNumber,
		VectorClock:   clock,
		ContentType:   req.ContentType,
	}
	if !isNew {
		meta.CreatedAt = existing.CreatedAt
	}
	if err := c.store.UpsertFile(meta); err != nil {
		return UploadFileResult{}, err
	}

	kind := model.EventFileModified
	if isNew {
		kind = model.EventFileCreated
	}
	if _, err := c.bus.Publish(model.Event{
		Kind:         kind,
		SourceNodeID: req.OwnerNodeID,
		FileID:       req.FileID,
		Timestamp:    version.CreatedAt,
		VectorClock:  clock,
		Payload: map[string]any{
			"file_id":        req.FileID,
			"version_id":     version.VersionID,
			"version_number": version.VersionNumber,
		},
	}); err != nil {
		return UploadFileResult{}, err
	}

	elapsed := time.Since(start)
	metrics := deltaMetricsFrom(req.FileID, d, elapsed)

	c.repl.Replicate(context.Background(), meta, req.Content)

	return UploadFileResult{
		VersionID:    version.VersionID,
		SyncLatency:  elapsed,
		DeltaMetrics: metrics,
		VectorClock:  clock,
	}, nil
}

// DownloadFile returns a file's current metadata and content bytes.
func (c *Coordinator) DownloadFile(ctx context.Context, fileID string) (model.FileMetadata, []byte, error) {
	if err := checkDeadline(ctx); err != nil {
		return model.FileMetadata{}, nil, err
	}
	meta, err := c.store.GetFile(fileID)
	if err != nil {
		return model.FileMetadata{}, nil, err
	}
	current, err := c.versions.GetCurrent(fileID)
	if err != nil {
		return model.FileMetadata{}, nil, err
	}
	data, err := c.versions.GetBytes(current.VersionID)
	if err != nil {
		return model.FileMetadata{}, nil, err
	}
	return meta, data, nil
}

// DeleteFile soft-deletes a file (the metadata and version history are
// retained) and emits file_deleted.
func (c *Coordinator) DeleteFile(ctx context.Context, fileID, requesterID string) error {
	if err := checkDeadline(ctx); err != nil {
		return err
	}
	unlock := c.lockFile(fileID)
	defer unlock()

	if err := checkDeadline(ctx); err != nil {
		return err
	}
	if err := c.store.SoftDeleteFile(fileID); err != nil {
		return err
	}
	clock := c.clocks.IncrementLocal(requesterID)
	_, err := c.bus.Publish(model.Event{
		Kind:         model.EventFileDeleted,
		SourceNodeID: requesterID,
		FileID:       fileID,
		Timestamp:    time.Now().UTC(),
		VectorClock:  clock,
		Payload:      map[string]any{"file_id": fileID},
	})
	return err
}

func (c *Coordinator) ListFiles(ctx context.Context, includeDeleted bool) ([]model.FileMetadata, error) {
	if err := checkDeadline(ctx); err != nil {
		return nil, err
	}
	return c.store.ListFiles(includeDeleted), nil
}

func (c *Coordinator) GetFile(ctx context.Context, fileID string) (model.FileMetadata, error) {
	if err := checkDeadline(ctx); err != nil {
		return model.FileMetadata{}, err
	}
	return c.store.GetFile(fileID)
}

func (c *Coordinator) ListFilesByNode(ctx context.Context, nodeID string, includeDeleted bool) ([]model.FileMetadata, error) {
	if err := checkDeadline(ctx); err != nil {
		return nil, err
	}
	return c.store.ListFilesByOwner(nodeID, includeDeleted), nil
}

// GetFileChunks returns the signature (rolling + strong hash per chunk)
// of a file's current content, without transferring the bytes.
func (c *Coordinator) GetFileChunks(ctx context.Context, fileID string) ([]delta.ChunkSignature, error) {
	_, data, err := c.DownloadFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return delta.Signature(data, c.chunkSize), nil
}

// GetFileContent is an alias kept for request-surface symmetry with
// GetFileChunks; it returns the raw current bytes.
func (c *Coordinator) GetFileContent(ctx context.Context, fileID string) ([]byte, error) {
	_, data, err := c.DownloadFile(ctx, fileID)
	return data, err
}

// GetFileHistory returns a file's metadata plus its full version chain,
// oldest first.
func (c *Coordinator) GetFileHistory(ctx context.Context, fileID string) (FileHistory, error) {
	if err := checkDeadline(ctx); err != nil {
		return FileHistory{}, err
	}
	meta, err := c.store.GetFile(fileID)
	if err != nil {
		return FileHistory{}, err
	}
	return FileHistory{File: meta, Versions: c.versions.ListVersions(fileID)}, nil
}

// RestoreVersion makes an earlier version current again by writing it as
// a brand-new version on top of the chain (never mutating history) and
// updating the file's pointer. Per the S5 decision recorded in
// SPEC_FULL.md §9, restoring a version never clears is_deleted — a
// caller that wants the file undeleted must call DeleteFile's inverse
// explicitly (not exposed: undelete is out of scope).
func (c *Coordinator) RestoreVersion(ctx context.Context, fileID, versionID, requesterID string) (model.FileVersion, error) {
	if err := checkDeadline(ctx); err != nil {
		return model.FileVersion{}, err
	}
	unlock := c.lockFile(fileID)
	defer unlock()

	if err := checkDeadline(ctx); err != nil {
		return model.FileVersion{}, err
	}

	old, err := c.versions.GetVersion(versionID)
	if err != nil {
		return model.FileVersion{}, err
	}
	if old.FileID != fileID {
		return model.FileVersion{}, errs.BadRequestf("version %s does not belong to file %s", versionID, fileID)
	}
	data, err := c.versions.GetBytes(versionID)
	if err != nil {
		return model.FileVersion{}, err
	}

	meta, err := c.store.GetFile(fileID)
	if err != nil {
		return model.FileVersion{}, err
	}

	clock := c.clocks.IncrementLocal(requesterID)
	restored := c.versions.CreateVersion(fileID, data, requesterID, clock)

	meta.Size = restored.Size
	meta.ContentHash = restored.ContentHash
	meta.ModifiedAt = restored.CreatedAt
	meta.VersionNumber = restored.VersionNumber
	meta.VectorClock = clock
	if err := c.store.UpsertFile(meta); err != nil {
		return model.FileVersion{}, err
	}

	if _, err := c.bus.Publish(model.Event{
		Kind:         model.EventFileModified,
		SourceNodeID: requesterID,
		FileID:       fileID,
		Timestamp:    restored.CreatedAt,
		VectorClock:  clock,
		Payload: map[string]any{
			"file_id":             fileID,
			"action":              "restored",
			"restored_from":       versionID,
			"new_version_id":      restored.VersionID,
			"new_version_number":  restored.VersionNumber,
		},
	}); err != nil {
		return model.FileVersion{}, err
	}

	return restored, nil
}

// ApplyDeltaSync reconstructs a file's latest content from a caller's
// stated current version plus the server-computed delta, and returns
// the same delta/metrics pair a caller would need to perform the
// reconstruction itself out-of-band.
func (c *Coordinator) ApplyDeltaSync(ctx context.Context, req DeltaSyncRequest) (DeltaSyncResult, error) {
	if err := checkDeadline(ctx); err != nil {
		return DeltaSyncResult{}, err
	}
	start := time.Now()

	meta, err := c.store.GetFile(req.FileID)
	if err != nil {
		return DeltaSyncResult{}, err
	}
	current, err := c.versions.GetCurrent(req.FileID)
	if err != nil {
		return DeltaSyncResult{}, err
	}
	newBytes, err := c.versions.GetBytes(current.VersionID)
	if err != nil {
		return DeltaSyncResult{}, err
	}

	var oldBytes []byte
	if req.CurrentVersion != "" {
		oldBytes, _ = c.versions.GetBytes(req.CurrentVersion)
	}

	d := delta.Optimize(delta.ComputeDelta(oldBytes, newBytes, c.chunkSize))
	d.FileID = req.FileID

	rebuilt, err := delta.ApplyDelta(oldBytes, d)
	success := err == nil && string(rebuilt) == string(newBytes)

	clock := meta.VectorClock
	if len(req.VectorClock) > 0 {
		clock = c.clocks.MergeOnReceive(meta.OwnerNodeID, req.VectorClock)
	}

	return DeltaSyncResult{
		Success:     success,
		Delta:       d,
		Metrics:     deltaMetricsFrom(req.FileID, d, time.Since(start)),
		VectorClock: clock,
	}, nil
}

func errZap(err error) zap.Field { return zap.Error(err) }
