package coordinator

import (
	"context"
	"testing"

	"filesync-coordinator/internal/delta"
	"filesync-coordinator/internal/errs"
	"filesync-coordinator/internal/model"
	"filesync-coordinator/internal/storage"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, nil, Config{ChunkSize: 4096})
}

func hashOf(b []byte) string { return delta.StrongHash(b) }

// S1 — initial upload.
func TestUploadFileInitialVersion(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)
	if _, err := c.RegisterNode(ctx, RegisterNodeRequest{NodeID: "n1"}); err != nil {
		t.Fatal(err)
	}

	content := []byte("hello world")
	res, err := c.UploadFile(ctx, UploadFileRequest{
		FileID:       "f1",
		Name:         "f1.txt",
		OwnerNodeID:  "n1",
		Content:      content,
		DeclaredHash: hashOf(content),
	})
	if err != nil {
		t.Fatal(err)
	}

	meta, err := c.GetFile(ctx, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if meta.VersionNumber != 1 {
		t.Fatalf("expected version_number 1, got %d", meta.VersionNumber)
	}
	if meta.ContentHash != hashOf(content) {
		t.Fatalf("content_hash mismatch")
	}
	if res.DeltaMetrics.BandwidthSaved != 0 {
		t.Fatalf("expected bandwidth_saved 0 on initial upload, got %d", res.DeltaMetrics.BandwidthSaved)
	}
	if got := res.VectorClock.Get("n1"); got != 2 {
		t.Fatalf("expected n1 clock = 2 (1 register + 1 upload), got %d", got)
	}
}

func TestUploadFileRejectsBadHash(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)
	_, _ = c.RegisterNode(ctx, RegisterNodeRequest{NodeID: "n1"})

	_, err := c.UploadFile(ctx, UploadFileRequest{
		FileID:       "f1",
		OwnerNodeID:  "n1",
		Content:      []byte("hello world"),
		DeclaredHash: "not-a-real-hash",
	})
	if err == nil {
		t.Fatal("expected an error for a mismatched declared hash")
	}
}

func TestUploadFileRejectsExpiredDeadline(t *testing.T) {
	c := newTestCoordinator(t)
	_, _ = c.RegisterNode(context.Background(), RegisterNodeRequest{NodeID: "n1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	content := []byte("hello world")
	_, err := c.UploadFile(ctx, UploadFileRequest{
		FileID:       "f1",
		OwnerNodeID:  "n1",
		Content:      content,
		DeclaredHash: hashOf(content),
	})
	if errs.KindOf(err) != errs.Timeout {
		t.Fatalf("expected a Timeout error for an already-expired context, got %v", err)
	}
	if _, err := c.GetFile(context.Background(), "f1"); err == nil {
		t.Fatal("expected no file to have been committed once the deadline had already expired")
	}
}

// S2 — small edit, large vs tiny chunk size.
func TestUploadFileSmallEditLargeChunks(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)
	_, _ = c.RegisterNode(ctx, RegisterNodeRequest{NodeID: "n1"})

	first := []byte("hello world")
	if _, err := c.UploadFile(ctx, UploadFileRequest{FileID: "f1", OwnerNodeID: "n1", Content: first, DeclaredHash: hashOf(first)}); err != nil {
		t.Fatal(err)
	}

	second := []byte("hello wOrld")
	res, err := c.UploadFile(ctx, UploadFileRequest{FileID: "f1", OwnerNodeID: "n1", Content: second, DeclaredHash: hashOf(second)})
	if err != nil {
		t.Fatal(err)
	}
	if res.DeltaMetrics.ChunksNew != 1 || res.DeltaMetrics.ChunksUnchanged != 0 {
		t.Fatalf("expected 1 new chunk, 0 unchanged at C=4096, got new=%d unchanged=%d",
			res.DeltaMetrics.ChunksNew, res.DeltaMetrics.ChunksUnchanged)
	}
}

func TestUploadFileSmallEditTinyChunks(t *testing.T) {
	ctx := context.Background()
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	c := New(store, nil, Config{ChunkSize: 4})
	_, _ = c.RegisterNode(ctx, RegisterNodeRequest{NodeID: "n1"})

	first := []byte("hello world")
	if _, err := c.UploadFile(ctx, UploadFileRequest{FileID: "f1", OwnerNodeID: "n1", Content: first, DeclaredHash: hashOf(first)}); err != nil {
		t.Fatal(err)
	}

	second := []byte("hello wOrld")
	res, err := c.UploadFile(ctx, UploadFileRequest{FileID: "f1", OwnerNodeID: "n1", Content: second, DeclaredHash: hashOf(second)})
	if err != nil {
		t.Fatal(err)
	}
	if res.DeltaMetrics.ChunksUnchanged < 2 {
		t.Fatalf("expected at least 2 unchanged chunks at C=4, got %d", res.DeltaMetrics.ChunksUnchanged)
	}
}

// S4 — concurrent modification.
func TestConcurrentModificationDetected(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)
	_, _ = c.RegisterNode(ctx, RegisterNodeRequest{NodeID: "n1"})
	_, _ = c.RegisterNode(ctx, RegisterNodeRequest{NodeID: "n2"})

	a := []byte("from n1")
	if _, err := c.UploadFile(ctx, UploadFileRequest{FileID: "f1", OwnerNodeID: "n1", Content: a, DeclaredHash: hashOf(a)}); err != nil {
		t.Fatal(err)
	}
	b := []byte("from n2")
	if _, err := c.UploadFile(ctx, UploadFileRequest{FileID: "f1", OwnerNodeID: "n2", Content: b, DeclaredHash: hashOf(b)}); err != nil {
		t.Fatal(err)
	}

	conflicts, err := c.DetectConflicts(ctx, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) == 0 {
		t.Fatal("expected at least one conflict between n1's and n2's concurrent uploads")
	}
}

// S5 — delete then restore.
func TestDeleteThenRestoreKeepsTombstone(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)
	_, _ = c.RegisterNode(ctx, RegisterNodeRequest{NodeID: "n1"})

	v1 := []byte("version one")
	if _, err := c.UploadFile(ctx, UploadFileRequest{FileID: "f1", OwnerNodeID: "n1", Content: v1, DeclaredHash: hashOf(v1)}); err != nil {
		t.Fatal(err)
	}
	v1ID, err := c.versions.GetCurrent("f1")
	if err != nil {
		t.Fatal(err)
	}

	v2 := []byte("version two")
	if _, err := c.UploadFile(ctx, UploadFileRequest{FileID: "f1", OwnerNodeID: "n1", Content: v2, DeclaredHash: hashOf(v2)}); err != nil {
		t.Fatal(err)
	}

	if err := c.DeleteFile(ctx, "f1", "n1"); err != nil {
		t.Fatal(err)
	}
	meta, err := c.GetFile(ctx, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if !meta.IsDeleted {
		t.Fatal("expected is_deleted = true after delete_file")
	}
	versionsBefore := len(c.versions.ListVersions("f1"))

	if _, err := c.RestoreVersion(ctx, "f1", v1ID.VersionID, "n1"); err != nil {
		t.Fatal(err)
	}

	meta, err = c.GetFile(ctx, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if !meta.IsDeleted {
		t.Fatal("expected is_deleted to remain true after restore_version (S5 decision)")
	}
	if len(c.versions.ListVersions("f1")) != versionsBefore+1 {
		t.Fatal("expected restore to append a new version rather than mutate history")
	}
}

func TestRemoveNodeCascadesEvents(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t)
	_, _ = c.RegisterNode(ctx, RegisterNodeRequest{NodeID: "n1"})
	content := []byte("x")
	if _, err := c.UploadFile(ctx, UploadFileRequest{FileID: "f1", OwnerNodeID: "n1", Content: content, DeclaredHash: hashOf(content)}); err != nil {
		t.Fatal(err)
	}

	if err := c.RemoveNode(ctx, "n1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetNode(ctx, "n1"); err == nil {
		t.Fatal("expected node to be gone")
	}
	events, err := c.ListEvents(ctx, 50)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range events {
		// The node_removed event itself is published after the cascade.
		if e.SourceNodeID == "n1" && e.Kind != model.EventNodeRemoved {
			t.Fatalf("expected no residual events sourced from removed node, found %s", e.EventID)
		}
	}
}
