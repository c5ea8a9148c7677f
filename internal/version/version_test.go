package version

import (
	"bytes"
	"testing"

	"filesync-coordinator/internal/vclock"
)

func TestCreateVersionAssignsMonotonicNumbers(t *testing.T) {
	s := New()
	vc := vclock.New()

	v1 := s.CreateVersion("f1", []byte("a"), "n1", vc)
	v2 := s.CreateVersion("f1", []byte("ab"), "n1", vc)
	v3 := s.CreateVersion("f1", []byte("abc"), "n1", vc)

	if v1.VersionNumber != 1 || v2.VersionNumber != 2 || v3.VersionNumber != 3 {
		t.Fatalf("expected 1,2,3 got %d,%d,%d", v1.VersionNumber, v2.VersionNumber, v3.VersionNumber)
	}
	if v2.ParentVersionID != v1.VersionID || v3.ParentVersionID != v2.VersionID {
		t.Fatal("parent chain not linked correctly")
	}
}

func TestExactlyOneCurrentVersion(t *testing.T) {
	s := New()
	vc := vclock.New()
	s.CreateVersion("f1", []byte("a"), "n1", vc)
	s.CreateVersion("f1", []byte("ab"), "n1", vc)
	latest := s.CreateVersion("f1", []byte("abc"), "n1", vc)

	current := 0
	for _, v := range s.ListVersions("f1") {
		if v.IsCurrent {
			current++
			if v.VersionID != latest.VersionID {
				t.Fatal("wrong version marked current")
			}
		}
	}
	if current != 1 {
		t.Fatalf("expected exactly one current version, got %d", current)
	}
}

func TestGetBytesRehashesToContentHash(t *testing.T) {
	s := New()
	data := []byte("hello world")
	v := s.CreateVersion("f1", data, "n1", vclock.New())

	got, err := s.GetBytes(v.VersionID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q, want %q", got, data)
	}
	if contentHash(got) != v.ContentHash {
		t.Fatal("rehashed bytes don't match stored content_hash")
	}
}

func TestDeleteVersionRefusesSoleCurrent(t *testing.T) {
	s := New()
	v := s.CreateVersion("f1", []byte("a"), "n1", vclock.New())

	if err := s.DeleteVersion(v.VersionID); err == nil {
		t.Fatal("expected error deleting the sole current version")
	}
}

func TestDeleteVersionPromotesHighestRemaining(t *testing.T) {
	s := New()
	vc := vclock.New()
	v1 := s.CreateVersion("f1", []byte("a"), "n1", vc)
	v2 := s.CreateVersion("f1", []byte("ab"), "n1", vc)

	if err := s.DeleteVersion(v2.VersionID); err != nil {
		t.Fatal(err)
	}
	cur, err := s.GetCurrent("f1")
	if err != nil {
		t.Fatal(err)
	}
	if cur.VersionID != v1.VersionID {
		t.Fatal("expected v1 to become current after deleting v2")
	}
}

func TestCleanupNeverTouchesCurrent(t *testing.T) {
	s := New()
	vc := vclock.New()
	for i := 0; i < 5; i++ {
		s.CreateVersion("f1", []byte{byte(i)}, "n1", vc)
	}

	removed := s.Cleanup("f1", 2)
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	remaining := s.ListVersions("f1")
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining versions, got %d", len(remaining))
	}
	cur, err := s.GetCurrent("f1")
	if err != nil {
		t.Fatal("current version must survive cleanup")
	}
	if !cur.IsCurrent {
		t.Fatal("current flag lost during cleanup")
	}
}
