// Package version maintains each file's append-only version chain: the
// ordered sequence of FileVersion records a file accumulates as it is
// uploaded, with exactly one "current" version at any time.
//
// This mirrors the teacher store's WAL-guarded map — a single RWMutex
// protecting an in-memory index — generalized from one flat keyspace to
// a per-file ordered chain plus a content-byte side table.
package version

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"filesync-coordinator/internal/errs"
	"filesync-coordinator/internal/model"
	"filesync-coordinator/internal/vclock"
)

// Store owns every file's version chain and the content bytes behind
// each version. All mutation to a single file_id's chain is serialized
// by the coordinator's per-file lock (§5); Store's own mutex only
// protects the shared maps themselves.
type Store struct {
	mu       sync.RWMutex
	versions map[string]model.FileVersion // version_id -> version
	byFile   map[string][]string          // file_id -> version_ids, ascending version_number
	bytes    map[string][]byte            // version_id -> content
}

// New returns an empty version store.
func New() *Store {
	return &Store{
		versions: make(map[string]model.FileVersion),
		byFile:   make(map[string][]string),
		bytes:    make(map[string][]byte),
	}
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CreateVersion appends a new version to fileID's chain: the version
// number is max(existing)+1 (or 1 for the first version), the previous
// current version (if any) is flipped off, and this version becomes
// current.
func (s *Store) CreateVersion(fileID string, data []byte, createdBy string, vc vclock.Clock) model.FileVersion {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.byFile[fileID]
	versionNumber := 1
	var parentID string
	if len(chain) > 0 {
		prevID := chain[len(chain)-1]
		prev := s.versions[prevID]
		versionNumber = prev.VersionNumber + 1
		parentID = prevID

		if prev.IsCurrent {
			prev.IsCurrent = false
			s.versions[prevID] = prev
		}
	}

	v := model.FileVersion{
		VersionID:       uuid.NewString(),
		FileID:          fileID,
		VersionNumber:   versionNumber,
		ContentHash:     contentHash(data),
		Size:            int64(len(data)),
		CreatedAt:       time.Now().UTC(),
		CreatedByNodeID: createdBy,
		VectorClock:     vc.Copy(),
		IsCurrent:       true,
		ParentVersionID: parentID,
	}

	s.versions[v.VersionID] = v
	s.byFile[fileID] = append(chain, v.VersionID)
	s.bytes[v.VersionID] = append([]byte(nil), data...)

	return v
}

// GetCurrent returns fileID's current version.
func (s *Store) GetCurrent(fileID string) (model.FileVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.byFile[fileID] {
		if v := s.versions[id]; v.IsCurrent {
			return v, nil
		}
	}
	return model.FileVersion{}, errs.NotFoundf("no current version for file %q", fileID)
}

// GetVersion returns a specific version by its ID.
func (s *Store) GetVersion(versionID string) (model.FileVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[versionID]
	if !ok {
		return model.FileVersion{}, errs.NotFoundf("version %q not found", versionID)
	}
	return v, nil
}

// ListVersions returns fileID's full chain, ascending by version number.
func (s *Store) ListVersions(fileID string) []model.FileVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byFile[fileID]
	out := make([]model.FileVersion, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.versions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out
}

// GetBytes returns the content bytes stored for a version. Re-hashing
// the result always equals the version's ContentHash (§8 property 3).
func (s *Store) GetBytes(versionID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bytes[versionID]
	if !ok {
		return nil, errs.NotFoundf("version %q not found", versionID)
	}
	return append([]byte(nil), b...), nil
}

// DeleteVersion removes a version from its file's chain. It refuses to
// remove the sole remaining version of a file when that version is
// current; if the removed version was current, the highest-numbered
// remaining version becomes current.
func (s *Store) DeleteVersion(versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[versionID]
	if !ok {
		return errs.NotFoundf("version %q not found", versionID)
	}

	chain := s.byFile[v.FileID]
	if len(chain) == 1 && v.IsCurrent {
		return errs.InvariantViolationf("cannot delete the sole version of file %q", v.FileID)
	}

	newChain := make([]string, 0, len(chain)-1)
	for _, id := range chain {
		if id != versionID {
			newChain = append(newChain, id)
		}
	}
	s.byFile[v.FileID] = newChain
	delete(s.versions, versionID)
	delete(s.bytes, versionID)

	if v.IsCurrent && len(newChain) > 0 {
		var highest model.FileVersion
		for i, id := range newChain {
			c := s.versions[id]
			if i == 0 || c.VersionNumber > highest.VersionNumber {
				highest = c
			}
		}
		highest.IsCurrent = true
		s.versions[highest.VersionID] = highest
	}

	return nil
}

// Cleanup removes the oldest versions of fileID beyond keepN, never
// touching the current version, and returns how many were removed.
func (s *Store) Cleanup(fileID string, keepN int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.byFile[fileID]
	if keepN < 0 || len(chain) <= keepN {
		return 0
	}

	excess := len(chain) - keepN
	removed := 0
	kept := make([]string, 0, len(chain))
	for i, id := range chain {
		v := s.versions[id]
		if i < excess && !v.IsCurrent {
			delete(s.versions, id)
			delete(s.bytes, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.byFile[fileID] = kept
	return removed
}
