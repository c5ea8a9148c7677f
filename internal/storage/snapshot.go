package storage

import (
	"encoding/json"
	"os"

	"filesync-coordinator/internal/model"
)

// snapshotData is the full in-memory state of all five logical tables,
// serialized together so that recovery never has to reconcile separate
// snapshot files taken at different times.
type snapshotData struct {
	Nodes     map[string]model.Node          `json:"nodes"`
	Files     map[string]model.FileMetadata  `json:"files"`
	Events    []model.Event                  `json:"events"`
	Conflicts map[string]model.Conflict      `json:"conflicts"`
	Metrics   []model.NetworkMetric          `json:"metrics"`
}

func saveSnapshot(path string, data snapshotData) error {
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	// Atomic rename: a crash between Create and Rename leaves the prior
	// snapshot intact.
	return os.Rename(tmp, path)
}

func loadSnapshot(path string) (snapshotData, error) {
	empty := snapshotData{
		Nodes:     make(map[string]model.Node),
		Files:     make(map[string]model.FileMetadata),
		Conflicts: make(map[string]model.Conflict),
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return empty, nil
	}
	if err != nil {
		return empty, err
	}
	defer f.Close()

	var data snapshotData
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return empty, err
	}
	if data.Nodes == nil {
		data.Nodes = make(map[string]model.Node)
	}
	if data.Files == nil {
		data.Files = make(map[string]model.FileMetadata)
	}
	if data.Conflicts == nil {
		data.Conflicts = make(map[string]model.Conflict)
	}
	return data, nil
}
