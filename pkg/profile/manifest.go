package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
)

const (
	manifestName = "metadata.json"
	lockName     = "metadata.lock"
)

// manifest is the on-disk snapshot of every profile of one browser type.
type manifest struct {
	path string
	lock *flock.Flock
}

func newManifest(root string) *manifest {
	return &manifest{
		path: filepath.Join(root, manifestName),
		lock: flock.New(filepath.Join(root, lockName)),
	}
}

// load reads the manifest. A missing file is an empty store.
func (m *manifest) load() ([]*Profile, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var profiles []*Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", m.path, err)
	}
	return profiles, nil
}

// save rewrites the manifest with a full snapshot. The write goes to a temp
// file that is renamed over the manifest while holding the file lock, so
// readers in other processes never see a partial file.
func (m *manifest) save(profiles map[string]*Profile) error {
	snapshot := make([]*Profile, 0, len(profiles))
	for _, p := range profiles {
		snapshot = append(snapshot, p)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].CreatedAt.Equal(snapshot[j].CreatedAt) {
			return snapshot[i].ID < snapshot[j].ID
		}
		return snapshot[i].CreatedAt.Before(snapshot[j].CreatedAt)
	})

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	if err := m.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock manifest: %w", err)
	}
	defer m.lock.Unlock()

	tempPath := m.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp manifest: %w", err)
	}
	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp manifest: %w", err)
	}
	return nil
}
