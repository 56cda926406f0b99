package profile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browsergrid/pkg/types"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chrome"), types.BrowserChrome, opts...)
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

// fileSet maps relative paths of regular files to their contents.
func fileSet(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.Create(ctx, Spec{
		Name:    "work",
		Options: types.Options{Headless: true, Args: []string{"--lang=de"}},
		Metadata: Metadata{
			Description: "work account",
			Tags:        []string{"ci"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, types.BrowserChrome, p.BrowserType)

	info, err := os.Stat(filepath.Join(s.Root(), p.ID))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, types.BrowserChrome, got.BrowserType)
	assert.Equal(t, []string{"--lang=de"}, got.Options.Args)
	assert.False(t, got.LastUsed.Before(p.LastUsed))
}

func TestStore_CreateRequiresName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(context.Background(), Spec{Name: "  "})
	assert.ErrorContains(t, err, "name is required")
}

func TestStore_CreateStorageError(t *testing.T) {
	s := newTestStore(t)
	// A file where the profile root should be makes MkdirAll fail.
	require.NoError(t, os.RemoveAll(s.Root()))
	writeFile(t, s.Root(), "not a directory")

	_, err := s.Create(context.Background(), Spec{Name: "broken"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStorage))
}

func TestStore_GetRefreshesLastUsed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
	s := newTestStore(t, WithClock(clock))

	p, err := s.Create(ctx, Spec{Name: "clocked"})
	require.NoError(t, err)

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.LastUsed.After(p.LastUsed))
	assert.Equal(t, p.CreatedAt, got.CreatedAt)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mk := func(name string, tags []string, extra map[string]string) {
		_, err := s.Create(ctx, Spec{Name: name, Metadata: Metadata{Tags: tags, Extra: extra}})
		require.NoError(t, err)
	}
	mk("ci-login", []string{"ci", "auth"}, map[string]string{"team": "web"})
	mk("ci-checkout", []string{"ci"}, map[string]string{"team": "payments"})
	mk("manual", []string{"auth"}, nil)

	names := func(ps []*Profile) []string {
		out := make([]string, 0, len(ps))
		for _, p := range ps {
			out = append(out, p.Name)
		}
		sort.Strings(out)
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"ci-checkout", "ci-login", "manual"}},
		{"exact name", Filter{Name: "manual"}, []string{"manual"}},
		{"glob", Filter{NamePattern: "ci-*"}, []string{"ci-checkout", "ci-login"}},
		{"tag", Filter{Tags: []string{"auth"}}, []string{"ci-login", "manual"}},
		{"and semantics", Filter{NamePattern: "ci-*", Tags: []string{"auth"}}, []string{"ci-login"}},
		{"metadata", Filter{Metadata: map[string]string{"team": "payments"}}, []string{"ci-checkout"}},
		{"no match", Filter{Tags: []string{"nope"}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.Create(ctx, Spec{Name: "before", Metadata: Metadata{Tags: []string{"a"}}})
	require.NoError(t, err)

	name := "after"
	opts := types.Options{Headless: true}
	updated, err := s.Update(ctx, p.ID, Update{Name: &name, Options: &opts})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Name)
	assert.True(t, updated.Options.Headless)
	assert.Equal(t, []string{"a"}, updated.Metadata.Tags, "unset fields are kept")

	_, err = s.Update(ctx, "missing", Update{Name: &name})
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.Create(ctx, Spec{Name: "doomed"})
	require.NoError(t, err)
	writeFile(t, filepath.Join(s.Root(), p.ID, "Default", "Cookies"), "secret")

	ok, err := s.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = os.Stat(filepath.Join(s.Root(), p.ID))
	assert.True(t, os.IsNotExist(err))
	_, err = s.Get(ctx, p.ID)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	data, err := os.ReadFile(filepath.Join(s.Root(), manifestName))
	require.NoError(t, err)
	assert.NotContains(t, string(data), p.ID)
}

func TestStore_DeleteMissingIsNoop(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.Delete(context.Background(), "does-not-exist")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeleteLeasedProfile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.Create(ctx, Spec{Name: "busy"})
	require.NoError(t, err)

	dir, release, err := s.Acquire(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), p.ID), dir)
	assert.True(t, s.InUse(p.ID))

	ok, err := s.Delete(ctx, p.ID)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, types.ErrInUse))

	release()
	release()
	assert.False(t, s.InUse(p.ID))

	ok, err = s.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_ManifestSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "firefox")

	s, err := Open(root, types.BrowserFirefox)
	require.NoError(t, err)
	p, err := s.Create(ctx, Spec{Name: "persisted", Metadata: Metadata{Tags: []string{"x"}}})
	require.NoError(t, err)

	var onDisk []*Profile
	data, err := os.ReadFile(filepath.Join(root, manifestName))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Len(t, onDisk, 1)

	reopened, err := Open(root, types.BrowserFirefox)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Name)
	assert.Equal(t, []string{"x"}, got.Metadata.Tags)
}

func TestStore_OpenCorruptManifest(t *testing.T) {
	root := filepath.Join(t.TempDir(), "edge")
	writeFile(t, filepath.Join(root, manifestName), "{not json")

	_, err := Open(root, types.BrowserEdge)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStorage))
}

func TestStore_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.Create(ctx, Spec{Name: "round-trip"})
	require.NoError(t, err)

	dir := filepath.Join(s.Root(), p.ID)
	writeFile(t, filepath.Join(dir, "Local State"), `{"profile":{}}`)
	writeFile(t, filepath.Join(dir, "Default", "Cookies"), "cookie-bytes")
	writeFile(t, filepath.Join(dir, "Default", "Extensions", "abc", "manifest.json"), "{}")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "EmptyDir"), 0700))

	archive, err := s.Export(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "exports"), filepath.Dir(archive))
	assert.False(t, s.InUse(p.ID), "export releases its lease")

	imported, err := s.Import(ctx, archive)
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, imported.ID)
	assert.Equal(t, "round-trip", imported.Name)
	assert.Equal(t, archive, imported.Metadata.Extra["imported_from"])

	importedDir := filepath.Join(s.Root(), imported.ID)
	assert.Equal(t, fileSet(t, dir), fileSet(t, importedDir))
	_, err = os.Stat(filepath.Join(importedDir, "EmptyDir"))
	assert.NoError(t, err)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(importedDir)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
		info, err = os.Stat(filepath.Join(importedDir, "Default", "Cookies"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestStore_ImportMissingArchive(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Import(context.Background(), filepath.Join(t.TempDir(), "nope.zip"))
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestStore_ImportCorruptArchive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	bad := filepath.Join(t.TempDir(), "bad.zip")
	writeFile(t, bad, "this is not a zip")

	_, err := s.Import(ctx, bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStorage))

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, all, "a failed import registers nothing")
}

func TestStore_CreateDefault(t *testing.T) {
	s := newTestStore(t, WithDefaultArgs([]string{"--no-first-run"}))
	p, err := s.CreateDefault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Default chrome Profile", p.Name)
	assert.Equal(t, []string{"--no-first-run"}, p.Options.Args)
	assert.True(t, p.Metadata.HasTag("default"))
}

func TestStore_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const n = 16
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.Create(ctx, Spec{Name: "parallel"})
			if assert.NoError(t, err) {
				ids <- p.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)

	all, err := s.List(ctx, Filter{Name: "parallel"})
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestNameFromArchive(t *testing.T) {
	assert.Equal(t, "work", nameFromArchive("/x/work-3f2b8c3e-6a39-4b8e-9d0a-2b1f4c9e7a11.zip", ".zip"))
	assert.Equal(t, "my-profile", nameFromArchive("/x/my-profile-3f2b8c3e-6a39-4b8e-9d0a-2b1f4c9e7a11.zip", ".zip"))
	assert.Equal(t, "backup-2024", nameFromArchive("/x/backup-2024.zip", ".zip"))
}

func TestManager_For(t *testing.T) {
	m := NewManager(t.TempDir())

	chrome, err := m.For(types.BrowserChrome)
	require.NoError(t, err)
	again, err := m.For(types.BrowserChrome)
	require.NoError(t, err)
	assert.Same(t, chrome, again)

	firefox, err := m.For(types.BrowserFirefox)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.BaseDir(), "firefox"), firefox.Root())

	_, err = m.For("")
	assert.Error(t, err)
}
