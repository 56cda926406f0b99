package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/browsergrid/pkg/logging"
	"github.com/entrhq/browsergrid/pkg/types"
)

const exportsDir = "exports"

// Store manages the profiles of a single browser type.
type Store struct {
	browserType types.BrowserType
	root        string
	codec       Codec
	logger      *logging.Logger
	defaultArgs []string
	now         func() time.Time
	goos        string

	mu       sync.RWMutex
	profiles map[string]*Profile
	leases   map[string]int
	manifest *manifest
}

// Option configures a Store.
type Option func(*Store)

// WithCodec replaces the archive codec used by Export and Import.
func WithCodec(c Codec) Option {
	return func(s *Store) { s.codec = c }
}

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithDefaultArgs sets the arguments recorded on profiles made by CreateDefault.
func WithDefaultArgs(args []string) Option {
	return func(s *Store) { s.defaultArgs = append([]string(nil), args...) }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates the store root if needed and loads its manifest.
func Open(root string, bt types.BrowserType, opts ...Option) (*Store, error) {
	s := &Store{
		browserType: bt,
		root:        root,
		codec:       ZipCodec{},
		logger:      logging.Nop(),
		now:         time.Now,
		goos:        runtime.GOOS,
		profiles:    make(map[string]*Profile),
		leases:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, types.WrapError(err, types.KindStorage, root, "failed to create profile root")
	}
	s.manifest = newManifest(root)

	loaded, err := s.manifest.load()
	if err != nil {
		return nil, types.WrapError(err, types.KindStorage, root, "failed to load profiles")
	}
	for _, p := range loaded {
		s.profiles[p.ID] = p
	}
	if len(loaded) > 0 {
		s.logger.Infof("Loaded %d %s profiles", len(loaded), bt)
	}
	return s, nil
}

// BrowserType returns the browser type the store belongs to.
func (s *Store) BrowserType() types.BrowserType {
	return s.browserType
}

// Root returns the store root directory.
func (s *Store) Root() string {
	return s.root
}

// storagePath is the user-data directory of a profile.
func (s *Store) storagePath(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) persist() error {
	if err := s.manifest.save(s.profiles); err != nil {
		return types.WrapError(err, types.KindStorage, s.manifest.path, "failed to persist profiles")
	}
	return nil
}

// Create allocates a new profile and its storage directory.
func (s *Store) Create(ctx context.Context, spec Spec) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("profile name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createLocked(spec)
}

func (s *Store) createLocked(spec Spec) (*Profile, error) {
	id := uuid.NewString()
	dir := s.storagePath(id)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, types.WrapError(err, types.KindStorage, dir, "failed to create profile directory")
	}
	return s.registerLocked(id, spec)
}

// registerLocked records metadata for a profile whose directory already exists.
func (s *Store) registerLocked(id string, spec Spec) (*Profile, error) {
	now := s.now()
	p := &Profile{
		ID:          id,
		Name:        spec.Name,
		BrowserType: s.browserType,
		Options:     spec.Options.Clone(),
		CreatedAt:   now,
		LastUsed:    now,
		Metadata:    spec.Metadata.clone(),
	}

	s.profiles[id] = p
	if err := s.persist(); err != nil {
		delete(s.profiles, id)
		os.RemoveAll(s.storagePath(id))
		return nil, err
	}

	s.logger.Infof("Created %s profile: %s (%s)", s.browserType, p.Name, id)
	return p.clone(), nil
}

// Get returns a profile and refreshes its last-used time.
func (s *Store) Get(ctx context.Context, id string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, types.NotFound("profile", id)
	}
	s.touchLocked(p)
	return p.clone(), nil
}

// touchLocked refreshes LastUsed. Manifest failures are logged only: a stale
// last-used time is not worth failing a lookup over.
func (s *Store) touchLocked(p *Profile) {
	p.LastUsed = s.now()
	if err := s.persist(); err != nil {
		s.logger.Warnf("Failed to record last use of profile %s: %v", p.ID, err)
	}
}

// List returns the profiles matching filter, oldest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := newMatcher(filter)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if m.match(p) {
			out = append(out, p.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update merges the set fields of u into the profile.
func (s *Store) Update(ctx context.Context, id string, u Update) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.profiles[id]
	if !ok {
		return nil, types.NotFound("profile", id)
	}

	updated := current.clone()
	if u.Name != nil {
		if strings.TrimSpace(*u.Name) == "" {
			return nil, fmt.Errorf("profile name cannot be empty")
		}
		updated.Name = *u.Name
	}
	if u.Options != nil {
		updated.Options = u.Options.Clone()
	}
	if u.Metadata != nil {
		updated.Metadata = u.Metadata.clone()
	}
	updated.LastUsed = s.now()

	s.profiles[id] = updated
	if err := s.persist(); err != nil {
		s.profiles[id] = current
		return nil, err
	}

	s.logger.Infof("Updated %s profile: %s (%s)", s.browserType, updated.Name, id)
	return updated.clone(), nil
}

// Delete removes a profile's directory and manifest entry. It returns false
// without error when the profile does not exist, and an in_use error while a
// session holds a lease on it.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return false, nil
	}
	if n := s.leases[id]; n > 0 {
		return false, &types.Error{
			Kind:    types.KindInUse,
			Subject: id,
			Message: fmt.Sprintf("profile is used by %d running session(s)", n),
		}
	}

	dir := s.storagePath(id)
	if err := os.RemoveAll(dir); err != nil {
		return false, types.WrapError(err, types.KindStorage, dir, "failed to remove profile directory")
	}

	// The directory is gone, so the entry must not come back even if the
	// manifest write fails; the next successful write drops it from disk.
	delete(s.profiles, id)
	if err := s.persist(); err != nil {
		return false, err
	}

	s.logger.Infof("Deleted %s profile: %s (%s)", s.browserType, p.Name, id)
	return true, nil
}

// Path returns the storage directory of an existing profile.
func (s *Store) Path(ctx context.Context, id string) (string, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return "", err
	}
	dir := s.storagePath(id)
	if _, err := os.Stat(dir); err != nil {
		return "", types.NotFound("profile directory", dir)
	}
	return dir, nil
}

// Acquire leases a profile for a session and returns its storage directory.
// The profile cannot be deleted until release is called. release is
// idempotent.
func (s *Store) Acquire(ctx context.Context, id string) (dir string, release func(), err error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return "", nil, types.NotFound("profile", id)
	}
	dir = s.storagePath(id)
	if _, statErr := os.Stat(dir); statErr != nil {
		return "", nil, types.NotFound("profile directory", dir)
	}

	s.leases[id]++
	s.touchLocked(p)

	var once sync.Once
	release = func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.leases[id] <= 1 {
				delete(s.leases, id)
				return
			}
			s.leases[id]--
		})
	}
	return dir, release, nil
}

// InUse reports whether a profile is leased.
func (s *Store) InUse(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leases[id] > 0
}

// Export writes the profile directory to an archive under <root>/exports and
// returns the archive path.
func (s *Store) Export(ctx context.Context, id string) (string, error) {
	dir, release, err := s.Acquire(ctx, id)
	if err != nil {
		return "", err
	}
	defer release()

	s.mu.RLock()
	name := s.profiles[id].Name
	s.mu.RUnlock()

	exportDir := filepath.Join(s.root, exportsDir)
	if err := os.MkdirAll(exportDir, 0700); err != nil {
		return "", types.WrapError(err, types.KindStorage, exportDir, "failed to create export directory")
	}

	exportPath := filepath.Join(exportDir, fmt.Sprintf("%s-%s%s", sanitizeName(name), id, s.codec.Ext()))
	if err := s.codec.Compress(dir, exportPath); err != nil {
		return "", types.WrapError(err, types.KindStorage, id, "failed to export profile")
	}

	s.logger.Infof("Exported %s profile: %s (%s) to %s", s.browserType, name, id, exportPath)
	return exportPath, nil
}

// Import restores an archive produced by Export as a new profile.
func (s *Store) Import(ctx context.Context, archivePath string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(archivePath)
	if err != nil || info.IsDir() {
		return nil, types.NotFound("profile archive", archivePath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	dir := s.storagePath(id)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, types.WrapError(err, types.KindStorage, dir, "failed to create profile directory")
	}
	if err := s.codec.Extract(archivePath, dir); err != nil {
		os.RemoveAll(dir)
		return nil, types.WrapError(err, types.KindStorage, archivePath, "failed to import profile")
	}
	if s.goos != "windows" {
		if err := restrictPermissions(dir); err != nil {
			os.RemoveAll(dir)
			return nil, types.WrapError(err, types.KindStorage, dir, "failed to restrict profile permissions")
		}
	}

	p, err := s.registerLocked(id, Spec{
		Name: nameFromArchive(archivePath, s.codec.Ext()),
		Metadata: Metadata{
			Extra: map[string]string{
				"imported_from": archivePath,
				"imported_at":   s.now().UTC().Format(time.RFC3339),
			},
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Imported %s profile: %s (%s)", s.browserType, p.Name, p.ID)
	return p, nil
}

// CreateDefault creates a profile carrying the browser's default arguments.
func (s *Store) CreateDefault(ctx context.Context) (*Profile, error) {
	return s.Create(ctx, Spec{
		Name:    fmt.Sprintf("Default %s Profile", s.browserType),
		Options: types.Options{Args: append([]string(nil), s.defaultArgs...)},
		Metadata: Metadata{
			Description: fmt.Sprintf("Default profile for %s", s.browserType),
			Tags:        []string{"default", string(s.browserType)},
		},
	})
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeName(name string) string {
	clean := strings.Trim(unsafeNameChars.ReplaceAllString(name, "_"), "_")
	if clean == "" {
		return "profile"
	}
	return clean
}

// nameFromArchive strips the extension and the "-<id>" suffix added by Export.
func nameFromArchive(path, ext string) string {
	base := strings.TrimSuffix(filepath.Base(path), ext)
	if len(base) > 37 && base[len(base)-37] == '-' {
		if _, err := uuid.Parse(base[len(base)-36:]); err == nil {
			base = base[:len(base)-37]
		}
	}
	if base == "" {
		return "imported"
	}
	return base
}
