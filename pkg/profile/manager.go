package profile

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/entrhq/browsergrid/pkg/types"
)

// Manager owns one Store per browser type under a shared base directory.
// Stores are opened lazily on first use.
type Manager struct {
	baseDir string
	opts    []Option
	perType map[types.BrowserType][]Option

	mu     sync.Mutex
	stores map[types.BrowserType]*Store
}

// NewManager creates a manager rooted at baseDir. opts apply to every store.
func NewManager(baseDir string, opts ...Option) *Manager {
	return &Manager{
		baseDir: baseDir,
		opts:    opts,
		perType: make(map[types.BrowserType][]Option),
		stores:  make(map[types.BrowserType]*Store),
	}
}

// Configure adds options for one browser type's store. It has no effect once
// that store is open.
func (m *Manager) Configure(bt types.BrowserType, opts ...Option) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perType[bt] = append(m.perType[bt], opts...)
}

// BaseDir returns the directory holding every store.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// For returns the store of a browser type, opening it if needed.
func (m *Manager) For(bt types.BrowserType) (*Store, error) {
	if bt == "" {
		return nil, fmt.Errorf("browser type is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[bt]; ok {
		return s, nil
	}

	opts := append(append([]Option(nil), m.opts...), m.perType[bt]...)
	s, err := Open(filepath.Join(m.baseDir, string(bt)), bt, opts...)
	if err != nil {
		return nil, err
	}
	m.stores[bt] = s
	return s, nil
}
