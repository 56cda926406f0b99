// Package session tracks live browser sessions by id.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/entrhq/browsergrid/pkg/logging"
	"github.com/entrhq/browsergrid/pkg/types"
	"github.com/entrhq/browsergrid/pkg/webdriver"
)

// Info describes a registered session.
type Info struct {
	ID          string
	Handle      webdriver.Handle
	BrowserType types.BrowserType
	CreatedAt   time.Time
}

type entry struct {
	info    *Info
	closing bool
}

// Registry maps session ids to live handles. Handles are released outside the
// registry lock, so a slow browser shutdown never blocks other workers.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	logger   *logging.Logger
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		sessions: make(map[string]*entry),
		logger:   logger,
		now:      time.Now,
	}
}

// Create registers a handle under a fresh id.
func (r *Registry) Create(handle webdriver.Handle, bt types.BrowserType) (*Info, error) {
	if handle == nil {
		return nil, types.NewError(types.KindConnection, string(bt), "nil session handle")
	}

	info := &Info{
		ID:          uuid.NewString(),
		Handle:      handle,
		BrowserType: bt,
		CreatedAt:   r.now(),
	}

	r.mu.Lock()
	r.sessions[info.ID] = &entry{info: info}
	r.mu.Unlock()

	r.logger.Debugf("Registered %s session %s", bt, info.ID)
	return info, nil
}

// Get returns a session that is not being closed.
func (r *Registry) Get(id string) (*Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.closing {
		return nil, types.NotFound("session", id)
	}
	return e.info, nil
}

// List returns the open sessions, oldest first.
func (r *Registry) List() []*Info {
	r.mu.Lock()
	out := make([]*Info, 0, len(r.sessions))
	for _, e := range r.sessions {
		if !e.closing {
			out = append(out, e.info)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len counts registered sessions, including ones being closed.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close ends a session. The entry is removed even when the browser fails to
// shut down; that failure is returned as a connection error.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok || e.closing {
		r.mu.Unlock()
		return types.NotFound("session", id)
	}
	e.closing = true
	r.mu.Unlock()

	err := e.info.Handle.DeleteSession(ctx)

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	if err != nil {
		r.logger.Warnf("Session %s closed with error: %v", id, err)
		return types.WrapError(err, types.KindConnection, id, "failed to close session")
	}
	r.logger.Debugf("Closed %s session %s", e.info.BrowserType, id)
	return nil
}

// CloseAll closes every session one after another. Every session is removed;
// failures are aggregated.
func (r *Registry) CloseAll(ctx context.Context) error {
	var result *multierror.Error
	for _, info := range r.List() {
		if err := r.Close(ctx, info.ID); err != nil {
			if types.IsKind(err, types.KindNotFound) {
				// Closed concurrently.
				continue
			}
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
