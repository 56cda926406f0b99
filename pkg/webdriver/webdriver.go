// Package webdriver defines the automation client the engine drives.
//
// The engine never speaks a wire protocol itself: a Driver turns a resolved
// capability descriptor into a live Handle, and test bodies act on that
// Handle. pkg/webdriver/pwdriver is the default implementation.
package webdriver

import (
	"context"
	"time"

	"github.com/entrhq/browsergrid/pkg/types"
)

// Driver connects to browsers. A Driver belongs to one worker slot and is
// never shared between slots.
type Driver interface {
	// Connect starts a browser session described by caps.
	Connect(ctx context.Context, caps *types.Capabilities) (Handle, error)
	// Close releases the driver and anything it started.
	Close() error
}

// Handle is a live browser session.
type Handle interface {
	Navigate(ctx context.Context, url string) error
	URL() string
	Title(ctx context.Context) (string, error)
	// Find returns the first element matching a CSS selector, or a not_found
	// error.
	Find(ctx context.Context, selector string) (Element, error)
	// WaitFor blocks until selector reaches state ("attached", "detached",
	// "visible", "hidden").
	WaitFor(ctx context.Context, selector string, state WaitState, timeout time.Duration) error
	// Execute evaluates a script in the page and returns its result.
	Execute(ctx context.Context, script string, arg any) (any, error)
	// DeleteSession ends the session and closes the browser.
	DeleteSession(ctx context.Context) error
}

// Element is a node found on the page.
type Element interface {
	Text(ctx context.Context) (string, error)
	Click(ctx context.Context) error
	Fill(ctx context.Context, value string) error
}

// WaitState is the element state WaitFor waits for.
type WaitState string

const (
	StateAttached WaitState = "attached"
	StateDetached WaitState = "detached"
	StateVisible  WaitState = "visible"
	StateHidden   WaitState = "hidden"
)

// Valid reports whether s is a known state.
func (s WaitState) Valid() bool {
	switch s {
	case StateAttached, StateDetached, StateVisible, StateHidden:
		return true
	}
	return false
}

// Factory creates the Driver for one worker slot.
type Factory func(slot int) (Driver, error)
