// Package webdrivertest provides an in-memory webdriver.Driver for tests.
package webdrivertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrhq/browsergrid/pkg/types"
	"github.com/entrhq/browsergrid/pkg/webdriver"
)

// Page is the content served for one URL.
type Page struct {
	Title string
	// Elements maps CSS selectors to their text.
	Elements map[string]string
	// Script results keyed by script source.
	Scripts map[string]any
}

// Driver serves Pages from memory and records what it was asked to do.
type Driver struct {
	mu      sync.Mutex
	pages   map[string]Page
	connect func(*types.Capabilities) error
	closeFn func(*Handle) error

	connects atomic.Int64
	closed   atomic.Bool
	handles  []*Handle
}

// NewDriver returns a driver serving pages.
func NewDriver(pages map[string]Page) *Driver {
	if pages == nil {
		pages = map[string]Page{}
	}
	return &Driver{pages: pages}
}

// OnConnect installs a hook that can fail Connect.
func (d *Driver) OnConnect(fn func(*types.Capabilities) error) *Driver {
	d.connect = fn
	return d
}

// OnDelete installs a hook that can fail DeleteSession.
func (d *Driver) OnDelete(fn func(*Handle) error) *Driver {
	d.closeFn = fn
	return d
}

// Connect opens a handle on about:blank.
func (d *Driver) Connect(ctx context.Context, caps *types.Capabilities) (webdriver.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.connects.Add(1)
	if d.connect != nil {
		if err := d.connect(caps); err != nil {
			return nil, err
		}
	}

	h := &Handle{driver: d, url: "about:blank", Caps: caps}
	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.mu.Unlock()
	return h, nil
}

// Close marks the driver closed.
func (d *Driver) Close() error {
	d.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool { return d.closed.Load() }

// Connects counts Connect calls.
func (d *Driver) Connects() int { return int(d.connects.Load()) }

// Handles returns every handle handed out.
func (d *Driver) Handles() []*Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Handle(nil), d.handles...)
}

func (d *Driver) page(url string) (Page, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pages[url]
	return p, ok
}

// Handle is a fake browser session.
type Handle struct {
	driver *Driver
	Caps   *types.Capabilities

	mu      sync.Mutex
	url     string
	deleted bool
	clicks  []string
	fills   map[string]string
}

func (h *Handle) current() (Page, error) {
	h.mu.Lock()
	url := h.url
	h.mu.Unlock()
	p, ok := h.driver.page(url)
	if !ok {
		return Page{}, fmt.Errorf("no page loaded at %s", url)
	}
	return p, nil
}

func (h *Handle) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := h.driver.page(url); !ok {
		return fmt.Errorf("navigation failed: %s: net::ERR_NAME_NOT_RESOLVED", url)
	}
	h.mu.Lock()
	h.url = url
	h.mu.Unlock()
	return nil
}

func (h *Handle) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.url
}

func (h *Handle) Title(ctx context.Context) (string, error) {
	p, err := h.current()
	if err != nil {
		return "", err
	}
	return p.Title, ctx.Err()
}

func (h *Handle) Find(ctx context.Context, selector string) (webdriver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := h.current()
	if err != nil {
		return nil, err
	}
	text, ok := p.Elements[selector]
	if !ok {
		return nil, types.NotFound("element", selector)
	}
	return &Element{handle: h, selector: selector, text: text}, nil
}

// WaitFor succeeds immediately when the selector is present and otherwise
// waits for the timeout (or ctx) before failing. Only "attached" and
// "visible" are meaningful; "detached" and "hidden" invert the check.
func (h *Handle) WaitFor(ctx context.Context, selector string, state webdriver.WaitState, timeout time.Duration) error {
	p, err := h.current()
	if err != nil {
		return err
	}
	_, present := p.Elements[selector]
	if state == webdriver.StateDetached || state == webdriver.StateHidden {
		present = !present
	}
	if present {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("wait failed: timeout %s exceeded waiting for %q", timeout, selector)
	}
}

func (h *Handle) Execute(ctx context.Context, script string, _ any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := h.current()
	if err != nil {
		return nil, err
	}
	result, ok := p.Scripts[script]
	if !ok {
		return nil, fmt.Errorf("script evaluation failed: unknown script %q", script)
	}
	return result, nil
}

func (h *Handle) DeleteSession(context.Context) error {
	h.mu.Lock()
	h.deleted = true
	h.mu.Unlock()
	if h.driver.closeFn != nil {
		return h.driver.closeFn(h)
	}
	return nil
}

// Deleted reports whether DeleteSession was called.
func (h *Handle) Deleted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deleted
}

// Clicks lists clicked selectors in order.
func (h *Handle) Clicks() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.clicks...)
}

// Filled returns the value typed into selector.
func (h *Handle) Filled(selector string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fills[selector]
}

// Element is an element of a fake page.
type Element struct {
	handle   *Handle
	selector string
	text     string
}

func (e *Element) Text(ctx context.Context) (string, error) {
	return e.text, ctx.Err()
}

func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.handle.mu.Lock()
	e.handle.clicks = append(e.handle.clicks, e.selector)
	e.handle.mu.Unlock()
	return nil
}

func (e *Element) Fill(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.handle.mu.Lock()
	if e.handle.fills == nil {
		e.handle.fills = make(map[string]string)
	}
	e.handle.fills[e.selector] = value
	e.handle.mu.Unlock()
	return nil
}

var _ webdriver.Driver = (*Driver)(nil)
