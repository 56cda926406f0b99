package pwdriver

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/browsergrid/pkg/types"
	"github.com/entrhq/browsergrid/pkg/webdriver"
)

// session is a live browser page. browser is nil for persistent contexts,
// which own their browser process.
type session struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	timeout float64
}

func (s *session) opTimeout(ctx context.Context) float64 {
	return timeoutMillis(ctx, time.Duration(s.timeout)*time.Millisecond)
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout: playwright.Float(s.opTimeout(ctx)),
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (s *session) URL() string {
	return s.page.URL()
}

func (s *session) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.page.Title()
}

func (s *session) Find(ctx context.Context, selector string) (webdriver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handle, err := s.page.QuerySelector(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	if handle == nil {
		return nil, types.NotFound("element", selector)
	}
	return &element{handle: handle, session: s}, nil
}

func (s *session) WaitFor(ctx context.Context, selector string, state webdriver.WaitState, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == "" {
		state = webdriver.StateVisible
	}
	if !state.Valid() {
		return fmt.Errorf("invalid state: %s (must be 'attached', 'detached', 'visible', or 'hidden')", state)
	}

	ms := s.opTimeout(ctx)
	if timeout > 0 {
		ms = timeoutMillis(ctx, timeout)
	}
	pwState := playwright.WaitForSelectorState(state)
	_, err := s.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   &pwState,
		Timeout: playwright.Float(ms),
	})
	if err != nil {
		return fmt.Errorf("wait failed: %w", err)
	}
	return nil
}

func (s *session) Execute(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		result any
		err    error
	)
	if arg == nil {
		result, err = s.page.Evaluate(script)
	} else {
		result, err = s.page.Evaluate(script, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	return result, nil
}

// DeleteSession closes the page, context and browser, reporting every
// failure.
func (s *session) DeleteSession(context.Context) error {
	return s.close()
}

func (s *session) close() error {
	var result *multierror.Error
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close page: %w", err))
		}
	}
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close context: %w", err))
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close browser: %w", err))
		}
	}
	return result.ErrorOrNil()
}

type element struct {
	handle  playwright.ElementHandle
	session *session
}

func (e *element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := e.handle.TextContent()
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return text, nil
}

func (e *element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.handle.Click(playwright.ElementHandleClickOptions{
		Timeout: playwright.Float(e.session.opTimeout(ctx)),
	}); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (e *element) Fill(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.handle.Fill(value, playwright.ElementHandleFillOptions{
		Timeout: playwright.Float(e.session.opTimeout(ctx)),
	}); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}
