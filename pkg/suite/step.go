package suite

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/browsergrid/pkg/scheduler"
	"github.com/entrhq/browsergrid/pkg/types"
	"github.com/entrhq/browsergrid/pkg/webdriver"
)

// DefaultWaitTimeout bounds wait_for steps that do not set a timeout.
const DefaultWaitTimeout = 10 * time.Second

// Step is one action of a test case. Exactly one field is set.
type Step struct {
	Navigate    string       `yaml:"navigate,omitempty"`
	WaitFor     *WaitStep    `yaml:"wait_for,omitempty"`
	ExpectText  *TextStep    `yaml:"expect_text,omitempty"`
	Click       string       `yaml:"click,omitempty"`
	Fill        *FillStep    `yaml:"fill,omitempty"`
	Execute     *ExecuteStep `yaml:"execute,omitempty"`
	ExpectTitle string       `yaml:"expect_title,omitempty"`
}

// WaitStep waits for an element state. A bare string is the selector.
type WaitStep struct {
	Selector string              `yaml:"selector"`
	State    webdriver.WaitState `yaml:"state,omitempty"`
	Timeout  time.Duration       `yaml:"timeout,omitempty"`
}

func (w *WaitStep) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		w.Selector = n.Value
		return nil
	}
	type plain WaitStep
	return n.Decode((*plain)(w))
}

// TextStep checks the text of an element.
type TextStep struct {
	Selector string `yaml:"selector"`
	Equals   string `yaml:"equals,omitempty"`
	Contains string `yaml:"contains,omitempty"`
}

// FillStep types a value into an input.
type FillStep struct {
	Selector string `yaml:"selector"`
	Value    string `yaml:"value"`
}

// ExecuteStep evaluates a script, optionally checking its result. A bare
// string is the script.
type ExecuteStep struct {
	Script string `yaml:"script"`
	Arg    any    `yaml:"arg,omitempty"`
	Expect any    `yaml:"expect,omitempty"`
}

func (e *ExecuteStep) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		e.Script = n.Value
		return nil
	}
	type plain ExecuteStep
	return n.Decode((*plain)(e))
}

// Kind names the action of the step, or "" when none is set.
func (s Step) Kind() string {
	kinds := s.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (s Step) kinds() []string {
	var kinds []string
	if s.Navigate != "" {
		kinds = append(kinds, "navigate")
	}
	if s.WaitFor != nil {
		kinds = append(kinds, "wait_for")
	}
	if s.ExpectText != nil {
		kinds = append(kinds, "expect_text")
	}
	if s.Click != "" {
		kinds = append(kinds, "click")
	}
	if s.Fill != nil {
		kinds = append(kinds, "fill")
	}
	if s.Execute != nil {
		kinds = append(kinds, "execute")
	}
	if s.ExpectTitle != "" {
		kinds = append(kinds, "expect_title")
	}
	return kinds
}

// Validate checks that the step names exactly one well-formed action.
func (s Step) Validate() error {
	kinds := s.kinds()
	switch len(kinds) {
	case 0:
		return fmt.Errorf("step has no action")
	case 1:
	default:
		return fmt.Errorf("step has more than one action: %s", strings.Join(kinds, ", "))
	}

	switch {
	case s.WaitFor != nil:
		if s.WaitFor.Selector == "" {
			return fmt.Errorf("wait_for: selector is required")
		}
		if s.WaitFor.State != "" && !s.WaitFor.State.Valid() {
			return fmt.Errorf("wait_for: unknown state %q", s.WaitFor.State)
		}
	case s.ExpectText != nil:
		if s.ExpectText.Selector == "" {
			return fmt.Errorf("expect_text: selector is required")
		}
	case s.Fill != nil:
		if s.Fill.Selector == "" {
			return fmt.Errorf("fill: selector is required")
		}
	case s.Execute != nil:
		if s.Execute.Script == "" {
			return fmt.Errorf("execute: script is required")
		}
	}
	return nil
}

func (s Step) String() string {
	switch s.Kind() {
	case "navigate":
		return "navigate " + s.Navigate
	case "wait_for":
		return fmt.Sprintf("wait_for %s", s.WaitFor.Selector)
	case "expect_text":
		return fmt.Sprintf("expect_text %s", s.ExpectText.Selector)
	case "click":
		return "click " + s.Click
	case "fill":
		return fmt.Sprintf("fill %s", s.Fill.Selector)
	case "execute":
		return "execute"
	case "expect_title":
		return fmt.Sprintf("expect_title %q", s.ExpectTitle)
	}
	return "invalid step"
}

// run performs the step on the test's session.
func (s Step) run(ctx context.Context, t *scheduler.T, baseURL string) error {
	h := t.Handle
	switch {
	case s.Navigate != "":
		target, err := resolveURL(baseURL, s.Navigate)
		if err != nil {
			return err
		}
		return h.Navigate(ctx, target)

	case s.WaitFor != nil:
		state := s.WaitFor.State
		if state == "" {
			state = webdriver.StateVisible
		}
		timeout := s.WaitFor.Timeout
		if timeout <= 0 {
			timeout = DefaultWaitTimeout
		}
		return h.WaitFor(ctx, s.WaitFor.Selector, state, timeout)

	case s.ExpectText != nil:
		el, err := h.Find(ctx, s.ExpectText.Selector)
		if err != nil {
			return err
		}
		text, err := el.Text(ctx)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if s.ExpectText.Equals != "" && text != s.ExpectText.Equals {
			return fmt.Errorf("expected text %q, got %q", s.ExpectText.Equals, text)
		}
		if s.ExpectText.Contains != "" && !strings.Contains(text, s.ExpectText.Contains) {
			return fmt.Errorf("expected text containing %q, got %q", s.ExpectText.Contains, text)
		}
		return nil

	case s.Click != "":
		el, err := h.Find(ctx, s.Click)
		if err != nil {
			return err
		}
		return el.Click(ctx)

	case s.Fill != nil:
		el, err := h.Find(ctx, s.Fill.Selector)
		if err != nil {
			return err
		}
		return el.Fill(ctx, s.Fill.Value)

	case s.Execute != nil:
		got, err := h.Execute(ctx, s.Execute.Script, s.Execute.Arg)
		if err != nil {
			return err
		}
		if s.Execute.Expect != nil && !sameValue(got, s.Execute.Expect) {
			return fmt.Errorf("expected script result %v, got %v", s.Execute.Expect, got)
		}
		return nil

	case s.ExpectTitle != "":
		title, err := h.Title(ctx)
		if err != nil {
			return err
		}
		if title != s.ExpectTitle {
			return fmt.Errorf("expected title %q, got %q", s.ExpectTitle, title)
		}
		return nil
	}
	return types.NewError(types.KindTestFailure, "", "step has no action")
}

// sameValue compares a script result with a YAML literal. Numbers compare by
// value since YAML and the browser disagree on int and float.
func sameValue(got, want any) bool {
	if reflect.DeepEqual(got, want) {
		return true
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

func resolveURL(base, ref string) (string, error) {
	if base == "" {
		return ref, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base_url %q: %w", base, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
