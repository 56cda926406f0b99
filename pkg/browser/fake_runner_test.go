package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// fakeRunner answers commands from a table keyed by "name arg1 arg2 ...".
type fakeRunner struct {
	mu      sync.Mutex
	paths   map[string]bool
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		paths:   make(map[string]bool),
		outputs: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func (f *fakeRunner) install(paths ...string) *fakeRunner {
	for _, p := range paths {
		f.paths[p] = true
	}
	return f
}

func (f *fakeRunner) on(cmd, output string) *fakeRunner {
	f.outputs[cmd] = output
	return f
}

func (f *fakeRunner) fail(cmd string, err error) *fakeRunner {
	f.errs[cmd] = err
	return f
}

func (f *fakeRunner) LookPath(file string) (string, error) {
	if f.paths[file] {
		return file, nil
	}
	return "", fmt.Errorf("exec: %q: executable file not found in $PATH", file)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()

	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	out, ok := f.outputs[key]
	if !ok {
		return nil, fmt.Errorf("unexpected command: %s", key)
	}
	return []byte(out), nil
}
