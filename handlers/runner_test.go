package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/docyard/docyard/runner"
)

// fakeRunner scripts subprocess outcomes per invocation. The script gets the
// binary and args and may create output files, exactly like the real tool
// would.
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	script func(bin string, args []string) (runner.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, _ string, bin string, args []string, _ time.Duration) (runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{bin}, args...))
	f.mu.Unlock()
	return f.script(bin, args)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
