package repository

import (
	"context"
	"sync"
)

// Transactor runs fn inside a unit of work. Repositories called with the ctx
// passed to fn take part in it. Nested calls join the outer unit of work.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type hooksKey struct{}

// CommitHooks collects callbacks to run once the outermost unit of work
// commits.
type CommitHooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

// WithCommitHooks attaches a hook collector to ctx. Transactor
// implementations call it when opening the outermost transaction.
func WithCommitHooks(ctx context.Context) (context.Context, *CommitHooks) {
	h := &CommitHooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// Run fires the collected hooks in registration order. ctx must be the one
// the transaction was opened with, so hooks never see the finished unit of
// work.
func (h *CommitHooks) Run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}

// AfterCommit defers fn until the surrounding transaction commits. Outside a
// transaction fn runs immediately. Hooks are dropped on rollback. fn receives
// a ctx detached from the transaction and must use it instead of the one
// passed here.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if h, ok := ctx.Value(hooksKey{}).(*CommitHooks); ok {
		h.mu.Lock()
		h.fns = append(h.fns, fn)
		h.mu.Unlock()
		return
	}
	fn(ctx)
}
