package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type traceKey struct{}

func TestAfterCommit_RunsImmediatelyOutsideTx(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(context.Context) { ran = true })
	assert.True(t, ran)
}

func TestCommitHooks_RunWithGivenContext(t *testing.T) {
	outer := context.WithValue(context.Background(), traceKey{}, "req-1")
	ctx, hooks := WithCommitHooks(outer)

	var (
		seen   []string
		nested bool
	)
	AfterCommit(ctx, func(ctx context.Context) {
		seen = append(seen, ctx.Value(traceKey{}).(string))
		_, collecting := ctx.Value(hooksKey{}).(*CommitHooks)
		assert.False(t, collecting)
		AfterCommit(ctx, func(context.Context) { nested = true })
	})
	assert.Empty(t, seen)

	hooks.Run(outer)
	assert.Equal(t, []string{"req-1"}, seen)
	assert.True(t, nested)

	// Hooks fire once.
	hooks.Run(outer)
	assert.Len(t, seen, 1)
}
