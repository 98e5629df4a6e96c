// Package groutine starts named, pprof-labelled goroutines and tracks their
// completion so components can shut down deterministically.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a new goroutine labelled with name (visible in pprof
// goroutine dumps). If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)
	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
}

// Name returns the goroutine name stored in ctx by Go, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(goroutineNameKey).(string); ok {
		return s
	}
	return ""
}

// Group runs named goroutines that share a parent context and can be waited on.
// The zero value is not usable; create with NewGroup.
type Group struct {
	ctx    context.Context
	prefix string
	wg     sync.WaitGroup
}

// NewGroup creates a group whose goroutines derive from ctx. Names are
// prefixed with prefix + "/" when prefix is not empty.
func NewGroup(ctx context.Context, prefix string) *Group {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Group{ctx: ctx, prefix: prefix}
}

// Go starts fn as a named member of the group.
func (g *Group) Go(name string, fn func(ctx context.Context)) {
	if g.prefix != "" {
		name = g.prefix + "/" + name
	}

	g.wg.Add(1)
	Go(g.ctx, name, func(ctx context.Context) {
		defer g.wg.Done()
		fn(ctx)
	})
}

// Wait blocks until every goroutine started by the group has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
