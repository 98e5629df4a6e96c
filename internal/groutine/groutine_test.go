package groutine_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/eegstream/internal/groutine"
	"github.com/stretchr/testify/assert"
)

func TestGoPropagatesName(t *testing.T) {
	got := make(chan string, 1)
	groutine.Go(nil, "worker-42", func(ctx context.Context) {
		got <- groutine.Name(ctx)
	})

	select {
	case name := <-got:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestNameWithoutGoroutine(t *testing.T) {
	assert.Equal(t, "", groutine.Name(context.Background()))
	assert.Equal(t, "", groutine.Name(nil)) //nolint:staticcheck // nil context is handled explicitly
}

func TestGroupWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := groutine.NewGroup(ctx, "session")

	var finished atomic.Int32
	names := make(chan string, 3)
	for _, n := range []string{"a", "b", "c"} {
		g.Go(n, func(ctx context.Context) {
			names <- groutine.Name(ctx)
			<-ctx.Done()
			finished.Add(1)
		})
	}

	cancel()
	g.Wait()

	assert.Equal(t, int32(3), finished.Load())
	close(names)
	var got []string
	for n := range names {
		got = append(got, n)
	}
	assert.ElementsMatch(t, []string{"session/a", "session/b", "session/c"}, got)
}
