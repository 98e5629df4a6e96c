package main

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// executeCommand runs the root command with args and returns stdout, stderr.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// writeSineLog writes n samples of a sine at freq Hz sampled at 256 Hz.
func writeSineLog(t *testing.T, freq float64, n int) string {
	t.Helper()
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var b strings.Builder
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Second / 256)
		v := math.Sin(2 * math.Pi * freq * float64(i) / 256)
		fmt.Fprintf(&b, "%s,%g\n", ts.Format(time.RFC3339Nano), v)
	}
	path := filepath.Join(t.TempDir(), "EEGDataLog.txt")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}
