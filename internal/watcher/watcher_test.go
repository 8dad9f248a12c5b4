package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(content)
	require.NoError(t, err)
}

func readLine(t *testing.T, lines <-chan Line) Line {
	t.Helper()
	select {
	case line, ok := <-lines:
		require.True(t, ok, "lines channel closed")
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a line")
		return Line{}
	}
}

func TestReplayExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")
	writeFile(t, path, "line one\nline two\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New([]string{path}, discardLogger())
	go w.Run(ctx)

	first := readLine(t, w.Lines())
	assert.Equal(t, "line one", first.Text)
	assert.True(t, first.Replay)
	assert.Equal(t, path, first.Path)

	second := readLine(t, w.Lines())
	assert.Equal(t, "line two", second.Text)
	assert.True(t, second.Replay)
}

func TestFollowAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")
	writeFile(t, path, "old\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New([]string{path}, discardLogger())
	go w.Run(ctx)

	assert.Equal(t, "old", readLine(t, w.Lines()).Text)

	appendFile(t, path, "new\n")
	line := readLine(t, w.Lines())
	assert.Equal(t, "new", line.Text)
	assert.False(t, line.Replay)
}

func TestPartialLineCarriedUntilNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")
	writeFile(t, path, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New([]string{path}, discardLogger())
	go w.Run(ctx)

	appendFile(t, path, `{"half":`)
	appendFile(t, path, "\"done\"}\n")

	line := readLine(t, w.Lines())
	assert.Equal(t, `{"half":"done"}`, line.Text)
}

func TestTruncationRestartsFromBeginning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")
	writeFile(t, path, "first generation line\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New([]string{path}, discardLogger())
	go w.Run(ctx)

	assert.Equal(t, "first generation line", readLine(t, w.Lines()).Text)

	// Truncate to a smaller size and write fresh content.
	writeFile(t, path, "rotated\n")
	assert.Equal(t, "rotated", readLine(t, w.Lines()).Text)
}

func TestMissingFileStopsOnlyItsTail(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	writeFile(t, good, "ok\n")
	missing := filepath.Join(dir, "does-not-exist.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New([]string{missing, good}, discardLogger())
	go w.Run(ctx)

	assert.Equal(t, "ok", readLine(t, w.Lines()).Text)
}

func TestRunClosesChannelOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")
	writeFile(t, path, "")

	ctx, cancel := context.WithCancel(context.Background())
	w := New([]string{path}, discardLogger())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, ok := <-w.Lines()
	assert.False(t, ok)
}
