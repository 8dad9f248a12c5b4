package intel

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeedExamples(t *testing.T) {
	p := NewProvider(discardLogger())
	assert.Zero(t, p.Len())

	p.SeedExamples()
	assert.Equal(t, 4, p.Len())

	entry, ok := p.Lookup("112.85.42.2")
	require.True(t, ok)
	assert.Equal(t, 90, entry.Score)
	assert.Contains(t, entry.Labels, "c2")
	assert.NotNil(t, entry.FirstSeen)

	_, ok = p.Lookup("192.0.2.1")
	assert.False(t, ok)
}

func TestLoadFeeds(t *testing.T) {
	dir := t.TempDir()
	feed := filepath.Join(dir, "feed.yaml")
	require.NoError(t, os.WriteFile(feed, []byte(`entries:
  - ip: 198.51.100.9
    score: 70
    labels: [scanner, bruteforce]
    source: test-feed
  - ip: ""
    score: 10
  - ip: 203.0.113.7
    score: 40
    source: test-feed
`), 0o644))

	p := NewProvider(discardLogger())
	require.NoError(t, p.LoadFeeds([]string{feed}))
	assert.Equal(t, 2, p.Len())

	entry, ok := p.Lookup("198.51.100.9")
	require.True(t, ok)
	assert.Equal(t, 70, entry.Score)
	assert.Equal(t, "test-feed", entry.Source)
}

func TestLoadFeedsSkipsBrokenFeed(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("entries:\n  - ip: 198.51.100.9\n    score: 50\n"), 0o644))
	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("entries: [not, {valid"), 0o644))
	missing := filepath.Join(dir, "missing.yaml")

	p := NewProvider(discardLogger())
	err := p.LoadFeeds([]string{broken, good, missing})
	assert.Error(t, err)

	// The good feed still loaded.
	_, ok := p.Lookup("198.51.100.9")
	assert.True(t, ok)
}

func TestFeedOverridesSeed(t *testing.T) {
	dir := t.TempDir()
	feed := filepath.Join(dir, "feed.yaml")
	require.NoError(t, os.WriteFile(feed, []byte("entries:\n  - ip: 112.85.42.2\n    score: 10\n"), 0o644))

	p := NewProvider(discardLogger())
	p.SeedExamples()
	require.NoError(t, p.LoadFeeds([]string{feed}))

	entry, ok := p.Lookup("112.85.42.2")
	require.True(t, ok)
	assert.Equal(t, 10, entry.Score)
}
