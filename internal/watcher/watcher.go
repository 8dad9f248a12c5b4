// Package watcher tails honeypot log files, replaying existing content and
// then following appends via filesystem notifications.
package watcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Line is one line of log text from a watched file. Replay marks lines read
// from content that existed before the watch started.
type Line struct {
	Path   string
	Text   string
	Replay bool
}

// Watcher follows a set of log files. Each file gets its own goroutine; a
// file that cannot be opened stops only its own tail, the rest keep running.
type Watcher struct {
	paths  []string
	lines  chan Line
	logger *slog.Logger
}

// New creates a watcher for the given file paths.
func New(paths []string, logger *slog.Logger) *Watcher {
	return &Watcher{
		paths:  paths,
		lines:  make(chan Line, 256),
		logger: logger,
	}
}

// Lines returns the channel of tailed lines. It is closed when Run returns.
func (w *Watcher) Lines() <-chan Line {
	return w.lines
}

// Run tails every configured path until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, path := range w.paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			if err := w.tail(ctx, path); err != nil && ctx.Err() == nil {
				w.logger.Error("tail stopped", "path", path, "error", err)
			}
		}(path)
	}
	wg.Wait()
	close(w.lines)
}

// tailer tracks read position and the trailing partial line of one file.
type tailer struct {
	path   string
	offset int64
	carry  []byte
}

// tail replays the file's current content, then follows appends through a
// watch on the parent directory so rotation and recreation are observed.
func (w *Watcher) tail(ctx context.Context, path string) error {
	t := &tailer{path: path}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fs watcher: %w", err)
	}
	defer fsw.Close()

	// Watch the directory, not the file: a rotated-away file keeps its
	// watch on some platforms, and recreation is a directory event. The
	// watch goes up before the replay so appends racing the replay are
	// queued rather than missed.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	// Initial replay of everything already in the file.
	if err := t.consume(func(text string) { w.emit(ctx, Line{Path: path, Text: text, Replay: true}) }); err != nil {
		return fmt.Errorf("replaying %s: %w", path, err)
	}
	w.logger.Info("watching log file", "path", path, "offset", t.offset)

	emitLive := func(text string) { w.emit(ctx, Line{Path: path, Text: text}) }
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Name != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				// Recreated after rotation; start over.
				t.offset = 0
				t.carry = nil
			}
			if err := t.consume(emitLive); err != nil {
				w.logger.Warn("reading log file", "path", path, "error", err)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fs watcher error", "path", path, "error", err)
		}
	}
}

// consume reads from the recorded offset to the current end of file and
// emits each complete line. A shrunken file means truncation, so the read
// restarts from the beginning. The trailing partial line is carried until
// its newline arrives.
func (t *tailer) consume(emit func(string)) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size < t.offset {
		t.offset = 0
		t.carry = nil
	}
	if size == t.offset {
		return nil
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, size-t.offset)
	n, err := io.ReadFull(f, buf)
	t.offset += int64(n)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return err
	}

	data := append(t.carry, buf[:n]...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(data[:idx], []byte("\r"))
		if len(line) > 0 {
			emit(string(line))
		}
		data = data[idx+1:]
	}
	t.carry = append([]byte(nil), data...)
	return nil
}

// emit delivers one line unless the context is cancelled first.
func (w *Watcher) emit(ctx context.Context, line Line) {
	select {
	case w.lines <- line:
	case <-ctx.Done():
	}
}
