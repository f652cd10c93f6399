package akashic

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/k-iijima/hiveforge/internal/logging"
)

// Watcher tails one stream's log file and delivers each appended event to
// a channel. The Sentinel monitor loop consumes it to scan streams as they
// grow instead of polling full replays.
type Watcher struct {
	log      *Log
	streamID string
	events   chan *Event
	offset   int64
}

// NewWatcher creates a tail watcher for the stream. Events appended after
// Start are delivered; the existing contents are skipped.
func NewWatcher(log *Log, streamID string) (*Watcher, error) {
	if _, err := log.StreamPath(streamID); err != nil {
		return nil, err
	}
	return &Watcher{
		log:      log,
		streamID: streamID,
		events:   make(chan *Event, 64),
	}, nil
}

// Events is the delivery channel. Closed when the watcher stops.
func (w *Watcher) Events() <-chan *Event { return w.events }

// Start begins tailing until the context is cancelled. It blocks; run it
// in its own goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	defer close(w.events)

	path, err := w.log.StreamPath(w.streamID)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	// Watch the directory so creation of the log file is seen too.
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	if info, err := os.Stat(path); err == nil {
		w.offset = info.Size()
	}

	logging.AkashicDebug("watching stream %s", w.streamID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Name != path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := w.drain(ctx, path); err != nil {
				logging.AkashicDebug("watcher drain %s: %v", w.streamID, err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.AkashicDebug("watcher error on %s: %v", w.streamID, err)
		}
	}
}

// drain reads complete lines appended since the last offset and delivers
// them. A trailing partial line stays unread until its newline arrives.
func (w *Watcher) drain(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(w.offset, io.SeekStart); err != nil {
		return err
	}
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// Partial line: leave the offset before it.
			return nil
		}
		w.offset += int64(len(line))
		e, perr := ParseEvent(line)
		if perr != nil {
			continue
		}
		select {
		case w.events <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
