package akashic

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/k-iijima/hiveforge/internal/logging"
)

var (
	// ErrInvalidStreamID rejects stream identifiers that could traverse
	// outside the vault.
	ErrInvalidStreamID = errors.New("invalid stream id")

	// ErrStreamNotFound indicates the stream has no log file yet.
	ErrStreamNotFound = errors.New("stream not found")

	streamIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Log is the vault: a directory of per-stream append-only JSONL files.
// Run streams live at <vault>/<id>/events.jsonl; hive-level streams
// (ids with the "hive-" prefix) live under <vault>/hives/. All mutation
// goes through Append; files are never rewritten.
type Log struct {
	root        string
	lockTimeout time.Duration

	mu        sync.Mutex // serializes appends within this process
	observers []func(streamID string, e *Event)
}

// NewLog opens (creating if needed) a vault rooted at dir. The lock
// timeout bounds cross-process append contention.
func NewLog(dir string, lockTimeout time.Duration) (*Log, error) {
	if lockTimeout <= 0 {
		lockTimeout = 10 * time.Second
	}
	if err := os.MkdirAll(filepath.Join(dir, "hives"), 0o755); err != nil {
		return nil, fmt.Errorf("create vault %s: %w", dir, err)
	}
	return &Log{root: dir, lockTimeout: lockTimeout}, nil
}

// Root returns the vault directory.
func (l *Log) Root() string { return l.root }

// OnAppend registers an observer invoked after every successful append.
// Projection caches use this for invalidation.
func (l *Log) OnAppend(fn func(streamID string, e *Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// hiveStreamPrefix marks hive-level stream ids; their files live under
// the hives/ subdirectory instead of the vault root.
const hiveStreamPrefix = "hive-"

// StreamPath resolves a stream id to its log file, rejecting ids that do
// not match [A-Za-z0-9_-]+.
func (l *Log) StreamPath(streamID string) (string, error) {
	if !streamIDPattern.MatchString(streamID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidStreamID, streamID)
	}
	if strings.HasPrefix(streamID, hiveStreamPrefix) {
		return filepath.Join(l.root, "hives", streamID, "events.jsonl"), nil
	}
	return filepath.Join(l.root, streamID, "events.jsonl"), nil
}

// Append seals the event onto the stream's hash chain and writes it as one
// newline-terminated line. The sidecar lock is held only around the
// seek-hash-write critical section. The written event (with prev_hash and
// hash assigned) is returned.
func (l *Log) Append(streamID string, e *Event) (*Event, error) {
	path, err := l.StreamPath(streamID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create stream dir: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lock := newFileLock(path)
	if err := lock.acquire(l.lockTimeout); err != nil {
		return nil, err
	}
	defer lock.release()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", streamID, err)
	}
	defer f.Close()

	prev, err := l.lastEventLocked(f)
	if err != nil && !errors.Is(err, ErrEmptyStream) {
		return nil, fmt.Errorf("recover tail of %s: %w", streamID, err)
	}
	if prev != nil {
		e.PrevHash = prev.Hash
		if len(e.Parents) == 0 {
			// Advisory causal link to the immediate predecessor. Callers
			// with real causal knowledge supply parents themselves.
			e.Parents = []string{prev.ID}
		}
	} else {
		e.PrevHash = ""
	}

	if err := e.Seal(); err != nil {
		return nil, err
	}
	line, err := e.CanonicalJSON()
	if err != nil {
		return nil, err
	}

	// One write of the complete line keeps the log line-atomic.
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("append to %s: %w", streamID, err)
	}

	logging.AkashicDebug("appended %s to stream %s (hash %.12s)", e.Type, streamID, e.Hash)
	for _, fn := range l.observers {
		fn(streamID, e)
	}
	return e, nil
}

func (l *Log) lastEventLocked(f *os.File) (*Event, error) {
	line, err := lastCompleteLine(f)
	if err != nil {
		return nil, err
	}
	return ParseEvent(line)
}

// Replay returns every event of the stream in log order. A missing stream
// replays as empty. Lines that fail to parse are skipped (a crash can
// leave at most one broken tail line).
func (l *Log) Replay(streamID string) ([]*Event, error) {
	return l.ReplaySince(streamID, time.Time{})
}

// ReplaySince returns the stream's events with timestamps at or after the
// given instant. The zero time replays everything.
func (l *Log) ReplaySince(streamID string, since time.Time) ([]*Event, error) {
	path, err := l.StreamPath(streamID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open stream %s: %w", streamID, err)
	}
	defer f.Close()

	var events []*Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), tailChunkMax)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		e, err := ParseEvent(line)
		if err != nil {
			logging.AkashicDebug("stream %s: skipping unparseable line: %v", streamID, err)
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan stream %s: %w", streamID, err)
	}
	return events, nil
}

// LastEvent returns the stream's newest event, or nil for an empty or
// missing stream.
func (l *Log) LastEvent(streamID string) (*Event, error) {
	path, err := l.StreamPath(streamID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	e, err := l.lastEventLocked(f)
	if errors.Is(err, ErrEmptyStream) {
		return nil, nil
	}
	return e, err
}

// CountEvents returns the number of parseable events in the stream.
func (l *Log) CountEvents(streamID string) (int, error) {
	events, err := l.Replay(streamID)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// VerifyChain replays the stream and checks both per-event digests and the
// prev_hash linkage. It returns (false, reason) at the first break.
func (l *Log) VerifyChain(streamID string) (bool, string, error) {
	events, err := l.Replay(streamID)
	if err != nil {
		return false, "", err
	}
	prevHash := ""
	for i, e := range events {
		if err := e.VerifyHash(); err != nil {
			return false, fmt.Sprintf("event %d (%s): %v", i, e.ID, err), nil
		}
		if e.PrevHash != prevHash {
			return false, fmt.Sprintf("event %d (%s): prev_hash %q does not match predecessor hash %q",
				i, e.ID, e.PrevHash, prevHash), nil
		}
		prevHash = e.Hash
	}
	return true, "", nil
}

// ListStreams returns every stream id in the vault, run streams and
// hive streams alike, sorted.
func (l *Log) ListStreams() ([]string, error) {
	ids, err := streamIDsIn(l.root)
	if err != nil {
		return nil, err
	}
	hiveIDs, err := streamIDsIn(filepath.Join(l.root, "hives"))
	if err != nil {
		return nil, err
	}
	ids = append(ids, hiveIDs...)
	sort.Strings(ids)
	return ids, nil
}

// streamIDsIn lists subdirectories of dir that hold an event log. The
// hives/ subdirectory itself is never a stream.
func streamIDsIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, ent := range entries {
		if !ent.IsDir() || ent.Name() == "hives" {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, ent.Name(), "events.jsonl")); err == nil {
			ids = append(ids, ent.Name())
		}
	}
	return ids, nil
}

// ExportStream writes the stream's canonical JSONL to the sink.
func (l *Log) ExportStream(streamID string, sink io.Writer) error {
	path, err := l.StreamPath(streamID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, streamID)
	}
	events, err := l.Replay(streamID)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(sink)
	for _, e := range events {
		line, err := e.CanonicalJSON()
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return w.Flush()
}
