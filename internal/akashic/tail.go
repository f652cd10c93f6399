package akashic

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	tailChunkStart = 8 * 1024
	tailChunkMax   = 16 * 1024 * 1024
)

// ErrEmptyStream indicates a stream file with no complete events.
var ErrEmptyStream = errors.New("stream is empty")

// lastCompleteLine returns the last parseable non-empty line of the file
// by reading backward in exponentially growing chunks. Memory stays
// bounded by the chunk cap even when the log is huge; only the tail window
// is ever resident.
//
// If the final line is broken (a crash mid-write) and the window already
// covers the whole file, the line before it is used instead. A broken line
// with a window smaller than the file forces a larger window first, since
// the "broken" line may simply be cut by the window boundary.
func lastCompleteLine(f *os.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, ErrEmptyStream
	}

	chunk := int64(tailChunkStart)
	for {
		if chunk > size {
			chunk = size
		}
		window, err := readTailWindow(f, size, chunk)
		if err != nil {
			return nil, err
		}
		coversFile := chunk >= size

		line, ok := lastParseableLine(window, coversFile)
		if ok {
			return line, nil
		}
		if coversFile {
			return nil, ErrEmptyStream
		}
		if chunk >= tailChunkMax {
			return nil, fmt.Errorf("no complete line within %d byte tail window", tailChunkMax)
		}
		chunk *= 2
	}
}

// readTailWindow reads the final n bytes of the file and strips any leading
// UTF-8 continuation bytes (0x80-0xBF): a window boundary can land inside a
// multi-byte code point.
func readTailWindow(f *os.File, size, n int64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, size-n); err != nil && err != io.EOF {
		return nil, err
	}
	start := 0
	for start < len(buf) && buf[start] >= 0x80 && buf[start] < 0xC0 {
		start++
	}
	return buf[start:], nil
}

// lastParseableLine walks the window's lines from the end looking for one
// that parses as an event. When the window does not cover the whole file,
// the earliest line in the window may be truncated at the front, so a parse
// failure there is not authoritative and the caller must widen.
func lastParseableLine(window []byte, coversFile bool) ([]byte, bool) {
	lines := bytes.Split(window, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		if _, err := ParseEvent(line); err == nil {
			return line, true
		}
		// Broken line. With a partial window it may just be clipped at
		// the window boundary, so widen before concluding anything. With
		// the full file in view it is genuinely broken: skip it and try
		// the line before.
		if !coversFile {
			return nil, false
		}
	}
	return nil, false
}
