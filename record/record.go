// Package record implements the session recording log.
//
// A recording is a stream of length-prefixed msgpack entries: a header
// entry identifying the recording, then one entry per raw transport frame
// with its arrival offset. The format is documented in docs/PROTOCOL.md.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Entry size constants.
const (
	// MaxEntrySize is the maximum entry size (16 MiB), including length prefix.
	MaxEntrySize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum encoded entry size (MaxEntrySize - 4 bytes).
	MaxPayloadSize = MaxEntrySize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// FormatVersion identifies the recording layout. Bump on incompatible change.
const FormatVersion = "1"

// Header is the first entry of every recording.
type Header struct {
	RecordingID string `msgpack:"recording_id"`
	ExecutionID string `msgpack:"execution_id"`
	Transport   string `msgpack:"transport"`
	CreatedAt   int64  `msgpack:"created_at"`
	Version     string `msgpack:"version"`
}

// Entry is one captured transport frame.
type Entry struct {
	// ElapsedMs is the arrival offset from recording start, for paced replay.
	ElapsedMs int64 `msgpack:"elapsed_ms"`
	// Payload is the raw frame exactly as the transport delivered it.
	Payload []byte `msgpack:"payload"`
}

// EntryErrorKind classifies recording read errors.
type EntryErrorKind int

const (
	// EntryErrorPartial indicates a truncated or incomplete entry.
	EntryErrorPartial EntryErrorKind = iota
	// EntryErrorTooLarge indicates an entry exceeding MaxEntrySize.
	EntryErrorTooLarge
	// EntryErrorDecode indicates a msgpack decoding error.
	EntryErrorDecode
)

// EntryError represents a recording read error.
type EntryError struct {
	Kind EntryErrorKind
	Msg  string
	Err  error
}

func (e *EntryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// IsCorrupt reports whether the error means the recording cannot be read
// further. Partial and oversized entries are unrecoverable.
func IsCorrupt(err error) bool {
	var entryErr *EntryError
	if errors.As(err, &entryErr) {
		return entryErr.Kind == EntryErrorPartial || entryErr.Kind == EntryErrorTooLarge
	}
	return false
}

// Writer appends entries to a recording stream. Safe for one writer
// goroutine plus concurrent Append calls.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	start time.Time
}

// NewWriter writes the header and returns a writer for subsequent frames.
func NewWriter(w io.Writer, header Header) (*Writer, error) {
	rw := &Writer{w: w, start: time.Now()}
	if err := rw.writeBlob(&header); err != nil {
		return nil, fmt.Errorf("write recording header: %w", err)
	}
	return rw, nil
}

// Append records one raw transport frame with its arrival offset.
func (w *Writer) Append(payload []byte) error {
	entry := Entry{
		ElapsedMs: time.Since(w.start).Milliseconds(),
		Payload:   payload,
	}
	return w.writeBlob(&entry)
}

func (w *Writer) writeBlob(v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if len(data) > MaxPayloadSize {
		return &EntryError{
			Kind: EntryErrorTooLarge,
			Msg:  fmt.Sprintf("entry size %d exceeds maximum %d", len(data), MaxPayloadSize),
		}
	}

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

// Reader reads entries back from a recording stream.
type Reader struct {
	r      io.Reader
	header Header
}

// NewReader reads and validates the header.
func NewReader(r io.Reader) (*Reader, error) {
	rr := &Reader{r: r}
	blob, err := rr.readBlob()
	if err != nil {
		return nil, fmt.Errorf("read recording header: %w", err)
	}
	if err := msgpack.Unmarshal(blob, &rr.header); err != nil {
		return nil, &EntryError{
			Kind: EntryErrorDecode,
			Msg:  "failed to decode recording header",
			Err:  err,
		}
	}
	if rr.header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported recording version %q", rr.header.Version)
	}
	return rr, nil
}

// Header returns the recording header.
func (r *Reader) Header() Header {
	return r.header
}

// Next reads a single entry.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more entries)
//   - *EntryError with Kind=EntryErrorPartial: incomplete entry
//   - *EntryError with Kind=EntryErrorTooLarge: entry exceeds limit
//   - *EntryError with Kind=EntryErrorDecode: msgpack decode failure
func (r *Reader) Next() (*Entry, error) {
	blob, err := r.readBlob()
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := msgpack.Unmarshal(blob, &entry); err != nil {
		return nil, &EntryError{
			Kind: EntryErrorDecode,
			Msg:  "failed to decode entry",
			Err:  err,
		}
	}
	return &entry, nil
}

func (r *Reader) readBlob() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(r.r, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &EntryError{
			Kind: EntryErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxPayloadSize {
		return nil, &EntryError{
			Kind: EntryErrorTooLarge,
			Msg:  fmt.Sprintf("entry size %d exceeds maximum %d", size, MaxPayloadSize),
		}
	}

	blob := make([]byte, size)
	if _, err := io.ReadFull(r.r, blob); err != nil {
		return nil, &EntryError{
			Kind: EntryErrorPartial,
			Msg:  "failed to read entry",
			Err:  err,
		}
	}
	return blob, nil
}
