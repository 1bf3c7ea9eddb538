package record

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FileExt is the recording file extension.
const FileExt = ".thrv"

// Recorder captures a session's raw frames to a file on disk.
type Recorder struct {
	header Header
	path   string
	file   *os.File
	writer *Writer
}

// NewRecorder creates a recording file under dir. The file is named after
// a fresh recording id; the directory is created if missing.
func NewRecorder(dir, executionID, transport string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}

	header := Header{
		RecordingID: uuid.NewString(),
		ExecutionID: executionID,
		Transport:   transport,
		CreatedAt:   time.Now().Unix(),
		Version:     FormatVersion,
	}
	path := filepath.Join(dir, header.RecordingID+FileExt)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	writer, err := NewWriter(file, header)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	return &Recorder{header: header, path: path, file: file, writer: writer}, nil
}

// RecordingID returns the recording's id.
func (r *Recorder) RecordingID() string { return r.header.RecordingID }

// Path returns the recording file path.
func (r *Recorder) Path() string { return r.path }

// Append records one raw transport frame.
func (r *Recorder) Append(payload []byte) error {
	return r.writer.Append(payload)
}

// Close flushes and closes the recording file.
func (r *Recorder) Close() error {
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		return fmt.Errorf("sync recording: %w", err)
	}
	return r.file.Close()
}

// OpenFile opens a recording for reading. The caller owns the returned
// closer and must close it when the reader is exhausted.
func OpenFile(path string) (*Reader, *os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open recording: %w", err)
	}
	reader, err := NewReader(file)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return reader, file, nil
}
