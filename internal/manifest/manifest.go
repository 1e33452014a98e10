// Package manifest maintains the append-only JSONL log of every download
// attempt made during a run.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
	"unicode/utf16"
	"unicode/utf8"
)

// Status values recorded per attempt.
const (
	StatusDownloaded = "downloaded"
	StatusFailed     = "failed"
)

// Record is one download attempt. Records are append-only; nothing ever
// updates or deletes them.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	URL          string    `json:"url"`
	LocalPath    string    `json:"local_path,omitempty"`
	Status       string    `json:"status"`
	Detail       string    `json:"detail,omitempty"`
	RegistryID   string    `json:"registry_id,omitempty"`
	RegistryType string    `json:"registry_type,omitempty"`
	DocumentType string    `json:"document_type,omitempty"`
}

// Log serializes records to a single shared JSONL file. Appends hold an
// exclusive lock for the duration of the write so concurrent writers never
// interleave partial lines.
type Log struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open opens (or creates) the manifest file in append mode.
func Open(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	return &Log{file: file, path: path}, nil
}

// Path returns the manifest file location.
func (l *Log) Path() string { return l.path }

// Append writes rec as one ASCII-only JSON line. Timestamps default to now.
func (l *Log) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal manifest record: %w", err)
	}
	line = append(escapeNonASCII(line), '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("append manifest record: %w", err)
	}
	return nil
}

// escapeNonASCII rewrites runes outside the ASCII range as \uXXXX escapes
// so manifest lines are greppable in any terminal. Non-ASCII bytes only
// occur inside JSON strings, where the escapes are valid.
func escapeNonASCII(line []byte) []byte {
	ascii := true
	for _, b := range line {
		if b >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return line
	}
	var buf bytes.Buffer
	buf.Grow(len(line))
	for _, r := range string(line) {
		switch {
		case r < utf8.RuneSelf:
			buf.WriteByte(byte(r))
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&buf, `\u%04x\u%04x`, hi, lo)
		default:
			fmt.Fprintf(&buf, `\u%04x`, r)
		}
	}
	return buf.Bytes()
}

// Close releases the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
