// Package persistence provides a file-backed write-ahead store for queued
// analytics events, so events survive a process restart between flushes.
package persistence

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/teracrafts/flagkit-go/errors"
	"github.com/teracrafts/flagkit-go/internal/core"
	"github.com/teracrafts/flagkit-go/types"
)

const eventFileName = "flagkit-events.jsonl"

// EventStore persists events as JSON lines in a single file.
type EventStore struct {
	path   string
	logger types.Logger
	mu     sync.Mutex
}

// NewEventStore creates an event store under dir. An empty dir selects the
// OS temp directory.
func NewEventStore(dir string, logger types.Logger) (*EventStore, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrCacheWriteError,
			"failed to create event storage directory", err)
	}

	return &EventStore{
		path:   filepath.Join(dir, eventFileName),
		logger: logger,
	}, nil
}

// Append writes events to the end of the store.
func (s *EventStore) Append(events []core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return errors.NewErrorWithCause(errors.ErrCacheWriteError, "failed to open event store", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return errors.NewErrorWithCause(errors.ErrCacheWriteError, "failed to write event store", err)
	}
	return nil
}

// Drain reads all persisted events and removes the file. Corrupt lines
// are skipped.
func (s *EventStore) Drain() ([]core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewErrorWithCause(errors.ErrCacheReadError, "failed to open event store", err)
	}

	var events []core.Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev core.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			if s.logger != nil {
				s.logger.Warn("Skipping corrupt persisted event")
			}
			continue
		}
		events = append(events, ev)
	}
	f.Close()

	if err := scanner.Err(); err != nil {
		return events, errors.NewErrorWithCause(errors.ErrCacheReadError, "failed to read event store", err)
	}

	os.Remove(s.path)
	return events, nil
}

// Clear removes the store file.
func (s *EventStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.NewErrorWithCause(errors.ErrCacheWriteError, "failed to clear event store", err)
	}
	return nil
}
