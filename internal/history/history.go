// Package history is the append-only History Event log (spec §3, §6):
// one line-delimited JSON record per install/remove/upgrade/sync/deepclean
// action, plus the query helpers spec.md's original_source/history.py,
// query.py, and info.py exposed (tail, since, per-package).
package history

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"sourcepm/internal/errs"
)

// Action enumerates the recognized History Event kinds (spec §3).
type Action string

const (
	ActionInstall   Action = "install"
	ActionRemove    Action = "remove"
	ActionUpgrade   Action = "upgrade"
	ActionSync      Action = "sync"
	ActionDeepclean Action = "deepclean"
)

// Event is one History Event (spec §3 / §6 format).
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    Action    `json:"action"`
	Package   string    `json:"package"`
	Details   string    `json:"details,omitempty"`
	Result    string    `json:"result"`
	Note      string    `json:"note,omitempty"`
}

// Log is an append-only line-delimited JSON history log.
type Log struct {
	path string
	mu   sync.Mutex
}

// New returns a Log backed by path (typically Config.HistoryLogPath()).
func New(path string) *Log {
	return &Log{path: path}
}

// Append writes one event, filling in ID and Timestamp if unset.
func (l *Log) Append(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errs.Wrap(errs.KindDB, "create history log directory", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindDB, "open history log", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return errs.Wrap(errs.KindDB, "marshal history event", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return errs.Wrap(errs.KindDB, "append history event", err)
	}
	return nil
}

// All reads every event in the log, in file order (oldest first).
func (l *Log) All() ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked()
}

func (l *Log) readLocked() ([]Event, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindDB, "open history log", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, errs.Wrap(errs.KindDB, "parse history event", err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.KindDB, "scan history log", err)
	}
	return events, nil
}

// Tail returns the last n events, oldest first within the returned slice.
func (l *Log) Tail(n int) ([]Event, error) {
	events, err := l.All()
	if err != nil {
		return nil, err
	}
	if n >= len(events) || n <= 0 {
		return events, nil
	}
	return events[len(events)-n:], nil
}

// Since returns every event with a timestamp at or after t.
func (l *Log) Since(t time.Time) ([]Event, error) {
	events, err := l.All()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range events {
		if !e.Timestamp.Before(t) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ForPackage returns every event recorded against the named package.
func (l *Log) ForPackage(name string) ([]Event, error) {
	events, err := l.All()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range events {
		if e.Package == name {
			out = append(out, e)
		}
	}
	return out, nil
}
