// Package audit implements the append-only JSONL event log shared by every
// subsystem: every OSM transition, gate rejection, and Guardian action
// passes through Writer.Append before the action it records becomes
// externally observable.
//
// Grounded on the TraceStore pattern: one O_APPEND file per
// writer, fsync per line, tmp+rename on close.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// WriteError is returned when the underlying device rejects a write. The
// callers of Append in this module discard the returned error; no
// component changes Guardian's mode or stops the process on it.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("audit write error on %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Writer is a single-writer, append-only JSONL sink. One file per trading
// day; the filename encodes RunID to disambiguate multi-process days:
// `audit_{YYYYMMDD}_{run_id}.jsonl`.
type Writer struct {
	mu       sync.Mutex
	file     *os.File
	tmpPath  string
	finalPath string
	runID    string
	closed   bool
}

// NewWriter opens (or creates) today's audit file under dir for the given
// run. The file is written under a ".tmp" suffix and atomically renamed to
// its final name on Close, so a reader never observes a torn file mid-run
// — readers tolerant of a truncated final line (see Reader) cover the
// unclean-shutdown case where Close never runs.
func NewWriter(dir string, runID uuid.UUID, day time.Time) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: mkdir %s: %w", dir, err)
	}
	name := fmt.Sprintf("audit_%s_%s.jsonl", day.Format("20060102"), runID.String())
	finalPath := filepath.Join(dir, name)
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", tmpPath, err)
	}

	return &Writer{
		file:      f,
		tmpPath:   tmpPath,
		finalPath: finalPath,
		runID:     runID.String(),
	}, nil
}

// Append writes one event as a single JSON line, then flushes and fsyncs
// before returning. The contract is: once Append returns nil, a
// subsequent crash must not lose that line.
func (w *Writer) Append(event coretypes.AuditEvent) error {
	if event.RunID == "" {
		event.RunID = w.runID
	}
	if event.Ts == 0 {
		event.Ts = float64(time.Now().UnixNano()) / 1e9
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return &WriteError{Path: w.tmpPath, Err: fmt.Errorf("writer already closed")}
	}

	if _, err := w.file.Write(line); err != nil {
		return &WriteError{Path: w.tmpPath, Err: err}
	}
	if err := w.file.Sync(); err != nil {
		return &WriteError{Path: w.tmpPath, Err: err}
	}
	return nil
}

// Close flushes, fsyncs, and atomically renames the .tmp file to its final
// name. Safe to call once; subsequent Appends fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return &WriteError{Path: w.tmpPath, Err: err}
	}
	if err := w.file.Close(); err != nil {
		return &WriteError{Path: w.tmpPath, Err: err}
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		return &WriteError{Path: w.finalPath, Err: err}
	}
	return nil
}

// Path returns the eventual final path of this writer's file (valid
// whether or not Close has run yet).
func (w *Writer) Path() string {
	return w.finalPath
}

// ReadAll loads every event from path, tolerating a truncated final line
// (common after an unclean shutdown where Close never renamed the file —
// callers should also try path+".tmp" if path does not exist).
func ReadAll(path string) ([]coretypes.AuditEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	var events []coretypes.AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw map[string]interface{}
		if err := json.Unmarshal(line, &raw); err != nil {
			// Truncated final line after an unclean shutdown: stop, don't fail.
			break
		}
		events = append(events, rawToEvent(raw))
	}
	return events, scanner.Err()
}

func rawToEvent(raw map[string]interface{}) coretypes.AuditEvent {
	ev := coretypes.AuditEvent{Fields: make(map[string]interface{}, len(raw))}
	for k, v := range raw {
		switch k {
		case "ts":
			if f, ok := v.(float64); ok {
				ev.Ts = f
			}
		case "event_type":
			if s, ok := v.(string); ok {
				ev.EventType = s
			}
		case "run_id":
			if s, ok := v.(string); ok {
				ev.RunID = s
			}
		case "exec_id":
			if s, ok := v.(string); ok {
				ev.ExecID = s
			}
		default:
			ev.Fields[k] = v
		}
	}
	return ev
}
