// Package replay implements ReplayVerifier: given two audit event streams
// (one recorded, one re-executed), canonicalise both by stripping time-like
// fields and sorting keys, then compare SHA-256 digests. On mismatch it
// reports the first differing index and a structural diff.
//
// The canonicalise-then-hash idea is a determinism check generalised here
// from floating-point trade records to the flat-map audit events emitted
// by this module's event log.
package replay

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// Verifier canonicalises and hashes audit event streams to check
// deterministic replay.
type Verifier struct {
	excludeFields map[string]struct{}
}

// New builds a Verifier that strips excludeFields (e.g. "ts", "received_at")
// before hashing, since those vary run-to-run by construction.
func New(excludeFields []string) *Verifier {
	ex := make(map[string]struct{}, len(excludeFields))
	for _, f := range excludeFields {
		ex[f] = struct{}{}
	}
	return &Verifier{excludeFields: ex}
}

// Diff describes the first point of divergence between two event streams.
type Diff struct {
	Index        int    `json:"index"`
	RecordedJSON string `json:"recorded_json"`
	ReplayedJSON string `json:"replayed_json"`
}

// Result is the outcome of comparing a recorded stream against a replayed
// one.
type Result struct {
	Match        bool   `json:"match"`
	RecordedHash string `json:"recorded_hash"`
	ReplayedHash string `json:"replayed_hash"`
	Diff         *Diff  `json:"diff,omitempty"`
}

// Compare canonicalises recorded and replayed, hashes each canonicalised
// stream, and reports whether they match. On mismatch, Diff identifies the
// first differing event by index; a length mismatch reports the index one
// past the shorter stream's end.
func (v *Verifier) Compare(recorded, replayed []coretypes.AuditEvent) (Result, error) {
	canonRecorded, err := v.canonicalize(recorded)
	if err != nil {
		return Result{}, fmt.Errorf("replay: canonicalize recorded: %w", err)
	}
	canonReplayed, err := v.canonicalize(replayed)
	if err != nil {
		return Result{}, fmt.Errorf("replay: canonicalize replayed: %w", err)
	}

	recordedHash := hashLines(canonRecorded)
	replayedHash := hashLines(canonReplayed)

	res := Result{
		RecordedHash: recordedHash,
		ReplayedHash: replayedHash,
		Match:        recordedHash == replayedHash,
	}
	if res.Match {
		return res, nil
	}

	res.Diff = firstDiff(canonRecorded, canonReplayed)
	return res, nil
}

// canonicalize strips excluded fields from each event and marshals with
// sorted map keys (encoding/json's default for map[string]interface{}),
// producing one deterministic JSON line per event.
func (v *Verifier) canonicalize(events []coretypes.AuditEvent) ([]string, error) {
	out := make([]string, 0, len(events))
	for _, e := range events {
		fields := make(map[string]interface{}, len(e.Fields)+4)
		for k, val := range e.Fields {
			if _, excluded := v.excludeFields[k]; excluded {
				continue
			}
			fields[k] = val
		}
		if _, excluded := v.excludeFields["ts"]; !excluded {
			fields["ts"] = e.Ts
		}
		fields["event_type"] = e.EventType
		fields["exec_id"] = e.ExecID
		// run_id deliberately excluded from canonicalisation: two replay
		// runs of the same recorded stream never share a run_id.

		line, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, string(line))
	}
	return out, nil
}

func hashLines(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func firstDiff(a, b []string) *Diff {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return &Diff{Index: i, RecordedJSON: a[i], ReplayedJSON: b[i]}
		}
	}
	// Streams agree up to the shorter length; the divergence is the length
	// mismatch itself.
	if len(a) != len(b) {
		d := &Diff{Index: n}
		if n < len(a) {
			d.RecordedJSON = a[n]
		}
		if n < len(b) {
			d.ReplayedJSON = b[n]
		}
		return d
	}
	return nil
}
