// Package audit records dispatch decisions for after-the-fact review.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/mcarver/toolhost/internal/store"
)

// Dispatch actions recorded by the host.
const (
	ActionTool    = "dispatch.tool"
	ActionAnswer  = "dispatch.answer"
	ActionUnknown = "dispatch.unknown_tool"
	ActionBackend = "dispatch.backend_error"
)

// Recorder writes dispatch decision records.
type Recorder struct {
	store *store.Store
}

// NewRecorder creates a recorder backed by s.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{store: s}
}

// Record writes one decision record. Inputs are hashed, not stored, so
// the audit trail stays reviewable without retaining raw user text.
func (r *Recorder) Record(sessionID, action string, inputs any, outcome, details string) (*store.Decision, error) {
	return r.store.WriteDecision(sessionID, action, hashInputs(inputs), outcome, details)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
