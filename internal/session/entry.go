// Package session persists conversations as append-only branching JSONL
// files: a header line followed by parented entries. A sqlite index keeps
// listing fast without re-reading every file.
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the session file format version.
const CurrentVersion = 1

// Header is the first line of a session file.
type Header struct {
	Version         int    `json:"version"`
	SessionID       string `json:"sessionId"`
	ParentSessionID string `json:"parentSessionId,omitempty"`
	ParentEntryID   string `json:"parentEntryId,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
	Title           string `json:"title,omitempty"`
}

// Entry kinds written by this runtime. Readers tolerate unknown kinds.
const (
	EntryMessage             = "message"
	EntryCompaction          = "compaction"
	EntryBranchSummary       = "branchSummary"
	EntryModelChange         = "modelChange"
	EntryThinkingLevelChange = "thinkingLevelChange"
	EntryLabel               = "label"
	EntryCustom              = "custom"
)

// Entry is one line of a session file after the header. Payload fields are
// populated according to Type; unknown types keep only the envelope.
type Entry struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ParentID  string `json:"parentId,omitempty"`
	Timestamp string `json:"timestamp"`

	// message
	Message json.RawMessage `json:"message,omitempty"`

	// compaction
	Summary      string `json:"summary,omitempty"`
	TokensBefore int64  `json:"tokensBefore,omitempty"`

	// branchSummary
	FromID string `json:"fromId,omitempty"`

	// modelChange
	FromModel string `json:"fromModel,omitempty"`
	ToModel   string `json:"toModel,omitempty"`
	Provider  string `json:"provider,omitempty"`

	// thinkingLevelChange
	ThinkingLevel string `json:"thinkingLevel,omitempty"`

	// label
	Label string `json:"label,omitempty"`

	// custom
	CustomType string          `json:"customType,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// NewEntryID allocates a unique entry id.
func NewEntryID() string { return uuid.NewString() }

// NowTimestamp returns the current time in the entry timestamp format.
func NowTimestamp() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// NewEntry builds an entry envelope of the given type parented to parentID.
func NewEntry(entryType, parentID string) Entry {
	return Entry{
		Type:      entryType,
		ID:        NewEntryID(),
		ParentID:  parentID,
		Timestamp: NowTimestamp(),
	}
}

// Info summarizes one session for listings.
type Info struct {
	SessionID       string `json:"sessionId"`
	Title           string `json:"title,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
	EntryCount      int    `json:"entryCount"`
	ParentSessionID string `json:"parentSessionId,omitempty"`
}
