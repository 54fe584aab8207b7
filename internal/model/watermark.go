package model

import (
	"encoding/json"
	"fmt"
)

// WatermarkKind discriminates the variants of Watermark.
type WatermarkKind string

const (
	WatermarkTimestamp  WatermarkKind = "timestamp"
	WatermarkMessageID  WatermarkKind = "message_id"
	WatermarkUID        WatermarkKind = "uid"
	WatermarkSequence   WatermarkKind = "sequence"
	WatermarkCursor     WatermarkKind = "cursor"
	WatermarkComposite  WatermarkKind = "composite"
)

// Watermark is a tagged union recording sync progress for one
// (platform, source, scope) tuple. Exactly the fields relevant to Kind are
// populated; the rest are left at their zero value.
type Watermark struct {
	Kind WatermarkKind `json:"kind"`

	// WatermarkTimestamp
	TimestampMs int64 `json:"timestamp_ms,omitempty"`

	// WatermarkMessageID
	MessageID   string `json:"message_id,omitempty"`
	MessageTsMs int64  `json:"message_ts_ms,omitempty"`

	// WatermarkUID
	UID      uint32 `json:"uid,omitempty"`
	Validity uint32 `json:"validity,omitempty"`

	// WatermarkSequence
	Sequence int64 `json:"sequence,omitempty"`

	// WatermarkCursor
	Cursor string `json:"cursor,omitempty"`

	// WatermarkComposite
	Composite map[string]json.RawMessage `json:"composite,omitempty"`
}

// SyncState is one persisted row in the sync_state table.
type SyncState struct {
	ID        string    `json:"id"` // "{platform}:{source}:{scope}"
	Watermark Watermark `json:"watermark"`
	Metadata  string    `json:"metadata,omitempty"`
	UpdatedAt int64     `json:"updated_at"`
}

// AfterTimestamp reports whether the watermark should advance to the
// candidate timestamp under WatermarkTimestamp's non-decreasing rule.
func (w Watermark) AfterTimestamp(candidateMs int64) bool {
	return candidateMs >= w.TimestampMs
}

// AfterMessageID reports whether a candidate message sorts strictly after
// this watermark under WatermarkMessageID's "advances only when new message
// sorts strictly after" rule. Ordering is by timestamp, then by id as a
// tie-break so a caller without a reliable clock still advances.
func (w Watermark) AfterMessageID(candidateID string, candidateTsMs int64) bool {
	if w.MessageID == "" {
		return true
	}
	if candidateTsMs != w.MessageTsMs {
		return candidateTsMs > w.MessageTsMs
	}
	return candidateID > w.MessageID
}

// AfterUID reports whether the watermark should advance to candidateUID.
// When validity differs from the stored validity, the mailbox has been
// resized/recreated by the server and any UID is accepted (the watermark is
// effectively reset).
func (w Watermark) AfterUID(candidateUID, candidateValidity uint32) bool {
	if candidateValidity != w.Validity {
		return true
	}
	return candidateUID > w.UID
}

// AfterSequence reports whether candidate is strictly greater than the
// stored opaque sequence number.
func (w Watermark) AfterSequence(candidate int64) bool {
	return candidate > w.Sequence
}

// String renders the watermark's value for quick diagnostics.
func (w Watermark) String() string {
	switch w.Kind {
	case WatermarkTimestamp:
		return fmt.Sprintf("timestamp(%d)", w.TimestampMs)
	case WatermarkMessageID:
		return fmt.Sprintf("message_id(%s@%d)", w.MessageID, w.MessageTsMs)
	case WatermarkUID:
		return fmt.Sprintf("uid(%d,validity=%d)", w.UID, w.Validity)
	case WatermarkSequence:
		return fmt.Sprintf("sequence(%d)", w.Sequence)
	case WatermarkCursor:
		return fmt.Sprintf("cursor(%s)", w.Cursor)
	case WatermarkComposite:
		return fmt.Sprintf("composite(%d keys)", len(w.Composite))
	default:
		return "watermark(unset)"
	}
}
