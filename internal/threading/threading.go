// Package threading assigns incoming email messages to conversation threads
// using an RFC-5256-inspired rule set: In-Reply-To, then References, then a
// subject+participants fallback, then a new thread.
package threading

import (
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/messaged/internal/idgen"
)

// store is the subset of statestore this package needs, kept narrow so
// tests can substitute an in-memory fake.
type store interface {
	ThreadForEmailMessage(messageID string) (string, error)
	LinkEmailMessageThread(messageID, threadID string) error
	ThreadForEmailSubject(subjectKey, participantsKey string) (string, error)
	LinkEmailSubjectThread(subjectKey, participantsKey, threadID string) error
}

// Engine resolves thread ids for email messages and persists every mapping
// it makes so restarts see the same assignment for the same inputs.
type Engine struct {
	store store
}

// New wraps store with the threading rule set.
func New(s store) *Engine {
	return &Engine{store: s}
}

// Input is the threading-relevant subset of an email message's headers.
type Input struct {
	MessageID  string
	InReplyTo  string
	References []string // oldest first
	Subject    string
	Participants []string // from + all to, not yet normalized
}

// Resolve returns the thread id Input belongs to, assigning a new one if no
// existing thread matches, along with the message id the assignment was
// recorded under (in.MessageID, or a synthesized substitute when it was
// empty). The caller must record that id on the stored message so the
// persisted message_id→thread entry stays resolvable. The message_id and,
// on the fallback path, the (subject, participants) mapping are persisted
// before returning so a repeat call with the same Input is idempotent.
func (e *Engine) Resolve(in Input) (threadID, messageID string, err error) {
	messageID = in.MessageID
	if messageID == "" {
		messageID = SynthesizeMessageID()
	}

	if in.InReplyTo != "" {
		if tid, err := e.store.ThreadForEmailMessage(in.InReplyTo); err != nil {
			return "", "", fmt.Errorf("threading: lookup in-reply-to: %w", err)
		} else if tid != "" {
			return e.assign(messageID, tid)
		}
	}

	for _, ref := range in.References {
		tid, err := e.store.ThreadForEmailMessage(ref)
		if err != nil {
			return "", "", fmt.Errorf("threading: lookup reference: %w", err)
		}
		if tid != "" {
			return e.assign(messageID, tid)
		}
	}

	subjectKey := NormalizeSubject(in.Subject)
	participantsKey := NormalizeParticipants(in.Participants)
	if subjectKey != "" {
		tid, err := e.store.ThreadForEmailSubject(subjectKey, participantsKey)
		if err != nil {
			return "", "", fmt.Errorf("threading: lookup subject fallback: %w", err)
		}
		if tid != "" {
			if err := e.store.LinkEmailSubjectThread(subjectKey, participantsKey, tid); err != nil {
				return "", "", fmt.Errorf("threading: relink subject fallback: %w", err)
			}
			return e.assign(messageID, tid)
		}
	}

	root := messageID
	if len(in.References) > 0 {
		root = in.References[0]
	}
	tid := "email_" + idgen.HashPrefix(root)

	if subjectKey != "" {
		if err := e.store.LinkEmailSubjectThread(subjectKey, participantsKey, tid); err != nil {
			return "", "", fmt.Errorf("threading: link new subject fallback: %w", err)
		}
	}
	return e.assign(messageID, tid)
}

func (e *Engine) assign(messageID, threadID string) (string, string, error) {
	if err := e.store.LinkEmailMessageThread(messageID, threadID); err != nil {
		return "", "", fmt.Errorf("threading: link message: %w", err)
	}
	return threadID, messageID, nil
}

var subjectPrefixes = []string{"re:", "fwd:", "fw:"}

// NormalizeSubject strips repeated Re:/Fwd:/Fw: and [list] bracket prefixes
// (case-insensitive), then trims and lowercases what remains.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		trimmed := strings.TrimSpace(s)
		lower := strings.ToLower(trimmed)

		stripped := false
		for _, prefix := range subjectPrefixes {
			if strings.HasPrefix(lower, prefix) {
				trimmed = strings.TrimSpace(trimmed[len(prefix):])
				stripped = true
				break
			}
		}
		if !stripped && strings.HasPrefix(trimmed, "[") {
			if end := strings.Index(trimmed, "]"); end > 0 {
				trimmed = strings.TrimSpace(trimmed[end+1:])
				stripped = true
			}
		}
		if !stripped {
			s = trimmed
			break
		}
		s = trimmed
	}
	return strings.ToLower(s)
}

// NormalizeParticipants returns a sorted, deduplicated, lowercased,
// comma-joined key for a participant address list, so sender/receiver
// reversal produces the same key.
func NormalizeParticipants(addresses []string) string {
	seen := make(map[string]bool, len(addresses))
	var out []string
	for _, addr := range addresses {
		norm := strings.ToLower(strings.TrimSpace(addr))
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
