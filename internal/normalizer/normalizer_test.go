package normalizer

import (
	"testing"

	"github.com/steveyegge/messaged/internal/adapter"
	"github.com/steveyegge/messaged/internal/statestore"
	"github.com/steveyegge/messaged/internal/threading"
)

func newTestNormalizer(t *testing.T) (*Normalizer, *statestore.Store) {
	t.Helper()
	s, err := statestore.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, threading.New(s)), s
}

func TestNormalizeSignalDMCreatesAccountThreadMessage(t *testing.T) {
	n, s := newTestNormalizer(t)

	result, err := n.Normalize(adapter.Payload{
		Kind: adapter.PayloadSignal,
		Signal: &adapter.SignalPayload{
			Timestamp:    1000,
			SourceNumber: "+1 555-0100",
			SourceName:   "Alice",
			Message:      "hi there",
		},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !result.Inserted {
		t.Fatalf("expected first normalize to insert")
	}

	acct, err := s.GetAccount("signal_15550100")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct == nil {
		t.Fatalf("expected account to be created with normalized handle id")
	}

	thread, err := s.GetThread("signal_dm_15550100")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread == nil {
		t.Fatalf("expected thread to be created")
	}

	stored, err := s.GetMessage(result.Message.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if stored == nil || stored.Content != "hi there" {
		t.Fatalf("unexpected stored message: %+v", stored)
	}
}

func TestNormalizeSignalIdempotentOnReingest(t *testing.T) {
	n, _ := newTestNormalizer(t)

	payload := adapter.Payload{
		Kind: adapter.PayloadSignal,
		Signal: &adapter.SignalPayload{
			Timestamp:    2000,
			SourceNumber: "+15550101",
			SourceName:   "Bob",
			Message:      "repeat me",
		},
	}

	first, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("first Normalize: %v", err)
	}
	second, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("second Normalize: %v", err)
	}
	if first.Message.ID != second.Message.ID {
		t.Fatalf("ids differ across re-ingest: %s vs %s", first.Message.ID, second.Message.ID)
	}
	if second.Inserted {
		t.Fatalf("expected re-ingest to report Inserted=false")
	}
}

func TestNormalizeSignalGroupUsesBase64ThreadKey(t *testing.T) {
	n, s := newTestNormalizer(t)

	result, err := n.Normalize(adapter.Payload{
		Kind: adapter.PayloadSignal,
		Signal: &adapter.SignalPayload{
			Timestamp:     3000,
			SourceNumber:  "+15550102",
			SourceName:    "Carl",
			Message:       "group hi",
			GroupIDBase64: "Z3JvdXAtaWQ=",
			GroupIDHex:    "deadbeef",
		},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if result.Message.Refs.ThreadID != "signal_group_Z3JvdXAtaWQ=" {
		t.Fatalf("unexpected thread id: %s", result.Message.Refs.ThreadID)
	}

	thread, err := s.GetThread("signal_group_Z3JvdXAtaWQ=")
	if err != nil || thread == nil {
		t.Fatalf("GetThread: thread=%+v err=%v", thread, err)
	}
}

func TestNormalizeEmailThreadsByInReplyTo(t *testing.T) {
	n, s := newTestNormalizer(t)

	root, err := n.Normalize(adapter.Payload{
		Kind: adapter.PayloadEmail,
		Email: &adapter.EmailPayload{
			MessageID:  "root@mail",
			Subject:    "Project update",
			From:       "alice@example.com",
			To:         []string{"bob@example.com"},
			DateUnixMs: 1000,
			Body:       "kickoff",
		},
	})
	if err != nil {
		t.Fatalf("Normalize root: %v", err)
	}

	reply, err := n.Normalize(adapter.Payload{
		Kind: adapter.PayloadEmail,
		Email: &adapter.EmailPayload{
			MessageID:  "reply@mail",
			InReplyTo:  "root@mail",
			Subject:    "Re: Project update",
			From:       "bob@example.com",
			To:         []string{"alice@example.com"},
			DateUnixMs: 2000,
			Body:       "sounds good",
		},
	})
	if err != nil {
		t.Fatalf("Normalize reply: %v", err)
	}

	if root.Message.Refs.ThreadID != reply.Message.Refs.ThreadID {
		t.Fatalf("thread mismatch: %s vs %s", root.Message.Refs.ThreadID, reply.Message.Refs.ThreadID)
	}

	thread, err := s.GetThread(root.Message.Refs.ThreadID)
	if err != nil || thread == nil {
		t.Fatalf("GetThread: %+v, %v", thread, err)
	}
	if thread.MessageCount != 2 {
		t.Fatalf("thread.MessageCount = %d, want 2", thread.MessageCount)
	}
}

func TestNormalizeUnknownPayloadKindErrors(t *testing.T) {
	n, _ := newTestNormalizer(t)
	if _, err := n.Normalize(adapter.Payload{Kind: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown payload kind")
	}
}

func TestNormalizeEmailIdempotentWithoutMessageID(t *testing.T) {
	n, s := newTestNormalizer(t)

	payload := adapter.Payload{
		Kind: adapter.PayloadEmail,
		Email: &adapter.EmailPayload{
			Subject:    "No header here",
			From:       "alice@x",
			To:         []string{"bob@y"},
			DateUnixMs: 1700000000000,
			Body:       "the server stripped my Message-ID",
		},
	}

	first, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("first Normalize: %v", err)
	}
	if !first.Inserted {
		t.Fatalf("expected first normalize to insert")
	}
	if first.Message.Source.PlatformID == "" {
		t.Fatalf("expected a synthesized platform id to be recorded on the message")
	}

	// The persisted message_id->thread entry must key on the id the stored
	// message carries, so the thread is resolvable from the message later.
	linked, err := s.ThreadForEmailMessage(first.Message.Source.PlatformID)
	if err != nil {
		t.Fatalf("ThreadForEmailMessage: %v", err)
	}
	if linked != first.Message.Refs.ThreadID {
		t.Fatalf("thread map keyed on %q -> %q, want %q", first.Message.Source.PlatformID, linked, first.Message.Refs.ThreadID)
	}

	second, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("second Normalize: %v", err)
	}
	if second.Inserted {
		t.Fatalf("expected re-ingest to deduplicate, not insert")
	}
	if second.Message.ID != first.Message.ID {
		t.Fatalf("re-ingest produced id %s, want %s", second.Message.ID, first.Message.ID)
	}
	if second.Message.Refs.ThreadID != first.Message.Refs.ThreadID {
		t.Fatalf("re-ingest moved threads: %s vs %s", second.Message.Refs.ThreadID, first.Message.Refs.ThreadID)
	}
}
