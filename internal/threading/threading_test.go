package threading

import "testing"

type fakeStore struct {
	byMessage map[string]string
	bySubject map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{byMessage: map[string]string{}, bySubject: map[string]string{}}
}

func (f *fakeStore) ThreadForEmailMessage(messageID string) (string, error) {
	return f.byMessage[messageID], nil
}

func (f *fakeStore) LinkEmailMessageThread(messageID, threadID string) error {
	f.byMessage[messageID] = threadID
	return nil
}

func (f *fakeStore) ThreadForEmailSubject(subjectKey, participantsKey string) (string, error) {
	return f.bySubject[subjectKey+"|"+participantsKey], nil
}

func (f *fakeStore) LinkEmailSubjectThread(subjectKey, participantsKey, threadID string) error {
	f.bySubject[subjectKey+"|"+participantsKey] = threadID
	return nil
}

func TestNormalizeSubjectStripsRepeatedPrefixes(t *testing.T) {
	cases := map[string]string{
		"Re: Fwd: [list] Launch plan": "launch plan",
		"  FW: re: Hello  ":           "hello",
		"No prefixes here":            "no prefixes here",
		"[announce] Re: Status":       "status",
	}
	for in, want := range cases {
		if got := NormalizeSubject(in); got != want {
			t.Errorf("NormalizeSubject(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeParticipantsSortsDedupesLowercases(t *testing.T) {
	got := NormalizeParticipants([]string{"Bob@Example.com", "alice@example.com", " bob@example.com "})
	want := "alice@example.com,bob@example.com"
	if got != want {
		t.Fatalf("NormalizeParticipants = %q, want %q", got, want)
	}
}

func TestResolveNewThreadThenInReplyToLinksSameThread(t *testing.T) {
	s := newFakeStore()
	e := New(s)

	root := Input{MessageID: "root@x", Subject: "Hello", Participants: []string{"a@x", "b@x"}}
	rootThread, _, err := e.Resolve(root)
	if err != nil {
		t.Fatalf("Resolve root: %v", err)
	}
	if rootThread == "" {
		t.Fatalf("expected non-empty thread id")
	}

	reply := Input{MessageID: "reply@x", InReplyTo: "root@x", Subject: "Re: Hello", Participants: []string{"a@x", "b@x"}}
	replyThread, _, err := e.Resolve(reply)
	if err != nil {
		t.Fatalf("Resolve reply: %v", err)
	}
	if replyThread != rootThread {
		t.Fatalf("reply thread = %s, want %s", replyThread, rootThread)
	}
}

func TestResolveReferencesScanFindsThread(t *testing.T) {
	s := newFakeStore()
	e := New(s)

	root := Input{MessageID: "root@x", Subject: "Hi", Participants: []string{"a@x"}}
	rootThread, _, err := e.Resolve(root)
	if err != nil {
		t.Fatalf("Resolve root: %v", err)
	}

	// Third message references root but is not a direct In-Reply-To reply.
	third := Input{MessageID: "third@x", References: []string{"root@x", "reply@x"}, Subject: "Re: Hi", Participants: []string{"a@x"}}
	thirdThread, _, err := e.Resolve(third)
	if err != nil {
		t.Fatalf("Resolve third: %v", err)
	}
	if thirdThread != rootThread {
		t.Fatalf("third thread = %s, want %s (via references scan)", thirdThread, rootThread)
	}
}

func TestResolveSubjectParticipantsFallback(t *testing.T) {
	s := newFakeStore()
	e := New(s)

	first := Input{MessageID: "msg-1", Subject: "Weekly sync", Participants: []string{"a@x", "b@x"}}
	firstThread, _, err := e.Resolve(first)
	if err != nil {
		t.Fatalf("Resolve first: %v", err)
	}

	// No In-Reply-To/References at all, but same normalized subject and
	// participants, so it should fall back to the same thread.
	second := Input{MessageID: "msg-2", Subject: "RE: Weekly sync", Participants: []string{"b@x", "a@x"}}
	secondThread, _, err := e.Resolve(second)
	if err != nil {
		t.Fatalf("Resolve second: %v", err)
	}
	if secondThread != firstThread {
		t.Fatalf("second thread = %s, want %s (via subject fallback)", secondThread, firstThread)
	}
}

func TestResolveSynthesizesMissingMessageID(t *testing.T) {
	s := newFakeStore()
	e := New(s)

	tid, mid, err := e.Resolve(Input{Subject: "No id here"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tid == "" {
		t.Fatalf("expected a thread id even with missing message id")
	}
	if mid == "" {
		t.Fatalf("expected the synthesized message id to be returned")
	}
	if linked := s.byMessage[mid]; linked != tid {
		t.Fatalf("message map keyed on %q -> %q, want the returned id mapping to %q", mid, linked, tid)
	}
}
