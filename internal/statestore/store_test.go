package statestore

import (
	"testing"
	"time"

	"github.com/steveyegge/messaged/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)

	var version int
	if err := s.DB().QueryRow(`SELECT version FROM schema_version WHERE id = 0`).Scan(&version); err != nil {
		t.Fatalf("reading schema_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Fatalf("schema_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestLifecycleRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if rec, err := s.LoadLifecycle(); err != nil || rec != nil {
		t.Fatalf("LoadLifecycle before start = %+v, %v; want nil, nil", rec, err)
	}

	if err := s.RecordStart(); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	rec, err := s.LoadLifecycle()
	if err != nil {
		t.Fatalf("LoadLifecycle: %v", err)
	}
	if rec == nil || rec.StartedAt == 0 || rec.StoppedAt != nil {
		t.Fatalf("unexpected lifecycle after start: %+v", rec)
	}

	if err := s.RecordShutdown(true); err != nil {
		t.Fatalf("RecordShutdown: %v", err)
	}
	rec, err = s.LoadLifecycle()
	if err != nil {
		t.Fatalf("LoadLifecycle: %v", err)
	}
	if rec.StoppedAt == nil || rec.CleanShutdown == nil || !*rec.CleanShutdown {
		t.Fatalf("unexpected lifecycle after shutdown: %+v", rec)
	}
}

func TestSavePlatformStateCreatesAndPatches(t *testing.T) {
	s := openTestStore(t)

	connected := model.PlatformConnected
	now := time.Now()
	if err := s.SavePlatformState("signal", PlatformStatePatch{
		Status:                &connected,
		LastConnected:         &now,
		IncrementMessageCount: 3,
	}); err != nil {
		t.Fatalf("SavePlatformState: %v", err)
	}

	st, err := s.LoadPlatformState("signal")
	if err != nil {
		t.Fatalf("LoadPlatformState: %v", err)
	}
	if st.Status != model.PlatformConnected || st.MessageCount != 3 || st.LastConnected == nil {
		t.Fatalf("unexpected state: %+v", st)
	}

	if err := s.SavePlatformState("signal", PlatformStatePatch{IncrementMessageCount: 2}); err != nil {
		t.Fatalf("SavePlatformState patch: %v", err)
	}
	st, err = s.LoadPlatformState("signal")
	if err != nil {
		t.Fatalf("LoadPlatformState: %v", err)
	}
	if st.MessageCount != 5 {
		t.Fatalf("MessageCount = %d, want 5", st.MessageCount)
	}

	all, err := s.LoadAllPlatformStates()
	if err != nil {
		t.Fatalf("LoadAllPlatformStates: %v", err)
	}
	if _, ok := all["signal"]; !ok {
		t.Fatalf("expected signal in LoadAllPlatformStates, got %+v", all)
	}
}

func TestSyncStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	wm := model.Watermark{Kind: model.WatermarkTimestamp, TimestampMs: 12345}
	if err := s.SaveSyncState("signal:default:main", wm, "meta"); err != nil {
		t.Fatalf("SaveSyncState: %v", err)
	}

	loaded, err := s.LoadSyncState("signal:default:main")
	if err != nil {
		t.Fatalf("LoadSyncState: %v", err)
	}
	if loaded == nil || loaded.Watermark.TimestampMs != 12345 {
		t.Fatalf("unexpected sync state: %+v", loaded)
	}

	all, err := s.LoadSyncStates("signal", "")
	if err != nil {
		t.Fatalf("LoadSyncStates: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len(all) = %d, want 1", len(all))
	}

	if err := s.DeleteSyncState("signal:default:main"); err != nil {
		t.Fatalf("DeleteSyncState: %v", err)
	}
	loaded, err = s.LoadSyncState("signal:default:main")
	if err != nil || loaded != nil {
		t.Fatalf("LoadSyncState after delete = %+v, %v; want nil, nil", loaded, err)
	}
}

func TestInsertMessageIdempotentAndMergesTags(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertAccount(model.Account{ID: "signal_alice"}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	msg := model.Message{
		ID:         "abc123",
		AccountID:  "signal_alice",
		Author:     model.Author{Handle: "alice"},
		CreatedAt:  1000,
		ImportedAt: 1000,
		Kind:       model.KindSignal,
		Content:    "hello world",
		Source:     model.Source{Platform: "signal", PlatformID: "msg-1"},
		Tags:       []model.Tag{{"imported", "true"}},
	}

	inserted, err := s.InsertMessage(msg)
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first insert to report inserted=true")
	}

	msg.Tags = []model.Tag{{"reviewed", "true"}}
	msg.ImportedAt = 2000
	inserted, err = s.InsertMessage(msg)
	if err != nil {
		t.Fatalf("InsertMessage second time: %v", err)
	}
	if inserted {
		t.Fatalf("expected second insert of same id to report inserted=false")
	}

	stored, err := s.GetMessage("abc123")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if len(stored.Tags) != 2 {
		t.Fatalf("expected merged tags, got %+v", stored.Tags)
	}
}

func TestSearchMessagesMatchesContent(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertAccount(model.Account{ID: "signal_bob"}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	if _, err := s.InsertMessage(model.Message{
		ID: "msg-a", AccountID: "signal_bob", CreatedAt: 1, ImportedAt: 1,
		Kind: model.KindSignal, Content: "the quick brown fox",
		Source: model.Source{Platform: "signal"},
	}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if _, err := s.InsertMessage(model.Message{
		ID: "msg-b", AccountID: "signal_bob", CreatedAt: 2, ImportedAt: 2,
		Kind: model.KindSignal, Content: "completely unrelated text",
		Source: model.Source{Platform: "signal"},
	}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	results, err := s.SearchMessages("fox", 10)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(results) != 1 || results[0].Message.ID != "msg-a" {
		t.Fatalf("unexpected search results: %+v", results)
	}
}

func TestGetOrCreateThreadAndMessageCounting(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertAccount(model.Account{ID: "signal_carl"}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	seed := model.Thread{
		Title: "room", Type: model.ThreadGroup,
		Source: model.Source{Platform: "signal", PlatformID: "room-1"},
		CreatedAt: 500,
	}
	th, created, err := s.GetOrCreateThread("signal_room-1", seed)
	if err != nil {
		t.Fatalf("GetOrCreateThread: %v", err)
	}
	if !created || th.Title != "room" {
		t.Fatalf("unexpected thread: %+v created=%v", th, created)
	}

	th2, created2, err := s.GetOrCreateThread("signal_room-1", seed)
	if err != nil {
		t.Fatalf("GetOrCreateThread second call: %v", err)
	}
	if created2 {
		t.Fatalf("expected second GetOrCreateThread to not create")
	}
	if th2.ID != th.ID {
		t.Fatalf("thread id mismatch: %s vs %s", th2.ID, th.ID)
	}

	if _, err := s.InsertMessage(model.Message{
		ID: "msg-thread", AccountID: "signal_carl", CreatedAt: 600, ImportedAt: 600,
		Kind: model.KindSignal, Content: "hi room",
		Refs:   model.Refs{ThreadID: "signal_room-1"},
		Source: model.Source{Platform: "signal"},
	}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	updated, err := s.GetThread("signal_room-1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if updated.MessageCount != 1 || updated.LastMessageAt != 600 {
		t.Fatalf("unexpected thread counters: %+v", updated)
	}
}

func TestPutBlobDeduplicatesByHash(t *testing.T) {
	s := openTestStore(t)
	data := []byte("some attachment bytes")

	hash1, inserted1, err := s.PutBlob(data, "photo.png", "image/png")
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	if !inserted1 {
		t.Fatalf("expected first PutBlob to insert")
	}

	hash2, inserted2, err := s.PutBlob(data, "different-name.png", "image/png")
	if err != nil {
		t.Fatalf("PutBlob second: %v", err)
	}
	if inserted2 {
		t.Fatalf("expected second PutBlob of same bytes to not insert")
	}
	if hash1 != hash2 {
		t.Fatalf("hash mismatch: %s vs %s", hash1, hash2)
	}

	blob, err := s.GetBlob(hash1)
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if blob == nil || string(blob.Data) != string(data) {
		t.Fatalf("unexpected blob: %+v", blob)
	}
}
