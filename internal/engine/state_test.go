package engine

import (
	"context"
	"testing"

	"github.com/kmorita/shiftsync/internal/record"
	"github.com/kmorita/shiftsync/internal/remote"
)

func TestOfflineWritePendingFlow(t *testing.T) {
	eng, _, _, fr := testEngine(t)
	ctx := context.Background()

	eng.SetOnline(false)
	if eng.State() != StateOffline {
		t.Fatalf("state = %s, want offline", eng.State())
	}

	docs := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-01-10", Category: "day"})
	if err := eng.Save(ctx, record.KindAttendance, docs); err != nil {
		t.Fatalf("offline Save() failed: %v", err)
	}

	// Offline mutations are remembered but not surfaced as pending until
	// connectivity returns.
	if eng.PendingChanges() {
		t.Error("pending flag set while offline")
	}
	if fr.count("attendance") != 0 {
		t.Error("offline save reached the remote store")
	}

	eng.SetOnline(true)
	if !eng.PendingChanges() {
		t.Error("pending flag not restored on reconnect")
	}
	if eng.State() != StatePendingChanges {
		t.Errorf("state = %s, want pending_changes", eng.State())
	}

	if err := eng.SyncNow(ctx); err != nil {
		t.Fatalf("SyncNow() failed: %v", err)
	}
	if eng.State() != StateIdle {
		t.Errorf("state after sync = %s, want idle", eng.State())
	}
	if eng.PendingChanges() {
		t.Error("pending flag survived a successful sync")
	}
	if fr.count("attendance") != 1 {
		t.Errorf("remote holds %d docs after sync, want 1", fr.count("attendance"))
	}
}

func TestReconnectWithoutChangesGoesIdle(t *testing.T) {
	eng, _, _, _ := testEngine(t)

	eng.SetOnline(false)
	eng.SetOnline(true)
	if eng.State() != StateIdle {
		t.Errorf("state = %s, want idle (nothing to sync)", eng.State())
	}
	if eng.PendingChanges() {
		t.Error("pending flag set with no mutations")
	}
}

func TestSyncNowRequiresConnectivity(t *testing.T) {
	eng, _, _, _ := testEngine(t)
	eng.SetOnline(false)
	if err := eng.SyncNow(context.Background()); err == nil {
		t.Error("SyncNow() succeeded while offline")
	}

	// Remote tier disabled entirely.
	local, err := New(Config{Cache: newFakeCache()})
	if err != nil {
		t.Fatal(err)
	}
	if err := local.SyncNow(context.Background()); err == nil {
		t.Error("SyncNow() succeeded without a remote tier")
	}
}

func TestSyncNowFailureKeepsPending(t *testing.T) {
	eng, _, fl, fr := testEngine(t)
	ctx := context.Background()

	docs := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-01-10", Category: "day"})
	if _, err := fl.ReplaceCollection(ctx, record.KindAttendance, docs); err != nil {
		t.Fatal(err)
	}

	fr.mu.Lock()
	fr.failWrites = true
	fr.mu.Unlock()

	if err := eng.SyncNow(ctx); err == nil {
		t.Fatal("SyncNow() succeeded against failing store")
	}
	if eng.State() != StatePendingChanges {
		t.Errorf("state = %s, want pending_changes (retry later)", eng.State())
	}
	if !eng.PendingChanges() {
		t.Error("pending flag cleared by a failed sync")
	}

	// Recovery: the store comes back and the retry drains the backlog.
	fr.mu.Lock()
	fr.failWrites = false
	fr.mu.Unlock()
	if err := eng.SyncNow(ctx); err != nil {
		t.Fatalf("retry SyncNow() failed: %v", err)
	}
	if eng.State() != StateIdle || eng.PendingChanges() {
		t.Errorf("after recovery: state = %s, pending = %v", eng.State(), eng.PendingChanges())
	}
}

func TestSyncNowPushesSettings(t *testing.T) {
	eng, _, fl, fr := testEngine(t)
	ctx := context.Background()

	if err := fl.PutSetting(ctx, record.SettingCurrentView, "week"); err != nil {
		t.Fatal(err)
	}
	if err := eng.SyncNow(ctx); err != nil {
		t.Fatalf("SyncNow() failed: %v", err)
	}

	var view string
	found, err := fr.ReadSetting(ctx, record.SettingCurrentView, &view)
	if err != nil || !found {
		t.Fatalf("remote setting missing after sync: (%v, %v)", found, err)
	}
	if view != "week" {
		t.Errorf("remote setting = %q, want week", view)
	}
}

func TestConflictingOfflineWritesReconcile(t *testing.T) {
	// Two engines sharing one remote store, each with its own local tiers:
	// the second writer's sync wins because its snapshot is diffed against
	// whatever the first writer committed.
	fr := newFakeRemote()
	ctx := context.Background()

	newEng := func() (*Engine, *fakeLocal) {
		fl := newFakeLocal()
		eng, err := New(Config{
			Cache:     newFakeCache(),
			Local:     fl,
			Remote:    fr,
			UseLocal:  true,
			UseRemote: true,
			Logger:    discardLogger(),
		})
		if err != nil {
			t.Fatal(err)
		}
		return eng, fl
	}

	engA, _ := newEng()
	engB, _ := newEng()

	// Both go offline and record different categories for the same shift.
	engA.SetOnline(true)
	engA.SetOnline(false)
	engB.SetOnline(true)
	engB.SetOnline(false)

	docsA := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-01-10", Category: "early"})
	docsB := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-01-10", Category: "late"})
	if err := engA.Save(ctx, record.KindAttendance, docsA); err != nil {
		t.Fatal(err)
	}
	if err := engB.Save(ctx, record.KindAttendance, docsB); err != nil {
		t.Fatal(err)
	}

	engA.SetOnline(true)
	if err := engA.SyncNow(ctx); err != nil {
		t.Fatalf("A's sync failed: %v", err)
	}
	engB.SetOnline(true)
	if err := engB.SyncNow(ctx); err != nil {
		t.Fatalf("B's sync failed: %v", err)
	}

	// B synced last; its category stands.
	docs, _, err := fr.ReadCollection(ctx, "attendance")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("remote holds %d docs, want 1", len(docs))
	}
	decoded, err := record.DecodeAttendance(docs)
	if err != nil {
		t.Fatal(err)
	}
	if decoded[0].Category != "late" {
		t.Errorf("category = %q, want late (last writer)", decoded[0].Category)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	eng, _, _, fr := testEngine(t)
	fr.mu.Lock()
	fr.failWrites = true
	fr.mu.Unlock()

	events, cancel := eng.Subscribe()

	docs := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-01-10", Category: "day"})
	if err := eng.Save(context.Background(), record.KindAttendance, docs); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	cancel()

	var sawProgress, sawWarning, sawState bool
	for ev := range events {
		switch ev.Type {
		case EventProgress:
			sawProgress = true
			if ev.Percent < 0 || ev.Percent > 100 {
				t.Errorf("progress out of range: %d", ev.Percent)
			}
		case EventWarning:
			sawWarning = true
		case EventState:
			sawState = true
			if ev.State != StatePendingChanges {
				t.Errorf("state event = %s, want pending_changes", ev.State)
			}
		}
	}
	if !sawProgress || !sawWarning || !sawState {
		t.Errorf("events missing: progress=%v warning=%v state=%v",
			sawProgress, sawWarning, sawState)
	}
}

func TestSubscribeCancelCloses(t *testing.T) {
	eng, _, _, _ := testEngine(t)
	events, cancel := eng.Subscribe()
	cancel()
	cancel() // second cancel is a no-op

	if _, ok := <-events; ok {
		t.Error("channel still open after cancel")
	}
}

func TestReconcileStrategies(t *testing.T) {
	remoteDocs := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "r1", Date: "2025-01-10", Category: "day"})
	localDocs := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "l1", Date: "2025-01-10", Category: "day"})

	tests := []struct {
		name     string
		strategy ReconcileStrategy
		status   remote.ReadStatus
		want     string // id of the winning doc
	}{
		{"remote wins when found", RemoteAuthoritative{}, remote.ReadFound, "r1_2025-01-10"},
		{"local on empty remote", RemoteAuthoritative{}, remote.ReadEmpty, "l1_2025-01-10"},
		{"local preferred", PreferLocal{}, remote.ReadFound, "l1_2025-01-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.strategy.ChooseRead(tt.status, remoteDocs, localDocs)
			if len(got) != 1 || got[0].ID != tt.want {
				t.Errorf("ChooseRead() = %v, want single doc %s", got, tt.want)
			}
		})
	}
}
