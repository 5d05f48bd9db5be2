package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eventra/internal/auth"
	"eventra/internal/models"
	"eventra/internal/store"
)

// fakeRemote is an in-memory RemoteCalendar for tests.
type fakeRemote struct {
	events  []models.RemoteEvent
	listErr error

	createErr error
	updateErr error
	deleteErr error

	created []models.Event
	updated []string
	deleted []string
	nextID  int
}

func (f *fakeRemote) ListEvents(_ context.Context, timeMin, timeMax time.Time) ([]models.RemoteEvent, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.RemoteEvent
	for _, ev := range f.events {
		if ev.End.After(timeMin) && ev.Start.Before(timeMax) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeRemote) CreateEvent(_ context.Context, ev *models.Event) (*models.RemoteEvent, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, *ev)
	f.nextID++
	remote := models.RemoteEvent{
		ID:    "remote-" + string(rune('a'+f.nextID-1)),
		Title: ev.Title,
		Start: ev.Start,
		End:   ev.End,
	}
	f.events = append(f.events, remote)
	return &remote, nil
}

func (f *fakeRemote) UpdateEvent(_ context.Context, remoteID string, ev *models.Event) (*models.RemoteEvent, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updated = append(f.updated, remoteID)
	return &models.RemoteEvent{ID: remoteID, Title: ev.Title, Start: ev.Start, End: ev.End}, nil
}

func (f *fakeRemote) DeleteEvent(_ context.Context, remoteID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, remoteID)
	return nil
}

type testEnv struct {
	store  *store.Store
	creds  *auth.CredentialStore
	remote *fakeRemote
	engine *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	remote := &fakeRemote{}
	creds := auth.NewCredentialStore(st, logger)
	factory := func(context.Context, *auth.Bundle) (RemoteCalendar, error) {
		return remote, nil
	}
	return &testEnv{
		store:  st,
		creds:  creds,
		remote: remote,
		engine: NewEngine(st, creds, factory, logger),
	}
}

func (env *testEnv) connect(t *testing.T, user string) {
	t.Helper()
	err := env.creds.Connect(user, &auth.Bundle{
		AccessToken: "tok",
		Expiry:      time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
}

func localEvent(user, title string, start time.Time) *models.Event {
	return &models.Event{
		User:         user,
		Title:        title,
		Start:        start,
		End:          start.Add(time.Hour),
		OriginalText: "typed by hand",
	}
}

func TestReconcileDisconnected(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	ev := localEvent("alice", "Piano lesson", now.Add(2*time.Hour))
	require.NoError(t, env.store.CreateEvent(ev))

	result, err := env.engine.Reconcile(context.Background(), "alice", now)
	require.NoError(t, err)

	require.False(t, result.Connected)
	require.Len(t, result.Own, 1)
	require.Len(t, result.Timeline, 1)
	require.Equal(t, "Piano lesson", result.Timeline[0].Title)
	require.False(t, result.Timeline[0].FromRemote)
}

func TestReconcileImportScenario(t *testing.T) {
	// Local store empty, remote has one event: first pass imports it once,
	// the second pass changes nothing.
	env := newTestEnv(t)
	env.connect(t, "alice")
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	env.remote.events = []models.RemoteEvent{{
		ID:      "g1",
		Title:   "Standup",
		Start:   time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
		End:     time.Date(2025, 1, 10, 9, 15, 0, 0, time.UTC),
		ColorID: "9",
	}}

	result, err := env.engine.Reconcile(context.Background(), "alice", now)
	require.NoError(t, err)
	require.True(t, result.Connected)

	require.Len(t, result.Timeline, 1)
	require.Equal(t, "Standup", result.Timeline[0].Title)
	require.Equal(t, "#5484ed", result.Timeline[0].Color)
	require.True(t, result.Timeline[0].FromRemote)

	// The imported record is excluded from the created-by-me view.
	require.Empty(t, result.Own)
	ids, err := env.store.RemoteIDs("alice")
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"g1": true}, ids)

	// Second pass with identical remote state: no new records, same timeline.
	second, err := env.engine.Reconcile(context.Background(), "alice", now)
	require.NoError(t, err)
	require.Equal(t, result.Timeline, second.Timeline)

	synced, err := env.store.ListUpcomingSynced("alice", now)
	require.NoError(t, err)
	require.Len(t, synced, 1)
}

func TestReconcileDeletionMirroring(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, "alice")
	now := time.Now()

	ev := localEvent("alice", "Planning", now.Add(2*time.Hour))
	ev.RemoteID = "gX"
	ev.Synced = true
	require.NoError(t, env.store.CreateEvent(ev))

	// Remote no longer contains gX.
	result, err := env.engine.Reconcile(context.Background(), "alice", now)
	require.NoError(t, err)

	require.Empty(t, result.Own)
	require.Empty(t, result.Timeline)
	_, err = env.store.GetEvent("alice", ev.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestReconcileListFailureKeepsLocalData(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, "alice")
	now := time.Now()

	plain := localEvent("alice", "Unsynced", now.Add(time.Hour))
	require.NoError(t, env.store.CreateEvent(plain))
	synced := localEvent("alice", "Synced", now.Add(2*time.Hour))
	synced.RemoteID = "gY"
	synced.Synced = true
	require.NoError(t, env.store.CreateEvent(synced))

	env.remote.listErr = errors.New("remote outage")

	result, err := env.engine.Reconcile(context.Background(), "alice", now)
	require.NoError(t, err)

	// A failed list is not an empty calendar: nothing is deleted and all
	// local records stay visible, just without resolved colors.
	require.True(t, result.Connected)
	require.Len(t, result.Own, 2)
	require.Len(t, result.Timeline, 2)
	for _, entry := range result.Timeline {
		require.Empty(t, entry.Color)
	}
}

func TestReconcileColorResolution(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, "alice")
	now := time.Now()

	ev := localEvent("alice", "Review", now.Add(2*time.Hour))
	ev.RemoteID = "gZ"
	ev.Synced = true
	require.NoError(t, env.store.CreateEvent(ev))

	env.remote.events = []models.RemoteEvent{{
		ID:      "gZ",
		Title:   "Review",
		Start:   ev.Start,
		End:     ev.End,
		ColorID: "11",
	}}

	result, err := env.engine.Reconcile(context.Background(), "alice", now)
	require.NoError(t, err)

	// One timeline entry, not two: the remote event is already represented
	// by the local record, which carries the resolved color.
	require.Len(t, result.Timeline, 1)
	require.Equal(t, "#dc2127", result.Timeline[0].Color)
	require.Equal(t, ev.ID, result.Timeline[0].LocalID)
}

func TestReconcileUnknownColorDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, "alice")
	now := time.Now()

	env.remote.events = []models.RemoteEvent{{
		ID:      "g2",
		Title:   "Mystery",
		Start:   now.Add(3 * time.Hour),
		End:     now.Add(4 * time.Hour),
		ColorID: "42",
	}}

	result, err := env.engine.Reconcile(context.Background(), "alice", now)
	require.NoError(t, err)
	require.Len(t, result.Timeline, 1)
	require.Equal(t, models.DefaultColor, result.Timeline[0].Color)
}

func TestReconcileMergedTimelineOrder(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, "alice")
	now := time.Now()

	late := localEvent("alice", "Late local", now.Add(6*time.Hour))
	require.NoError(t, env.store.CreateEvent(late))

	env.remote.events = []models.RemoteEvent{{
		ID:    "g3",
		Title: "Early remote",
		Start: now.Add(1 * time.Hour),
		End:   now.Add(2 * time.Hour),
	}}

	result, err := env.engine.Reconcile(context.Background(), "alice", now)
	require.NoError(t, err)

	require.Len(t, result.Timeline, 2)
	require.Equal(t, "Early remote", result.Timeline[0].Title)
	require.Equal(t, "Late local", result.Timeline[1].Title)
}

func TestReconcileImportedRecordNotReimported(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, "alice")
	now := time.Now()

	env.remote.events = []models.RemoteEvent{{
		ID:    "g4",
		Title: "Offsite",
		Start: now.Add(24 * time.Hour),
		End:   now.Add(26 * time.Hour),
	}}

	for i := 0; i < 3; i++ {
		_, err := env.engine.Reconcile(context.Background(), "alice", now)
		require.NoError(t, err)
	}

	synced, err := env.store.ListUpcomingSynced("alice", now)
	require.NoError(t, err)
	require.Len(t, synced, 1)
	require.True(t, synced[0].Imported())
}

func TestReconcileUsersArePartitioned(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, "alice")
	now := time.Now()

	bobEv := localEvent("bob", "Bob's plans", now.Add(time.Hour))
	require.NoError(t, env.store.CreateEvent(bobEv))

	result, err := env.engine.Reconcile(context.Background(), "alice", now)
	require.NoError(t, err)
	require.Empty(t, result.Own)
	require.Empty(t, result.Timeline)
}
