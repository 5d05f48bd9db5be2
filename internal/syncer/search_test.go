package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eventra/internal/models"
	"eventra/internal/store"
)

func TestSearchMergesLocalAndRemote(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, "alice")
	now := time.Now()

	local := localEvent("alice", "Lunch with Rivera", now.Add(2*time.Hour))
	require.NoError(t, env.store.CreateEvent(local))
	syncedLocal := localEvent("alice", "Lunch sync", now.Add(3*time.Hour))
	syncedLocal.RemoteID = "g1"
	syncedLocal.Synced = true
	require.NoError(t, env.store.CreateEvent(syncedLocal))

	env.remote.events = []models.RemoteEvent{
		// Already represented locally: must not appear twice.
		{ID: "g1", Title: "Lunch sync", Start: syncedLocal.Start, End: syncedLocal.End},
		{ID: "g2", Title: "Team lunch", Start: now.Add(5 * time.Hour), End: now.Add(6 * time.Hour), ColorID: "5"},
		{ID: "g3", Title: "Dentist", Start: now.Add(7 * time.Hour), End: now.Add(8 * time.Hour)},
	}

	results, err := env.engine.Search(context.Background(), "alice", "lunch", store.FilterUpcoming, now)
	require.NoError(t, err)

	require.Len(t, results, 3)
	require.Equal(t, "Lunch with Rivera", results[0].Title)
	require.Equal(t, "Lunch sync", results[1].Title)
	require.Equal(t, "Team lunch", results[2].Title)
	require.Equal(t, "#fbd75b", results[2].Color)
}

func TestSearchPastOrdersDescending(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	older := localEvent("alice", "Older", now.Add(-72*time.Hour))
	recent := localEvent("alice", "Recent", now.Add(-2*time.Hour))
	require.NoError(t, env.store.CreateEvent(older))
	require.NoError(t, env.store.CreateEvent(recent))

	results, err := env.engine.Search(context.Background(), "alice", "", store.FilterPast, now)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "Recent", results[0].Title)
	require.Equal(t, "Older", results[1].Title)
}

func TestSearchRemoteFailureDegradesToLocal(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, "alice")
	env.remote.listErr = errors.New("remote outage")
	now := time.Now()

	local := localEvent("alice", "Gym", now.Add(time.Hour))
	require.NoError(t, env.store.CreateEvent(local))

	results, err := env.engine.Search(context.Background(), "alice", "gym", store.FilterAll, now)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Gym", results[0].Title)
}

func TestSearchQueryIsCaseInsensitiveForRemote(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, "alice")
	now := time.Now()

	env.remote.events = []models.RemoteEvent{
		{ID: "g1", Title: "QUARTERLY Review", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
		{ID: "g2", Title: "Daily standup", Start: now.Add(3 * time.Hour), End: now.Add(4 * time.Hour)},
	}

	results, err := env.engine.Search(context.Background(), "alice", "quarterly", store.FilterUpcoming, now)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "QUARTERLY Review", results[0].Title)
}
