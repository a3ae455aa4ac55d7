package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/equa-app/truthkeeper/internal/models"
)

// storeUnderTest runs the same contract checks against both backends.
func storeUnderTest(t *testing.T, name string, open func(t *testing.T) Store) {
	t.Run(name+"/snapshot", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		_, ok, err := st.LoadSnapshot()
		require.NoError(t, err)
		require.False(t, ok, "fresh store has no snapshot")

		snap := models.Snapshot{
			Step:     models.StepTruth,
			Partners: [2]models.Partner{{ID: "partner_a", Name: "Alice"}, {ID: "partner_b", Name: "Bob"}},
			DarkMode: true,
		}
		require.NoError(t, st.SaveSnapshot(snap))

		got, ok, err := st.LoadSnapshot()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, snap, got)

		require.NoError(t, st.DeleteSnapshot())
		_, ok, err = st.LoadSnapshot()
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run(name+"/pair_sessions", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		_, err := st.GetPairSession("missing")
		require.ErrorIs(t, err, ErrNotFound)

		sess := models.MultiplayerSession{
			ID:           "sess-1",
			PartnerA:     models.PairPartner{ID: "partner_a", Name: "Alice", DeviceID: "dev-a", IsConnected: true},
			PartnerB:     models.PairPartner{ID: "partner_b", Name: "Bob"},
			CurrentStep:  models.StepOnboarding,
			CreatedAt:    time.Now().UTC().Truncate(time.Second),
			LastActivity: time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, st.PutPairSession(sess))

		got, err := st.GetPairSession("sess-1")
		require.NoError(t, err)
		require.Equal(t, sess, got)

		// Overwrite wins; no version check by design.
		sess.PartnerB.IsConnected = true
		require.NoError(t, st.PutPairSession(sess))
		got, err = st.GetPairSession("sess-1")
		require.NoError(t, err)
		require.True(t, got.PartnerB.IsConnected)
	})

	t.Run(name+"/join_codes", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		_, err := st.ResolveJoinCode("ZZZZZZ")
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, st.PutJoinCode("AB12CD", "sess-1"))
		id, err := st.ResolveJoinCode("AB12CD")
		require.NoError(t, err)
		require.Equal(t, "sess-1", id)
	})

	t.Run(name+"/events", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		events, err := st.Events()
		require.NoError(t, err)
		require.Empty(t, events)

		for i, kind := range []models.EventKind{models.EventStepChange, models.EventNotification} {
			ev := models.SyncEvent{
				Kind:      kind,
				Payload:   map[string]string{"n": string(rune('0' + i))},
				Timestamp: time.Now().UTC().Truncate(time.Second),
				SenderID:  "dev-a",
			}
			require.NoError(t, st.AppendEvent(ev))
		}

		events, err = st.Events()
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.Equal(t, models.EventStepChange, events[0].Kind, "events keep write order")
		require.Equal(t, models.EventNotification, events[1].Kind)
	})

	t.Run(name+"/ledger", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		_, ok, err := st.LoadLedger()
		require.NoError(t, err)
		require.False(t, ok)

		ledger := models.TokenLedger{Total: 35, Earned: 35, Achievements: []models.Achievement{{ID: "first_steps", Target: 1}}}
		require.NoError(t, st.SaveLedger(ledger))

		got, ok, err := st.LoadLedger()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, ledger, got)
	})
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, "memory", func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	storeUnderTest(t, "sqlite", func(t *testing.T) Store {
		st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
		require.NoError(t, err)
		return st
	})
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore("", zerolog.Nop())
	require.Error(t, err)
}
