package tokens

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/equa-app/truthkeeper/internal/models"
	"github.com/equa-app/truthkeeper/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewLedger(st, zerolog.Nop()), st
}

func TestEarnAmounts(t *testing.T) {
	l, _ := newTestLedger(t)

	cases := []struct {
		reason Reason
		amount int
	}{
		{ReasonTruthStatement, 10},
		{ReasonQualiaMapping, 15},
		{ReasonAgreement, 25},
		{ReasonSessionCompletion, 100},
	}
	for _, tc := range cases {
		got, err := l.Earn(tc.reason, "test")
		require.NoError(t, err)
		require.Equal(t, tc.amount, got, "reward for %s", tc.reason)
	}

	_, err := l.Earn("gardening", "not a thing")
	require.Error(t, err)
}

func TestSpendAndBalance(t *testing.T) {
	l, _ := newTestLedger(t)

	require.ErrorIs(t, l.Spend(1, ReasonRewardPurchase, "broke"), ErrInsufficientBalance)

	_, err := l.Earn(ReasonAgreement, "we agreed")
	require.NoError(t, err)

	require.NoError(t, l.Spend(20, ReasonRewardPurchase, "movie night"))
	require.ErrorIs(t, l.Spend(6, ReasonRewardPurchase, "over budget"), ErrInsufficientBalance)

	total, earned, spent := l.Balance()
	require.Equal(t, 5, total)
	require.Equal(t, 25, earned)
	require.Equal(t, 20, spent)
}

func TestAchievementUnlock(t *testing.T) {
	l, _ := newTestLedger(t)

	// first_steps unlocks on the first truth statement and pays a 50 TKT bonus.
	_, err := l.Earn(ReasonTruthStatement, "first share")
	require.NoError(t, err)

	var unlocked *models.Achievement
	for _, a := range l.Achievements() {
		if a.ID == "first_steps" {
			a := a
			unlocked = &a
		}
	}
	require.NotNil(t, unlocked)
	require.True(t, unlocked.Unlocked)
	require.NotNil(t, unlocked.UnlockedAt)

	total, earned, _ := l.Balance()
	require.Equal(t, 60, total, "10 earn + 50 bonus")
	require.Equal(t, 60, earned)

	txs := l.Transactions()
	require.Len(t, txs, 2)
	require.Equal(t, models.TransactionBonus, txs[0].Type, "bonus is the newest transaction")

	// A second statement must not unlock it again.
	_, err = l.Earn(ReasonTruthStatement, "second share")
	require.NoError(t, err)
	total, _, _ = l.Balance()
	require.Equal(t, 70, total)
}

func TestAchievementProgress(t *testing.T) {
	l, _ := newTestLedger(t)

	// empathy_master needs 5 qualia mappings.
	for i := 0; i < 4; i++ {
		_, err := l.Earn(ReasonQualiaMapping, "mapping")
		require.NoError(t, err)
	}
	for _, a := range l.Achievements() {
		if a.ID == "empathy_master" {
			require.False(t, a.Unlocked)
			require.Equal(t, 4, a.Progress)
		}
	}

	_, err := l.Earn(ReasonQualiaMapping, "mapping")
	require.NoError(t, err)
	for _, a := range l.Achievements() {
		if a.ID == "empathy_master" {
			require.True(t, a.Unlocked)
		}
	}
}

func TestLedgerRestore(t *testing.T) {
	l1, st := newTestLedger(t)
	_, err := l1.Earn(ReasonAgreement, "we agreed")
	require.NoError(t, err)
	require.NoError(t, l1.Spend(10, ReasonRewardPurchase, "coffee"))

	l2 := NewLedger(st, zerolog.Nop())
	total, earned, spent := l2.Balance()
	// 25 earn + 100 breakthrough bonus - 10 spend
	require.Equal(t, 115, total)
	require.Equal(t, 125, earned)
	require.Equal(t, 10, spent)
	require.Len(t, l2.Transactions(), 3)
}
