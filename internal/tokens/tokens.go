// Package tokens keeps the gamification ledger: TKT earned for mediation
// activities, spent on rewards, plus achievement progress.
package tokens

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/equa-app/truthkeeper/internal/models"
)

var ErrInsufficientBalance = errors.New("insufficient token balance")

// Reason identifies the activity a transaction rewards.
type Reason string

const (
	ReasonTruthStatement    Reason = "truth_statement"
	ReasonQualiaMapping     Reason = "qualia_mapping"
	ReasonAgreement         Reason = "agreement"
	ReasonSessionCompletion Reason = "session_completion"
	ReasonRewardPurchase    Reason = "reward_purchase"
)

// earnTable maps activities to their TKT rewards.
var earnTable = map[Reason]int{
	ReasonTruthStatement:    10,
	ReasonQualiaMapping:     15,
	ReasonAgreement:         25,
	ReasonSessionCompletion: 100,
}

// Store is the slice of the storage contract the ledger persists through.
type Store interface {
	SaveLedger(models.TokenLedger) error
	LoadLedger() (models.TokenLedger, bool, error)
}

// Ledger tracks balances and achievements for one couple. Safe for
// concurrent use.
type Ledger struct {
	mu    sync.Mutex
	state models.TokenLedger
	store Store
	log   zerolog.Logger
}

// NewLedger restores the persisted ledger or starts a fresh one with the
// locked achievement set.
func NewLedger(st Store, log zerolog.Logger) *Ledger {
	l := &Ledger{store: st, log: log}
	if st != nil {
		if state, ok, err := st.LoadLedger(); err != nil {
			log.Warn().Err(err).Msg("failed to load token ledger")
		} else if ok {
			l.state = state
		}
	}
	if len(l.state.Achievements) == 0 {
		l.state.Achievements = defaultAchievements()
		l.persistLocked()
	}
	return l
}

// Earn credits the reward for reason and advances achievement progress.
func (l *Ledger) Earn(reason Reason, description string) (int, error) {
	amount, ok := earnTable[reason]
	if !ok {
		return 0, fmt.Errorf("no reward for reason %q", reason)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Transactions = append(l.state.Transactions, models.TokenTransaction{
		ID:          uuid.NewString(),
		Type:        models.TransactionEarn,
		Amount:      amount,
		Reason:      string(reason),
		Description: description,
		Timestamp:   time.Now().UTC(),
	})
	l.state.Earned += amount
	l.state.Total += amount
	l.checkAchievementsLocked(reason)
	l.persistLocked()

	l.log.Debug().Int("amount", amount).Str("reason", string(reason)).Msg("tokens earned")
	return amount, nil
}

// Spend debits amount, failing with ErrInsufficientBalance when the balance
// cannot cover it.
func (l *Ledger) Spend(amount int, reason Reason, description string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Total < amount {
		return ErrInsufficientBalance
	}
	l.state.Transactions = append(l.state.Transactions, models.TokenTransaction{
		ID:          uuid.NewString(),
		Type:        models.TransactionSpend,
		Amount:      amount,
		Reason:      string(reason),
		Description: description,
		Timestamp:   time.Now().UTC(),
	})
	l.state.Spent += amount
	l.state.Total -= amount
	l.persistLocked()
	return nil
}

// Balance returns (total, earned, spent).
func (l *Ledger) Balance() (int, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Total, l.state.Earned, l.state.Spent
}

// Transactions returns the history, newest first.
func (l *Ledger) Transactions() []models.TokenTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.TokenTransaction, len(l.state.Transactions))
	copy(out, l.state.Transactions)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// Achievements returns the achievement list with current progress.
func (l *Ledger) Achievements() []models.Achievement {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Achievement, len(l.state.Achievements))
	copy(out, l.state.Achievements)
	return out
}

// checkAchievementsLocked advances progress for the activity and pays out
// unlock bonuses. Callers hold l.mu.
func (l *Ledger) checkAchievementsLocked(reason Reason) {
	for i := range l.state.Achievements {
		a := &l.state.Achievements[i]
		if a.Unlocked || !achievementMatches(a.ID, reason) {
			continue
		}
		a.Progress++
		if a.Progress < a.Target {
			continue
		}
		now := time.Now().UTC()
		a.Unlocked = true
		a.UnlockedAt = &now
		l.state.Transactions = append(l.state.Transactions, models.TokenTransaction{
			ID:          uuid.NewString(),
			Type:        models.TransactionBonus,
			Amount:      a.Reward,
			Reason:      "achievement",
			Description: "Achievement unlocked: " + a.Title,
			Timestamp:   now,
		})
		l.state.Earned += a.Reward
		l.state.Total += a.Reward
		l.log.Info().Str("achievement", a.ID).Int("reward", a.Reward).Msg("achievement unlocked")
	}
}

func achievementMatches(id string, reason Reason) bool {
	switch id {
	case "first_steps":
		return reason == ReasonTruthStatement
	case "empathy_master":
		return reason == ReasonQualiaMapping
	case "breakthrough":
		return reason == ReasonAgreement
	case "forgiveness_champion":
		return reason == ReasonSessionCompletion
	default:
		return false
	}
}

func (l *Ledger) persistLocked() {
	if l.store == nil {
		return
	}
	if err := l.store.SaveLedger(l.state); err != nil {
		l.log.Warn().Err(err).Msg("failed to persist token ledger")
	}
}

func defaultAchievements() []models.Achievement {
	return []models.Achievement{
		{ID: "first_steps", Title: "First Steps", Description: "Share your first truth statement", Reward: 50, Target: 1},
		{ID: "breakthrough", Title: "Breakthrough", Description: "Reach your first agreement", Reward: 100, Target: 1},
		{ID: "empathy_master", Title: "Empathy Master", Description: "Complete 5 qualia mappings", Reward: 150, Target: 5},
		{ID: "forgiveness_champion", Title: "Forgiveness Champion", Description: "Complete the REACH forgiveness process", Reward: 200, Target: 1},
	}
}
