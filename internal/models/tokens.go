package models

import "time"

// TransactionType classifies token ledger entries.
type TransactionType string

const (
	TransactionEarn  TransactionType = "earn"
	TransactionSpend TransactionType = "spend"
	TransactionBonus TransactionType = "bonus"
)

// TokenTransaction is one ledger entry. Append-only.
type TokenTransaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type"`
	Amount      int             `json:"amount"`
	Reason      string          `json:"reason"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Achievement is a gamification milestone with a token reward on unlock.
type Achievement struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Reward      int        `json:"reward"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlockedAt,omitempty"`
	Progress    int        `json:"progress"`
	Target      int        `json:"target"`
}

// TokenLedger is the persisted token state: running balance, full history and
// achievement progress.
type TokenLedger struct {
	Total        int                `json:"total"`
	Earned       int                `json:"earned"`
	Spent        int                `json:"spent"`
	Transactions []TokenTransaction `json:"transactions"`
	Achievements []Achievement      `json:"achievements"`
}
