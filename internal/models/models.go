// Package models holds the shared type definitions for the TruthKeeper core:
// the guided-journey steps, the two partners, the working conflict session
// record, and the multiplayer pairing types.
package models

import (
	"time"
)

// Step is a position in the fixed linear journey.
type Step string

const (
	StepOnboarding  Step = "onboarding"
	StepPact        Step = "pact"
	StepConflict    Step = "conflict"
	StepTruth       Step = "truth"
	StepMediation   Step = "mediation"
	StepPersuasion  Step = "persuasion"
	StepReframing   Step = "reframing"
	StepQualia      Step = "qualia"
	StepForgiveness Step = "forgiveness"
	StepSuccess     Step = "success"
)

// StepOrder is the documented journey sequence, first to last.
var StepOrder = []Step{
	StepOnboarding,
	StepPact,
	StepConflict,
	StepTruth,
	StepMediation,
	StepPersuasion,
	StepReframing,
	StepQualia,
	StepForgiveness,
	StepSuccess,
}

// Valid reports whether s is one of the ten journey steps.
func (s Step) Valid() bool {
	for _, known := range StepOrder {
		if s == known {
			return true
		}
	}
	return false
}

// Index returns the position of s in StepOrder, or -1 for unknown steps.
func (s Step) Index() int {
	for i, known := range StepOrder {
		if s == known {
			return i
		}
	}
	return -1
}

// Phase is the active pillar of a running conflict session, a subset of Step.
type Phase string

const (
	PhaseTruth       Phase = "truth"
	PhaseMediation   Phase = "mediation"
	PhasePersuasion  Phase = "persuasion"
	PhaseReframing   Phase = "reframing"
	PhaseQualia      Phase = "qualia"
	PhaseForgiveness Phase = "forgiveness"
)

// Phases lists the session pillars in journey order.
var Phases = []Phase{
	PhaseTruth,
	PhaseMediation,
	PhasePersuasion,
	PhaseReframing,
	PhaseQualia,
	PhaseForgiveness,
}

func (p Phase) Valid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// AttachmentStyle is the optional attachment classification captured during
// onboarding.
type AttachmentStyle string

const (
	AttachmentSecure   AttachmentStyle = "secure"
	AttachmentAnxious  AttachmentStyle = "anxious"
	AttachmentAvoidant AttachmentStyle = "avoidant"
	AttachmentFearful  AttachmentStyle = "fearful"
)

// Partner is one of the two fixed participants. Immutable once a session has
// started.
type Partner struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	WorldID         string          `json:"worldId,omitempty"`
	AttachmentStyle AttachmentStyle `json:"attachmentStyle,omitempty"`
}

// TruthStatement is one partner's statement during the truth phase.
// Append-only; only Verified and Commentary change after creation.
type TruthStatement struct {
	ID         string    `json:"id"`
	PartnerID  string    `json:"partnerId"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Verified   bool      `json:"verified"`
	Commentary string    `json:"commentary,omitempty"`
}

// BodyZones is the fixed vocabulary for qualia body mapping.
var BodyZones = []string{"head", "throat", "chest", "stomach", "hands", "legs"}

// QualiaEvent is a single felt-sense data point. Append-only.
type QualiaEvent struct {
	ID        string    `json:"id"`
	PartnerID string    `json:"partnerId"`
	Valence   int       `json:"valence"` // -5 to +5
	Arousal   int       `json:"arousal"` // 0 to 100
	BodyZone  string    `json:"bodyZone"`
	Metaphor  string    `json:"metaphor"`
	Timestamp time.Time `json:"timestamp"`
}

// Agreement is a co-signed commitment. Append-only.
type Agreement struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SignedBy  []string  `json:"signedBy"`
	Timestamp time.Time `json:"timestamp"`
}

// ConflictSession is the working record of one mediation pass. Created when
// the pact is signed, held in memory only, discarded on reset.
type ConflictSession struct {
	ID              string           `json:"id"`
	StartTime       time.Time        `json:"startTime"`
	Partners        [2]Partner       `json:"partners"`
	CurrentPhase    Phase            `json:"currentPhase"`
	TruthStatements []TruthStatement `json:"truthStatements"`
	QualiaEvents    []QualiaEvent    `json:"qualiaEvents"`
	Agreements      []Agreement      `json:"agreements"`
}

// Snapshot is the subset of state-machine state that survives a restart.
type Snapshot struct {
	Step     Step       `json:"step"`
	Partners [2]Partner `json:"partners"`
	DarkMode bool       `json:"darkMode"`
}

// Role identifies which partner slot a device occupies.
type Role string

const (
	RoleA    Role = "A"
	RoleB    Role = "B"
	RoleNone Role = ""
)

// PairPartner is one slot of a multiplayer session record.
type PairPartner struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DeviceID    string `json:"deviceId"`
	IsConnected bool   `json:"isConnected"`
}

// SharedState is the closed set of values the two devices keep loosely in
// sync. It replaces the open key-value bag of the prototype so drift is
// caught at compile time.
type SharedState struct {
	Version             int    `json:"version"`
	ConflictDescription string `json:"conflictDescription,omitempty"`
	PactSignedA         bool   `json:"pactSignedA"`
	PactSignedB         bool   `json:"pactSignedB"`
	ActivePrompt        string `json:"activePrompt,omitempty"`
}

// MultiplayerSession is the shared pairing record. Last writer wins; there is
// no isolation between the two devices.
type MultiplayerSession struct {
	ID             string      `json:"id"`
	PartnerA       PairPartner `json:"partnerA"`
	PartnerB       PairPartner `json:"partnerB"`
	CurrentStep    Step        `json:"currentStep"`
	CurrentSpeaker Role        `json:"currentSpeaker"`
	Shared         SharedState `json:"shared"`
	CreatedAt      time.Time   `json:"createdAt"`
	LastActivity   time.Time   `json:"lastActivity"`
}

// EventKind tags entries in the shared sync event log.
type EventKind string

const (
	EventStepChange    EventKind = "step_change"
	EventSpeakerChange EventKind = "speaker_change"
	EventDataUpdate    EventKind = "data_update"
	EventPartnerAction EventKind = "partner_action"
	EventNotification  EventKind = "notification"
)

// SyncEvent is one entry in the shared append-only event log. Delivery is
// best effort: polled, windowed, and never deduplicated.
type SyncEvent struct {
	Kind      EventKind         `json:"type"`
	Payload   map[string]string `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
	SenderID  string            `json:"senderId"`
}
