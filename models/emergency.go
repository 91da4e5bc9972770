package models

import (
	"time"
)

// DefaultSituation is used when the user triggers without describing anything.
const DefaultSituation = "General Emergency"

// FallbackCoordinates is the demo location used whenever the device cannot
// produce a fix. It is not a safety fallback and is always flagged in the log.
var FallbackCoordinates = Coordinates{Latitude: 37.7749, Longitude: -122.4194}

type Coordinates struct {
	Latitude  float64 `json:"latitude" bson:"latitude" validate:"coordinate"`
	Longitude float64 `json:"longitude" bson:"longitude" validate:"coordinate"`
}

type HospitalInfo struct {
	Name    string `json:"name" bson:"name"`
	Address string `json:"address" bson:"address"`
}

// =================== STEPS ===================

type StepName string

const (
	StepCall911        StepName = "call911"
	StepLocateHospital StepName = "locateHospital"
	StepNotifyContacts StepName = "notifyContacts"
	StepPageResponders StepName = "pageResponders"
)

// AllSteps lists the tracked steps in display order.
var AllSteps = []StepName{StepCall911, StepLocateHospital, StepNotifyContacts, StepPageResponders}

type StepStatus string

const (
	StepStatusIdle       StepStatus = "IDLE"
	StepStatusPending    StepStatus = "PENDING"
	StepStatusInProgress StepStatus = "IN_PROGRESS"
	StepStatusCompleted  StepStatus = "COMPLETED"
	StepStatusFailed     StepStatus = "FAILED"
)

func (s StepStatus) rank() int {
	switch s {
	case StepStatusPending:
		return 1
	case StepStatusInProgress:
		return 2
	case StepStatusCompleted, StepStatusFailed:
		return 3
	default:
		return 0
	}
}

// CanAdvanceTo reports whether moving from s to next keeps the step moving
// forward. Terminal states never advance.
func (s StepStatus) CanAdvanceTo(next StepStatus) bool {
	return next.rank() > s.rank()
}

func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// ActionState is the step status table rendered by the live view.
type ActionState struct {
	Call911        StepStatus    `json:"call911" bson:"call911"`
	LocateHospital StepStatus    `json:"locateHospital" bson:"locateHospital"`
	NotifyContacts StepStatus    `json:"notifyContacts" bson:"notifyContacts"`
	PageResponders StepStatus    `json:"pageResponders" bson:"pageResponders"`
	HospitalData   *HospitalInfo `json:"hospitalData,omitempty" bson:"hospitalData,omitempty"`
}

func DefaultActionState() ActionState {
	return ActionState{
		Call911:        StepStatusIdle,
		LocateHospital: StepStatusIdle,
		NotifyContacts: StepStatusIdle,
		PageResponders: StepStatusIdle,
	}
}

func (a ActionState) Get(step StepName) StepStatus {
	switch step {
	case StepCall911:
		return a.Call911
	case StepLocateHospital:
		return a.LocateHospital
	case StepNotifyContacts:
		return a.NotifyContacts
	case StepPageResponders:
		return a.PageResponders
	}
	return StepStatusIdle
}

// Advance moves a step forward. It returns false and leaves the table
// untouched when the transition would go backwards.
func (a *ActionState) Advance(step StepName, next StepStatus) bool {
	if !a.Get(step).CanAdvanceTo(next) {
		return false
	}
	switch step {
	case StepCall911:
		a.Call911 = next
	case StepLocateHospital:
		a.LocateHospital = next
	case StepNotifyContacts:
		a.NotifyContacts = next
	case StepPageResponders:
		a.PageResponders = next
	default:
		return false
	}
	return true
}

// =================== LOGS ===================

type LogSource string

const (
	LogSourceSystem LogSource = "SYSTEM"
	LogSourceAI     LogSource = "AI"
	LogSourceUser   LogSource = "USER"
)

type LogEntry struct {
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Message   string    `json:"message" bson:"message"`
	Source    LogSource `json:"source" bson:"source"`
}

// =================== SESSION ===================

// SessionSnapshot is a read-only copy of the sequencer state. Logs are in
// the order they were written.
type SessionSnapshot struct {
	Version              uint64       `json:"version"`
	SessionID            string       `json:"sessionId,omitempty"`
	Active               bool         `json:"active"`
	Initializing         bool         `json:"initializing"`
	Status               ActionState  `json:"status"`
	Script               string       `json:"script"`
	Situation            string       `json:"situation,omitempty"`
	Coordinates          *Coordinates `json:"coordinates,omitempty"`
	UsedFallbackLocation bool         `json:"usedFallbackLocation"`
	Recording            bool         `json:"recording"`
	Responder            bool         `json:"responder"`
	Logs                 []LogEntry   `json:"logs"`
	StartedAt            time.Time    `json:"startedAt,omitempty"`
}

// DisplayLogs returns the log stream newest-first.
func (s SessionSnapshot) DisplayLogs() []LogEntry {
	out := make([]LogEntry, len(s.Logs))
	for i, entry := range s.Logs {
		out[len(s.Logs)-1-i] = entry
	}
	return out
}

// ForDisplay returns a copy with the log stream newest-first.
func (s SessionSnapshot) ForDisplay() SessionSnapshot {
	s.Logs = s.DisplayLogs()
	return s
}

// DispatchComplete reports whether every simulated dispatch step finished.
func (s SessionSnapshot) DispatchComplete() bool {
	return s.Status.Call911.IsTerminal() &&
		s.Status.NotifyContacts.IsTerminal() &&
		s.Status.PageResponders.IsTerminal()
}

// =================== REQUESTS ===================

type TriggerEmergencyRequest struct {
	Situation string `json:"situation" validate:"max=2000"`
}

type TriggerEmergencyResponse struct {
	SessionID string `json:"sessionId"`
	Situation string `json:"situation"`
}
