package services

import (
	"context"
	"guardian/models"
	"time"
)

// emergencySession is the state of one triggered emergency. Every field is
// guarded by the sequencer mutex except the ones fixed at creation
// (id, situation, profile, contactCount, startedAt, ctx).
type emergencySession struct {
	id           string
	situation    string
	profile      models.UserProfile
	contactCount int
	startedAt    time.Time

	active       bool
	initializing bool
	status       models.ActionState
	script       string
	coords       *models.Coordinates
	usedFallback bool
	logs         []models.LogEntry

	media     MediaHandle
	recorder  MediaRecorder
	recording bool
	chunks    int
	bytes     int64

	timers *timerGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func newEmergencySession(id, situation string, profile models.UserProfile, contacts []models.Contact, now time.Time) *emergencySession {
	ctx, cancel := context.WithCancel(context.Background())
	return &emergencySession{
		id:           id,
		situation:    situation,
		profile:      profile,
		contactCount: len(contacts),
		startedAt:    now,
		active:       true,
		initializing: true,
		status:       models.DefaultActionState(),
		logs:         []models.LogEntry{},
		timers:       newTimerGroup(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (sess *emergencySession) snapshot() models.SessionSnapshot {
	snap := models.SessionSnapshot{
		SessionID:            sess.id,
		Active:               sess.active,
		Initializing:         sess.initializing,
		Status:               sess.status,
		Script:               sess.script,
		Situation:            sess.situation,
		UsedFallbackLocation: sess.usedFallback,
		Recording:            sess.recording,
		Responder:            sess.profile.IsResponder,
		Logs:                 make([]models.LogEntry, len(sess.logs)),
		StartedAt:            sess.startedAt,
	}
	copy(snap.Logs, sess.logs)

	if sess.status.HospitalData != nil {
		hospital := *sess.status.HospitalData
		snap.Status.HospitalData = &hospital
	}
	if sess.coords != nil {
		coords := *sess.coords
		snap.Coordinates = &coords
	}
	return snap
}

// record builds the archive entry from the session as it was when it ended.
func (sess *emergencySession) record(reason string, endedAt time.Time) *models.IncidentRecord {
	snap := sess.snapshot()
	return &models.IncidentRecord{
		SessionID:            sess.id,
		Situation:            sess.situation,
		Script:               snap.Script,
		Coordinates:          snap.Coordinates,
		UsedFallbackLocation: snap.UsedFallbackLocation,
		FinalStatus:          snap.Status,
		Logs:                 snap.Logs,
		RecordedChunks:       sess.chunks,
		RecordedBytes:        sess.bytes,
		EndReason:            reason,
		StartedAt:            sess.startedAt,
		EndedAt:              endedAt,
	}
}

func idleSnapshot() models.SessionSnapshot {
	return models.SessionSnapshot{
		Status: models.DefaultActionState(),
		Logs:   []models.LogEntry{},
	}
}
