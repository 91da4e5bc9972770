package services

import (
	"context"
	"guardian/models"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchedule = DispatchSchedule{
	Call911:        20 * time.Millisecond,
	NotifyContacts: 60 * time.Millisecond,
	PageResponders: 100 * time.Millisecond,
}

var testCoords = models.Coordinates{Latitude: 40.7128, Longitude: -74.006}

type harness struct {
	seq      *EmergencySequencer
	location *fakeLocation
	advisor  *fakeAdvisor
	audio    *fakeAudio
	archiver *fakeArchiver
	observer *snapshotRecorder
}

func newHarness(t *testing.T, location *fakeLocation, opts ...func(*SequencerConfig)) *harness {
	t.Helper()

	h := &harness{
		location: location,
		advisor:  newFakeAdvisor(),
		audio:    &fakeAudio{},
		archiver: &fakeArchiver{},
		observer: &snapshotRecorder{},
	}

	cfg := SequencerConfig{
		Location:   h.location,
		Scripts:    h.advisor,
		Facilities: h.advisor,
		Voice:      h.advisor,
		Audio:      h.audio,
		Archiver:   h.archiver,
		Profiles: staticProfiles{
			profile: models.UserProfile{Name: "Ada", MedicalConditions: "Diabetes", Address: "12 Elm St"},
			contacts: []models.Contact{
				{ID: "c1", Name: "Grace"},
				{ID: "c2", Name: "Alan"},
			},
		},
		Schedule: testSchedule,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h.seq = NewEmergencySequencer(cfg)
	h.seq.Subscribe(h.observer)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, h.seq.Shutdown(ctx))
	})
	return h
}

func (h *harness) waitFor(t *testing.T, cond func(models.SessionSnapshot) bool) models.SessionSnapshot {
	t.Helper()
	var snap models.SessionSnapshot
	require.Eventually(t, func() bool {
		snap = h.seq.Snapshot()
		return cond(snap)
	}, 3*time.Second, 5*time.Millisecond)
	return snap
}

// waitDelivered waits until observers have seen a snapshot matching cond.
func (h *harness) waitDelivered(t *testing.T, cond func(models.SessionSnapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		snaps := h.observer.All()
		return len(snaps) > 0 && cond(snaps[len(snaps)-1])
	}, 3*time.Second, 5*time.Millisecond)
}

func dispatchDone(snap models.SessionSnapshot) bool {
	return snap.Active && snap.DispatchComplete()
}

func logIndex(logs []models.LogEntry, substr string) int {
	for i, entry := range logs {
		if strings.Contains(entry.Message, substr) {
			return i
		}
	}
	return -1
}

func TestTriggerScenarioLogsInOrder(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})

	id := h.seq.Trigger("chest pain", nil)
	require.NotEmpty(t, id)

	snap := h.waitFor(t, dispatchDone)

	ordered := []string{
		"Emergency Triggered",
		"Acquiring high-accuracy geolocation",
		`Generating emergency script for: "chest pain"`,
		"Facility located: Mercy General",
	}
	last := -1
	for _, msg := range ordered {
		idx := logIndex(snap.Logs, msg)
		require.NotEqual(t, -1, idx, "missing log %q", msg)
		assert.Greater(t, idx, last, "log %q out of order", msg)
		last = idx
	}
	for _, msg := range []string{
		"TEST MODE: 911 dialing skipped",
		"Dispatched SMS/Email to 2 emergency contacts.",
		"Broadcasted alert to Guardian Community Network",
		"3 registered responders acknowledged receipt.",
	} {
		assert.Greater(t, logIndex(snap.Logs, msg), last, "dispatch log %q", msg)
	}

	assert.Equal(t, id, snap.SessionID)
	assert.False(t, snap.Initializing)
	assert.NotEmpty(t, snap.Script)
	require.NotNil(t, snap.Status.HospitalData)
	assert.Equal(t, h.advisor.facility, *snap.Status.HospitalData)
	require.NotNil(t, snap.Coordinates)
	assert.Equal(t, testCoords, *snap.Coordinates)
	assert.False(t, snap.UsedFallbackLocation)
	assert.Equal(t, models.StepStatusCompleted, snap.Status.LocateHospital)

	require.Eventually(t, func() bool {
		played, _, _ := h.audio.counts()
		return played == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTriggerEmptySituationUsesDefault(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})

	h.seq.Trigger("   ", nil)
	snap := h.waitFor(t, dispatchDone)

	assert.Equal(t, models.DefaultSituation, snap.Situation)
	for _, call := range h.advisor.Calls() {
		if call.method == "script" || call.method == "audio" {
			assert.Equal(t, "General Emergency", call.situation)
		}
	}
}

func TestTriggerKeepsSituationText(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})

	h.seq.Trigger("  Chest pain, left arm numb ", nil)
	snap := h.waitFor(t, dispatchDone)

	assert.Equal(t, "  Chest pain, left arm numb ", snap.Situation)
	for _, call := range h.advisor.Calls() {
		if call.method == "script" {
			assert.Equal(t, "  Chest pain, left arm numb ", call.situation)
		}
	}
}

func TestStalledProfileStoreDoesNotHoldTrigger(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords}, func(cfg *SequencerConfig) {
		cfg.Profiles = stalledProfiles{}
		cfg.ProfileTimeout = 50 * time.Millisecond
	})

	start := time.Now()
	id := h.seq.Trigger("fall", nil)
	assert.Less(t, time.Since(start), time.Second)
	require.NotEmpty(t, id)

	snap := h.seq.Snapshot()
	assert.NotEqual(t, -1, logIndex(snap.Logs, "Emergency Triggered"))

	snap = h.waitFor(t, dispatchDone)
	assert.Contains(t, snap.Script, models.DefaultProfile().Name)
	assert.NotEqual(t, -1, logIndex(snap.Logs, "Dispatched SMS/Email to 0 emergency contacts."))
}

func TestLocationFailureUsesFallbackBeforeAdvisors(t *testing.T) {
	h := newHarness(t, &fakeLocation{err: NewLocationError(LocationPermissionDenied, "")})

	h.seq.Trigger("fall", nil)
	snap := h.waitFor(t, dispatchDone)

	failed := logIndex(snap.Logs, "Location failed (User denied location permission). Using fallback (Demo Mode).")
	require.NotEqual(t, -1, failed)
	assert.Less(t, failed, logIndex(snap.Logs, "Generating emergency script"))

	assert.True(t, snap.UsedFallbackLocation)
	require.NotNil(t, snap.Coordinates)
	assert.Equal(t, models.FallbackCoordinates, *snap.Coordinates)

	calls := h.advisor.Calls()
	require.NotEmpty(t, calls)
	for _, call := range calls {
		if call.method == "audio" {
			continue
		}
		assert.Equal(t, 37.7749, call.coords.Latitude)
		assert.Equal(t, -122.4194, call.coords.Longitude)
		assert.False(t, call.at.Before(snap.Logs[failed].Timestamp), "%s issued before the fallback was logged", call.method)
	}
}

func TestLocationTimeoutIsEnforced(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, &fakeLocation{coords: testCoords, release: release}, func(cfg *SequencerConfig) {
		cfg.LocationOptions = PositionOptions{HighAccuracy: true, Timeout: 30 * time.Millisecond}
	})
	defer close(release)

	h.seq.Trigger("stroke", nil)
	snap := h.waitFor(t, func(s models.SessionSnapshot) bool { return s.UsedFallbackLocation })

	assert.NotEqual(t, -1, logIndex(snap.Logs, "Location failed (The request to get user location timed out)"))
}

func TestInvalidCoordinatesFallBack(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: models.Coordinates{Latitude: 123, Longitude: 0}})

	h.seq.Trigger("fall", nil)
	snap := h.waitFor(t, dispatchDone)

	assert.True(t, snap.UsedFallbackLocation)
	assert.NotEqual(t, -1, logIndex(snap.Logs, "Location information is unavailable"))
}

func TestLocateHospitalTransitionsOnce(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})

	var atRequest models.StepStatus
	h.advisor.onFacility = func() {
		atRequest = h.seq.Snapshot().Status.LocateHospital
	}

	id := h.seq.Trigger("burn", nil)
	h.waitDelivered(t, dispatchDone)

	assert.Equal(t, models.StepStatusInProgress, atRequest)

	var seen []models.StepStatus
	for _, snap := range h.observer.All() {
		if snap.SessionID != id {
			continue
		}
		status := snap.Status.LocateHospital
		if len(seen) == 0 || seen[len(seen)-1] != status {
			seen = append(seen, status)
		}
	}
	assert.Equal(t, []models.StepStatus{
		models.StepStatusIdle,
		models.StepStatusInProgress,
		models.StepStatusCompleted,
	}, seen)
}

func TestDispatchStepsFollowSchedule(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})

	id := h.seq.Trigger("allergic reaction", nil)
	h.waitDelivered(t, dispatchDone)
	snap := h.seq.Snapshot()

	steps := []models.StepName{models.StepCall911, models.StepNotifyContacts, models.StepPageResponders}
	for _, step := range steps {
		inProgress, completed := -1, -1
		for i, s := range h.observer.All() {
			if s.SessionID != id {
				continue
			}
			switch s.Status.Get(step) {
			case models.StepStatusInProgress:
				if inProgress == -1 {
					inProgress = i
				}
			case models.StepStatusCompleted:
				if completed == -1 {
					completed = i
				}
			}
		}
		require.NotEqual(t, -1, inProgress, "%s never in progress", step)
		require.NotEqual(t, -1, completed, "%s never completed", step)
		assert.Less(t, inProgress, completed, step)
	}

	start := snap.Logs[logIndex(snap.Logs, "Facility located")].Timestamp
	call911 := snap.Logs[logIndex(snap.Logs, "TEST MODE: 911")].Timestamp
	notify := snap.Logs[logIndex(snap.Logs, "Dispatched SMS/Email")].Timestamp
	page := snap.Logs[logIndex(snap.Logs, "Broadcasted alert")].Timestamp

	assert.GreaterOrEqual(t, call911.Sub(start), testSchedule.Call911)
	assert.GreaterOrEqual(t, notify.Sub(start), testSchedule.NotifyContacts)
	assert.GreaterOrEqual(t, page.Sub(start), testSchedule.PageResponders)
	assert.True(t, call911.Before(notify))
	assert.True(t, notify.Before(page))
}

func TestCancelBeforeLocationResolves(t *testing.T) {
	release := make(chan struct{})
	location := &fakeLocation{coords: testCoords, release: release}
	h := newHarness(t, location)

	id := h.seq.Trigger("chest pain", nil)
	require.Eventually(t, func() bool {
		location.mu.Lock()
		defer location.mu.Unlock()
		return location.calls == 1
	}, time.Second, 5*time.Millisecond)

	h.seq.Cancel()

	snap := h.seq.Snapshot()
	assert.False(t, snap.Active)
	assert.Empty(t, snap.SessionID)
	assert.Empty(t, snap.Logs)
	for _, step := range models.AllSteps {
		assert.Equal(t, models.StepStatusIdle, snap.Status.Get(step), step)
	}
	delivered := h.observer.Len()

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.seq.Shutdown(ctx))

	assert.Equal(t, delivered, h.observer.Len())
	assert.Empty(t, h.advisor.Calls())

	records := h.archiver.Records()
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].SessionID)
	assert.Equal(t, models.IncidentEndCancelled, records[0].EndReason)
}

func TestCancelDuringDispatchSuppressesTimers(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})

	h.seq.Trigger("fall", nil)
	h.waitFor(t, func(s models.SessionSnapshot) bool {
		return s.Status.Call911 == models.StepStatusCompleted
	})

	h.seq.Cancel()
	delivered := h.observer.Len()

	time.Sleep(testSchedule.PageResponders + 50*time.Millisecond)

	assert.Equal(t, delivered, h.observer.Len())
	assert.False(t, h.seq.Snapshot().Active)

	records := h.archiver.Records()
	require.Len(t, records, 1)
	assert.Equal(t, models.StepStatusCompleted, records[0].FinalStatus.Call911)
	assert.Equal(t, models.StepStatusInProgress, records[0].FinalStatus.PageResponders)
}

func TestCancelStopsAudio(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})

	h.seq.Trigger("panic attack", nil)
	require.Eventually(t, func() bool {
		played, _, _ := h.audio.counts()
		return played == 1
	}, 3*time.Second, 5*time.Millisecond)

	h.seq.Cancel()

	_, stopped, resumed := h.audio.counts()
	assert.Equal(t, 1, stopped)
	assert.Equal(t, 1, resumed)
}

func TestCancelTwiceIsNoop(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})

	h.seq.Trigger("fall", nil)
	h.waitFor(t, dispatchDone)

	h.seq.Cancel()
	first := h.seq.Snapshot()
	delivered := h.observer.Len()

	h.seq.Cancel()

	assert.Equal(t, first, h.seq.Snapshot())
	assert.Equal(t, delivered, h.observer.Len())
	assert.Len(t, h.archiver.Records(), 1)
	_, stopped, _ := h.audio.counts()
	assert.Equal(t, 1, stopped)
}

func TestCancelWithoutSession(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})

	h.seq.Cancel()

	assert.Zero(t, h.observer.Len())
	assert.Empty(t, h.archiver.Records())
}

func TestTriggerWhileActiveSupersedes(t *testing.T) {
	release := make(chan struct{})
	location := &fakeLocation{coords: testCoords, release: release}
	h := newHarness(t, location)

	first := h.seq.Trigger("first incident", nil)
	require.Eventually(t, func() bool {
		location.mu.Lock()
		defer location.mu.Unlock()
		return location.calls == 1
	}, time.Second, 5*time.Millisecond)

	second := h.seq.Trigger("second incident", nil)
	require.NotEqual(t, first, second)
	close(release)

	snap := h.waitFor(t, dispatchDone)
	assert.Equal(t, second, snap.SessionID)
	assert.Equal(t, "second incident", snap.Situation)
	assert.Contains(t, snap.Logs[0].Message, "Emergency Triggered")
	assert.Equal(t, -1, logIndex(snap.Logs, "first incident"))

	records := h.archiver.Records()
	require.Len(t, records, 1)
	assert.Equal(t, first, records[0].SessionID)
	assert.Equal(t, models.IncidentEndSuperseded, records[0].EndReason)

	for _, call := range h.advisor.Calls() {
		assert.NotEqual(t, "first incident", call.situation)
	}
}

func TestAdvisorPanicEndsInitialization(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})
	h.advisor.panicFacility = true

	h.seq.Trigger("fall", nil)
	snap := h.waitFor(t, func(s models.SessionSnapshot) bool {
		return logIndex(s.Logs, "Critical Init Error") != -1
	})

	assert.True(t, snap.Active)
	assert.False(t, snap.Initializing)
	assert.Equal(t, models.StepStatusIdle, snap.Status.Call911)
	assert.Equal(t, models.StepStatusInProgress, snap.Status.LocateHospital)
	assert.Empty(t, snap.Script)
}

func TestAudioFailureIsSkipped(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})
	h.advisor.audioErr = ErrNoAudioData
	h.advisor.audio = nil

	h.seq.Trigger("fall", nil)
	h.waitFor(t, dispatchDone)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.seq.Shutdown(ctx))

	played, _, _ := h.audio.counts()
	assert.Zero(t, played)
}

func TestCalmingAudioPanicIsContained(t *testing.T) {
	metrics := &countingMetrics{}
	h := newHarness(t, &fakeLocation{coords: testCoords}, func(cfg *SequencerConfig) {
		cfg.Metrics = metrics
	})
	h.advisor.panicAudio = true

	h.seq.Trigger("fall", nil)
	h.waitFor(t, dispatchDone)
	require.Eventually(t, func() bool {
		for _, call := range h.advisor.Calls() {
			if call.method == "audio" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.seq.Shutdown(ctx))

	assert.Equal(t, []initResult{{failed: false}}, metrics.Inits())
	for _, snap := range h.observer.All() {
		assert.Equal(t, -1, logIndex(snap.Logs, "Critical Init Error"))
	}
	played, _, _ := h.audio.counts()
	assert.Zero(t, played)
}

func TestTriggerWithDeviceStreamRecords(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})

	var (
		recordingChanges []bool
		stoppedKinds     []string
	)
	stream := NewDeviceStream([]string{"video", "audio"}, DeviceStreamHooks{
		OnRecordingChange: func(recording bool, _ time.Duration) {
			recordingChanges = append(recordingChanges, recording)
		},
		OnTrackStop: func(kind string) {
			stoppedKinds = append(stoppedKinds, kind)
		},
	})

	id := h.seq.Trigger("intruder", stream)
	snap := h.seq.Snapshot()
	assert.True(t, snap.Recording)
	assert.NotEqual(t, -1, logIndex(snap.Logs, "Video recording started."))

	assert.True(t, stream.Push([]byte("abc")))
	h.seq.Cancel()
	assert.False(t, stream.Push([]byte("late")))

	assert.Equal(t, []bool{true, false}, recordingChanges)
	assert.ElementsMatch(t, []string{"video", "audio"}, stoppedKinds)
	assert.False(t, stream.Live())

	records := h.archiver.Records()
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].SessionID)
	assert.Equal(t, 1, records[0].RecordedChunks)
	assert.Equal(t, int64(3), records[0].RecordedBytes)
}

func TestRecordingFailureIsLogged(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})
	media := &brokenMedia{tracks: []*countingTrack{{kind: "video"}, {kind: "audio"}}}

	h.seq.Trigger("fall", media)
	snap := h.seq.Snapshot()

	assert.False(t, snap.Recording)
	assert.NotEqual(t, -1, logIndex(snap.Logs, "Recording failed to start (recorder broken)."))

	h.seq.Cancel()
	for _, track := range media.tracks {
		assert.Equal(t, 1, track.Stopped(), track.kind)
	}
}

func TestSnapshotsAreDeliveredInOrder(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})

	h.seq.Trigger("fall", nil)
	h.waitFor(t, dispatchDone)
	h.seq.Cancel()

	snaps := h.observer.All()
	require.NotEmpty(t, snaps)
	for i := 1; i < len(snaps); i++ {
		assert.Greater(t, snaps[i].Version, snaps[i-1].Version)
	}
	assert.False(t, snaps[len(snaps)-1].Active)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})
	extra := &snapshotRecorder{}
	unsubscribe := h.seq.Subscribe(extra)

	h.seq.Trigger("fall", nil)
	require.NotZero(t, extra.Len())

	unsubscribe()
	seen := extra.Len()
	h.waitFor(t, dispatchDone)

	assert.Equal(t, seen, extra.Len())
}

func TestShutdownRejectsTrigger(t *testing.T) {
	h := newHarness(t, &fakeLocation{coords: testCoords})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.seq.Shutdown(ctx))

	assert.Empty(t, h.seq.Trigger("fall", nil))
	assert.False(t, h.seq.Snapshot().Active)
}

func TestTimerGroupStop(t *testing.T) {
	g := newTimerGroup()
	fired := make(chan struct{}, 2)

	g.after(time.Hour, func() { fired <- struct{}{} })
	g.after(time.Hour, func() { fired <- struct{}{} })
	assert.Equal(t, 2, g.len())

	assert.Equal(t, 2, g.stop())
	g.after(time.Millisecond, func() { fired <- struct{}{} })
	assert.Zero(t, g.len())

	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, fired)
}
