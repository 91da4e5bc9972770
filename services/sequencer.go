package services

import (
	"context"
	"errors"
	"fmt"
	"guardian/models"
	"guardian/utils"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SessionObserver receives a snapshot after every state change, in order.
// Observers run on the goroutine that made the change and must not call
// Trigger or Cancel.
type SessionObserver interface {
	OnSessionUpdate(snapshot models.SessionSnapshot)
}

// SessionArchiver takes finished sessions. It must not block.
type SessionArchiver interface {
	Archive(record *models.IncidentRecord) error
}

// AudioController is the playback surface the sequencer drives.
type AudioController interface {
	Play(data []byte)
	Stop()
	Resume()
}

// SequencerMetrics is notified about session lifecycle events.
type SequencerMetrics interface {
	SessionStarted()
	SessionEnded(reason string, duration time.Duration)
	LocationResolved(fallback bool, kind string)
	StepCompleted(step models.StepName)
	InitFinished(duration time.Duration, failed bool)
}

// Coordinator is the command surface used by controllers and the socket hub.
type Coordinator interface {
	Trigger(situation string, media MediaHandle) string
	Cancel()
	Snapshot() models.SessionSnapshot
}

type SequencerConfig struct {
	Location   LocationProvider
	Scripts    ScriptWriter
	Facilities FacilityLocator
	Voice      CalmingVoice
	Audio      AudioController
	Profiles   ProfileSource
	Archiver   SessionArchiver
	Metrics    SequencerMetrics

	Schedule           DispatchSchedule
	LocationOptions    PositionOptions
	RecordingTimeslice time.Duration
	ProfileTimeout     time.Duration
}

// DefaultProfileTimeout bounds the profile read at trigger time.
const DefaultProfileTimeout = time.Second

var errSessionEnded = errors.New("emergency session ended")

// EmergencySequencer drives one emergency at a time: location, the parallel
// script and facility requests, the simulated dispatch, and calming audio.
type EmergencySequencer struct {
	location   LocationProvider
	scripts    ScriptWriter
	facilities FacilityLocator
	voice      CalmingVoice
	audio      AudioController
	profiles   ProfileSource
	archiver   SessionArchiver
	metrics    SequencerMetrics

	schedule        DispatchSchedule
	locationOptions PositionOptions
	timeslice       time.Duration
	profileTimeout  time.Duration

	mu      sync.Mutex
	session *emergencySession
	version uint64
	closed  bool

	obsMu          sync.RWMutex
	observers      map[int]SessionObserver
	nextObserverID int

	deliverMu     sync.Mutex
	lastDelivered uint64

	wg sync.WaitGroup
}

func NewEmergencySequencer(cfg SequencerConfig) *EmergencySequencer {
	offline := NewOfflineAdvisoryService()

	s := &EmergencySequencer{
		location:        cfg.Location,
		scripts:         cfg.Scripts,
		facilities:      cfg.Facilities,
		voice:           cfg.Voice,
		audio:           cfg.Audio,
		profiles:        cfg.Profiles,
		archiver:        cfg.Archiver,
		metrics:         cfg.Metrics,
		schedule:        cfg.Schedule,
		locationOptions: cfg.LocationOptions,
		timeslice:       cfg.RecordingTimeslice,
		profileTimeout:  cfg.ProfileTimeout,
		observers:       make(map[int]SessionObserver),
	}

	if s.location == nil {
		s.location = NewStaticLocationProvider(nil)
	}
	if s.scripts == nil {
		s.scripts = offline
	}
	if s.facilities == nil {
		s.facilities = offline
	}
	if s.voice == nil {
		s.voice = offline
	}
	if s.audio == nil {
		s.audio = noopAudio{}
	}
	if s.profiles == nil {
		s.profiles = defaultProfileSource{}
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.schedule == (DispatchSchedule{}) {
		s.schedule = DefaultDispatchSchedule()
	}
	if s.locationOptions.Timeout <= 0 {
		s.locationOptions = DefaultPositionOptions()
	}
	if s.timeslice <= 0 {
		s.timeslice = DefaultRecordingTimeslice
	}
	if s.profileTimeout <= 0 {
		s.profileTimeout = DefaultProfileTimeout
	}

	return s
}

// =================== COMMANDS ===================

// Trigger starts a new emergency and returns its session ID. A session that
// is still running is torn down first.
func (s *EmergencySequencer) Trigger(situation string, media MediaHandle) string {
	situation = utils.FirstNonEmpty(situation, models.DefaultSituation)

	profile, contacts := s.loadProfile()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		logrus.Warn("Emergency trigger rejected: sequencer is shut down")
		return ""
	}

	var superseded *models.IncidentRecord
	if prev := s.session; prev != nil {
		superseded = s.teardownLocked(prev, models.IncidentEndSuperseded)
	}

	sess := newEmergencySession(utils.GenerateUUID(), situation, profile, contacts, time.Now())
	s.session = sess

	s.audio.Resume()
	s.logLocked(sess, "Emergency Triggered. Initializing protocols...", models.LogSourceSystem)

	if media != nil {
		sess.media = media
		recorder, err := media.StartRecording(s.timeslice, func(chunk []byte) {
			s.recordChunk(sess, chunk)
		})
		if err != nil {
			logrus.WithError(err).WithField("sessionId", sess.id).Error("Recording failed to start")
			s.logLocked(sess, fmt.Sprintf("Recording failed to start (%v).", err), models.LogSourceSystem)
		} else {
			sess.recorder = recorder
			sess.recording = true
			s.logLocked(sess, "Video recording started.", models.LogSourceSystem)
		}
	}

	snap := s.publishLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	if superseded != nil {
		s.archive(superseded)
	}
	s.metrics.SessionStarted()
	s.deliver(snap)

	logrus.WithFields(logrus.Fields{
		"sessionId": sess.id,
		"situation": utils.TruncateString(situation, 80),
		"withMedia": media != nil,
	}).Info("Emergency triggered")

	go s.run(sess)
	return sess.id
}

// loadProfile reads the profile under a deadline. Sources fall back to the
// default profile once the context expires.
func (s *EmergencySequencer) loadProfile() (models.UserProfile, []models.Contact) {
	ctx, cancel := context.WithTimeout(context.Background(), s.profileTimeout)
	defer cancel()
	return s.profiles.Snapshot(ctx)
}

// Cancel ends the current emergency. It never waits for in-flight requests
// and does nothing when no emergency is running.
func (s *EmergencySequencer) Cancel() {
	s.mu.Lock()
	sess := s.session
	if sess == nil {
		s.mu.Unlock()
		return
	}
	record := s.teardownLocked(sess, models.IncidentEndCancelled)
	snap := s.publishLocked()
	s.mu.Unlock()

	s.archive(record)
	s.deliver(snap)

	logrus.WithFields(logrus.Fields{
		"sessionId": sess.id,
		"duration":  utils.FormatDuration(record.Duration()),
	}).Info("Emergency cancelled")
}

func (s *EmergencySequencer) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers an observer and returns a function that removes it.
func (s *EmergencySequencer) Subscribe(observer SessionObserver) func() {
	s.obsMu.Lock()
	id := s.nextObserverID
	s.nextObserverID++
	s.observers[id] = observer
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// Shutdown cancels the running emergency, refuses new ones, and waits for
// background work to finish.
func (s *EmergencySequencer) Shutdown(ctx context.Context) error {
	s.Cancel()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =================== WORKFLOW ===================

func (s *EmergencySequencer) run(sess *emergencySession) {
	defer s.wg.Done()

	if s.initialize(sess) && s.isLive(sess) {
		s.playCalmingAudio(sess)
	}
}

// initialize runs location, the advisors, and starts dispatch. It reports
// whether dispatch started.
func (s *EmergencySequencer) initialize(sess *emergencySession) (started bool) {
	begin := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.criticalInitError(sess, fmt.Errorf("%v", r))
			s.metrics.InitFinished(time.Since(begin), true)
			started = false
		}
	}()

	coords, ok := s.locate(sess)
	if !ok {
		return false
	}

	script, facility, err := s.consultAdvisors(sess, coords)
	if err != nil {
		if !errors.Is(err, errSessionEnded) {
			s.criticalInitError(sess, err)
			s.metrics.InitFinished(time.Since(begin), true)
		}
		return false
	}

	ok = s.update(sess, func() {
		sess.script = script
		s.logLocked(sess, fmt.Sprintf("Script generated: \"%s\"", script), models.LogSourceAI)

		sess.status.Advance(models.StepLocateHospital, models.StepStatusCompleted)
		sess.status.HospitalData = &facility
		s.logLocked(sess, fmt.Sprintf("Facility located: %s (%s)", facility.Name, facility.Address), models.LogSourceAI)

		sess.initializing = false
		s.startDispatchLocked(sess)
	})
	if !ok {
		return false
	}
	s.metrics.InitFinished(time.Since(begin), false)
	return true
}

// locate resolves the position, substituting the fallback on any failure.
// It returns false once the session is no longer live.
func (s *EmergencySequencer) locate(sess *emergencySession) (models.Coordinates, bool) {
	if !s.update(sess, func() {
		s.logLocked(sess, "Acquiring high-accuracy geolocation...", models.LogSourceSystem)
	}) {
		return models.Coordinates{}, false
	}

	coords, err := s.requestPosition(sess.ctx)
	if err != nil {
		locErr := AsLocationError(err)
		coords = models.FallbackCoordinates

		ok := s.update(sess, func() {
			sess.coords = &coords
			sess.usedFallback = true
			s.logLocked(sess, fmt.Sprintf("Location failed (%s). Using fallback (Demo Mode).", locErr.Reason), models.LogSourceSystem)
		})
		if ok {
			logrus.WithFields(logrus.Fields{
				"sessionId": sess.id,
				"kind":      locErr.Kind,
			}).Warn("Location failed, using fallback coordinates")
			s.metrics.LocationResolved(true, string(locErr.Kind))
		}
		return coords, ok
	}

	ok := s.update(sess, func() {
		sess.coords = &coords
		s.logLocked(sess, "Location acquired: "+utils.FormatCoordinate(coords.Latitude, coords.Longitude), models.LogSourceSystem)
	})
	if ok {
		s.metrics.LocationResolved(false, "")
	}
	return coords, ok
}

// requestPosition bounds the provider call by the location timeout even if
// the provider ignores its context.
func (s *EmergencySequencer) requestPosition(parent context.Context) (models.Coordinates, error) {
	opts := s.locationOptions
	ctx, cancel := context.WithTimeout(parent, opts.Timeout)
	defer cancel()

	type result struct {
		coords models.Coordinates
		err    error
	}
	results := make(chan result, 1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				results <- result{err: fmt.Errorf("location provider panicked: %v", r)}
			}
		}()
		coords, err := s.location.CurrentPosition(ctx, opts)
		results <- result{coords: coords, err: err}
	}()

	select {
	case r := <-results:
		if r.err == nil && !utils.IsValidCoordinate(r.coords.Latitude, r.coords.Longitude) {
			return models.Coordinates{}, NewLocationError(LocationPositionUnavailable, "")
		}
		return r.coords, r.err
	case <-ctx.Done():
		return models.Coordinates{}, AsLocationError(ctx.Err())
	}
}

// consultAdvisors issues the script and facility requests together and
// waits for both.
func (s *EmergencySequencer) consultAdvisors(sess *emergencySession, coords models.Coordinates) (string, models.HospitalInfo, error) {
	if !s.update(sess, func() {
		s.logLocked(sess, fmt.Sprintf("Generating emergency script for: \"%s\"", sess.situation), models.LogSourceAI)
		sess.status.Advance(models.StepLocateHospital, models.StepStatusInProgress)
		s.logLocked(sess, "Scanning for nearest emergency facilities...", models.LogSourceSystem)
	}) {
		return "", models.HospitalInfo{}, errSessionEnded
	}

	var (
		script   string
		facility models.HospitalInfo
	)

	g, ctx := errgroup.WithContext(sess.ctx)
	g.Go(guard("script generation", func() error {
		script = s.scripts.GenerateScript(ctx, sess.profile, coords, sess.situation)
		return nil
	}))
	g.Go(guard("facility lookup", func() error {
		facility = s.facilities.FindNearestFacility(ctx, coords)
		return nil
	}))

	if err := g.Wait(); err != nil {
		return "", models.HospitalInfo{}, err
	}
	return script, facility, nil
}

// playCalmingAudio is best effort. Failures never touch the session.
func (s *EmergencySequencer) playCalmingAudio(sess *emergencySession) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("sessionId", sess.id).Warnf("Calming audio panicked: %v", r)
		}
	}()

	data, err := s.voice.SynthesizeCalmingAudio(sess.ctx, sess.situation)
	if err != nil {
		logrus.WithError(err).WithField("sessionId", sess.id).Warn("Audio generation failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(sess) {
		return
	}
	s.audio.Play(data)
}

func (s *EmergencySequencer) criticalInitError(sess *emergencySession, err error) {
	logrus.WithError(err).WithField("sessionId", sess.id).Error("Emergency initialization failed")
	s.update(sess, func() {
		s.logLocked(sess, fmt.Sprintf("Critical Init Error: %v", err), models.LogSourceSystem)
		sess.initializing = false
	})
}

func (s *EmergencySequencer) recordChunk(sess *emergencySession, chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(sess) {
		return
	}
	sess.chunks++
	sess.bytes += int64(len(chunk))
}

// =================== STATE ===================

// update runs fn under the lock only while sess is the live session, then
// notifies observers. It reports whether fn ran.
func (s *EmergencySequencer) update(sess *emergencySession, fn func()) bool {
	snap, ok := s.mutate(sess, fn)
	if ok {
		s.deliver(snap)
	}
	return ok
}

func (s *EmergencySequencer) mutate(sess *emergencySession, fn func()) (models.SessionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(sess) {
		return models.SessionSnapshot{}, false
	}
	fn()
	return s.publishLocked(), true
}

func (s *EmergencySequencer) liveLocked(sess *emergencySession) bool {
	return sess.active && s.session == sess
}

func (s *EmergencySequencer) isLive(sess *emergencySession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(sess)
}

func (s *EmergencySequencer) logLocked(sess *emergencySession, message string, source models.LogSource) {
	sess.logs = append(sess.logs, models.LogEntry{
		Timestamp: time.Now(),
		Message:   message,
		Source:    source,
	})
}

// teardownLocked releases everything the session holds and resets the
// sequencer to idle. The returned record reflects the session before reset.
func (s *EmergencySequencer) teardownLocked(sess *emergencySession, reason string) *models.IncidentRecord {
	sess.active = false
	sess.timers.stop()

	if sess.recorder != nil {
		if sess.recorder.State() != RecorderInactive {
			if err := sess.recorder.Stop(); err != nil {
				logrus.WithError(err).WithField("sessionId", sess.id).Warn("Failed to stop recorder")
			}
		}
		sess.recorder = nil
	}
	sess.recording = false

	if sess.media != nil {
		for _, track := range sess.media.Tracks() {
			track.Stop()
		}
		sess.media = nil
	}

	s.audio.Stop()

	endedAt := time.Now()
	record := sess.record(reason, endedAt)

	s.session = nil
	sess.cancel()

	s.metrics.SessionEnded(reason, endedAt.Sub(sess.startedAt))
	return record
}

func (s *EmergencySequencer) publishLocked() models.SessionSnapshot {
	s.version++
	return s.snapshotLocked()
}

func (s *EmergencySequencer) snapshotLocked() models.SessionSnapshot {
	snap := idleSnapshot()
	if s.session != nil {
		snap = s.session.snapshot()
	}
	snap.Version = s.version
	return snap
}

// deliver hands snap to observers unless a newer snapshot already went out.
func (s *EmergencySequencer) deliver(snap models.SessionSnapshot) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if snap.Version <= s.lastDelivered {
		return
	}
	s.lastDelivered = snap.Version

	s.obsMu.RLock()
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	observers := make([]SessionObserver, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, s.observers[id])
	}
	s.obsMu.RUnlock()

	for _, o := range observers {
		o.OnSessionUpdate(snap)
	}
}

func (s *EmergencySequencer) archive(record *models.IncidentRecord) {
	if s.archiver == nil || record == nil {
		return
	}
	if err := s.archiver.Archive(record); err != nil {
		logrus.WithError(err).WithField("sessionId", record.SessionID).Warn("Failed to archive emergency session")
	}
}

// guard turns a panic inside an errgroup branch into an error.
func guard(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s panicked: %v", name, r)
			}
		}()
		return fn()
	}
}

// =================== DEFAULTS ===================

type noopAudio struct{}

func (noopAudio) Play([]byte) {}
func (noopAudio) Stop()       {}
func (noopAudio) Resume()     {}

type noopMetrics struct{}

func (noopMetrics) SessionStarted()                    {}
func (noopMetrics) SessionEnded(string, time.Duration) {}
func (noopMetrics) LocationResolved(bool, string)      {}
func (noopMetrics) StepCompleted(models.StepName)      {}
func (noopMetrics) InitFinished(time.Duration, bool)   {}

type defaultProfileSource struct{}

func (defaultProfileSource) Snapshot(context.Context) (models.UserProfile, []models.Contact) {
	return models.DefaultProfile(), nil
}
