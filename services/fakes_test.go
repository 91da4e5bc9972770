package services

import (
	"context"
	"errors"
	"guardian/models"
	"strings"
	"sync"
	"time"
)

type fakeLocation struct {
	coords  models.Coordinates
	err     error
	release chan struct{} // when set, the answer waits for it and ignores ctx

	mu    sync.Mutex
	calls int
}

func (f *fakeLocation) CurrentPosition(ctx context.Context, _ PositionOptions) (models.Coordinates, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.release != nil {
		<-f.release
	}
	return f.coords, f.err
}

type advisorCall struct {
	method    string
	situation string
	coords    models.Coordinates
	at        time.Time
}

type fakeAdvisor struct {
	facility      models.HospitalInfo
	audio         []byte
	audioErr      error
	panicFacility bool
	panicAudio    bool
	onFacility    func()

	mu    sync.Mutex
	calls []advisorCall
}

func newFakeAdvisor() *fakeAdvisor {
	return &fakeAdvisor{
		facility: models.HospitalInfo{Name: "Mercy General", Address: "1 Main St"},
		audio:    []byte("calm"),
	}
}

func (f *fakeAdvisor) record(call advisorCall) {
	call.at = time.Now()
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAdvisor) Calls() []advisorCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]advisorCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeAdvisor) GenerateScript(_ context.Context, profile models.UserProfile, coords models.Coordinates, situation string) string {
	f.record(advisorCall{method: "script", situation: situation, coords: coords})
	return "This is an emergency. " + profile.Name + " reports " + strings.ToLower(situation) + "."
}

func (f *fakeAdvisor) FindNearestFacility(_ context.Context, coords models.Coordinates) models.HospitalInfo {
	f.record(advisorCall{method: "facility", coords: coords})
	if f.onFacility != nil {
		f.onFacility()
	}
	if f.panicFacility {
		panic("maps backend exploded")
	}
	return f.facility
}

func (f *fakeAdvisor) SynthesizeCalmingAudio(_ context.Context, situation string) ([]byte, error) {
	f.record(advisorCall{method: "audio", situation: situation})
	if f.panicAudio {
		panic("speech backend exploded")
	}
	return f.audio, f.audioErr
}

type fakeAudio struct {
	mu      sync.Mutex
	played  int
	stopped int
	resumed int
}

func (f *fakeAudio) Play([]byte) {
	f.mu.Lock()
	f.played++
	f.mu.Unlock()
}

func (f *fakeAudio) Stop() {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
}

func (f *fakeAudio) Resume() {
	f.mu.Lock()
	f.resumed++
	f.mu.Unlock()
}

func (f *fakeAudio) counts() (played, stopped, resumed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.played, f.stopped, f.resumed
}

type fakeArchiver struct {
	mu      sync.Mutex
	records []*models.IncidentRecord
}

func (f *fakeArchiver) Archive(record *models.IncidentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeArchiver) Records() []*models.IncidentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.IncidentRecord, len(f.records))
	copy(out, f.records)
	return out
}

type staticProfiles struct {
	profile  models.UserProfile
	contacts []models.Contact
}

func (p staticProfiles) Snapshot(context.Context) (models.UserProfile, []models.Contact) {
	return p.profile, p.contacts
}

// stalledProfiles never answers before the deadline, like a Redis that
// accepts connections and stops replying.
type stalledProfiles struct{}

func (stalledProfiles) Snapshot(ctx context.Context) (models.UserProfile, []models.Contact) {
	<-ctx.Done()
	return models.DefaultProfile(), nil
}

type initResult struct {
	failed bool
}

type countingMetrics struct {
	noopMetrics

	mu    sync.Mutex
	inits []initResult
}

func (m *countingMetrics) InitFinished(_ time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inits = append(m.inits, initResult{failed: failed})
}

func (m *countingMetrics) Inits() []initResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]initResult(nil), m.inits...)
}

type snapshotRecorder struct {
	mu        sync.Mutex
	snapshots []models.SessionSnapshot
}

func (r *snapshotRecorder) OnSessionUpdate(snapshot models.SessionSnapshot) {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, snapshot)
	r.mu.Unlock()
}

func (r *snapshotRecorder) All() []models.SessionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SessionSnapshot, len(r.snapshots))
	copy(out, r.snapshots)
	return out
}

func (r *snapshotRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

var errRecorderBroken = errors.New("recorder broken")

type brokenMedia struct {
	tracks []*countingTrack
}

func (m *brokenMedia) StartRecording(time.Duration, func([]byte)) (MediaRecorder, error) {
	return nil, errRecorderBroken
}

func (m *brokenMedia) Tracks() []MediaTrack {
	out := make([]MediaTrack, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t)
	}
	return out
}

type countingTrack struct {
	kind string

	mu      sync.Mutex
	stopped int
}

func (t *countingTrack) Kind() string { return t.kind }

func (t *countingTrack) Stop() {
	t.mu.Lock()
	t.stopped++
	t.mu.Unlock()
}

func (t *countingTrack) Stopped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
