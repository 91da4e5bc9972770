package services

import (
	"errors"
	"guardian/utils"
	"sync"
	"time"
)

// DefaultRecordingTimeslice is how often the recorder hands over a chunk.
const DefaultRecordingTimeslice = time.Second

type RecorderState string

const (
	RecorderInactive  RecorderState = "inactive"
	RecorderRecording RecorderState = "recording"
)

var (
	ErrNoLiveTracks     = errors.New("media stream has no live tracks")
	ErrRecorderActive   = errors.New("media stream is already being recorded")
	ErrInvalidTimeslice = errors.New("recording timeslice must be positive")
)

// MediaTrack is one stoppable part of a capture stream (audio or video).
type MediaTrack interface {
	Kind() string
	Stop()
}

type MediaRecorder interface {
	State() RecorderState
	Stop() error
}

// MediaHandle is the capture stream handed to the sequencer when an
// emergency starts. The sequencer owns it until the session ends.
type MediaHandle interface {
	StartRecording(timeslice time.Duration, onChunk func([]byte)) (MediaRecorder, error)
	Tracks() []MediaTrack
}

// DeviceStreamHooks lets the transport tell the device what the server did
// with its stream.
type DeviceStreamHooks struct {
	OnRecordingChange func(recording bool, timeslice time.Duration)
	OnTrackStop       func(kind string)
}

// DeviceStream is a capture stream whose chunks are recorded on the device
// and pushed to the server.
type DeviceStream struct {
	id     string
	hooks  DeviceStreamHooks
	tracks []*deviceTrack

	mu        sync.Mutex
	recording bool
	onChunk   func([]byte)
}

func NewDeviceStream(kinds []string, hooks DeviceStreamHooks) *DeviceStream {
	stream := &DeviceStream{
		id:    utils.GenerateUUID(),
		hooks: hooks,
	}
	for _, kind := range kinds {
		stream.tracks = append(stream.tracks, &deviceTrack{kind: kind, stream: stream, live: true})
	}
	return stream
}

func (s *DeviceStream) ID() string {
	return s.id
}

func (s *DeviceStream) Tracks() []MediaTrack {
	out := make([]MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

// Live reports whether any track is still capturing.
func (s *DeviceStream) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked()
}

func (s *DeviceStream) liveLocked() bool {
	for _, t := range s.tracks {
		if t.live {
			return true
		}
	}
	return false
}

func (s *DeviceStream) StartRecording(timeslice time.Duration, onChunk func([]byte)) (MediaRecorder, error) {
	if timeslice <= 0 {
		return nil, ErrInvalidTimeslice
	}

	s.mu.Lock()
	if !s.liveLocked() {
		s.mu.Unlock()
		return nil, ErrNoLiveTracks
	}
	if s.recording {
		s.mu.Unlock()
		return nil, ErrRecorderActive
	}
	s.recording = true
	s.onChunk = onChunk
	s.mu.Unlock()

	if s.hooks.OnRecordingChange != nil {
		s.hooks.OnRecordingChange(true, timeslice)
	}
	return &deviceRecorder{stream: s}, nil
}

// Push delivers a recorded chunk from the device. Chunks that arrive while
// no recorder is running are dropped.
func (s *DeviceStream) Push(chunk []byte) bool {
	if len(chunk) == 0 {
		return false
	}

	s.mu.Lock()
	onChunk := s.onChunk
	recording := s.recording
	s.mu.Unlock()

	if !recording || onChunk == nil {
		return false
	}

	data := make([]byte, len(chunk))
	copy(data, chunk)
	onChunk(data)
	return true
}

func (s *DeviceStream) stopRecording() bool {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return false
	}
	s.recording = false
	s.onChunk = nil
	s.mu.Unlock()

	if s.hooks.OnRecordingChange != nil {
		s.hooks.OnRecordingChange(false, 0)
	}
	return true
}

func (s *DeviceStream) stopTrack(t *deviceTrack) {
	s.mu.Lock()
	if !t.live {
		s.mu.Unlock()
		return
	}
	t.live = false
	s.mu.Unlock()

	if s.hooks.OnTrackStop != nil {
		s.hooks.OnTrackStop(t.kind)
	}
}

type deviceRecorder struct {
	stream *DeviceStream
}

func (r *deviceRecorder) State() RecorderState {
	r.stream.mu.Lock()
	defer r.stream.mu.Unlock()
	if r.stream.recording {
		return RecorderRecording
	}
	return RecorderInactive
}

func (r *deviceRecorder) Stop() error {
	r.stream.stopRecording()
	return nil
}

type deviceTrack struct {
	kind   string
	stream *DeviceStream
	live   bool // guarded by stream.mu
}

func (t *deviceTrack) Kind() string {
	return t.kind
}

func (t *deviceTrack) Stop() {
	t.stream.stopTrack(t)
}
