package services

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type OutputState string

const (
	OutputUninitialized OutputState = "uninitialized"
	OutputRunning       OutputState = "running"
	OutputSuspended     OutputState = "suspended"
)

var ErrOutputSuspended = errors.New("audio output is suspended")

// AudioClip is decoded PCM ready to be started on an output.
type AudioClip struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	PCM           []byte
	Duration      time.Duration
}

// AudioSource is one playing clip.
type AudioSource interface {
	Stop()
}

// AudioOutput is the shared output resource. Start must call onEnded from
// another goroutine once the clip finishes on its own; it is not called
// after the source is stopped.
type AudioOutput interface {
	State() OutputState
	Resume() error
	Suspend() error
	Decode(data []byte) (*AudioClip, error)
	Start(clip *AudioClip, onEnded func()) (AudioSource, error)
}

// AudioPlayer owns one lazily created output and at most one playing source.
// Failures are logged, never returned.
type AudioPlayer struct {
	newOutput func() (AudioOutput, error)

	mu         sync.Mutex
	output     AudioOutput
	source     AudioSource
	generation uint64
}

func NewAudioPlayer(newOutput func() (AudioOutput, error)) *AudioPlayer {
	return &AudioPlayer{newOutput: newOutput}
}

// Play replaces whatever is playing with data.
func (p *AudioPlayer) Play(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	output, err := p.ensureOutputLocked()
	if err != nil {
		logrus.WithError(err).Error("Failed to create audio output")
		return
	}

	if output.State() == OutputSuspended {
		if err := output.Resume(); err != nil {
			logrus.WithError(err).Error("Failed to resume audio output")
			return
		}
	}

	p.stopSourceLocked()

	clip, err := output.Decode(data)
	if err != nil {
		logrus.WithError(err).WithField("bytes", len(data)).Error("Failed to decode audio")
		return
	}

	gen := p.generation
	source, err := output.Start(clip, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.generation == gen {
			p.source = nil
		}
	})
	if err != nil {
		logrus.WithError(err).Error("Audio playback failed")
		return
	}
	p.source = source

	logrus.WithFields(logrus.Fields{
		"duration": clip.Duration,
		"bytes":    len(clip.PCM),
	}).Debug("Audio playback started")
}

// Stop halts playback and suspends the output. Safe when nothing plays.
func (p *AudioPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopSourceLocked()

	if p.output == nil || p.output.State() == OutputSuspended {
		return
	}
	if err := p.output.Suspend(); err != nil {
		logrus.WithError(err).Warn("Failed to suspend audio output")
	}
}

// Resume wakes a suspended output so the next clip plays without delay.
func (p *AudioPlayer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.output == nil || p.output.State() != OutputSuspended {
		return
	}
	if err := p.output.Resume(); err != nil {
		logrus.WithError(err).Warn("Failed to resume audio output")
	}
}

func (p *AudioPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source != nil
}

func (p *AudioPlayer) OutputState() OutputState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.output == nil {
		return OutputUninitialized
	}
	return p.output.State()
}

func (p *AudioPlayer) ensureOutputLocked() (AudioOutput, error) {
	if p.output != nil {
		return p.output, nil
	}
	output, err := p.newOutput()
	if err != nil {
		return nil, err
	}
	p.output = output
	return output, nil
}

func (p *AudioPlayer) stopSourceLocked() {
	p.generation++
	if p.source == nil {
		return
	}
	p.source.Stop()
	p.source = nil
}
