package services

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"guardian/models"
	"guardian/utils"
	"sync"
	"time"
)

// Gemini TTS returns headerless 24 kHz signed 16-bit mono PCM.
const (
	TTSSampleRate    = 24000
	TTSChannels      = 1
	TTSBitsPerSample = 16
)

var (
	ErrEmptyAudio       = errors.New("audio data is empty")
	ErrUnsupportedAudio = errors.New("unsupported audio encoding")
)

// AudioSink delivers audio commands to the device. clip is nil for
// commands without payload.
type AudioSink interface {
	SendAudio(msgType string, clip *models.WSAudioClip)
}

// StreamingAudioOutput plays clips on the connected device. The clip is sent
// as WAV and the source ends when its duration has elapsed.
type StreamingAudioOutput struct {
	sink AudioSink

	mu    sync.Mutex
	state OutputState
}

func NewStreamingAudioOutput(sink AudioSink) *StreamingAudioOutput {
	return &StreamingAudioOutput{sink: sink, state: OutputRunning}
}

// StreamingOutputFactory adapts NewStreamingAudioOutput for NewAudioPlayer.
func StreamingOutputFactory(sink AudioSink) func() (AudioOutput, error) {
	return func() (AudioOutput, error) {
		if sink == nil {
			return nil, errors.New("no audio sink configured")
		}
		return NewStreamingAudioOutput(sink), nil
	}
}

func (o *StreamingAudioOutput) State() OutputState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *StreamingAudioOutput) Resume() error {
	o.mu.Lock()
	o.state = OutputRunning
	o.mu.Unlock()

	o.sink.SendAudio(models.WSTypeAudioResume, nil)
	return nil
}

func (o *StreamingAudioOutput) Suspend() error {
	o.mu.Lock()
	o.state = OutputSuspended
	o.mu.Unlock()

	o.sink.SendAudio(models.WSTypeAudioSuspend, nil)
	return nil
}

func (o *StreamingAudioOutput) Decode(data []byte) (*AudioClip, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	if isWAV(data) {
		return decodeWAV(data)
	}
	return decodePCM(data, TTSSampleRate, TTSChannels, TTSBitsPerSample)
}

func (o *StreamingAudioOutput) Start(clip *AudioClip, onEnded func()) (AudioSource, error) {
	if o.State() != OutputRunning {
		return nil, ErrOutputSuspended
	}

	src := &streamSource{
		clipID: utils.GenerateUUID(),
		sink:   o.sink,
	}

	o.sink.SendAudio(models.WSTypeAudioPlay, &models.WSAudioClip{
		ClipID:     src.clipID,
		MimeType:   "audio/wav",
		DurationMs: clip.Duration.Milliseconds(),
		Data:       encodeWAV(clip),
	})

	src.mu.Lock()
	src.timer = time.AfterFunc(clip.Duration, func() {
		if src.finish() && onEnded != nil {
			onEnded()
		}
	})
	src.mu.Unlock()

	return src, nil
}

type streamSource struct {
	clipID string
	sink   AudioSink

	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

func (s *streamSource) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	return true
}

func (s *streamSource) Stop() {
	if !s.finish() {
		return
	}

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.sink.SendAudio(models.WSTypeAudioStop, &models.WSAudioClip{ClipID: s.clipID})
}

// =================== WAV ===================

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func decodePCM(data []byte, sampleRate, channels, bitsPerSample int) (*AudioClip, error) {
	frameSize := channels * bitsPerSample / 8
	if frameSize <= 0 || sampleRate <= 0 {
		return nil, ErrUnsupportedAudio
	}
	if len(data) < frameSize {
		return nil, ErrEmptyAudio
	}

	// Drop a trailing partial frame.
	pcm := data[:len(data)-len(data)%frameSize]
	frames := len(pcm) / frameSize

	return &AudioClip{
		SampleRate:    sampleRate,
		Channels:      channels,
		BitsPerSample: bitsPerSample,
		PCM:           pcm,
		Duration:      time.Duration(frames) * time.Second / time.Duration(sampleRate),
	}, nil
}

type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

func decodeWAV(data []byte) (*AudioClip, error) {
	var format *wavFormat
	offset := 12

	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if size < 0 || body+size > len(data) {
			// Streams sometimes carry a bogus data size; take what is there.
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedAudio)
			}
			format = &wavFormat{}
			if err := binary.Read(bytes.NewReader(data[body:body+16]), binary.LittleEndian, format); err != nil {
				return nil, fmt.Errorf("failed to read wav format: %w", err)
			}
		case "data":
			if format == nil {
				return nil, fmt.Errorf("%w: data chunk before fmt", ErrUnsupportedAudio)
			}
			if format.AudioFormat != 1 {
				return nil, fmt.Errorf("%w: wav format %d", ErrUnsupportedAudio, format.AudioFormat)
			}
			return decodePCM(data[body:body+size], int(format.SampleRate), int(format.Channels), int(format.BitsPerSample))
		}

		offset = body + size + size%2
	}

	return nil, fmt.Errorf("%w: missing data chunk", ErrUnsupportedAudio)
}

func encodeWAV(clip *AudioClip) []byte {
	blockAlign := clip.Channels * clip.BitsPerSample / 8
	header := struct {
		ChunkID   [4]byte
		ChunkSize uint32
		Format    [4]byte
		FmtID     [4]byte
		FmtSize   uint32
		Fmt       wavFormat
		DataID    [4]byte
		DataSize  uint32
	}{
		ChunkID:   [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize: uint32(36 + len(clip.PCM)),
		Format:    [4]byte{'W', 'A', 'V', 'E'},
		FmtID:     [4]byte{'f', 'm', 't', ' '},
		FmtSize:   16,
		Fmt: wavFormat{
			AudioFormat:   1,
			Channels:      uint16(clip.Channels),
			SampleRate:    uint32(clip.SampleRate),
			ByteRate:      uint32(clip.SampleRate * blockAlign),
			BlockAlign:    uint16(blockAlign),
			BitsPerSample: uint16(clip.BitsPerSample),
		},
		DataID:   [4]byte{'d', 'a', 't', 'a'},
		DataSize: uint32(len(clip.PCM)),
	}

	var buf bytes.Buffer
	buf.Grow(44 + len(clip.PCM))
	// Writes to a bytes.Buffer do not fail.
	_ = binary.Write(&buf, binary.LittleEndian, header)
	buf.Write(clip.PCM)
	return buf.Bytes()
}
