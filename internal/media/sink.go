package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/1ureka.net.call/internal/util"
)

var (
	// ErrAlreadyRecording is returned when a recording is in progress.
	ErrAlreadyRecording = errors.New("already recording")

	// ErrNotRecording is returned when no recording is in progress.
	ErrNotRecording = errors.New("not recording")
)

// Sink renders remote audio.
type Sink interface {
	RenderRemoteAudio(track *webrtc.TrackRemote)
	SetOutputVolume(level float64)

	// SetPaused drops remote audio while paused.
	SetPaused(paused bool)

	// StartRecording tees rendered audio into a new WAV file under dir and
	// returns its path. StopRecording finalizes it and returns the path.
	StartRecording(dir string) (string, error)
	StopRecording() (string, error)
}

// ClampVolume limits level to [0, 1]. NaN maps to 0.
func ClampVolume(level float64) float64 {
	switch {
	case math.IsNaN(level), level < 0:
		return 0
	case level > 1:
		return 1
	default:
		return level
	}
}

// rtpReader is the part of *webrtc.TrackRemote the sink reads from.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// PCMSink decodes remote G.711 audio, applies the output volume and writes
// 16-bit little-endian PCM to w.
type PCMSink struct {
	mu  sync.Mutex
	w   io.Writer
	rec *wavWriter

	volume atomic.Uint64 // math.Float64bits
	paused atomic.Bool
	wg     sync.WaitGroup
}

// NewPCMSink creates a sink writing to w. A nil w discards audio.
func NewPCMSink(w io.Writer, volume float64) *PCMSink {
	if w == nil {
		w = io.Discard
	}
	s := &PCMSink{w: w}
	s.SetOutputVolume(volume)
	return s
}

// SetOutputVolume sets the output volume, clamped to [0, 1].
func (s *PCMSink) SetOutputVolume(level float64) {
	s.volume.Store(math.Float64bits(ClampVolume(level)))
}

// Volume returns the current output volume.
func (s *PCMSink) Volume() float64 {
	return math.Float64frombits(s.volume.Load())
}

// SetPaused implements Sink.
func (s *PCMSink) SetPaused(paused bool) {
	s.paused.Store(paused)
}

// StartRecording implements Sink.
func (s *PCMSink) StartRecording(dir string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec != nil {
		return "", ErrAlreadyRecording
	}

	rec, err := createRecording(dir, time.Now())
	if err != nil {
		return "", err
	}
	s.rec = rec
	util.LogInfo("recording to %s", rec.path)
	return rec.path, nil
}

// StopRecording implements Sink.
func (s *PCMSink) StopRecording() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return "", ErrNotRecording
	}

	rec := s.rec
	s.rec = nil
	if err := rec.Close(); err != nil {
		return rec.path, fmt.Errorf("failed to finalize recording: %w", err)
	}
	return rec.path, nil
}

// RenderRemoteAudio starts rendering track. It returns immediately; the
// render loop ends when the track ends.
func (s *PCMSink) RenderRemoteAudio(track *webrtc.TrackRemote) {
	mime := track.Codec().MimeType
	util.LogInfo("receiving remote audio (%s)", mime)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.render(track, mime)
	}()
}

// Wait blocks until every render loop has ended.
func (s *PCMSink) Wait() {
	s.wg.Wait()
}

func (s *PCMSink) render(src rtpReader, mime string) {
	decode := muLawDecode
	if strings.EqualFold(mime, webrtc.MimeTypePCMA) {
		decode = aLawDecode
	}

	var out []byte
	jitter := newReorderBuffer(defaultReorderDepth)
	for {
		pkt, _, err := src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("remote audio ended: %v", err)
			}
			if lost := jitter.Lost(); lost > 0 {
				util.LogDebug("remote audio lost %d packets", lost)
			}
			return
		}
		util.Stats.AddRecv(len(pkt.Payload))

		for _, p := range jitter.Feed(pkt) {
			if s.paused.Load() {
				continue
			}
			out = s.decodeInto(out[:0], p.Payload, decode)

			if err := s.write(out); err != nil {
				util.LogWarning("audio output write failed: %v", err)
				return
			}
		}
	}
}

// write sends pcm to the output and to the active recording. A failing
// recording is closed and dropped; a failing output is returned.
func (s *PCMSink) write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec != nil {
		if _, err := s.rec.Write(pcm); err != nil {
			util.LogWarning("recording stopped: %v", err)
			s.rec.Close()
			s.rec = nil
		}
	}
	_, err := s.w.Write(pcm)
	return err
}

// decodeInto appends payload as scaled 16-bit little-endian PCM to out.
func (s *PCMSink) decodeInto(out, payload []byte, decode func(byte) int16) []byte {
	volume := s.Volume()
	for _, b := range payload {
		v := float64(decode(b)) * volume
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(v)))
	}
	return out
}
