// Package media provides the local audio source and the remote audio sink
// of a call. Audio is 8 kHz mono G.711; frames are 20 ms.
package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/1ureka.net.call/internal/util"
)

const (
	sampleRate      = 8000
	frameDuration   = 20 * time.Millisecond
	samplesPerFrame = sampleRate * int(frameDuration/time.Millisecond) / 1000 // 160
)

// ErrAccessDenied reports that local audio could not be captured.
var ErrAccessDenied = errors.New("local audio access denied")

// Source acquires local audio for a call.
type Source interface {
	AcquireLocalAudio(ctx context.Context) (LocalStream, error)
}

// LocalStream is captured local audio attached to the peer connection as
// a track.
type LocalStream interface {
	Track() webrtc.TrackLocal
	SetMuted(muted bool)
	Stop()
}

// frameReader fills buf with the next frame of linear PCM.
type frameReader interface {
	readFrame(buf []int16) error
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

// GeneratorSource produces a continuous sine tone, or silence when ToneHz
// is zero.
type GeneratorSource struct {
	ToneHz float64
	Gain   float64 // 0..1, defaults to 0.2
}

// AcquireLocalAudio implements Source.
func (g GeneratorSource) AcquireLocalAudio(ctx context.Context) (LocalStream, error) {
	if g.ToneHz < 0 || g.ToneHz >= sampleRate/2 {
		return nil, fmt.Errorf("tone frequency %.0f Hz outside [0, %d)", g.ToneHz, sampleRate/2)
	}
	gain := g.Gain
	if gain <= 0 || gain > 1 {
		gain = 0.2
	}

	var frames frameReader = silence{}
	if g.ToneHz > 0 {
		frames = &tone{step: 2 * math.Pi * g.ToneHz / sampleRate, amplitude: gain * math.MaxInt16}
	}
	return acquire(ctx, frames, nil)
}

// FileSource loops raw 16-bit little-endian 8 kHz mono PCM from a file.
type FileSource struct {
	Path string
}

// AcquireLocalAudio implements Source. A file that cannot be opened is
// reported as ErrAccessDenied.
func (f FileSource) AcquireLocalAudio(ctx context.Context) (LocalStream, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrAccessDenied, err)
		}
		return nil, fmt.Errorf("failed to open audio input: %w", err)
	}
	return acquire(ctx, &pcmLoop{r: file}, file)
}

func acquire(ctx context.Context, frames frameReader, closer io.Closer) (LocalStream, error) {
	s, err := startStream(ctx, frames, closer)
	if err != nil {
		return nil, err
	}
	util.LogDebug("local audio started")
	return s, nil
}

type silence struct{}

func (silence) readFrame(buf []int16) error {
	clear(buf)
	return nil
}

type tone struct {
	phase     float64
	step      float64
	amplitude float64
}

func (t *tone) readFrame(buf []int16) error {
	for i := range buf {
		buf[i] = int16(t.amplitude * math.Sin(t.phase))
		t.phase += t.step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return nil
}

// pcmLoop rewinds at end of input. A short final frame is padded with
// silence.
type pcmLoop struct {
	r io.ReadSeeker
}

func (p *pcmLoop) readFrame(buf []int16) error {
	raw := make([]byte, len(buf)*2)
	n, err := io.ReadFull(p.r, raw)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if _, serr := p.r.Seek(0, io.SeekStart); serr != nil {
			return serr
		}
		err = nil
	}
	if err != nil {
		return err
	}

	clear(buf)
	for i := 0; i+1 < n; i += 2 {
		buf[i/2] = int16(binary.LittleEndian.Uint16(raw[i:]))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

// stream paces frames into a PCMU sample track every 20 ms until stopped.
type stream struct {
	track  *webrtc.TrackLocalStaticSample
	frames frameReader
	closer io.Closer

	muted atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startStream(ctx context.Context, frames frameReader, closer io.Closer) (*stream, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: sampleRate, Channels: 1},
		"audio", "call",
	)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	sCtx, cancel := context.WithCancel(ctx)
	s := &stream{
		track:  track,
		frames: frames,
		closer: closer,
		ctx:    sCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *stream) Track() webrtc.TrackLocal {
	return s.track
}

func (s *stream) SetMuted(muted bool) {
	s.muted.Store(muted)
}

// Stop ends pacing and releases the input. Safe to call more than once.
func (s *stream) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		if s.closer != nil {
			s.closer.Close()
		}
		util.LogDebug("local audio stopped")
	})
}

func (s *stream) run() {
	defer close(s.done)

	pcm := make([]int16, samplesPerFrame)
	payload := make([]byte, samplesPerFrame)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		if err := s.nextFrame(pcm, payload); err != nil {
			util.LogError("local audio read failed: %v", err)
			return
		}

		// Payload is copied by the track before WriteSample returns.
		if err := s.track.WriteSample(pionmedia.Sample{Data: payload, Duration: frameDuration}); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			util.LogDebug("local audio write: %v", err)
			continue
		}
		util.Stats.AddSent(len(payload))
	}
}

func (s *stream) nextFrame(pcm []int16, payload []byte) error {
	if s.muted.Load() {
		for i := range payload {
			payload[i] = muLawSilence
		}
		return nil
	}

	if err := s.frames.readFrame(pcm); err != nil {
		return err
	}
	for i, v := range pcm {
		payload[i] = muLawEncode(v)
	}
	return nil
}
