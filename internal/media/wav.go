package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const wavHeaderSize = 44

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

func newWAVHeader(dataSize uint32) wavHeader {
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     wavHeaderSize - 8 + dataSize,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      1,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
}

// wavWriter writes 8 kHz mono 16-bit little-endian PCM into a WAV file.
// The sizes in the header are filled in by Close.
type wavWriter struct {
	f    *os.File
	path string
	size uint32
}

// createRecording creates call_<date>_<time>.wav in dir. A numeric suffix
// keeps recordings started within the same second apart.
func createRecording(dir string, now time.Time) (*wavWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	base := "call_" + now.Format("20060102_150405")
	name := base + ".wav"
	for i := 2; ; i++ {
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			name = fmt.Sprintf("%s_%d.wav", base, i)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create recording: %w", err)
		}

		w := &wavWriter{f: f, path: path}
		if err := w.writeHeader(); err != nil {
			f.Close()
			os.Remove(path)
			return nil, err
		}
		return w, nil
	}
}

func (w *wavWriter) writeHeader() error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, newWAVHeader(w.size))
	if _, err := w.f.WriteAt(buf.Bytes(), 0); err != nil {
		return fmt.Errorf("failed to write recording header: %w", err)
	}
	return nil
}

func (w *wavWriter) Write(p []byte) (int, error) {
	n, err := w.f.WriteAt(p, int64(wavHeaderSize)+int64(w.size))
	w.size += uint32(n)
	return n, err
}

// Close finalizes the header and closes the file.
func (w *wavWriter) Close() error {
	herr := w.writeHeader()
	cerr := w.f.Close()
	return errors.Join(herr, cerr)
}
