package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/MrWong99/parley/pkg/audio"
)

// header is the canonical 44-byte RIFF/WAVE header for mono PCM16.
type header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

func newHeader(rate uint32, dataSize uint32) header {
	const (
		channels = 1
		bits     = 16
	)
	return header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    rate,
		ByteRate:      rate * channels * bits / 8,
		BlockAlign:    channels * bits / 8,
		BitsPerSample: bits,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// AppendContainer appends a canonical container holding unit to dst and
// returns the extended slice. Samples are quantised with clamping.
//
// A unit that fails [audio.AudioUnit.Validate] appends nothing and dst is
// returned unchanged; use [WriteContainer] to get the validation error.
func AppendContainer(dst []byte, unit audio.AudioUnit) []byte {
	if unit.Validate() != nil {
		return dst
	}
	buf := bytes.NewBuffer(dst)
	// Writes to a bytes.Buffer cannot fail once the unit is valid.
	_ = WriteContainer(buf, unit)
	return buf.Bytes()
}

// WriteContainer writes a canonical container holding unit to w.
func WriteContainer(w io.Writer, unit audio.AudioUnit) error {
	if err := unit.Validate(); err != nil {
		return fmt.Errorf("wav: write container: %w", err)
	}
	h := newHeader(unit.SampleRate, uint32(len(unit.Samples)*2))
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}
	pcm := make([]int16, len(unit.Samples))
	for i, s := range unit.Samples {
		pcm[i] = audio.FloatToPCM16(s)
	}
	if err := binary.Write(w, binary.LittleEndian, pcm); err != nil {
		return fmt.Errorf("wav: write payload: %w", err)
	}
	return nil
}
