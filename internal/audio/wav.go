package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"lazymic/internal/ports"
)

const bitsPerSample = 16

// WAVEncoder wraps captured s16le PCM in a RIFF/WAVE container for upload.
type WAVEncoder struct{}

func (WAVEncoder) Encode(pcm []byte, cfg ports.AudioConfig) ([]byte, error) {
	return EncodeWAV(pcm, cfg.SampleRate, cfg.Channels)
}

// EncodeWAV prepends a canonical 44-byte PCM header to pcm.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	frame := channels * bitsPerSample / 8
	if len(pcm)%frame != 0 {
		return nil, fmt.Errorf("pcm length %d is not a whole number of %d-byte frames", len(pcm), frame)
	}
	if uint64(len(pcm)) > uint64(^uint32(0))-36 {
		return nil, errors.New("pcm too large for a wav container")
	}

	header := struct {
		ChunkID       [4]byte
		ChunkSize     uint32
		Format        [4]byte
		Subchunk1ID   [4]byte
		Subchunk1Size uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Subchunk2ID   [4]byte
		Subchunk2Size uint32
	}{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * frame),
		BlockAlign:    uint16(frame),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}
