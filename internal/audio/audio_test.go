package audio

import (
	"encoding/binary"
	"errors"
	"testing"
)

func buildWAV(t *testing.T, numChannels, sampleRate, bitDepth uint16, formatCode uint16) []byte {
	t.Helper()
	var buf []byte
	buf = append(buf, 'R', 'I', 'F', 'F')
	buf = append(buf, 36, 0, 0, 0)
	buf = append(buf, 'W', 'A', 'V', 'E')
	buf = append(buf, 'f', 'm', 't', ' ')
	buf = append(buf, 16, 0, 0, 0)

	fmtChunk := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtChunk[0:2], formatCode)
	binary.LittleEndian.PutUint16(fmtChunk[2:4], numChannels)
	binary.LittleEndian.PutUint32(fmtChunk[4:8], uint32(sampleRate))
	byteRate := uint32(sampleRate) * uint32(numChannels) * uint32(bitDepth) / 8
	binary.LittleEndian.PutUint32(fmtChunk[8:12], byteRate)
	blockAlign := numChannels * bitDepth / 8
	binary.LittleEndian.PutUint16(fmtChunk[12:14], blockAlign)
	binary.LittleEndian.PutUint16(fmtChunk[14:16], bitDepth)
	buf = append(buf, fmtChunk...)

	buf = append(buf, 'd', 'a', 't', 'a')
	buf = append(buf, 0, 0, 0, 0)
	return buf
}

func TestValidateAcceptsPCMMono16kHz16Bit(t *testing.T) {
	data := buildWAV(t, 1, 16000, 16, 1)
	if err := Validate(data); err != nil {
		t.Fatalf("expected valid frame, got error: %v", err)
	}
}

func TestValidateRejectsNonWAV(t *testing.T) {
	if err := Validate([]byte("not a wav file at all")); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestValidateRejectsWrongSampleRate(t *testing.T) {
	data := buildWAV(t, 1, 44100, 16, 1)
	if err := Validate(data); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame for wrong sample rate, got %v", err)
	}
}

func TestValidateRejectsStereo(t *testing.T) {
	data := buildWAV(t, 2, 16000, 16, 1)
	if err := Validate(data); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame for stereo input, got %v", err)
	}
}

func TestValidateRejectsWrongBitDepth(t *testing.T) {
	data := buildWAV(t, 1, 16000, 8, 1)
	if err := Validate(data); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame for wrong bit depth, got %v", err)
	}
}
