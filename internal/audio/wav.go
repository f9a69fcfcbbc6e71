package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

const (
	// RequiredSampleRate is the only sample rate AudioIntake accepts.
	RequiredSampleRate = 16000
	// RequiredBitDepth is the only bit depth AudioIntake accepts.
	RequiredBitDepth = 16
	// RequiredChannels is the only channel count AudioIntake accepts (mono).
	RequiredChannels = 1
	// pcmFormatCode is the WAVE_FORMAT_PCM tag in the fmt chunk.
	pcmFormatCode = 1
)

// ErrInvalidFrame is returned when a frame's bytes do not form a valid
// RIFF/WAVE container, or do not match the required PCM mono 16kHz/16-bit
// layout. Corresponds to spec error kind InvalidFrame.
var ErrInvalidFrame = errors.New("invalid audio frame")

// Validate checks that data is a complete RIFF/WAVE container carrying PCM,
// mono, 16 kHz, 16-bit samples. It wraps ErrInvalidFrame with the specific
// reason on failure.
func Validate(data []byte) error {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return fmt.Errorf("%w: not a valid RIFF/WAVE file", ErrInvalidFrame)
	}
	dec.ReadInfo()
	if dec.Err() != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, dec.Err())
	}
	if dec.WavAudioFormat != pcmFormatCode {
		return fmt.Errorf("%w: audio format %d is not PCM", ErrInvalidFrame, dec.WavAudioFormat)
	}
	if dec.NumChans != RequiredChannels {
		return fmt.Errorf("%w: %d channels, want mono", ErrInvalidFrame, dec.NumChans)
	}
	if dec.SampleRate != RequiredSampleRate {
		return fmt.Errorf("%w: sample rate %d, want %d", ErrInvalidFrame, dec.SampleRate, RequiredSampleRate)
	}
	if dec.BitDepth != RequiredBitDepth {
		return fmt.Errorf("%w: bit depth %d, want %d", ErrInvalidFrame, dec.BitDepth, RequiredBitDepth)
	}
	return nil
}
