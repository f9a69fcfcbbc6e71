// Package audio defines the inbound audio frame type and validates that a
// frame's bytes form a PCM mono 16 kHz 16-bit WAV file.
package audio

import "time"

// FrameUnit is the internal representation of one inbound audio frame,
// regardless of whether it arrived as a raw binary WebSocket frame or as a
// base64-encoded JSON envelope.
type FrameUnit struct {
	SessionID  string
	Bytes      []byte
	ReceivedAt time.Time
}
