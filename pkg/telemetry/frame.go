// Package telemetry defines the wire protocol spoken between the embedded
// sensing device and the gateway: the binary audio frame format on the
// producer side and the JSON metrics messages fanned out to consumers.
package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Message type tags. The first byte of every binary frame identifies its kind.
const (
	// TypeAudioFrame carries interleaved little-endian int16 PCM samples.
	TypeAudioFrame byte = 0x01
)

// HeaderSize is the fixed frame header length in bytes:
// Type(1) + Timestamp(4) + SampleRateHint(2) + ChunkSizeHint(1).
const HeaderSize = 8

// Scaling factors applied to the compact header hints. The device divides
// before sending to fit the values into 2 and 1 bytes respectively.
const (
	sampleRateScale = 100
	chunkSizeScale  = 64
)

var (
	// ErrFrameTooShort is returned when the input is shorter than [HeaderSize].
	ErrFrameTooShort = errors.New("telemetry: frame shorter than header")

	// ErrUnknownMessageType is returned when the first header byte is not a
	// recognised message type tag. Callers should log and skip the frame
	// rather than tear down the connection.
	ErrUnknownMessageType = errors.New("telemetry: unknown message type")
)

// RawFrame is one decoded binary message from the producer: the parsed header
// plus a view into the original payload bytes. The payload is NOT copied —
// the frame must not outlive the buffer it was decoded from.
type RawFrame struct {
	// Type is the message type tag (currently always [TypeAudioFrame]).
	Type byte

	// Timestamp is the producer-assigned monotonic timestamp. It wraps at
	// 32 bits; the gateway passes it through without interpretation.
	Timestamp uint32

	// SampleRate is the sample rate hint in Hz (already rescaled from the
	// compact header encoding).
	SampleRate int

	// ChunkSize is the producer's nominal samples-per-frame hint (rescaled).
	ChunkSize int

	// Payload holds the interleaved little-endian int16 samples as raw bytes.
	Payload []byte
}

// Decode parses a length-delimited binary frame. It returns
// [ErrFrameTooShort] when data cannot hold a full header and
// [ErrUnknownMessageType] when the type tag is unrecognised.
//
// The returned frame's Payload aliases data; callers that retain the frame
// beyond the lifetime of data must copy it.
func Decode(data []byte) (RawFrame, error) {
	if len(data) < HeaderSize {
		return RawFrame{}, fmt.Errorf("%w: got %d bytes, need %d", ErrFrameTooShort, len(data), HeaderSize)
	}
	if data[0] != TypeAudioFrame {
		return RawFrame{}, fmt.Errorf("%w: 0x%02x", ErrUnknownMessageType, data[0])
	}
	return RawFrame{
		Type:       data[0],
		Timestamp:  binary.LittleEndian.Uint32(data[1:5]),
		SampleRate: int(binary.LittleEndian.Uint16(data[5:7])) * sampleRateScale,
		ChunkSize:  int(data[7]) * chunkSizeScale,
		Payload:    data[HeaderSize:],
	}, nil
}

// Encode serialises a frame back into its wire representation. Used by tests
// and the synthetic feed tool; the device firmware has its own encoder.
func Encode(f RawFrame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = f.Type
	binary.LittleEndian.PutUint32(buf[1:5], f.Timestamp)
	binary.LittleEndian.PutUint16(buf[5:7], uint16(f.SampleRate/sampleRateScale))
	buf[7] = byte(f.ChunkSize / chunkSizeScale)
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// Samples converts the payload into signed 16-bit samples. Bytes pair up
// little-endian; an odd trailing byte is an incomplete sample and is dropped
// silently. This is the documented lossy edge case of the protocol, not an
// error.
func (f RawFrame) Samples() []int16 {
	n := len(f.Payload) / 2
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(f.Payload[i*2:]))
	}
	return samples
}
