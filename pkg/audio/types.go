// Package audio holds the PCM primitives shared by the capture and playback
// pipelines: frame and format types, float ↔ PCM16 conversion, down-mixing,
// streaming resampling and level metering.
//
// Sub-packages provide the pipelines themselves ([capture], [playback]) and
// device backends ([portaudio], [mock]).
package audio

import (
	"fmt"
	"time"
)

// WireFormat is the format of every outbound frame: 16 kHz, mono, 16-bit
// little-endian linear PCM.
var WireFormat = Format{SampleRate: 16000, Channels: 1}

// DefaultPlaybackFormat is the format of synthesised speech returned by the
// live model: 24 kHz mono PCM16.
var DefaultPlaybackFormat = Format{SampleRate: 24000, Channels: 1}

// AudioFrame is a single chunk of captured PCM audio flowing to the remote.
type AudioFrame struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz. Always [WireFormat].SampleRate for captured frames.
	SampleRate int

	// Channels is 1 for every captured frame.
	Channels int

	// Timestamp is the position of the first sample relative to capture start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether both fields are positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Duration returns the playing time of n interleaved samples in this format,
// rounded to the nearest nanosecond.
func (f Format) Duration(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	return f.FrameDuration(int64(n / f.Channels))
}

// FrameDuration converts a sample-frame index to a clock position, rounded to
// the nearest nanosecond. FramesAt(FrameDuration(n)) == n for every n >= 0.
func (f Format) FrameDuration(frames int64) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	rate := int64(f.SampleRate)
	return time.Duration((frames*int64(time.Second) + rate/2) / rate)
}

// FramesAt converts a clock position to the nearest sample-frame index.
func (f Format) FramesAt(d time.Duration) int64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return (int64(d)*int64(f.SampleRate) + int64(time.Second)/2) / int64(time.Second)
}

// MIMEType returns the media type used on the wire, e.g. "audio/pcm;rate=16000".
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
