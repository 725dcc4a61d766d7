package transcoder

import (
	"fmt"
	"math"
)

// LoudnessTarget holds EBU R128 loudnorm parameters
type LoudnessTarget struct {
	Integrated float64 // LUFS
	TruePeak   float64 // dBTP
	Range      float64 // LU
}

// DefaultLoudness is the streaming-platform target of -16 LUFS
func DefaultLoudness() LoudnessTarget {
	return LoudnessTarget{Integrated: -16.0, TruePeak: -1.5, Range: 11.0}
}

// loudnormFilter returns a single-pass loudnorm filter
func loudnormFilter(t LoudnessTarget) string {
	return fmt.Sprintf("loudnorm=I=%.1f:TP=%.1f:LRA=%.1f", t.Integrated, t.TruePeak, t.Range)
}

// noiseReductionFilter returns an FFT denoiser with a -25dB noise floor
func noiseReductionFilter() string {
	return "afftdn=nf=-25"
}

// volumeFilter returns a volume filter, or "" for unity gain
func volumeFilter(v float64) string {
	if math.Abs(v-1) < 1e-9 {
		return ""
	}
	return "volume=" + num(math.Round(v*1000)/1000)
}

// atempoChain returns atempo filters whose product is factor. atempo only
// accepts 0.5..2.0 per instance so larger changes are chained.
func atempoChain(factor float64) []string {
	if factor <= 0 || math.Abs(factor-1) < 1e-6 {
		return nil
	}
	var out []string
	for factor > 2.0 {
		out = append(out, "atempo=2.0")
		factor /= 2.0
	}
	for factor < 0.5 {
		out = append(out, "atempo=0.5")
		factor /= 0.5
	}
	return append(out, "atempo="+num(math.Round(factor*1e6)/1e6))
}

// audioSpecOptions returns the audio encoder arguments for an output
func audioSpecOptions(codec string, bitrate int64, sampleRate, channels int) []string {
	if codec == "" {
		codec = "aac"
	}
	args := []string{"-c:a", encoderFor(codec)}
	if bitrate > 0 {
		args = append(args, "-b:a", kbps(bitrate))
	}
	if sampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%d", sampleRate))
	}
	if channels > 0 {
		args = append(args, "-ac", fmt.Sprintf("%d", channels))
	}
	return args
}

// kbps formats a bitrate in bits per second as ffmpeg kilobits
func kbps(bits int64) string {
	return fmt.Sprintf("%dk", bits/1000)
}
