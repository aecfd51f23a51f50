package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/pion/opus"
	"github.com/pion/opus/pkg/oggreader"
	"github.com/sirupsen/logrus"
)

// DefaultWaveformBuckets is the number of amplitude bars derived for
// waveform rendering.
const DefaultWaveformBuckets = 32

// ErrUnsupportedClip is returned when a clip is not Ogg Opus; callers
// fall back to collaborator-supplied duration and waveform.
var ErrUnsupportedClip = errors.New("unsupported voice clip format")

// frameDuration is the Opus packet duration produced by the capture
// collaborators (20ms, the Opus default).
const frameDuration = 20 * time.Millisecond

// VoiceAnalysis is the metadata derived from a voice clip for the
// VoicePayload: the clip length and normalized amplitude samples.
type VoiceAnalysis struct {
	Duration time.Duration
	Waveform []float64
}

// AnalyzeVoice decodes an Ogg Opus clip and derives its duration and an
// N-bucket waveform. Clips in other formats return ErrUnsupportedClip.
func AnalyzeVoice(clip *Clip, buckets int) (VoiceAnalysis, error) {
	if clip == nil || len(clip.Data) == 0 {
		return VoiceAnalysis{}, fmt.Errorf("%w: empty clip", ErrUnsupportedClip)
	}
	if buckets <= 0 {
		buckets = DefaultWaveformBuckets
	}

	logrus.WithFields(logrus.Fields{
		"function":  "AnalyzeVoice",
		"mime_type": clip.MimeType,
		"data_size": len(clip.Data),
	}).Debug("Analyzing voice clip")

	ogg, _, err := oggreader.NewWith(bytes.NewReader(clip.Data))
	if err != nil {
		return VoiceAnalysis{}, fmt.Errorf("%w: %v", ErrUnsupportedClip, err)
	}

	decoder := opus.NewDecoder()
	// 1920 samples covers a 40ms frame at 48kHz, the largest the capture
	// collaborators produce.
	out := make([]byte, 1920*2)

	var amplitudes []float64
	var frames int
	for {
		segments, _, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return VoiceAnalysis{}, fmt.Errorf("reading ogg page: %w", err)
		}
		for _, segment := range segments {
			if _, _, err := decoder.Decode(segment, out); err != nil {
				// Header and comment packets are not audio; skip them.
				continue
			}
			frames++
			amplitudes = append(amplitudes, rms(out))
		}
	}

	if frames == 0 {
		return VoiceAnalysis{}, fmt.Errorf("%w: no audio frames", ErrUnsupportedClip)
	}

	analysis := VoiceAnalysis{
		Duration: time.Duration(frames) * frameDuration,
		Waveform: bucketize(amplitudes, buckets),
	}

	logrus.WithFields(logrus.Fields{
		"function": "AnalyzeVoice",
		"frames":   frames,
		"duration": analysis.Duration,
		"buckets":  len(analysis.Waveform),
	}).Debug("Voice clip analyzed")

	return analysis, nil
}

// WaveformFromPCM derives an N-bucket normalized waveform from raw PCM
// samples. Used directly by collaborators that hand over PCM instead of
// Opus.
func WaveformFromPCM(pcm []int16, buckets int) []float64 {
	if buckets <= 0 {
		buckets = DefaultWaveformBuckets
	}
	if len(pcm) == 0 {
		return nil
	}

	amplitudes := make([]float64, 0, buckets)
	chunk := len(pcm) / buckets
	if chunk == 0 {
		chunk = 1
	}
	for start := 0; start < len(pcm); start += chunk {
		end := start + chunk
		if end > len(pcm) {
			end = len(pcm)
		}
		var sum float64
		for _, s := range pcm[start:end] {
			f := float64(s) / math.MaxInt16
			sum += f * f
		}
		amplitudes = append(amplitudes, math.Sqrt(sum/float64(end-start)))
	}
	return bucketize(amplitudes, buckets)
}

// rms computes the root-mean-square amplitude of little-endian int16
// samples in [0, 1].
func rms(samples []byte) float64 {
	n := len(samples) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(samples[i*2]) | int16(samples[i*2+1])<<8
		f := float64(s) / math.MaxInt16
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

// bucketize reduces a series to at most n values by averaging runs.
func bucketize(series []float64, n int) []float64 {
	if len(series) <= n {
		return normalize(append([]float64(nil), series...))
	}
	out := make([]float64, n)
	per := float64(len(series)) / float64(n)
	for i := 0; i < n; i++ {
		start := int(float64(i) * per)
		end := int(float64(i+1) * per)
		if end > len(series) {
			end = len(series)
		}
		if end <= start {
			end = start + 1
		}
		var sum float64
		for _, v := range series[start:end] {
			sum += v
		}
		out[i] = sum / float64(end-start)
	}
	return normalize(out)
}

// normalize scales a waveform so its peak is 1, keeping silence at 0.
func normalize(series []float64) []float64 {
	var peak float64
	for _, v := range series {
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return series
	}
	for i := range series {
		series[i] /= peak
	}
	return series
}
