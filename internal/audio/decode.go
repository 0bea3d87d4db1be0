// Package audio turns audio files into fixed-length feature vectors.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/franz/crate-digger/internal/util"
)

// Decoder produces mono PCM samples in [-1, 1] at sampleRate, truncated to
// maxSeconds (0 means no limit).
type Decoder interface {
	Decode(ctx context.Context, path string, sampleRate int, maxSeconds float64) ([]float64, error)
}

// FFmpegDecoder decodes through an ffmpeg subprocess
type FFmpegDecoder struct {
	Binary string // defaults to "ffmpeg"
}

// Decode runs ffmpeg and converts its s16le output
func (d *FFmpegDecoder) Decode(ctx context.Context, path string, sampleRate int, maxSeconds float64) ([]float64, error) {
	bin := d.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("%s: %w", bin, util.ErrNotFound)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-i", path}
	if maxSeconds > 0 {
		args = append(args, "-t", strconv.FormatFloat(maxSeconds, 'f', -1, 64))
	}
	args = append(args,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-",
	)

	cmd := exec.CommandContext(ctx, bin, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("ffmpeg failed: %s: %w", msg, err)
		}
		return nil, fmt.Errorf("ffmpeg execution failed: %w", err)
	}

	return PCM16ToFloat(out.Bytes()), nil
}

// PCM16ToFloat converts signed 16-bit little-endian samples to [-1, 1].
// A trailing odd byte is dropped.
func PCM16ToFloat(data []byte) []float64 {
	samples := make([]float64, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[2*i:]))
		samples[i] = float64(v) / 32768.0
	}
	return samples
}

// CheckFFmpegAvailable checks if ffmpeg is available in PATH
func CheckFFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}
