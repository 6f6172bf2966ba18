// Package encoder builds the encoder command line and interprets its output.
package encoder

import (
	"path"
	"strconv"
	"strings"

	"github.com/MrSnakeDoc/relay/internal/process"
)

// Options are the installation-wide encoder settings.
type Options struct {
	Path         string // executable, resolved through PATH
	VideoBitrate string // transcode target, ex: "3000k"
}

// outputMarkers identify an encoder started by this controller.
var outputMarkers = []string{"flv"}

// CopyCompatible reports whether key can be forwarded without re-encoding.
// Only MP4 inputs are assumed to carry FLV-compatible codecs.
func CopyCompatible(key string) bool {
	return strings.EqualFold(path.Ext(key), ".mp4")
}

// Destination joins the ingest URL and stream key.
func Destination(rtmpURL, streamKey string) string {
	return strings.TrimRight(rtmpURL, "/") + "/" + streamKey
}

// Args returns the full argument vector for pushing input to destination.
func (o Options) Args(input, destination string, copyCodec bool) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-re",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", input,
		"-flush_packets", "1",
		"-avoid_negative_ts", "make_zero",
	}

	if copyCodec {
		args = append(args, "-c", "copy")
	} else {
		bitrate := o.VideoBitrate
		if bitrate == "" {
			bitrate = "3000k"
		}
		args = append(args,
			"-c:v", "libx264",
			"-preset", "medium",
			"-b:v", bitrate,
			"-maxrate", bitrate,
			"-bufsize", doubleBitrate(bitrate),
			"-force_key_frames", "expr:gte(t,0)",
			"-c:a", "aac",
			"-b:a", "128k",
			"-ar", "44100",
		)
	}

	return append(args, "-f", "flv", destination)
}

// Command assembles the spec for streaming mediaKey, already resolved to url.
func (o Options) Command(url, mediaKey, rtmpURL, streamKey string, onLine process.LineFunc) process.CommandSpec {
	return process.CommandSpec{
		Path:   o.executable(),
		Args:   o.Args(url, Destination(rtmpURL, streamKey), CopyCompatible(mediaKey)),
		OnLine: onLine,
	}
}

// Signature describes how to recognise an encoder started from executable.
func Signature(executable string) process.Signature {
	return process.Signature{
		Executable: executable,
		Markers:    outputMarkers,
		Tolerance:  process.DefaultCreateTolerance,
	}
}

func (o Options) executable() string {
	if o.Path == "" {
		return "ffmpeg"
	}
	return o.Path
}

// doubleBitrate derives the rate-control buffer from a "<n><unit>" bitrate.
func doubleBitrate(b string) string {
	digits := strings.TrimRightFunc(b, func(r rune) bool { return r < '0' || r > '9' })
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return "6000k"
	}
	return strconv.Itoa(n*2) + b[len(digits):]
}
