package domain

import (
	"strings"
	"time"
)

// TrackErrorPolicy decides what a playlist does after a track crashes.
type TrackErrorPolicy string

const (
	// RetryTrack re-runs the failed entry under backoff.
	RetryTrack TrackErrorPolicy = "retry"
	// SkipTrack moves on to the next entry under backoff.
	SkipTrack TrackErrorPolicy = "skip"
)

const (
	DefaultLoopDelaySeconds = 5
	MinLoopDelaySeconds     = 1
	MaxLoopDelaySeconds     = 300
)

// StreamConfig is the operator-supplied description of what to stream.
// StreamKey never reaches disk in clear; stores persist SealedStreamKey.
type StreamConfig struct {
	MediaKey         string           `json:"media_key,omitempty" yaml:"media_key" validate:"required_without=Playlist,omitempty,max=1024"`
	Playlist         []string         `json:"playlist,omitempty" yaml:"playlist" validate:"omitempty,min=1,max=500,dive,required,max=1024"`
	RTMPURL          string           `json:"rtmp_url" yaml:"rtmp_url" validate:"required,startswith=rtmp://|startswith=rtmps://"`
	StreamKey        string           `json:"-" yaml:"stream_key"`
	SealedStreamKey  string           `json:"sealed_stream_key,omitempty" yaml:"-"`
	Loop             bool             `json:"loop" yaml:"loop"`
	LoopDelaySeconds int              `json:"loop_delay_seconds" yaml:"loop_delay_seconds" validate:"gte=1,lte=300"`
	Schedule         Schedule         `json:"schedule" yaml:"schedule"`
	OnTrackError     TrackErrorPolicy `json:"on_track_error,omitempty" yaml:"on_track_error" validate:"omitempty,oneof=retry skip"`
}

// Normalize fills defaults and trims operator input. It is idempotent.
func (c *StreamConfig) Normalize() {
	c.MediaKey = strings.TrimSpace(c.MediaKey)
	c.RTMPURL = strings.TrimSpace(c.RTMPURL)
	c.StreamKey = strings.TrimSpace(c.StreamKey)

	if len(c.Playlist) > 0 {
		cleaned := make([]string, 0, len(c.Playlist))
		for _, k := range c.Playlist {
			if k = strings.TrimSpace(k); k != "" {
				cleaned = append(cleaned, k)
			}
		}
		c.Playlist = cleaned
	}
	if len(c.Playlist) > 0 && c.MediaKey == "" {
		c.MediaKey = c.Playlist[0]
	}

	if c.LoopDelaySeconds == 0 {
		c.LoopDelaySeconds = DefaultLoopDelaySeconds
	}
	if c.OnTrackError == "" {
		c.OnTrackError = RetryTrack
	}
	c.Schedule.StartTime = strings.TrimSpace(c.Schedule.StartTime)
}

// IsPlaylist reports whether the config streams an ordered list of entries.
func (c StreamConfig) IsPlaylist() bool { return len(c.Playlist) > 0 }

// Entries returns the ordered keys to stream; a single media key is a
// one-entry list.
func (c StreamConfig) Entries() []string {
	if c.IsPlaylist() {
		return c.Playlist
	}
	if c.MediaKey == "" {
		return nil
	}
	return []string{c.MediaKey}
}

// EntryAt returns the media key at playlist position i, wrapping out of range
// indices back to the first entry.
func (c StreamConfig) EntryAt(i int) string {
	entries := c.Entries()
	if len(entries) == 0 {
		return ""
	}
	if i < 0 || i >= len(entries) {
		i = 0
	}
	return entries[i]
}

// LoopDelay is the pause between consecutive tracks or loop iterations.
func (c StreamConfig) LoopDelay() time.Duration {
	secs := c.LoopDelaySeconds
	if secs <= 0 {
		secs = DefaultLoopDelaySeconds
	}
	return time.Duration(secs) * time.Second
}

// Redacted hides the stream key in both its clear and sealed forms.
func (c StreamConfig) Redacted() StreamConfig {
	out := c
	out.Playlist = append([]string(nil), c.Playlist...)
	if out.StreamKey != "" {
		out.StreamKey = "***REDACTED***"
	}
	out.SealedStreamKey = ""
	return out
}

// HasStreamKey reports whether a destination credential is configured.
func (c StreamConfig) HasStreamKey() bool { return c.StreamKey != "" }
