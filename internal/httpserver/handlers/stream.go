package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/supervisor"
)

// streamConfigRequest is the wire shape of a stream config. Unlike the
// stored record it accepts the stream key.
type streamConfigRequest struct {
	MediaKey         string                  `json:"media_key"`
	Playlist         []string                `json:"playlist"`
	RTMPURL          string                  `json:"rtmp_url"`
	StreamKey        string                  `json:"stream_key"`
	Loop             bool                    `json:"loop"`
	LoopDelaySeconds int                     `json:"loop_delay_seconds"`
	Schedule         domain.Schedule         `json:"schedule"`
	OnTrackError     domain.TrackErrorPolicy `json:"on_track_error"`
}

func (r streamConfigRequest) toDomain() domain.StreamConfig {
	return domain.StreamConfig{
		MediaKey:         r.MediaKey,
		Playlist:         r.Playlist,
		RTMPURL:          r.RTMPURL,
		StreamKey:        r.StreamKey,
		Loop:             r.Loop,
		LoopDelaySeconds: r.LoopDelaySeconds,
		Schedule:         r.Schedule,
		OnTrackError:     r.OnTrackError,
	}
}

type streamConfigResponse struct {
	domain.StreamConfig
	StreamKeySet bool `json:"stream_key_set"`
}

func configResponse(cfg domain.StreamConfig) streamConfigResponse {
	return streamConfigResponse{StreamConfig: cfg.Redacted(), StreamKeySet: cfg.HasStreamKey()}
}

type streamActionResponse struct {
	Result string              `json:"result"`
	Stream supervisor.Snapshot `json:"stream"`
}

// decodeConfig reads an optional JSON body. It returns nil for an empty body.
func decodeConfig(r *http.Request) (*domain.StreamConfig, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	var req streamConfigRequest
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	cfg := req.toDomain()
	return &cfg, nil
}

func StreamStatus(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Stream.Status())
	}
}

func StreamStart(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		override, err := decodeConfig(r)
		if err != nil {
			badRequest(w, "invalid JSON body: "+err.Error())
			return
		}

		snap, err := d.Stream.RequestStart(r.Context(), override)
		if err != nil {
			writeError(w, d, err)
			return
		}
		d.Logger.Info("stream start requested via API",
			logger.String("media_key", snap.CurrentMediaKey),
			logger.Bool("override", override != nil))
		writeJSON(w, http.StatusOK, streamActionResponse{Result: "started", Stream: snap})
	}
}

func StreamStop(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := d.Stream.RequestStop(r.Context())
		if err != nil {
			writeError(w, d, err)
			return
		}
		d.Logger.Info("stream stop requested via API")
		writeJSON(w, http.StatusOK, streamActionResponse{Result: "stopped", Stream: snap})
	}
}

func GetStreamConfig(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := d.Stream.Config(r.Context())
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, configResponse(cfg))
	}
}

func PutStreamConfig(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := decodeConfig(r)
		if err != nil {
			badRequest(w, "invalid JSON body: "+err.Error())
			return
		}
		if cfg == nil {
			badRequest(w, "request body is required")
			return
		}

		saved, err := d.Stream.ReplaceConfig(r.Context(), *cfg)
		if err != nil {
			writeError(w, d, err)
			return
		}

		if d.ScheduleTrigger != nil {
			select {
			case d.ScheduleTrigger <- struct{}{}:
			default:
			}
		}
		writeJSON(w, http.StatusOK, configResponse(saved))
	}
}
