package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/storage"
	"github.com/MrSnakeDoc/relay/internal/supervisor"
)

type fakeStream struct {
	snap      supervisor.Snapshot
	cfg       domain.StreamConfig
	startErr  error
	stopErr   error
	replaceFn func(domain.StreamConfig) (domain.StreamConfig, error)
	override  *domain.StreamConfig
}

func (f *fakeStream) Status() supervisor.Snapshot { return f.snap }

func (f *fakeStream) RequestStart(_ context.Context, o *domain.StreamConfig) (supervisor.Snapshot, error) {
	f.override = o
	if f.startErr != nil {
		return f.snap, f.startErr
	}
	f.snap.Status = domain.StatusRunning
	f.snap.Phase = domain.PhaseRunning
	f.snap.CurrentMediaKey = "a.mp4"
	return f.snap, nil
}

func (f *fakeStream) RequestStop(context.Context) (supervisor.Snapshot, error) {
	if f.stopErr != nil {
		return f.snap, f.stopErr
	}
	f.snap.Status = domain.StatusStopped
	f.snap.Phase = domain.PhaseStopped
	return f.snap, nil
}

func (f *fakeStream) Config(context.Context) (domain.StreamConfig, error) { return f.cfg, nil }

func (f *fakeStream) ReplaceConfig(_ context.Context, cfg domain.StreamConfig) (domain.StreamConfig, error) {
	if f.replaceFn != nil {
		return f.replaceFn(cfg)
	}
	f.cfg = cfg
	return cfg, nil
}

type uploaded struct {
	key, contentType, body string
}

type fakeMedia struct {
	files     []storage.MediaFile
	err       error
	uploadErr error
	uploads   *[]uploaded
}

func (f fakeMedia) List(context.Context, string) ([]storage.MediaFile, error) { return f.files, f.err }

func (f fakeMedia) Upload(_ context.Context, key string, body io.Reader, contentType string) (storage.MediaFile, error) {
	key, err := storage.CleanUploadKey(key)
	if err != nil {
		return storage.MediaFile{}, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.MediaFile{}, fmt.Errorf("%w: %w", storage.ErrUploadBody, err)
	}
	if f.uploadErr != nil {
		return storage.MediaFile{}, f.uploadErr
	}
	if f.uploads != nil {
		*f.uploads = append(*f.uploads, uploaded{key: key, contentType: contentType, body: string(data)})
	}
	return storage.MediaFile{Key: key, Size: int64(len(data)), LastModified: time.Now()}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }
func (p fakePinger) Name() string               { return "memory" }

func newTestDeps(stream *fakeStream) deps.Deps {
	return deps.Deps{
		Logger:    logger.New("error", false),
		StartTime: time.Now().Add(-time.Minute),
		Version:   "test",
		TimeNow:   time.Now,
		Stream:    stream,
		Media: fakeMedia{files: []storage.MediaFile{
			{Key: "shows/a.mp4", Size: 1024},
		}},
		Store:           fakePinger{},
		Ready:           func() bool { return true },
		ScheduleTrigger: make(chan struct{}, 1),
	}
}

func serve(t *testing.T, d deps.Deps, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	NewRouter(d.Logger, d).ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestProbes(t *testing.T) {
	d := newTestDeps(&fakeStream{})

	if rec := serve(t, d, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := serve(t, d, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}

	notReady := d
	notReady.Ready = func() bool { return false }
	if rec := serve(t, notReady, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before reconcile = %d", rec.Code)
	}

	down := d
	down.Store = fakePinger{err: errors.New("connection refused")}
	rec := serve(t, down, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz backend down = %d", rec.Code)
	}
	if body := decode(t, rec); body["backend_ok"] != false {
		t.Errorf("body = %v", body)
	}

	rec = serve(t, down, http.MethodGet, "/infra", "")
	if body := decode(t, rec); body["mode"] != "critical" {
		t.Errorf("infra mode = %v", body["mode"])
	}

	if rec := serve(t, d, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Errorf("metrics = %d", rec.Code)
	}
}

func TestStreamStartAndStop(t *testing.T) {
	stream := &fakeStream{snap: supervisor.Snapshot{Phase: domain.PhaseStopped}}
	d := newTestDeps(stream)

	rec := serve(t, d, http.MethodPost, "/api/stream/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start = %d %s", rec.Code, rec.Body.String())
	}
	if body := decode(t, rec); body["result"] != "started" {
		t.Errorf("body = %v", body)
	}
	if stream.override != nil {
		t.Error("empty body produced an override")
	}

	rec = serve(t, d, http.MethodGet, "/api/stream/status", "")
	body := decode(t, rec)
	if body["status"] != "running" || body["current_media_key"] != "a.mp4" {
		t.Errorf("status body = %v", body)
	}

	rec = serve(t, d, http.MethodPost, "/api/stream/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop = %d", rec.Code)
	}
}

func TestStreamStartWithBody(t *testing.T) {
	stream := &fakeStream{}
	d := newTestDeps(stream)

	rec := serve(t, d, http.MethodPost, "/api/stream/start",
		`{"media_key":"b.mkv","rtmp_url":"rtmp://x/live","stream_key":"k","loop":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start = %d", rec.Code)
	}
	if stream.override == nil || stream.override.MediaKey != "b.mkv" || stream.override.StreamKey != "k" || !stream.override.Loop {
		t.Errorf("override = %+v", stream.override)
	}
}

func TestStreamErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		stream  *fakeStream
		want    int
		wantErr string
	}{
		{
			name:    "conflict",
			path:    "/api/stream/start",
			stream:  &fakeStream{startErr: &domain.Error{Kind: domain.KindConflict, Message: "stream is running", Current: domain.StatusRunning}},
			want:    http.StatusConflict,
			wantErr: "conflict",
		},
		{
			name:    "resolution",
			path:    "/api/stream/start",
			stream:  &fakeStream{startErr: &domain.Error{Kind: domain.KindResolution, Message: "cannot resolve", Err: errors.New("secret detail")}},
			want:    http.StatusBadGateway,
			wantErr: "resolution",
		},
		{
			name:    "spawn",
			path:    "/api/stream/start",
			stream:  &fakeStream{startErr: &domain.Error{Kind: domain.KindSpawn, Message: "cannot launch encoder"}},
			want:    http.StatusInternalServerError,
			wantErr: "spawn",
		},
		{
			name:    "invalid config",
			path:    "/api/stream/start",
			stream:  &fakeStream{startErr: &domain.Error{Kind: domain.KindInvalidConfig, Message: "rtmp_url is required"}},
			want:    http.StatusUnprocessableEntity,
			wantErr: "invalid_config",
		},
		{
			name:    "not running",
			path:    "/api/stream/stop",
			stream:  &fakeStream{stopErr: &domain.Error{Kind: domain.KindNotRunning, Message: "nothing to stop", Current: domain.StatusStopped}},
			want:    http.StatusNotFound,
			wantErr: "not_running",
		},
		{
			name:    "busy",
			path:    "/api/stream/stop",
			stream:  &fakeStream{stopErr: &domain.Error{Kind: domain.KindBusy}},
			want:    http.StatusServiceUnavailable,
			wantErr: "busy",
		},
		{
			name:    "malformed body",
			path:    "/api/stream/start",
			body:    `{"media_key":`,
			stream:  &fakeStream{},
			want:    http.StatusBadRequest,
			wantErr: "bad_request",
		},
		{
			name:    "unknown field",
			path:    "/api/stream/start",
			body:    `{"media":"a.mp4"}`,
			stream:  &fakeStream{},
			want:    http.StatusBadRequest,
			wantErr: "bad_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, newTestDeps(tt.stream), http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			body := decode(t, rec)
			if body["error"] != tt.wantErr {
				t.Errorf("error = %v, want %s", body["error"], tt.wantErr)
			}
			if strings.Contains(rec.Body.String(), "secret detail") {
				t.Error("wrapped cause leaked into response")
			}
		})
	}

	rec := serve(t, newTestDeps(tests[0].stream), http.MethodPost, "/api/stream/start", "")
	if body := decode(t, rec); body["current_status"] != "running" {
		t.Errorf("conflict current_status = %v", body["current_status"])
	}
}

func TestStreamConfigRoutes(t *testing.T) {
	stream := &fakeStream{cfg: domain.StreamConfig{MediaKey: "a.mp4", RTMPURL: "rtmp://x/live", StreamKey: "hidden"}}
	d := newTestDeps(stream)

	rec := serve(t, d, http.MethodGet, "/api/stream/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get config = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "hidden") {
		t.Error("stream key leaked")
	}
	if body := decode(t, rec); body["stream_key_set"] != true {
		t.Errorf("body = %v", body)
	}

	rec = serve(t, d, http.MethodPut, "/api/stream/config", `{"playlist":["x.mp4","y.mp4"],"rtmp_url":"rtmp://x/live"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put config = %d %s", rec.Code, rec.Body.String())
	}
	if len(stream.cfg.Playlist) != 2 {
		t.Errorf("stored = %+v", stream.cfg)
	}
	select {
	case <-d.ScheduleTrigger:
	default:
		t.Error("schedule not re-evaluated after config change")
	}

	if rec := serve(t, d, http.MethodPut, "/api/stream/config", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("empty put = %d", rec.Code)
	}

	stream.replaceFn = func(domain.StreamConfig) (domain.StreamConfig, error) {
		return domain.StreamConfig{}, &domain.Error{Kind: domain.KindConflict, Message: "stream is running", Current: domain.StatusRunning}
	}
	if rec := serve(t, d, http.MethodPut, "/api/stream/config", `{"media_key":"z.mp4"}`); rec.Code != http.StatusConflict {
		t.Errorf("put while running = %d", rec.Code)
	}
}

func TestControlRoutesRequireToken(t *testing.T) {
	d := newTestDeps(&fakeStream{})
	d.APIToken = "s3cret"

	if rec := serve(t, d, http.MethodPost, "/api/stream/start", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d", rec.Code)
	}
	if rec := serve(t, d, http.MethodGet, "/api/storage/files", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("storage without token = %d", rec.Code)
	}
	if rec := serve(t, d, http.MethodPost, "/api/stream/start", "", "Authorization", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Errorf("with token = %d", rec.Code)
	}
	if rec := serve(t, d, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz gated = %d", rec.Code)
	}
}

func TestStorageFiles(t *testing.T) {
	d := newTestDeps(&fakeStream{})
	rec := serve(t, d, http.MethodGet, "/api/storage/files?prefix=shows/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("files = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["count"] != float64(1) || body["prefix"] != "shows/" {
		t.Errorf("body = %v", body)
	}

	d.Media = fakeMedia{err: storage.ErrUnavailable}
	if rec := serve(t, d, http.MethodGet, "/api/storage/files", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("breaker open = %d", rec.Code)
	}
}

func uploadRequest(t *testing.T, key, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	if key != "" {
		if err := mpw.WriteField("object_key", key); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mpw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatal(err)
	}
	if err := mpw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/storage/files", &buf)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	return req
}

func serveUpload(d deps.Deps, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	NewRouter(d.Logger, d).ServeHTTP(rec, req)
	return rec
}

func TestStorageUpload(t *testing.T) {
	var got []uploaded
	d := newTestDeps(&fakeStream{})
	d.Media = fakeMedia{uploads: &got}
	d.MaxUploadBytes = 1 << 20
	d.UploadTimeout = time.Minute

	t.Run("explicit key", func(t *testing.T) {
		rec := serveUpload(d, uploadRequest(t, "shows/new.mp4", "local-name.mp4", "frames"))
		if rec.Code != http.StatusCreated {
			t.Fatalf("upload = %d %s", rec.Code, rec.Body.String())
		}
		body := decode(t, rec)
		if body["key"] != "shows/new.mp4" || body["size"] != float64(len("frames")) {
			t.Errorf("body = %v", body)
		}
		last := got[len(got)-1]
		if last.body != "frames" || last.contentType != "application/octet-stream" {
			t.Errorf("stored = %+v", last)
		}
	})

	t.Run("file name as key", func(t *testing.T) {
		rec := serveUpload(d, uploadRequest(t, "", "clip.mkv", "x"))
		if rec.Code != http.StatusCreated {
			t.Fatalf("upload = %d %s", rec.Code, rec.Body.String())
		}
		if got[len(got)-1].key != "clip.mkv" {
			t.Errorf("key = %q", got[len(got)-1].key)
		}
	})

	t.Run("non media key", func(t *testing.T) {
		rec := serveUpload(d, uploadRequest(t, "notes.txt", "notes.txt", "x"))
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("non media = %d", rec.Code)
		}
	})

	t.Run("not multipart", func(t *testing.T) {
		rec := serve(t, d, http.MethodPost, "/api/storage/files", `{"key":"a.mp4"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("json body = %d", rec.Code)
		}
	})

	t.Run("body over the cap", func(t *testing.T) {
		small := d
		small.MaxUploadBytes = 512
		rec := serveUpload(small, uploadRequest(t, "big.mp4", "big.mp4", strings.Repeat("x", 4096)))
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("oversized = %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("storage unavailable", func(t *testing.T) {
		down := d
		down.Media = fakeMedia{uploadErr: fmt.Errorf("%w: breaker open", storage.ErrUnavailable)}
		rec := serveUpload(down, uploadRequest(t, "a.mp4", "a.mp4", "x"))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("unavailable = %d", rec.Code)
		}
	})

	t.Run("requires token", func(t *testing.T) {
		locked := d
		locked.APIToken = "s3cret"
		if rec := serveUpload(locked, uploadRequest(t, "a.mp4", "a.mp4", "x")); rec.Code != http.StatusUnauthorized {
			t.Errorf("without token = %d", rec.Code)
		}
		req := uploadRequest(t, "a.mp4", "a.mp4", "x")
		req.Header.Set("Authorization", "Bearer s3cret")
		if rec := serveUpload(locked, req); rec.Code != http.StatusCreated {
			t.Errorf("with token = %d", rec.Code)
		}
	})
}
