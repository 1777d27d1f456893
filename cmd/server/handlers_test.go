package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/earpeace/internal/config"
	"github.com/himanishpuri/earpeace/pkg/earpeace"
	"github.com/himanishpuri/earpeace/pkg/earpeace/audio"
	"github.com/himanishpuri/earpeace/pkg/earpeace/fingerprint"
	"github.com/himanishpuri/earpeace/pkg/logger"
)

const rate = audio.TargetSampleRate

func sweep(seconds float64) []float64 {
	n := int(seconds * rate)
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / rate
		out[i] = 0.8 * math.Sin(2*math.Pi*(500*t+100*t*t))
	}
	return out
}

type testServer struct {
	srv     *Server
	svc     earpeace.Service
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	svc, err := earpeace.NewService(
		earpeace.WithDBPath(filepath.Join(dir, "catalog.sqlite3")),
		earpeace.WithIndexDir(filepath.Join(dir, "indexes")),
		earpeace.WithTempDir(filepath.Join(dir, "tmp")),
		earpeace.WithWorkers(2),
		earpeace.WithLogger(logger.Discard()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	cfg := &config.Config{
		TempDir:    filepath.Join(dir, "tmp"),
		SampleRate: rate,
		Server: config.ServerConfig{
			MaxUploadMB:         8,
			AllowedOrigin:       "*",
			MaintenanceInterval: time.Hour,
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := NewServer(ctx, svc, cfg, logger.Discard())
	return &testServer{srv: srv, svc: svc, handler: srv.setupRoutes()}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func landmarkRequest(t *testing.T, samples []float64, clipID string) MatchLandmarksRequest {
	t.Helper()
	lms, err := fingerprint.Fingerprint(samples, rate, fingerprint.DefaultParams())
	require.NoError(t, err)
	req := MatchLandmarksRequest{SampleRate: rate, ClipID: clipID}
	for _, lm := range lms {
		req.Landmarks = append(req.Landmarks, LandmarkDTO{Hash: uint32(lm.Hash), Frame: lm.Frame})
	}
	return req
}

func TestHealthAndRoot(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = ts.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/match/landmarks")

	rec = ts.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReferencesEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	rec := ts.do(t, http.MethodGet, "/api/references", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListReferencesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Zero(t, list.Count)
	assert.NotNil(t, list.References)

	_, err := ts.svc.IndexSignal(ctx, "pub-x_VIDEO", "X", audio.Signal{Samples: sweep(3), SampleRate: rate})
	require.NoError(t, err)

	rec = ts.do(t, http.MethodGet, "/api/references/pub-x_VIDEO", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ref earpeace.Reference
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ref))
	assert.Equal(t, earpeace.StatusIndexed, ref.Status)

	rec = ts.do(t, http.MethodGet, "/api/references/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/references/pub-x_VIDEO", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/references/pub-x_VIDEO", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/references/pub-x_VIDEO", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMatchLandmarksEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ref := sweep(4)
	_, err := ts.svc.IndexSignal(context.Background(), "a", "Alpha", audio.Signal{Samples: ref, SampleRate: rate})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/match/landmarks", landmarkRequest(t, ref[2*rate:3*rate], ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res MatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "a", res.ClipID)
	assert.Equal(t, "Alpha", res.Title)
	assert.InDelta(t, 2000, res.OffsetMs, 35)
	assert.Greater(t, res.Confidence, 0.3)

	rec = ts.do(t, http.MethodPost, "/api/match/landmarks", landmarkRequest(t, ref[rate:2*rate], "missing"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMatchLandmarksNoMatch(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/match/landmarks", landmarkRequest(t, sweep(1), ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_match")
}

func TestMatchLandmarksBadRequests(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/match/landmarks", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/match/landmarks", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	tests := []struct {
		name string
		req  MatchLandmarksRequest
	}{
		{"empty", MatchLandmarksRequest{SampleRate: rate}},
		{"no rate", MatchLandmarksRequest{Landmarks: []LandmarkDTO{{Hash: uint32(fingerprint.PackHash(1, 2, 3))}}}},
		{"zero delta", MatchLandmarksRequest{SampleRate: rate, Landmarks: []LandmarkDTO{{Hash: uint32(fingerprint.PackHash(1, 2, 0))}}}},
		{"high bits", MatchLandmarksRequest{SampleRate: rate, Landmarks: []LandmarkDTO{{Hash: 1<<31 | 3}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/match/landmarks", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec = ts.do(t, http.MethodPost, "/api/match/landmarks", MatchLandmarksRequest{
		SampleRate: 44100,
		Landmarks:  []LandmarkDTO{{Hash: uint32(fingerprint.PackHash(1, 2, 3))}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchFileRequiresAudio(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/match", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func uploadRequest(t *testing.T, path string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "clip.webm")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUndecodableUploadIsBadRequest(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	ts := newTestServer(t)

	for _, path := range []string{"/api/match", "/api/references"} {
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, uploadRequest(t, path, []byte("definitely not audio")))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestMissingFFmpegIsServerError(t *testing.T) {
	ts := newTestServer(t)
	t.Setenv("PATH", t.TempDir())

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, uploadRequest(t, "/api/match", []byte("whatever")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusFor(t *testing.T) {
	decode := fmt.Errorf("audio conversion failed: %w",
		fmt.Errorf("%w: ffmpeg failed: exit status 1", audio.ErrDecodeFailure))

	tests := []struct {
		err  error
		want int
	}{
		{decode, http.StatusBadRequest},
		{fmt.Errorf("get: %w", earpeace.ErrReferenceNotFound), http.StatusNotFound},
		{earpeace.ErrSampleRateMismatch, http.StatusBadRequest},
		{earpeace.ErrNoHashes, http.StatusBadRequest},
		{fingerprint.ErrInvalidParams, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("ffmpeg is not installed: %w", exec.ErrNotFound), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestAdminStatusAndMaintenance(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/admin/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Nil(t, status.LastMaintenanceAt)
	assert.Equal(t, int64(3600), status.IntervalSeconds)
	assert.Contains(t, status.Counts, earpeace.StatusIndexed)

	rec = ts.do(t, http.MethodPost, "/api/admin/maintenance", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/admin/status", nil)
		var st StatusResponse
		return json.Unmarshal(rec.Body.Bytes(), &st) == nil && st.LastMaintenanceAt != nil && !st.Running
	}, 5*time.Second, 20*time.Millisecond)

	rec = ts.do(t, http.MethodGet, "/api/admin/maintenance", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMaintenanceNotStackedWhileRunning(t *testing.T) {
	ts := newTestServer(t)

	ts.srv.maintaining.Store(true)
	rec := ts.do(t, http.MethodPost, "/api/admin/maintenance", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	ts.srv.maintaining.Store(false)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/match", nil)
	req.Header.Set("Origin", "https://example.org")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	h := corsMiddleware(allowedOrigins("https://a.example, https://b.example"))(http.NotFoundHandler())
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://b.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://b.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAcceptedContentType(t *testing.T) {
	for ct, want := range map[string]bool{
		"":                         true,
		"application/octet-stream": true,
		"audio/webm;codecs=opus":   true,
		"audio/wav":                true,
		"video/mp4":                true,
		"text/plain":               false,
		"application/json":         false,
	} {
		assert.Equal(t, want, acceptedContentType(ct), ct)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.2")
	assert.Equal(t, "1.2.3.4", getClientIP(req))
}
