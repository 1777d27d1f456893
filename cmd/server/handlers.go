package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/himanishpuri/earpeace/internal/config"
	"github.com/himanishpuri/earpeace/pkg/earpeace"
	"github.com/himanishpuri/earpeace/pkg/earpeace/audio"
	"github.com/himanishpuri/earpeace/pkg/earpeace/fingerprint"
	"github.com/himanishpuri/earpeace/pkg/utils"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service earpeace.Service
	config  *config.Config
	params  fingerprint.Params
	log     earpeace.Logger

	// ctx outlives single requests; background maintenance runs under it
	ctx         context.Context
	maintaining atomic.Bool
}

// NewServer creates a new server instance
func NewServer(ctx context.Context, service earpeace.Service, cfg *config.Config, log earpeace.Logger) *Server {
	return &Server{
		service: service,
		config:  cfg,
		params:  fingerprint.DefaultParams(),
		log:     log,
		ctx:     ctx,
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, earpeace.ErrReferenceNotFound):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrDecodeFailure),
		errors.Is(err, earpeace.ErrSampleRateMismatch),
		errors.Is(err, earpeace.ErrNoHashes),
		errors.Is(err, fingerprint.ErrInvalidParams),
		errors.Is(err, fingerprint.ErrInvalidSampleRate):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "earpeace API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":          "GET /health",
			"status":          "GET /api/admin/status",
			"maintenance":     "POST /api/admin/maintenance",
			"references":      "GET /api/references",
			"addReference":    "POST /api/references",
			"getReference":    "GET /api/references/{key}",
			"deleteReference": "DELETE /api/references/{key}",
			"matchFile":       "POST /api/match",
			"matchLandmarks":  "POST /api/match/landmarks",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleStatus handles GET /api/admin/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context())
	if err != nil {
		s.log.Errorf("Failed to get status: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve status")
		return
	}

	s.respondJSON(w, http.StatusOK, StatusResponse{
		LastMaintenanceAt: status.LastMaintenanceAt,
		IntervalSeconds:   int64(s.config.Server.MaintenanceInterval / time.Second),
		Running:           s.maintaining.Load(),
		Counts:            status.Counts,
		Total:             status.Total,
	})
}

// handleMaintenance handles POST /api/admin/maintenance. The rebuild runs in
// the background; a request while one is running starts nothing.
func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	started := s.startMaintenance()
	code := http.StatusAccepted
	if !started {
		code = http.StatusConflict
	}
	s.respondJSON(w, code, MaintenanceResponse{Started: started})
}

func (s *Server) startMaintenance() bool {
	if !s.maintaining.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer s.maintaining.Store(false)
		s.runMaintenance(s.ctx)
	}()
	return true
}

func (s *Server) runMaintenance(ctx context.Context) {
	report, err := s.service.RebuildPrepared(ctx, func(key string, err error) {
		if err != nil {
			s.log.Warnf("Rebuild of %s failed: %v", key, err)
		}
	})
	if report != nil {
		s.log.Infof("Maintenance finished: %d/%d rebuilt", len(report.Rebuilt), report.Total)
	}
	if err != nil {
		s.log.Errorf("Maintenance errors: %v", err)
	}
}

// maintenanceLoop runs maintenance immediately and then every interval
// until ctx is done.
func (s *Server) maintenanceLoop(ctx context.Context, interval time.Duration) {
	interval = max(time.Minute, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.startMaintenance()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleListReferences handles GET /api/references
func (s *Server) handleListReferences(w http.ResponseWriter, r *http.Request) {
	refs, err := s.service.ListReferences()
	if err != nil {
		s.log.Errorf("Failed to list references: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve references")
		return
	}
	if refs == nil {
		refs = []earpeace.Reference{}
	}
	s.respondJSON(w, http.StatusOK, ListReferencesResponse{References: refs, Count: len(refs)})
}

// handleGetReference handles GET /api/references/{key}
func (s *Server) handleGetReference(w http.ResponseWriter, r *http.Request, key string) {
	ref, err := s.service.GetReference(key)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, ref)
}

// handleDeleteReference handles DELETE /api/references/{key}
func (s *Server) handleDeleteReference(w http.ResponseWriter, r *http.Request, key string) {
	if err := s.service.DeleteReference(r.Context(), key); err != nil {
		s.log.Warnf("Failed to delete reference %s: %v", key, err)
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, DeleteReferenceResponse{Message: "Reference deleted", Key: key})
}

// handleAddReference handles POST /api/references (multipart: audio, key, title)
func (s *Server) handleAddReference(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	path, cleanup, ok := s.saveUpload(w, r, "upload")
	if !ok {
		return
	}
	defer cleanup()

	ref, err := s.service.AddReference(ctx, r.FormValue("key"), r.FormValue("title"), path)
	if err != nil {
		s.log.Errorf("Failed to add reference: %v", err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to add reference: %v", err))
		return
	}
	s.respondJSON(w, http.StatusCreated, ref)
}

// handleMatchFile handles POST /api/match (multipart: audio, optional clip_id)
func (s *Server) handleMatchFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	path, cleanup, ok := s.saveUpload(w, r, "query")
	if !ok {
		return
	}
	defer cleanup()

	clipID := r.FormValue("clip_id")
	res, err := s.service.Match(ctx, path, clipID)
	if err != nil {
		s.log.Errorf("Failed to match clip: %v", err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to match clip: %v", err))
		return
	}
	s.respondMatch(w, res)
}

// handleMatchLandmarks handles POST /api/match/landmarks (wasm clients)
func (s *Server) handleMatchLandmarks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload())
	var req MatchLandmarksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(s.params); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Landmarks) >= LandmarkWarningThreshold {
		s.log.Warnf("Large landmark batch received: %d", len(req.Landmarks))
	}

	res, err := s.service.MatchLandmarks(ctx, req.ToLandmarks(), req.SampleRate, req.ClipID)
	if err != nil {
		s.log.Errorf("Failed to match landmarks: %v", err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to match landmarks: %v", err))
		return
	}
	s.respondMatch(w, res)
}

func (s *Server) respondMatch(w http.ResponseWriter, res *earpeace.MatchResult) {
	if !res.Found() {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("No match found (%s)", res.Outcome))
		return
	}
	s.respondJSON(w, http.StatusOK, newMatchResponse(res))
}

func (s *Server) maxUpload() int64 {
	return s.config.Server.MaxUploadMB << 20
}

// saveUpload copies the multipart "audio" part to a temp file. On failure
// it has already written the error response.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request, prefix string) (string, func(), bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload())
	if err := r.ParseMultipartForm(s.maxUpload()); err != nil {
		s.log.Errorf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return "", nil, false
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "audio file is required")
		return "", nil, false
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); !acceptedContentType(ct) {
		s.respondError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("Unsupported content-type: %s", ct))
		return "", nil, false
	}

	dir := filepath.Join(s.config.TempDir, "uploads")
	if err := utils.MakeDir(dir); err != nil {
		s.log.Errorf("Failed to create upload dir: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to process upload")
		return "", nil, false
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s%s", prefix, utils.GenerateUUID(), filepath.Ext(header.Filename)))
	out, err := os.Create(path)
	if err != nil {
		s.log.Errorf("Failed to create temp file: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to process upload")
		return "", nil, false
	}
	cleanup := func() { utils.DeleteFile(path) }

	_, err = io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		s.log.Errorf("Failed to save file: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to save uploaded file")
		return "", nil, false
	}
	return path, cleanup, true
}

// acceptedContentType allows audio and video containers ffmpeg can read.
// Parts without a content type are let through.
func acceptedContentType(ct string) bool {
	if ct == "" || ct == "application/octet-stream" {
		return true
	}
	return strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "video/")
}

// handleReferences routes requests to /api/references
func (s *Server) handleReferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListReferences(w, r)
	case http.MethodPost:
		s.handleAddReference(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleReference routes requests to /api/references/{key}
func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/api/references/")
	if key == "" {
		s.respondError(w, http.StatusBadRequest, "Reference key required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetReference(w, r, key)
	case http.MethodDelete:
		s.handleDeleteReference(w, r, key)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h(w, r)
	}
}

func (s *Server) getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h(w, r)
	}
}
