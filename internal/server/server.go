// Package server exposes the recording session over HTTP: JSON control
// endpoints for the desktop client and WebSocket streams for live
// levels, health events and PCM audio.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ziadeh/flowrecap/internal/device"
	"github.com/ziadeh/flowrecap/internal/session"
)

// Server wires the session controller to HTTP.
type Server struct {
	controller *session.Controller
	resolver   *device.Resolver
	port       int

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// StartRequest is the optional JSON body of POST /api/start.
type StartRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// StopResponse is the JSON shape of POST /api/stop. FilePath is null
// when no recording was active.
type StopResponse struct {
	Success         bool    `json:"success"`
	DurationSeconds float64 `json:"duration_seconds"`
	FilePath        *string `json:"file_path"`
	Error           string  `json:"error,omitempty"`
}

// PauseResponse is the JSON shape of POST /api/pause. Duration is the
// recorded time at the moment of the pause.
type PauseResponse struct {
	Success         bool    `json:"success"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// ResumeResponse is the JSON shape of POST /api/resume.
type ResumeResponse struct {
	Success   bool      `json:"success"`
	StartTime time.Time `json:"start_time"`
}

// StatusResponse is the JSON shape of GET /api/status.
type StatusResponse struct {
	State          string      `json:"state"`
	SessionID      string      `json:"session_id,omitempty"`
	FilePath       string      `json:"file_path,omitempty"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
	Health         *healthJSON `json:"health,omitempty"`
	Warnings       []string    `json:"warnings,omitempty"`
}

type healthJSON struct {
	Status             string `json:"status"`
	LastDataAgeMs      int64  `json:"last_data_age_ms"`
	TotalBytesReceived int64  `json:"total_bytes_received"`
}

// DeviceInfo is one entry of GET /api/devices.
type DeviceInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Channels   int    `json:"channels,omitempty"`
	NativeRate int    `json:"native_rate,omitempty"`
	OutputOnly bool   `json:"output_only"`
	Virtual    bool   `json:"virtual"`
}

// GenericResponse is the fallback JSON envelope.
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// audioFrame is one PCM chunk on /ws/audio. Data is base64 s16le.
type audioFrame struct {
	Source     string `json:"source"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Data       string `json:"data"`
}

// New creates a server for the controller on the given port.
func New(controller *session.Controller, resolver *device.Resolver, port int) *Server {
	return &Server{
		controller: controller,
		resolver:   resolver,
		port:       port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Control plane is local; the desktop client connects from
			// a file:// or app origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/ws/levels", s.handleLevelsWS)
	mux.HandleFunc("/ws/health", s.handleHealthWS)
	mux.HandleFunc("/ws/audio", s.handleAudioWS)
	return mux
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler()}

	localIP := getLocalIP()
	slog.Info("starting control server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%d", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%d", s.port))

	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and any active recording.
func (s *Server) Shutdown(ctx context.Context) error {
	s.controller.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req StartRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}

	info, err := s.controller.Start(req.SessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrAlreadyRecording) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	res := s.controller.Stop()
	resp := StopResponse{
		Success:         res.Success,
		DurationSeconds: res.Duration.Seconds(),
		Error:           res.Error,
	}
	if res.FilePath != "" {
		resp.FilePath = &res.FilePath
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	d, err := s.controller.Pause()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, PauseResponse{Success: true, DurationSeconds: d.Seconds()})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st, err := s.controller.Resume()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ResumeResponse{Success: true, StartTime: st})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st := s.controller.Status()
	resp := StatusResponse{
		State:          string(st.State),
		SessionID:      st.SessionID,
		FilePath:       st.FilePath,
		ElapsedSeconds: st.Elapsed.Seconds(),
		Warnings:       st.Warnings,
	}
	if st.Health != nil {
		resp.Health = &healthJSON{
			Status:             string(st.Health.Status),
			LastDataAgeMs:      st.Health.LastDataAgeMs,
			TotalBytesReceived: st.Health.TotalBytesReceived,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	devices, err := s.resolver.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("device enumeration failed: %v", err))
		return
	}
	out := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceInfo{
			ID:         d.ID,
			Name:       d.Name,
			Channels:   d.Channels,
			NativeRate: d.NativeRate,
			OutputOnly: d.OutputOnly,
			Virtual:    device.LooksVirtual(d.Name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

// handleLevelsWS streams level-meter samples. Already rate-limited at
// the meter, so each message is forwarded as-is.
func (s *Server) handleLevelsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("levels websocket upgrade failed", "error", err)
		return
	}
	levels, cancel := s.controller.Levels()
	defer cancel()
	s.streamJSON(conn, func() (any, bool) {
		lvl, ok := <-levels
		return lvl, ok
	})
}

func (s *Server) handleHealthWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("health websocket upgrade failed", "error", err)
		return
	}
	events, cancel := s.controller.Health()
	defer cancel()
	s.streamJSON(conn, func() (any, bool) {
		ev, ok := <-events
		return ev, ok
	})
}

// handleAudioWS streams PCM chunks from every source. Delivery is
// best-effort: a slow reader drops chunks at the hub instead of
// stalling the capture path.
func (s *Server) handleAudioWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("audio websocket upgrade failed", "error", err)
		return
	}
	chunks, cancel := s.controller.Audio()
	defer cancel()
	s.streamJSON(conn, func() (any, bool) {
		ch, ok := <-chunks
		if !ok {
			return nil, false
		}
		return audioFrame{
			Source:     ch.Source,
			SampleRate: ch.Format.SampleRate,
			Channels:   ch.Format.Channels,
			Data:       base64.StdEncoding.EncodeToString(ch.Data),
		}, true
	})
}

// streamJSON pushes values from next until the subscription or the
// connection ends. A reader goroutine notices the client going away.
func (s *Server) streamJSON(conn *websocket.Conn, next func() (any, bool)) {
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		v, ok := next()
		if !ok {
			return
		}
		select {
		case <-gone:
			return
		default:
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(v); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, GenericResponse{Success: false, Error: msg})
}

// getLocalIP returns a non-loopback IPv4 address for log output.
func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "localhost"
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return "localhost"
}
