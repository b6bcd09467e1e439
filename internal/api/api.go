// Package api implements the hfpd status surface.
//
// Routes:
//
//	GET  /api/v1/status      — SLC/audio/device snapshot
//	GET  /api/v1/calls       — current call list (CLCC-equivalent)
//	GET  /api/v1/indicators  — computed CIND tuple
//	POST /api/v1/connect     — outbound HFP connect
//	POST /api/v1/disconnect  — outbound HFP disconnect
//	GET  /api/v1/events      — WebSocket live stream of status broadcasts
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/btcommons/hfpd/internal/hfp"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Server holds handler dependencies.
type Server struct {
	mgr *hfp.Manager
	bus *hfp.EventBus
	log *zap.Logger
}

// NewRouter wires all /api/v1/* routes and returns an http.Handler.
func NewRouter(mgr *hfp.Manager, bus *hfp.EventBus, log *zap.Logger) http.Handler {
	s := &Server{mgr: mgr, bus: bus, log: log}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.status)
	mux.HandleFunc("GET /api/v1/calls", s.calls)
	mux.HandleFunc("GET /api/v1/indicators", s.indicators)
	mux.HandleFunc("POST /api/v1/connect", s.connect)
	mux.HandleFunc("POST /api/v1/disconnect", s.disconnect)
	mux.HandleFunc("GET /api/v1/events", s.eventStream)

	return withLogging(log, mux)
}

// ── snapshots ─────────────────────────────────────────────────────────────

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	snap := s.mgr.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"slc_state":      snap.SlcState,
		"audio_state":    snap.AudioState,
		"connected":      snap.Connected,
		"sco_connected":  snap.ScoConnected,
		"device_address": snap.DeviceAddress,
		"phone_type":     snap.PhoneType,
		"operator":       snap.Operator,
		"speaker_volume": snap.SpeakerVolume,
		"mic_volume":     snap.MicVolume,
		"nrec_enabled":   snap.NrecEnabled,
		"wbs_enabled":    snap.WbsEnabled,
		"subscribers":    s.bus.Len(),
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) calls(w http.ResponseWriter, r *http.Request) {
	snap := s.mgr.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"calls": snap.Calls,
		"count": len(snap.Calls),
	})
}

func (s *Server) indicators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Snapshot().Indicators)
}

// ── profile control ───────────────────────────────────────────────────────

type connectRequest struct {
	Address string `json:"address"`
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		http.Error(w, "address required", http.StatusBadRequest)
		return
	}
	s.completeOp(w, <-s.mgr.Connect(req.Address))
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	s.completeOp(w, <-s.mgr.Disconnect())
}

func (s *Server) completeOp(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	case errors.Is(err, hfp.ErrOperationPending):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, hfp.ErrNoResource):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

// ── WebSocket event stream ────────────────────────────────────────────────

func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("api: websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsub := s.bus.Subscribe()
	defer unsub()

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			s.log.Debug("api: websocket write", zap.Error(err))
			return
		}
	}
}

// ── helpers ───────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withLogging(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)),
		)
	})
}
