//
//
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/radio-control/tracker/internal/audit"
	"github.com/radio-control/tracker/internal/auth"
	"github.com/radio-control/tracker/internal/command"
	"github.com/radio-control/tracker/internal/geofence"
)

// maxBody bounds JSON request bodies.
const maxBody = 64 << 10

// RegisterRoutes registers all v1 endpoints on r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1.HandleFunc("/radios", s.protect(auth.ScopeRead, s.handleRadios)).Methods(http.MethodGet)
	v1.HandleFunc("/radios/{unit}", s.protect(auth.ScopeRead, s.handleRadioByID)).Methods(http.MethodGet)
	v1.HandleFunc("/radios/{unit}/frequency", s.protect(auth.ScopeRead, s.handleFrequency)).Methods(http.MethodGet)
	v1.HandleFunc("/radios/{unit}/receive/{action}", s.protect(auth.ScopeControl, s.handleReceive)).Methods(http.MethodPost)
	v1.HandleFunc("/radios/{unit}/transmit", s.protect(auth.ScopeControl, s.handleTransmit)).Methods(http.MethodPost)

	v1.HandleFunc("/position", s.protect(auth.ScopeRead, s.handleGetPosition)).Methods(http.MethodGet)
	v1.HandleFunc("/position", s.protect(auth.ScopeControl, s.handleSetPosition)).Methods(http.MethodPut)

	v1.HandleFunc("/telemetry", s.protect(auth.ScopeTelemetry, s.handleTelemetry)).Methods(http.MethodGet)
	v1.HandleFunc("/telemetry/ws", s.protect(auth.ScopeTelemetry, s.handleTelemetryWS)).Methods(http.MethodGet)

	v1.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	})
	v1.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
}

// protect wraps next with authentication and the scope check, and tags the
// request context with the subject for audit records.
func (s *Server) protect(scope string, next http.HandlerFunc) http.HandlerFunc {
	if s.authMiddleware == nil {
		return next
	}
	tagged := func(w http.ResponseWriter, r *http.Request) {
		if claims := auth.GetClaimsFromRequest(r); claims != nil {
			r = r.WithContext(audit.WithUser(r.Context(), claims.Subject))
		}
		next(w, r)
	}
	return s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(scope)(tagged))
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	subsystems := map[string]bool{
		"telemetry":    s.telemetryHub != nil,
		"orchestrator": s.orchestrator != nil,
		"geofence":     s.position != nil,
	}
	status := "ok"
	units := 0
	if s.orchestrator != nil {
		list := s.orchestrator.List()
		units = len(list.Units)
		for _, u := range list.Units {
			if u.Terminating {
				status = "degraded"
			}
		}
	}
	if !subsystems["telemetry"] || !subsystems["orchestrator"] {
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":     status,
		"uptimeSec":  time.Since(s.startTime).Seconds(),
		"version":    "1.0.0",
		"units":      units,
		"subsystems": subsystems,
	}
	if status == "ok" {
		WriteSuccess(w, health)
		return
	}
	writeResponse(w, http.StatusServiceUnavailable, SuccessResponse(health))
}

// handleRadios handles GET /radios
func (s *Server) handleRadios(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Radio manager not available", nil)
		return
	}
	WriteSuccess(w, s.orchestrator.List())
}

// handleRadioByID handles GET /radios/{unit}
func (s *Server) handleRadioByID(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Radio manager not available", nil)
		return
	}
	st, err := s.orchestrator.GetState(r.Context(), mux.Vars(r)["unit"])
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, st)
}

// handleFrequency handles GET /radios/{unit}/frequency?base=&step=&channel=&mode=
func (s *Server) handleFrequency(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := command.FrequencyQuery{Base: q.Get("base"), Mode: q.Get("mode")}
	if v := q.Get("step"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			writeAPIError(w, fmt.Errorf("%w: step %q", ErrBadRequest, v))
			return
		}
		query.Step = uint32(n)
	}
	if v := q.Get("channel"); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			writeAPIError(w, fmt.Errorf("%w: channel %q", ErrBadRequest, v))
			return
		}
		query.Channel = uint16(n)
	}

	unit := mux.Vars(r)["unit"]
	f, err := s.orchestrator.Frequency(r.Context(), unit, query)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"radioId":     unit,
		"frequencyHz": uint32(f),
		"frequency":   f.String(),
	})
}

// handleReceive handles POST /radios/{unit}/receive/{action}. The body is
// optional for stop and close.
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	var params command.ReceiveParams
	if err := decodeStrict(r, &params, true); err != nil {
		writeAPIError(w, err)
		return
	}
	vars := mux.Vars(r)
	if err := s.orchestrator.Receive(r.Context(), vars["unit"], vars["action"], params); err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]string{"radioId": vars["unit"], "action": vars["action"]})
}

// transmitBody is the JSON form of a transmit request. Exactly one of
// Payload (text) or PayloadBase64 is set.
type transmitBody struct {
	Modulation    string `json:"modulation"`
	Frequency     string `json:"frequency,omitempty"`
	Step          uint32 `json:"step,omitempty"`
	Channel       uint16 `json:"channel,omitempty"`
	Power         uint8  `json:"power,omitempty"`
	Payload       string `json:"payload,omitempty"`
	PayloadBase64 string `json:"payloadBase64,omitempty"`
}

// handleTransmit handles POST /radios/{unit}/transmit
func (s *Server) handleTransmit(w http.ResponseWriter, r *http.Request) {
	var body transmitBody
	if err := decodeStrict(r, &body, false); err != nil {
		writeAPIError(w, err)
		return
	}
	payload := []byte(body.Payload)
	if body.PayloadBase64 != "" {
		if body.Payload != "" {
			writeAPIError(w, fmt.Errorf("%w: payload and payloadBase64 are exclusive", ErrBadRequest))
			return
		}
		var err error
		if payload, err = base64.StdEncoding.DecodeString(body.PayloadBase64); err != nil {
			writeAPIError(w, fmt.Errorf("%w: payloadBase64: %v", ErrBadRequest, err))
			return
		}
	}

	unit := mux.Vars(r)["unit"]
	seq, err := s.orchestrator.Transmit(r.Context(), unit, command.TransmitParams{
		Modulation: body.Modulation,
		Frequency:  body.Frequency,
		Step:       body.Step,
		Channel:    body.Channel,
		Power:      body.Power,
		Payload:    payload,
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"radioId": unit, "sequence": seq})
}

// handleGetPosition handles GET /position
func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	if s.position == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Geofence not configured", nil)
		return
	}
	WriteSuccess(w, s.position.Status())
}

// handleSetPosition handles PUT /position
func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	if s.position == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Geofence not configured", nil)
		return
	}
	var p geofence.Position
	if err := decodeStrict(r, &p, false); err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.position.SetPosition(p); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_RANGE", err.Error(), nil)
		return
	}
	WriteSuccess(w, s.position.Status())
}

// handleTelemetry handles GET /telemetry (SSE)
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry not available", nil)
		return
	}
	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	if err := s.telemetryHub.Subscribe(r.Context(), w, r); err != nil {
		log.Printf("[WARN] telemetry subscriber: %v", err)
	}
}

// handleTelemetryWS handles GET /telemetry/ws
func (s *Server) handleTelemetryWS(w http.ResponseWriter, r *http.Request) {
	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry not available", nil)
		return
	}
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	if err := s.telemetryHub.ServeWS(w, r); err != nil {
		log.Printf("[WARN] telemetry websocket: %v", err)
	}
}

// decodeStrict decodes one JSON object, rejecting unknown fields and
// trailing data. An empty body is accepted when optional is set.
func decodeStrict(r *http.Request, v interface{}, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: trailing data after JSON object", ErrBadRequest)
	}
	return nil
}
