// This file implements the websocket endpoint that streams probe outcomes
// as they land.
package handlers

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/anstrom/portprobe/internal/api/middleware"
	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/probe"
)

const (
	writeWait       = 10 * time.Second                                   // Time allowed to write a message to the peer
	pongWait        = 60 * time.Second                                   // Time to read next pong message from peer
	pingPeriodRatio = 0.9                                                // Ratio of pongWait for pingPeriod
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // Send pings to peer (must be < pongWait)
	maxMessageSize  = 512                                                // Maximum message size allowed from peer
)

// Stream message types.
const (
	MessageOutcome  = "outcome"
	MessageComplete = "complete"
	MessageError    = "error"
)

// StreamMessage is one websocket frame of a streamed probe.
type StreamMessage struct {
	Type      string         `json:"type"`
	ScanID    string         `json:"scan_id"`
	Timestamp time.Time      `json:"timestamp"`
	Outcome   *probe.Outcome `json:"outcome,omitempty"`
	Open      []int          `json:"open,omitempty"`
	Summary   *probe.Summary `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// StreamHandler streams probe outcomes over websockets.
type StreamHandler struct {
	probes   *ProbeHandler
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a stream handler sharing the probe handler's
// engine and scan admission. allowedOrigins lists the browser origins that
// may connect; "*" allows any and an empty list allows same-origin only.
func NewStreamHandler(probes *ProbeHandler, allowedOrigins []string) *StreamHandler {
	h := &StreamHandler{
		probes: probes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(allowedOrigins) > 0 {
		origins := make(map[string]bool, len(allowedOrigins))
		for _, o := range allowedOrigins {
			origins[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origins["*"] || origins[origin]
		}
	}
	return h
}

// StreamProbe godoc
// @Summary Stream a probe
// @Description Upgrades to a websocket and sends one "outcome" message per attempted port, then a "complete" message with the sorted open ports. Closing the socket cancels the scan.
// @Tags Probes
// @Param target query string true "Host name or IP address"
// @Param ports query string false "Port specification, e.g. 22,80,8000-8100"
// @Param start query int false "First port of a range"
// @Param end query int false "Last port of a range"
// @Param concurrency query int false "Worker count"
// @Param timeout_ms query int false "Per-attempt timeout in milliseconds"
// @Success 101
// @Failure 400 {object} handlers.ErrorResponse
// @Security ApiKeyAuth
// @Router /probes/stream [get]
func (h *StreamHandler) StreamProbe(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)
	logger := h.probes.logger.WithFields("stream", true)

	body, err := streamRequest(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	req, err := h.probes.toRequest(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	release, err := h.probes.admit(r.Context(), req)
	if err != nil {
		handleError(w, r, logger, "admit probe", err)
		return
	}
	defer release()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// The hijacked request context is not cancelled when the peer leaves,
	// so the read pump cancels the scan instead.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go readPump(conn, cancel)

	stream, err := h.probes.prober.Stream(ctx, req)
	if err != nil {
		_ = writeMessage(conn, StreamMessage{Type: MessageError, Timestamp: time.Now().UTC(), Error: err.Error()})
		return
	}

	scanID := uuid.NewString()
	logger.Info("Streaming probe",
		"request_id", requestID,
		"scan_id", scanID,
		"target", req.Target,
		"ports", req.Ports.String())

	var (
		open    = []int{}
		summary probe.Summary
		ticker  = time.NewTicker(pingPeriod)
	)
	defer ticker.Stop()

	for {
		select {
		case o, ok := <-stream.Outcomes():
			if !ok {
				h.finish(stream.Err(), conn, logger, requestID, scanID, open, summary)
				return
			}
			summary.Add(o.Status)
			if o.Status == probe.StatusOpen {
				open = append(open, o.Port)
			}
			if err := writeMessage(conn, StreamMessage{
				Type:      MessageOutcome,
				ScanID:    scanID,
				Timestamp: time.Now().UTC(),
				Outcome:   &o,
			}); err != nil {
				logger.Debug("Stream client went away", "request_id", requestID, "error", err)
				cancel()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				cancel()
				return
			}
		}
	}
}

// finish reports how the scan ended: a completion message for a finished
// scan, nothing for a cancelled one and an error message otherwise.
func (h *StreamHandler) finish(scanErr error, conn *websocket.Conn, logger *logging.Logger,
	requestID, scanID string, open []int, summary probe.Summary) {
	if errors.IsCancelled(scanErr) {
		logger.Info("Streamed probe cancelled", "request_id", requestID, "scan_id", scanID, "error", scanErr)
		return
	}
	if scanErr != nil {
		logger.Error("Streamed probe failed", "request_id", requestID, "scan_id", scanID, "error", scanErr)
		_ = writeMessage(conn, StreamMessage{
			Type:      MessageError,
			ScanID:    scanID,
			Timestamp: time.Now().UTC(),
			Error:     scanErr.Error(),
		})
		return
	}

	sort.Ints(open)
	_ = writeMessage(conn, StreamMessage{
		Type:      MessageComplete,
		ScanID:    scanID,
		Timestamp: time.Now().UTC(),
		Open:      open,
		Summary:   &summary,
	})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "probe complete"),
		time.Now().Add(writeWait))

	logger.Info("Streamed probe completed",
		"request_id", requestID,
		"scan_id", scanID,
		"open", len(open))
}

func writeMessage(conn *websocket.Conn, msg StreamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// readPump discards client messages and cancels the scan once the peer
// closes the socket or stops answering pings.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// streamRequest reads probe parameters from the query string.
func streamRequest(r *http.Request) (*ProbeRequest, error) {
	q := r.URL.Query()
	req := &ProbeRequest{
		Target: q.Get("target"),
		Ports:  q.Get("ports"),
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"start", &req.Start},
		{"end", &req.End},
		{"concurrency", &req.Concurrency},
		{"timeout_ms", &req.TimeoutMS},
	}
	for _, p := range ints {
		raw := q.Get(p.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errInvalidQuery(p.key, raw)
		}
		*p.dst = v
	}
	return req, nil
}
