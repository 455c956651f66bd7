package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/undistort/internal/pipeline"
	"github.com/MeKo-Tech/undistort/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// WebSocket upgrader; origins are checked against the configured CORS origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// WebSocketControl is a text frame sent by the client to change session options.
type WebSocketControl struct {
	Type    string        `json:"type"` // "options" or "ping"
	Options *FrameOptions `json:"options,omitempty"`
}

// WebSocketMessage is a text frame sent by the server.
type WebSocketMessage struct {
	Type      string                `json:"type"` // "ready", "result", "pong" or "error"
	Frame     int                   `json:"frame,omitempty"`
	Result    *pipeline.FrameResult `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorType string                `json:"error_type,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// wsSession is the per-connection state.
type wsSession struct {
	ctx    context.Context
	conn   WebSocketConnWriter
	config *RequestConfig
	pl     rectifier
	frames int
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.corsOrigin == "" || s.corsOrigin == "*" {
		return true
	}
	return r.Header.Get("Origin") == "" || r.Header.Get("Origin") == s.corsOrigin
}

// rectifyWebSocketHandler streams frames: binary messages carry encoded images
// and are answered with binary PNG messages.
func (s *Server) rectifyWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeErrorResponse(w, errNoPipeline.Error(), http.StatusServiceUnavailable)
		return
	}

	up := upgrader
	up.CheckOrigin = s.checkOrigin
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(s.uploadLimit() + 4096)

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

// handleWebSocketConnection processes messages until the client disconnects.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	sess := &wsSession{ctx: ctx, conn: conn, config: &RequestConfig{}, pl: s.pipeline}
	s.sendWebSocketMessage(conn, WebSocketMessage{Type: "ready"})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		websocketMessagesTotal.WithLabelValues("received").Inc()

		switch messageType {
		case websocket.BinaryMessage:
			s.processWebSocketFrame(sess, data)
		case websocket.TextMessage:
			s.handleWebSocketControl(sess, data)
		}
	}
}

// handleWebSocketControl applies a JSON control message to the session.
func (s *Server) handleWebSocketControl(sess *wsSession, data []byte) {
	var msg WebSocketControl
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendWebSocketError(sess.conn, "invalid_request", fmt.Sprintf("Failed to parse message: %v", err))
		return
	}

	switch msg.Type {
	case "ping":
		s.sendWebSocketMessage(sess.conn, WebSocketMessage{Type: "pong"})
	case "options":
		rc, err := msg.Options.requestConfig()
		if err != nil {
			s.sendWebSocketError(sess.conn, "invalid_request", err.Error())
			return
		}
		pl, err := s.pipelineForRequest(rc)
		if err != nil {
			s.sendWebSocketError(sess.conn, "invalid_request", err.Error())
			return
		}
		sess.config, sess.pl = rc, pl
		s.sendWebSocketMessage(sess.conn, WebSocketMessage{Type: "ready"})
	default:
		s.sendWebSocketError(sess.conn, "invalid_request", "Unsupported message type: "+msg.Type)
	}
}

// processWebSocketFrame rectifies one binary frame and replies with the PNG.
func (s *Server) processWebSocketFrame(sess *wsSession, data []byte) {
	sess.frames++
	frame := sess.frames
	uploadSizeBytes.Observe(float64(len(data)))

	img, err := decodeUpload(data)
	if err != nil {
		rectifyRequestsTotal.WithLabelValues("websocket", "error").Inc()
		s.sendWebSocketFrameError(sess.conn, frame, "invalid_image", err.Error())
		return
	}

	ctx, cancel := s.requestContext(sess.ctx)
	defer cancel()

	start := time.Now()
	out, res, err := sess.pl.ProcessImageContext(ctx, img)
	duration := time.Since(start)
	if err != nil {
		rectifyRequestsTotal.WithLabelValues("websocket", "error").Inc()
		s.sendWebSocketFrameError(sess.conn, frame, "processing_error", fmt.Sprintf("Rectification failed: %v", err))
		return
	}
	s.recordFrame("websocket", res, duration)

	if sess.config.Format == formatJSON {
		s.sendWebSocketMessage(sess.conn, WebSocketMessage{Type: "result", Frame: frame, Result: res})
		return
	}

	var buf bytes.Buffer
	if err := utils.EncodePNG(&buf, out); err != nil {
		s.sendWebSocketFrameError(sess.conn, frame, "processing_error", err.Error())
		return
	}
	if err := sess.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		slog.Error("Failed to send WebSocket frame", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketMessage sends a JSON text message.
func (s *Server) sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, errorType, message string) {
	s.sendWebSocketFrameError(conn, 0, errorType, message)
}

func (s *Server) sendWebSocketFrameError(conn WebSocketConnWriter, frame int, errorType, message string) {
	s.sendWebSocketMessage(conn, WebSocketMessage{
		Type:      "error",
		Frame:     frame,
		Error:     message,
		ErrorType: errorType,
	})
}
