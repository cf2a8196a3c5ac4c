package signaling

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcecho/internal/util"
)

// maxBodyBytes bounds a single signaling payload. SDP blobs are a few KiB.
const maxBodyBytes = 1 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler receives decoded inbound signaling messages.
type Handler interface {
	HandleSessionDescription(desc webrtc.SessionDescription) error
	HandleCandidate(c webrtc.ICECandidateInit) error
}

// Server is the inbound signaling endpoint.
//
// Endpoints:
//   - POST /sdp       : session description {type, sdp}
//   - POST /candidate : ICE candidate {candidate, sdpMid?, sdpMLineIndex?, usernameFragment?}
//   - GET  /ws        : WebSocket carrying both kinds as {kind, payload}
//
// Any other method or path is answered with 404. A failing request is
// answered with 500 and an error string; it never stops the server.
type Server struct {
	handler Handler
}

// NewServer creates a Server dispatching to h.
func NewServer(h Handler) *Server {
	return &Server{handler: h}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if v := recover(); v != nil {
			util.LogError("signaling handler panic on %s %s: %v", r.Method, r.URL.Path, v)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/"+string(KindSDP):
		s.handlePost(w, r, KindSDP)
	case r.Method == http.MethodPost && r.URL.Path == "/"+string(KindCandidate):
		s.handlePost(w, r, KindCandidate)
	case r.Method == http.MethodGet && r.URL.Path == "/ws":
		s.handleWS(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request, kind Kind) {
	util.LogDebug("received %s from %s", kind, r.RemoteAddr)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, kind, fmt.Errorf("read body: %w", err))
		return
	}

	if err := s.dispatch(kind, body); err != nil {
		s.fail(w, kind, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) fail(w http.ResponseWriter, kind Kind, err error) {
	util.LogError("failed to handle %s: %v", kind, err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// dispatch decodes body according to kind and hands it to the Handler.
func (s *Server) dispatch(kind Kind, body []byte) error {
	switch kind {
	case KindSDP:
		desc, err := DecodeSessionDescription(body)
		if err != nil {
			return err
		}
		return s.handler.HandleSessionDescription(desc)

	case KindCandidate:
		c, err := DecodeCandidate(body)
		if err != nil {
			return err
		}
		return s.handler.HandleCandidate(c)

	default:
		return fmt.Errorf("%w: unknown message kind %q", ErrDecode, kind)
	}
}

// handleWS serves one signaling WebSocket. Errors are reported back to the
// sender as {kind: "error"} frames and the connection stays open.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("signaling websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)
	util.LogDebug("signaling websocket connected from %s", r.RemoteAddr)

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("signaling websocket closed: %v", err)
			}
			return
		}

		if err := s.dispatch(env.Kind, env.Payload); err != nil {
			util.LogError("failed to handle %s: %v", env.Kind, err)
			if werr := conn.WriteJSON(envelope{Kind: kindError, Error: err.Error()}); werr != nil {
				return
			}
		}
	}
}
