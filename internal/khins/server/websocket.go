package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Khin-96/KhinsLLM/internal/khins/agent"
	"github.com/Khin-96/KhinsLLM/internal/khins/llm"
)

const (
	wsMaxMessage = 16 << 10
	wsWriteWait  = 10 * time.Second
)

// Keepalive timings; variables so tests can shorten them.
var (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 45 * time.Second
)

// Frame types sent to websocket clients.
const (
	FrameGreeting = "greeting"
	FrameReply    = "reply"
	FrameError    = "error"
)

// Frame is the JSON object written for every outgoing websocket message.
type Frame struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	TraceID string `json:"trace_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// handleWebSocket runs a chat session: the greeting is sent first, then each
// incoming text message is one turn answered with a reply or error frame.
// Turns are handled sequentially, in arrival order.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Warn("websocket: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("remote", r.RemoteAddr)
	logger.Info("websocket: session opened")

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case <-s.baseCtx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteWait))
				return
			case <-done:
				return
			}
		}
	}()

	if err := writeFrame(conn, Frame{Type: FrameGreeting, Text: s.agent.Greeting()}); err != nil {
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket: read failed", "err", err)
			}
			logger.Info("websocket: session closed")
			return
		}
		if msgType != websocket.TextMessage {
			if err := writeFrame(conn, Frame{Type: FrameError, Text: "only text messages are supported"}); err != nil {
				return
			}
			continue
		}

		reply, err := s.agent.HandleTurn(s.baseCtx, agent.Turn{Text: string(data), Source: agent.SourceWebSocket})
		// Pongs are only processed while reading, so a long turn must not eat
		// into the next read's deadline.
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		frame := Frame{Type: FrameReply, Text: reply.Text, TraceID: reply.TraceID}
		if err != nil {
			frame = Frame{Type: FrameError, Text: wsErrorText(err, reply), TraceID: reply.TraceID}
		} else if reply.Silent {
			continue
		}
		if err := writeFrame(conn, frame); err != nil {
			logger.Warn("websocket: write failed", "err", err)
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(f)
}

// wsErrorText picks the text shown to a websocket user for a failed turn. A
// generation failure carries the persona's apology in reply.Text.
func wsErrorText(err error, reply agent.Reply) string {
	switch {
	case reply.Text != "":
		return reply.Text
	case errors.Is(err, agent.ErrEmptyMessage):
		return "message must not be empty"
	case errors.Is(err, agent.ErrRateLimited):
		return "slow down a little, try again in a minute"
	case errors.Is(err, llm.ErrUnavailable):
		return "LLM not initialized"
	default:
		return "something went wrong"
	}
}
