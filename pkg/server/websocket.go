package server

import (
	"context"
	"time"

	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/go-go-golems/palaver/pkg/stream"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	FrameChat    = "chat"
	FramePrompt  = "prompt"
	FramePartial = "partial"
	FrameFinal   = "final"
	FrameError   = "error"

	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
)

// ClientFrame is sent by WebSocket clients to start a generation.
type ClientFrame struct {
	Type       string `json:"type"`
	Input      string `json:"input"`
	UseHistory bool   `json:"use_history,omitempty"`
}

// ServerFrame carries one fragment, the final text, or an error.
type ServerFrame struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// serveWebsocket serves one connection: client frames are handled one after the
// other, each one streaming its reply before the next frame is read.
func (s *Server) serveWebsocket(c echo.Context) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)

	logger := log.With().Str("session_id", sess.ID).Logger()
	logger.Debug().Msg("websocket connected")

	ctx := c.Request().Context()
	for {
		var frame ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			return nil
		}

		if err := s.streamFrame(ctx, conn, sess, frame); err != nil {
			logger.Debug().Err(err).Msg("websocket write failed")
			return nil
		}
	}
}

func (s *Server) streamFrame(ctx context.Context, conn *websocket.Conn, sess *session.Session, frame ClientFrame) error {
	var st *stream.Stream
	var err error
	switch frame.Type {
	case FrameChat:
		st, err = sess.ChatStream(ctx, frame.Input)
	case FramePrompt:
		st, err = sess.PromptStream(ctx, frame.Input, frame.UseHistory)
	default:
		return writeFrame(conn, ServerFrame{Type: FrameError, Error: "unknown frame type: " + frame.Type})
	}
	if err != nil {
		return writeFrame(conn, ServerFrame{Type: FrameError, Error: err.Error()})
	}
	// releases the session if the client goes away mid-stream
	defer func() {
		_ = st.Close()
	}()

	for fragment, err := range st.Tokens() {
		if err != nil {
			return writeFrame(conn, ServerFrame{Type: FrameError, Error: err.Error(), Text: st.Text()})
		}
		if err := writeFrame(conn, ServerFrame{Type: FramePartial, Delta: fragment}); err != nil {
			return err
		}
	}
	return writeFrame(conn, ServerFrame{Type: FrameFinal, Text: st.Text()})
}

func writeFrame(conn *websocket.Conn, frame ServerFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}
