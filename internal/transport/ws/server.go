package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lifegrid.ai/internal/protocol"
	"lifegrid.ai/internal/session"
	"lifegrid.ai/internal/sim/rules"
)

const (
	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
	requestTimeout   = 10 * time.Second
	frameQueue       = 8
)

type Server struct {
	sess      *session.Session
	validator *protocol.Validator
	log       *zap.Logger

	upgrader websocket.Upgrader
}

func NewServer(sess *session.Session, v *protocol.Validator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		sess:      sess,
		validator: v,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, frameQueue)
		join, ok := s.handshake(ctx, conn, out)
		if !ok {
			return
		}
		defer s.sess.Detach(join.SessionID)
		log := s.log.With(zap.String("session_id", join.SessionID), zap.String("participant", join.Participant))

		// replies carries ERROR messages from the reader; the writer owns conn.
		replies := make(chan []byte, 16)

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-replies:
				case frame, ok := <-out:
					if !ok {
						// Session stopped.
						cancel()
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session stopped"), time.Now().Add(time.Second))
						return
					}
					b = frame
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()

		// Reader loop.
		for ctx.Err() == nil {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			cmd, code, detail := s.decode(msg, join.Participant)
			if code == "" {
				rctx, rcancel := context.WithTimeout(ctx, requestTimeout)
				err = s.sess.Do(rctx, cmd)
				rcancel()
				code, detail = errorCode(err)
			}
			if code == "" {
				continue
			}
			log.Debug("request rejected", zap.String("code", code), zap.String("detail", detail))
			b, _ := json.Marshal(protocol.NewError(code, detail))
			select {
			case replies <- b:
			default:
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writerDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn, out chan []byte) (session.JoinResponse, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return session.JoinResponse{}, false
	}

	base, err := s.validator.Validate(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return session.JoinResponse{}, false
	}
	if base.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "want protocol_version "+protocol.Version))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return session.JoinResponse{}, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return session.JoinResponse{}, false
	}

	actx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	resp, err := s.sess.Attach(actx, hello.Participant, out)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session unavailable"), time.Now().Add(time.Second))
		return session.JoinResponse{}, false
	}
	if resp.ErrCode != "" {
		_ = writeJSON(conn, protocol.NewError(resp.ErrCode, "participant id rejected"))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, resp.ErrCode), time.Now().Add(time.Second))
		return session.JoinResponse{}, false
	}
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.sess.Detach(resp.SessionID)
		return session.JoinResponse{}, false
	}
	return resp, true
}

// decode maps one inbound message to a session command. A non-empty code
// means the message was rejected.
func (s *Server) decode(msg []byte, participant string) (cmd session.Command, code, detail string) {
	base, err := s.validator.Validate(msg)
	if err != nil {
		return cmd, protocol.ErrProtoBadRequest, err.Error()
	}
	if base.ProtocolVersion != protocol.Version {
		return cmd, protocol.ErrProtoVersion, "want protocol_version " + protocol.Version
	}
	cmd.Participant = participant
	switch base.Type {
	case protocol.TypeEdit:
		var m protocol.EditMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return cmd, protocol.ErrProtoBadRequest, err.Error()
		}
		cmd.Kind, cmd.X, cmd.Y, cmd.Alive = session.CmdEdit, m.X, m.Y, m.Alive
	case protocol.TypeStroke:
		var m protocol.StrokeMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return cmd, protocol.ErrProtoBadRequest, err.Error()
		}
		cmd.Kind, cmd.X, cmd.Y, cmd.X1, cmd.Y1, cmd.Alive = session.CmdStroke, m.X0, m.Y0, m.X1, m.Y1, m.Alive
	case protocol.TypeToggle:
		var m protocol.ToggleMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return cmd, protocol.ErrProtoBadRequest, err.Error()
		}
		cmd.Kind, cmd.X, cmd.Y = session.CmdToggle, m.X, m.Y
	case protocol.TypePlay:
		cmd.Kind = session.CmdPlay
	case protocol.TypeStop:
		cmd.Kind = session.CmdStop
	case protocol.TypeStep:
		cmd.Kind = session.CmdStep
	case protocol.TypeRule:
		var m protocol.RuleMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return cmd, protocol.ErrProtoBadRequest, err.Error()
		}
		cmd.Kind, cmd.Rule = session.CmdRule, m.Rule
	default:
		return cmd, protocol.ErrBadRequest, "unexpected message type " + base.Type
	}
	return cmd, "", ""
}

func errorCode(err error) (code, detail string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, session.ErrOutOfBounds):
		return protocol.ErrOutOfBounds, err.Error()
	case errors.Is(err, rules.ErrMalformed):
		return protocol.ErrBadRule, err.Error()
	case errors.Is(err, session.ErrBadCommand):
		return protocol.ErrBadRequest, err.Error()
	case errors.Is(err, session.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		return protocol.ErrUnavailable, err.Error()
	default:
		return protocol.ErrInternal, err.Error()
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
