package session

import (
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifegrid.ai/internal/protocol"
	"lifegrid.ai/internal/sim/encoding"
	"lifegrid.ai/internal/sim/participant"
)

type JoinRequest struct {
	// Participant is the requested id; empty assigns a fresh one.
	Participant string
	Out         chan []byte
	Resp        chan JoinResponse
}

type JoinResponse struct {
	SessionID   string
	Participant string
	Welcome     protocol.WelcomeMsg
	// ErrCode is a protocol error code when the join was refused.
	ErrCode string
}

type observer struct {
	participant string
	out         chan []byte
}

func (s *Session) handleJoin(req JoinRequest) {
	id := req.Participant
	if id == "" {
		id = uuid.NewString()
	}
	if !participant.Valid(id) {
		req.Resp <- JoinResponse{ErrCode: protocol.ErrBadRequest}
		return
	}
	sid := uuid.NewString()
	s.observers[sid] = &observer{participant: id, out: req.Out}
	req.Resp <- JoinResponse{
		SessionID:   sid,
		Participant: id,
		Welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sid,
			Participant:     id,
			Rows:            s.engine.Rows(),
			Cols:            s.engine.Cols(),
			Rule:            s.engine.Rule().String(),
			Playing:         s.playing,
		},
	}
	if b := s.frame(); b != nil {
		sendLatest(req.Out, b)
	}
	s.log.Info("observer joined", zap.String("session_id", sid), zap.String("participant", id))
}

func (s *Session) handleLeave(sid string) {
	if _, ok := s.observers[sid]; !ok {
		return
	}
	delete(s.observers, sid)
	s.log.Info("observer left", zap.String("session_id", sid))
}

// publishFrame sends the displayed grid to every observer when it may have
// changed since the last frame.
func (s *Session) publishFrame() {
	if !s.viewDirty {
		return
	}
	s.viewDirty = false
	if len(s.observers) == 0 {
		return
	}
	b := s.frame()
	if b == nil {
		return
	}
	for _, o := range s.observers {
		sendLatest(o.out, b)
	}
}

func (s *Session) frame() []byte {
	v := s.engine.View()
	msg := protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		Generation:      s.engine.Generation(),
		Rows:            v.Rows,
		Cols:            v.Cols,
		Rule:            s.engine.Rule().String(),
		Playing:         s.playing,
		Pending:         s.engine.Pending(),
		Participants:    v.Participants,
		Cells:           encoding.EncodeRuns(v.Codes),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("encode frame", zap.Error(err))
		return nil
	}
	return b
}

// sendLatest never blocks the loop: when the buffer is full the oldest
// message is dropped.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
