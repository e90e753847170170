package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lifegrid.ai/internal/logging"
	"lifegrid.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "", "participant id (default: assigned by server)")
		every    = flag.Duration("every", 500*time.Millisecond, "interval between strokes")
		maxLen   = flag.Int("max_len", 6, "maximum stroke length")
		playProb = flag.Float64("play_prob", 0.05, "chance per stroke to toggle play/stop")
		seed     = flag.Int64("seed", 0, "random seed (0: time based)")
	)
	flag.Parse()

	logger, err := logging.New(true, "info")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	logger = logger.Named("bot")

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Participant:     *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatal("send HELLO", zap.Error(err))
	}
	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		logger.Fatal("expected WELCOME", zap.Error(err), zap.String("type", welcome.Type))
	}
	logger.Info("WELCOME",
		zap.String("participant", welcome.Participant),
		zap.Int("rows", welcome.Rows),
		zap.Int("cols", welcome.Cols),
		zap.String("rule", welcome.Rule),
	)

	// Reader: the writer below owns all writes.
	readErr := make(chan error, 1)
	go func() {
		var lastLogged uint64
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeFrame:
				var f protocol.FrameMsg
				if err := json.Unmarshal(msg, &f); err != nil {
					continue
				}
				if f.Generation >= lastLogged+50 {
					lastLogged = f.Generation
					logger.Info("FRAME", zap.Uint64("generation", f.Generation), zap.Int("participants", len(f.Participants)), zap.Int("pending", f.Pending))
				}
			case protocol.TypeError:
				var e protocol.ErrorMsg
				if err := json.Unmarshal(msg, &e); err == nil {
					logger.Warn("ERROR", zap.String("code", e.Code), zap.String("message", e.Message))
				}
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	r := rand.New(rand.NewSource(*seed))
	if *seed == 0 {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	playing := welcome.Playing

	for {
		select {
		case <-stop:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return
		case err := <-readErr:
			logger.Info("connection closed", zap.Error(err))
			return
		case <-ticker.C:
		}

		if r.Float64() < *playProb {
			msg := protocol.ControlMsg{ProtocolVersion: protocol.Version, Type: protocol.TypePlay}
			if playing {
				msg.Type = protocol.TypeStop
			}
			playing = !playing
			if err := conn.WriteJSON(msg); err != nil {
				logger.Warn("send", zap.Error(err))
				return
			}
			continue
		}
		if err := conn.WriteJSON(randomStroke(r, welcome.Rows, welcome.Cols, *maxLen)); err != nil {
			logger.Warn("send", zap.Error(err))
			return
		}
	}
}

func randomStroke(r *rand.Rand, rows, cols, maxLen int) protocol.StrokeMsg {
	if maxLen < 1 {
		maxLen = 1
	}
	x0, y0 := r.Intn(cols), r.Intn(rows)
	x1 := clamp(x0+r.Intn(2*maxLen+1)-maxLen, 0, cols-1)
	y1 := clamp(y0+r.Intn(2*maxLen+1)-maxLen, 0, rows-1)
	return protocol.StrokeMsg{
		Type:            protocol.TypeStroke,
		ProtocolVersion: protocol.Version,
		X0:              x0,
		Y0:              y0,
		X1:              x1,
		Y1:              y1,
		Alive:           r.Intn(4) != 0,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
