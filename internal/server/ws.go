package server

import (
	"context"
	"errors"
	"net/http"

	"aimtrainer/internal/events"
	"aimtrainer/internal/targets"
	"aimtrainer/internal/wshub"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"
)

const clientSendBuffer = 32

// handleWS runs the play loop over a WebSocket. Round events are pushed to
// the socket and client messages drive the controller.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		log.Warn().Err(err).Str("profile_id", sess.ProfileID).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := &wshub.Client{
		ProfileID: sess.ProfileID,
		Conn:      conn,
		Send:      make(chan []byte, clientSendBuffer),
	}
	sub := sess.Broadcaster.Subscribe()
	defer sess.Broadcaster.Unsubscribe(sub)

	s.Hub.Register(client)
	defer s.Hub.Unregister(client)

	go func() {
		// Returns when this socket is replaced or unregistered.
		client.WritePump(ctx)
		cancel()
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					cancel()
					return
				}
				s.Hub.SendTo(sess.ProfileID, ev)
			}
		}
	}()

	s.Hub.SendTo(sess.ProfileID, stateMessage{Type: events.TypeState, Snapshot: sess.Controller.Snapshot()})

	for {
		var msg wshub.ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Str("profile_id", sess.ProfileID).Msg("websocket read")
			}
			return
		}
		// Keeps the session from being swept while the socket is active.
		s.Sessions.Get(sess.ProfileID)

		switch msg.Type {
		case wshub.MsgStart:
			sess.Controller.StartGame()
		case wshub.MsgHit:
			sess.Controller.Click(msg.TargetID)
		case wshub.MsgMiss:
			sess.Controller.OnMiss()
		case wshub.MsgResize:
			if msg.W <= 0 || msg.H <= 0 {
				s.Hub.SendTo(sess.ProfileID, wshub.ErrorMessage{Type: "error", Error: "invalid bounds"})
				continue
			}
			sess.Controller.Resize(targets.Bounds{Width: msg.W, Height: msg.H})
		default:
			s.Hub.SendTo(sess.ProfileID, wshub.ErrorMessage{Type: "error", Error: "unknown message type"})
		}
	}
}
