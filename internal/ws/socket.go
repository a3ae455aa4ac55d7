// Package ws mounts a Socket.IO server on the HTTP engine and bridges the
// pairing service's sync events to connected browser clients. The polled
// event log stays the source of truth; the socket layer is a convenience
// relay for the presentation layer.
package ws

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/equa-app/truthkeeper/internal/models"
	"github.com/equa-app/truthkeeper/internal/pairing"
)

type connCtx struct {
	SessionID string
	Role      string // "host" | "partner"
}

type Server struct {
	mu      sync.Mutex
	svc     *pairing.Service
	members map[string]map[string]socketio.Conn // sessionID -> socketID -> Conn
}

func New(svc *pairing.Service) *Server {
	return &Server{svc: svc, members: make(map[string]map[string]socketio.Conn)}
}

// Mount attaches the Socket.IO server with handlers to the given Gin engine
// and subscribes to pairing events so remote updates reach clients.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&connCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	// pair:create
	io.OnEvent("/", "pair:create", func(s socketio.Conn, payload struct {
		NameA string `json:"nameA"`
		NameB string `json:"nameB"`
	}) map[string]any {
		code, err := srv.svc.CreateSession(payload.NameA, payload.NameB)
		if err != nil {
			return srv.err(s, "create_failed", err.Error())
		}
		sess := srv.svc.CurrentSession()
		s.SetContext(&connCtx{SessionID: sess.ID, Role: "host"})
		s.Join(sess.ID)
		srv.addMember(sess.ID, s)
		log.Info().Str("sid", s.ID()).Str("session", sess.ID).Msg("pair:create")
		return map[string]any{"joinCode": code, "sessionId": sess.ID}
	})

	// pair:join
	io.OnEvent("/", "pair:join", func(s socketio.Conn, payload struct {
		JoinCode string `json:"joinCode"`
		Name     string `json:"name"`
	}) map[string]any {
		sess, err := srv.svc.JoinSession(payload.JoinCode, payload.Name)
		if err != nil {
			return srv.err(s, "session_not_found", "Session not found")
		}
		s.SetContext(&connCtx{SessionID: sess.ID, Role: "partner"})
		s.Join(sess.ID)
		srv.addMember(sess.ID, s)
		io.BroadcastToRoom("/", sess.ID, "pair:joined", map[string]any{
			"partnerName": payload.Name,
		})
		log.Info().Str("sid", s.ID()).Str("session", sess.ID).Msg("pair:join")
		return map[string]any{"session": sess, "role": string(srv.svc.Role())}
	})

	// sync:step
	io.OnEvent("/", "sync:step", func(s socketio.Conn, payload struct {
		Step string `json:"step"`
	}) map[string]any {
		if err := srv.svc.UpdateStep(models.Step(payload.Step)); err != nil {
			return srv.err(s, "bad_request", err.Error())
		}
		return map[string]any{"ok": true}
	})

	// sync:speaker
	io.OnEvent("/", "sync:speaker", func(s socketio.Conn, payload struct {
		Speaker string `json:"speaker"`
	}) map[string]any {
		if err := srv.svc.UpdateSpeaker(models.Role(payload.Speaker)); err != nil {
			return srv.err(s, "bad_request", err.Error())
		}
		return map[string]any{"ok": true}
	})

	// sync:data
	io.OnEvent("/", "sync:data", func(s socketio.Conn, payload struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}) map[string]any {
		if err := srv.svc.UpdateShared(pairing.SharedField(payload.Field), payload.Value); err != nil {
			return srv.err(s, "bad_request", err.Error())
		}
		return map[string]any{"ok": true}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if ctx, ok := s.Context().(*connCtx); ok && ctx.SessionID != "" {
			srv.removeMember(ctx.SessionID, s)
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	// Relay remote pairing events discovered by polling to the room.
	for _, kind := range []models.EventKind{
		models.EventStepChange,
		models.EventSpeakerChange,
		models.EventDataUpdate,
		models.EventPartnerAction,
		models.EventNotification,
	} {
		kind := kind
		srv.svc.On(kind, func(ev models.SyncEvent) {
			sess := srv.svc.CurrentSession()
			if sess == nil {
				return
			}
			io.BroadcastToRoom("/", sess.ID, "sync:event", map[string]any{
				"type":      string(ev.Kind),
				"payload":   ev.Payload,
				"timestamp": ev.Timestamp,
				"senderId":  ev.SenderID,
			})
		})
	}

	go io.Serve()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// Basic CORS preflight for Socket.IO POST
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

func (srv *Server) addMember(id string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[id] == nil {
		srv.members[id] = make(map[string]socketio.Conn)
	}
	srv.members[id][c.ID()] = c
}

func (srv *Server) removeMember(id string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[id]; m != nil {
		delete(m, c.ID())
	}
}

func (srv *Server) err(s socketio.Conn, code, message string) map[string]any {
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": message}
}
