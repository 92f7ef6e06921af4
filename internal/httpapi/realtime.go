package httpapi

import (
	"net/http"
	"strings"

	"fieldops/internal/hub"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"
)

// NewRealtimeHandler serves sockjs sessions under /realtime. A session
// authenticates with the same bearer token as the API, passed as the token
// query parameter since browsers cannot set headers on the websocket
// handshake. Frames are write-only; anything the client sends is ignored.
func NewRealtimeHandler(h *hub.Hub, validator TokenValidator, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		token := sessionToken(session.Request())
		if token == "" {
			_ = session.Close(4001, "missing token")
			return
		}
		claims, err := validator.ValidateToken(token)
		if err != nil {
			_ = session.Close(4002, "invalid token")
			return
		}

		client := &hub.Client{ID: uuid.NewString(), UserID: claims.UserID(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)
		logger.Debug("realtime session opened", zap.String("client_id", client.ID), zap.String("user_id", client.UserID))

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			if _, err := session.Recv(); err != nil {
				logger.Debug("realtime session closed", zap.String("client_id", client.ID))
				return
			}
		}
	})
}

func sessionToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	return bearerToken(r.Header.Get("Authorization"))
}
