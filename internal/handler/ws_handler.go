package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"voteboard/internal/app/presence"
	"voteboard/internal/pkg/errs"
	"voteboard/internal/pkg/limiter"
	"voteboard/internal/pkg/logx"
	"voteboard/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc that upgrades the request and hands the
// connection to the presence hub. The identity handshake happens over the socket.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Warn("Failed to upgrade connection to WebSocket", "error", err.Error())
			return
		}

		client := presence.NewClient(deps.Hub, conn)
		if !client.Serve() {
			logx.Warn("WebSocket connection dropped: hub is shutting down.")
			return
		}

		logx.Debug("WebSocket connection established", "connection_id", client.ID(), "ip", logx.AnonymizeIP(ip))
	}
}
