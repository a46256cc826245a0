/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting,
authenticating the handshake, upgrading the HTTP connection to WebSocket, and initiating
the client lifecycle. A failed authentication terminates the handshake before the
connection ever reaches the registry.
*/
package handler

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"vchat/internal/app/chat"
	"vchat/internal/pkg/auth/jwt"
	"vchat/internal/pkg/errs"
	"vchat/internal/pkg/limiter"
	"vchat/internal/pkg/logx"
	"vchat/internal/pkg/resp"
)

// handshakeToken extracts the auth token from the "token" query parameter or
// the Authorization header. Browser WebSocket clients cannot set headers, so
// the query parameter is the primary path.
func handshakeToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}

	return ""
}

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		token := handshakeToken(r)
		if token == "" {
			logx.Warn("WebSocket request rejected: Missing auth token")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		userID, err := jwt.Verify(token, deps.Config.JWTSecret)
		if err != nil {
			logx.Warn("WebSocket request rejected: Invalid auth token", "error", err)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		owner, err := deps.Store.GetUserByID(r.Context(), userID)
		if err != nil {
			logx.Warn("WebSocket request rejected: Unknown user", "user_id", userID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(deps.Broker, conn, *owner)

		go client.WritePump()

		deps.Broker.Connect(client)

		logx.Info("WebSocket connection established and client registered", "user_id", userID)

		client.ReadPump()
	}
}
