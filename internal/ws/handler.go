// Package ws streams platform events to dashboard clients over WebSockets.
// Clients authenticate with an access token, subscribe to topics and receive
// JSON frames; delivery is tenant-scoped regardless of topic.
package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargenet/internal/events"
	"chargenet/internal/models"
	"chargenet/internal/service"
)

// Topic kinds a client may subscribe to.
var topicKinds = map[string]struct{}{
	"tenant":             {},
	events.EntityStation: {},
	events.EntityPort:    {},
	events.EntitySession: {},
	events.EntityBooking: {},
	events.EntityPayment: {},
}

// RevocationChecker reports whether a token ID has been revoked.
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) bool
}

// Handler upgrades HTTP connections and attaches them to the event hub.
type Handler struct {
	hub        *events.Hub
	tokens     *service.TokenService
	revocation RevocationChecker
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewHandler builds ws handler.
func NewHandler(hub *events.Hub, tokens *service.TokenService, revocation RevocationChecker, logger *zap.Logger) *Handler {
	return &Handler{
		hub:        hub,
		tokens:     tokens,
		revocation: revocation,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP handles GET /api/v1/ws. Browsers cannot set headers on websocket
// dials, so the token may also arrive as a query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				token = strings.TrimSpace(parts[1])
			}
		}
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokens.Validate(token)
	if err != nil || claims.Kind != service.TokenKindAccess || !models.Role(claims.Role).Valid() {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if h.revocation != nil && h.revocation.IsTokenRevoked(r.Context(), claims.ID) {
		http.Error(w, "token revoked", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, h.hub, claims.TenantID, claims.UserID, h.logger)
	h.logger.Info("websocket client connected",
		zap.String("tenant_id", claims.TenantID),
		zap.String("user_id", claims.UserID))
	go client.run()
}

// validateTopic checks shape and tenant scope of one topic string.
func validateTopic(topic, tenantID string) bool {
	kind, id, ok := strings.Cut(topic, ":")
	if !ok || id == "" {
		return false
	}
	if _, known := topicKinds[kind]; !known {
		return false
	}
	if kind == "tenant" && id != tenantID {
		return false
	}
	return true
}
