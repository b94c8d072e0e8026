package controller

import (
	"net/http"

	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"
	customMW "github.com/cassiomorais/callbacks/internal/middleware"
	"github.com/cassiomorais/callbacks/internal/notifier"
	"github.com/cassiomorais/callbacks/internal/service"
	"github.com/gorilla/websocket"
)

// WSController upgrades authenticated clients into hub subscribers.
type WSController struct {
	svc      *service.ReconcileService
	hub      *notifier.Hub
	upgrader websocket.Upgrader
}

func NewWSController(svc *service.ReconcileService, hub *notifier.Hub, allowedOrigins []string) *WSController {
	return &WSController{
		svc: svc,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// Subscribe handles GET /ws. The client joins its own user group and every
// batch_id it names, provided it owns the batch.
func (h *WSController) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := customMW.GetUserID(r.Context())
	if !ok || userID == "" {
		writeError(w, domainErrors.ErrUnauthorized)
		return
	}

	groups := []string{notifier.UserGroup(userID)}
	for _, batchID := range r.URL.Query()["batch_id"] {
		if batchID == "" {
			continue
		}
		batch, err := h.svc.FindBatch(r.Context(), batchID)
		if err != nil {
			writeError(w, err)
			return
		}
		if batch.OwnerID != userID {
			writeError(w, domainErrors.ErrForbidden)
			return
		}
		groups = append(groups, notifier.BatchGroup(batchID))
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}
	h.hub.Serve(conn, groups)
}

// originChecker allows same-origin requests and the configured origins.
// A "*" entry allows any origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}
