package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"neurovision/internal/logger"
	"neurovision/internal/middleware"
	ws "neurovision/internal/service/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket. Origins are checked by the
// CORS layer and the access token, so every origin is accepted here.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsWebsocketHandler registers the caller's connection in the hub so it
// receives an event for each of their completed analyses.
func EventsWebsocketHandler(hub *ws.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.GetUserFromContext(r.Context())
		if claims == nil {
			respondError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		userID := claims.UserID()
		hub.Register(connection, userID)
		defer hub.Unregister(connection)

		logger.Info("Event listener connected for user %d", userID)

		for {
			_, _, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Event listener for user %d disconnected normally", userID)
				} else {
					logger.Error("Event listener for user %d disconnected with error: %v", userID, err)
				}
				break
			}
		}
	}
}
