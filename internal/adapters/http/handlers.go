package http

import (
	"net/http"

	"github.com/dkeye/meshcall/internal/app/orch"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type RoomsResponse struct {
	Rooms []domain.RoomInfo `json:"rooms"`
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func roomsHandler(hub *orch.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		rooms, err := hub.Rooms(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, RoomsResponse{Rooms: rooms})
	}
}
