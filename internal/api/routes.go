package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/znsio/pubsub-relay-go/internal/handlers"
	"github.com/znsio/pubsub-relay-go/internal/middleware"
)

type Dependencies struct {
	Publisher handlers.Publisher
	Puller    handlers.Puller
	Stats     func() interface{}
	// Expose lists the management endpoints to register, e.g. "health,stats".
	Expose string
}

func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.Default()

	eventController := &handlers.EventController{
		Publisher: deps.Publisher,
	}

	messageController := &handlers.MessageController{
		Puller: deps.Puller,
	}

	// Management endpoints
	if exposed(deps.Expose, "health") {
		r.GET("/health", handlers.HealthCheck)
	}
	if exposed(deps.Expose, "stats") && deps.Stats != nil {
		statsController := &handlers.StatsController{Stats: deps.Stats}
		r.GET("/stats", statsController.GetStats)
	}

	// Event routes
	r.POST("/events", eventController.CreateEvents)
	r.GET("/messages", middleware.RequireMaxMessages(), messageController.PullMessages)

	return r
}

func exposed(list, name string) bool {
	if list == "" || list == "*" {
		return true
	}
	for _, item := range strings.Split(list, ",") {
		if strings.TrimSpace(item) == name {
			return true
		}
	}
	return false
}
