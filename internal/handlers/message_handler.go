package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/znsio/pubsub-relay-go/internal/models"
	"github.com/znsio/pubsub-relay-go/pkg/utils"
)

type Puller interface {
	Pull(ctx context.Context, max int) ([]models.Event, error)
	Acknowledge(ctx context.Context, ackIDs []string) error
}

type MessageController struct {
	Puller Puller
}

// PullMessages pulls, acknowledges and returns up to maxMessages events.
func (mc *MessageController) PullMessages(c *gin.Context) {
	maxMessages, exists := c.Get("maxMessages")
	if !exists {
		utils.ErrorResponse(c, http.StatusInternalServerError, "maxMessages not found in context")
		return
	}

	events, err := mc.Puller.Pull(c.Request.Context(), maxMessages.(int))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadGateway, err.Error())
		return
	}

	ackIDs := make([]string, 0, len(events))
	out := make([]map[string]interface{}, 0, len(events))
	for _, ev := range events {
		ackIDs = append(ackIDs, ev.AckID)
		out = append(out, ev.Fields)
	}
	if err := mc.Puller.Acknowledge(c.Request.Context(), ackIDs); err != nil {
		utils.ErrorResponse(c, http.StatusBadGateway, err.Error())
		return
	}

	c.JSON(http.StatusOK, out)
}
