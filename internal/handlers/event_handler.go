package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/znsio/pubsub-relay-go/internal/models"
	"github.com/znsio/pubsub-relay-go/internal/services"
	"github.com/znsio/pubsub-relay-go/pkg/utils"
)

type Publisher interface {
	Publish(ctx context.Context, events []models.Event) (int, error)
}

type EventController struct {
	Publisher Publisher
}

// CreateEvents accepts a JSON object or an array of objects and publishes
// each one as an event.
func (ec *EventController) CreateEvents(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if !gjson.ValidBytes(raw) {
		utils.ErrorResponse(c, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	body := gjson.ParseBytes(raw)
	items := []gjson.Result{body}
	if body.IsArray() {
		items = body.Array()
	}
	if len(items) == 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "at least one event is required")
		return
	}

	events := make([]models.Event, 0, len(items))
	for _, item := range items {
		fields, ok := item.Value().(map[string]interface{})
		if !ok {
			utils.ErrorResponse(c, http.StatusBadRequest, "every event must be a JSON object")
			return
		}
		events = append(events, models.Event{Fields: fields})
	}

	published, err := ec.Publisher.Publish(c.Request.Context(), events)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrPublishFailed) {
			status = http.StatusBadGateway
		}
		utils.ErrorResponse(c, status, err.Error())
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"published": published,
	})
}
