package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/znsio/pubsub-relay-go/pkg/utils"
)

// MaxMessagesLimit caps a single pull through the API.
const MaxMessagesLimit = 1000

func RequireMaxMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("maxMessages")

		if raw == "" {
			utils.ErrorResponse(c, http.StatusBadRequest, "maxMessages header is required")
			c.Abort()
			return
		}

		maxMessages, err := strconv.Atoi(raw)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "maxMessages must be a valid integer")
			c.Abort()
			return
		}

		if maxMessages <= 0 || maxMessages > MaxMessagesLimit {
			utils.ErrorResponse(c, http.StatusBadRequest, "maxMessages must be between 1 and "+strconv.Itoa(MaxMessagesLimit))
			c.Abort()
			return
		}

		c.Set("maxMessages", maxMessages)
		c.Next()
	}
}
