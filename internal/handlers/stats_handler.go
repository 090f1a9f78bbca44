package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type StatsController struct {
	Stats func() interface{}
}

func (sc *StatsController) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, sc.Stats())
}
