package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/chat-gateway/pkg/api"
)

type HealthHandler struct {
	service string
}

func NewHealthHandler(service string) *HealthHandler {
	return &HealthHandler{service: service}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{Status: "ok", Service: h.service})
}
