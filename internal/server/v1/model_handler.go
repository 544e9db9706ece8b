package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/chat-gateway/internal/gateway"
	"github.com/nulzo/chat-gateway/pkg/api"
)

type ModelHandler struct {
	agent *gateway.Agent
}

func NewModelHandler(agent *gateway.Agent) *ModelHandler {
	return &ModelHandler{agent: agent}
}

// ListModels never fails; suppliers that cannot list contribute nothing.
//
// GET /v1/models
func (h *ModelHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, api.ModelList{
		Object: "list",
		Data:   h.agent.ListModels(c.Request.Context()),
	})
}
