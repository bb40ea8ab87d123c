package handler

import (
	"net/http"

	"opendavinci/internal/microservices/http-api/dto"
	"opendavinci/internal/microservices/supercomponent"

	"github.com/gin-gonic/gin"
)

// ModuleSource is the read side of the module registry.
type ModuleSource interface {
	Snapshot() []supercomponent.ModuleInfo
	Get(key string) (supercomponent.ModuleInfo, bool)
}

type ModuleHandler struct {
	src ModuleSource
}

func NewModuleHandler(src ModuleSource) *ModuleHandler {
	return &ModuleHandler{src: src}
}

func (h *ModuleHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
}

// List handles GET /modules, optionally filtered with ?state=RUNNING
func (h *ModuleHandler) List(c *gin.Context) {
	state := c.Query("state")

	snapshot := h.src.Snapshot()
	resp := dto.ModuleListResponse{Modules: make([]dto.ModuleResponse, 0, len(snapshot))}
	for _, info := range snapshot {
		if state != "" && info.State.String() != state {
			continue
		}
		resp.Modules = append(resp.Modules, dto.ModuleFromInfo(info))
	}
	resp.Count = len(resp.Modules)
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /modules/:id where id is name or name:identifier
func (h *ModuleHandler) Get(c *gin.Context) {
	info, ok := h.src.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "module not found"})
		return
	}
	c.JSON(http.StatusOK, dto.ModuleFromInfo(info))
}
