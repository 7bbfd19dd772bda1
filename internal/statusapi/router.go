package statusapi

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

func NewRouter(h *Handler, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(sloggin.New(logger))

	jobs := r.Group("/jobs")
	jobs.GET("/waiting", h.ListWaiting)
	jobs.GET("/running", h.ListRunning)
	jobs.GET("/finished", h.ListFinished)

	r.GET("/cpus", h.GetCPUs)
	r.GET("/config", h.GetConfig)

	return r
}
