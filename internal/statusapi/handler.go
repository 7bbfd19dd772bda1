// Package statusapi is a supplemental read-only HTTP view of the job store,
// for dashboards and scripts that would rather not speak the RPC wire
// format. It never mutates scheduler state (spec.md §4.6 covers mutation).
package statusapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thusser/pybs/internal/daemon"
)

type Handler struct {
	daemon *daemon.Daemon
	logger *slog.Logger
}

func NewHandler(d *daemon.Daemon, logger *slog.Logger) *Handler {
	return &Handler{daemon: d, logger: logger.With("component", "status_handler")}
}

func (h *Handler) ListWaiting(ctx *gin.Context) {
	jobs, err := h.daemon.ListWaiting(ctx.Request.Context())
	if err != nil {
		h.logger.Error("list waiting", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *Handler) ListRunning(ctx *gin.Context) {
	jobs, err := h.daemon.ListRunning(ctx.Request.Context())
	if err != nil {
		h.logger.Error("list running", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

type listFinishedQuery struct {
	Limit int `form:"limit,default=5" binding:"omitempty,min=1,max=500"`
}

func (h *Handler) ListFinished(ctx *gin.Context) {
	var q listFinishedQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobs, err := h.daemon.ListFinished(ctx.Request.Context(), q.Limit)
	if err != nil {
		h.logger.Error("list finished", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *Handler) GetCPUs(ctx *gin.Context) {
	used, total, err := h.daemon.GetCPUs(ctx.Request.Context())
	if err != nil {
		h.logger.Error("get cpus", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"used": used, "total": total})
}

func (h *Handler) GetConfig(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.daemon.GetConfig(ctx.Request.Context()))
}
