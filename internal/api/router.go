package api

import (
	"epiviz-pipeline/internal/api/handler"
	"epiviz-pipeline/pkg/router"

	httpSwagger "github.com/swaggo/http-swagger"
)

func RegisterRoutes(r *router.Router, h *handler.Handler) {
	r.POST("/api/v1/refresh", h.TriggerRefresh)
	r.GET("/api/v1/runs", h.ListRuns)
	r.GET("/api/v1/runs/*/warnings", h.GetRunWarnings)
	r.GET("/api/v1/runs/*", h.GetRun)
	r.GET("/api/v1/snapshots/*", h.GetSnapshots)
	r.GET("/swagger/*", httpSwagger.WrapHandler)
}
