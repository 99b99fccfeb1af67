package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes 注册同步、匹配、目录查询与运维接口
func RegisterRoutes(r gin.IRouter, sync *SyncHandler, pricing *PricingHandler, match *MatchHandler, catalog *CatalogHandler) {
	s := r.Group("/sync")
	s.POST("/categories", sync.SyncCategories)
	s.POST("/categories/:category_id/groups", sync.SyncGroups)
	s.POST("/products", sync.SyncProducts)
	s.GET("/jobs/:job_id", sync.GetJob)
	s.GET("/jobs/:job_id/events", sync.JobEvents)
	s.POST("/jobs/:job_id/cancel", sync.CancelJob)

	s.POST("/pricing/games", pricing.SyncGames)
	s.POST("/pricing/games/:game_id/sets", pricing.SyncSets)
	s.POST("/pricing/sets/:set_id/cards", pricing.SyncCards)

	m := r.Group("/match")
	m.POST("/sets", match.MatchSets)
	m.POST("/cards", match.MatchCards)
	m.GET("/sets/:set_id/suggestions", match.Suggestions)

	cg := r.Group("/catalog")
	cg.GET("/categories", catalog.ListCategories)
	cg.GET("/categories/:category_id/groups", catalog.ListGroups)
	cg.GET("/groups/:group_id/products", catalog.ListProducts)

	r.GET("/throttle", sync.Throttle)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
