package api

import (
	"context"
	"net/http"

	"CardSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PricingSyncer 价格源同步（service.PricingSyncService）
type PricingSyncer interface {
	SyncGames(ctx context.Context) (*service.EntitySyncResult, error)
	SyncSets(ctx context.Context, gameID uint64) (*service.EntitySyncResult, error)
	SyncCards(ctx context.Context, setID uint64) (*service.EntitySyncResult, error)
}

type PricingHandler struct {
	pricing PricingSyncer
	logger  *logrus.Logger
}

func NewPricingHandler(pricing PricingSyncer, logger *logrus.Logger) *PricingHandler {
	return &PricingHandler{pricing: pricing, logger: logger}
}

// POST /sync/pricing/games
func (h *PricingHandler) SyncGames(c *gin.Context) {
	res, err := h.pricing.SyncGames(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "SyncGames", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /sync/pricing/games/:game_id/sets
func (h *PricingHandler) SyncSets(c *gin.Context) {
	gameID, ok := paramUint64(c, "game_id")
	if !ok {
		return
	}
	res, err := h.pricing.SyncSets(c.Request.Context(), gameID)
	if err != nil {
		writeError(c, h.logger, "SyncSets", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /sync/pricing/sets/:set_id/cards
func (h *PricingHandler) SyncCards(c *gin.Context) {
	setID, ok := paramUint64(c, "set_id")
	if !ok {
		return
	}
	res, err := h.pricing.SyncCards(c.Request.Context(), setID)
	if err != nil {
		writeError(c, h.logger, "SyncCards", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
