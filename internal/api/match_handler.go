package api

import (
	"context"
	"net/http"
	"strconv"

	"CardSync/internal/matching"
	"CardSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Matcher 实体匹配（service.MatchService）
type Matcher interface {
	MatchSets(ctx context.Context, req service.MatchSetsRequest) (*service.MatchSetsResponse, error)
	MatchCards(ctx context.Context, req service.MatchCardsRequest) (*service.MatchCardsResponse, error)
	Suggestions(ctx context.Context, setID uint64, limit int) ([]matching.Suggestion, error)
}

type MatchHandler struct {
	matcher Matcher
	logger  *logrus.Logger
}

func NewMatchHandler(matcher Matcher, logger *logrus.Logger) *MatchHandler {
	return &MatchHandler{matcher: matcher, logger: logger}
}

// MatchSets 为未关联的 set 找目录 group；completed=false 时用 nextGroupId 续跑
// POST /match/sets
func (h *MatchHandler) MatchSets(c *gin.Context) {
	var req service.MatchSetsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.GameID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gameId 必填"})
		return
	}
	resp, err := h.matcher.MatchSets(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "MatchSets", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// POST /match/cards
func (h *MatchHandler) MatchCards(c *gin.Context) {
	var req service.MatchCardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体格式错误: " + err.Error()})
		return
	}
	resp, err := h.matcher.MatchCards(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "MatchCards", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GET /match/sets/:set_id/suggestions?limit=10
func (h *MatchHandler) Suggestions(c *gin.Context) {
	setID, ok := paramUint64(c, "set_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	out, err := h.matcher.Suggestions(c.Request.Context(), setID, limit)
	if err != nil {
		writeError(c, h.logger, "Suggestions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"setId": setID, "suggestions": out})
}
