package api

import (
	"context"
	"net/http"
	"strconv"

	"CardSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CatalogQuerier 已同步目录数据的查询（service.CatalogQueryService）
type CatalogQuerier interface {
	ListCategories(ctx context.Context) ([]service.CategorySummary, error)
	ListGroups(ctx context.Context, categoryID int64, page, pageSize int) (*service.ListResult[service.GroupSummary], error)
	ListProducts(ctx context.Context, groupID int64, page, pageSize int) (*service.ListResult[service.ProductSummary], error)
}

// CatalogHandler 目录查询接口
type CatalogHandler struct {
	query  CatalogQuerier
	logger *logrus.Logger
}

func NewCatalogHandler(query CatalogQuerier, logger *logrus.Logger) *CatalogHandler {
	return &CatalogHandler{query: query, logger: logger}
}

// ListCategories 全部类目
// GET /catalog/categories
func (h *CatalogHandler) ListCategories(c *gin.Context) {
	items, err := h.query.ListCategories(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "ListCategories", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ListGroups 类目下的 group 列表
// GET /catalog/categories/:category_id/groups?page=1&page_size=20
func (h *CatalogHandler) ListGroups(c *gin.Context) {
	categoryID, ok := paramInt64(c, "category_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	result, err := h.query.ListGroups(c.Request.Context(), categoryID, page, pageSize)
	if err != nil {
		writeError(c, h.logger, "ListGroups", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListProducts group 下的商品
// GET /catalog/groups/:group_id/products?page=1&page_size=20
func (h *CatalogHandler) ListProducts(c *gin.Context) {
	groupID, ok := paramInt64(c, "group_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	result, err := h.query.ListProducts(c.Request.Context(), groupID, page, pageSize)
	if err != nil {
		writeError(c, h.logger, "ListProducts", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}
