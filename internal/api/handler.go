package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"free-alt-finder/internal/common"
	"free-alt-finder/internal/domain"
)

// Searcher 由 service.SearchService 实现
type Searcher interface {
	Search(ctx context.Context, query string) (*domain.SearchResult, error)
	Model() string
}

type Handler struct {
	searcher Searcher
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHandler timeout <= 0 表示不额外限制单次查询时间
func NewHandler(searcher Searcher, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{searcher: searcher, timeout: timeout, logger: logger}
}

type searchRequest struct {
	Query string `json:"query"`
}

// Search POST /api/search
func (h *Handler) Search(c *gin.Context) {
	var req searchRequest
	// 请求体不合法时按空查询处理
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := h.searcher.Search(ctx, req.Query)
	if err != nil {
		if common.CodeOf(err) == common.ErrCodeInvalidInput {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Query is required"})
			return
		}
		h.logger.Error("search failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("code", common.CodeOf(err)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Search failed",
			"details": common.Cause(err),
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

// Health GET /api/health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ai": h.searcher.Model()})
}
