package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/pts/internal/indexer"
	"github.com/blues/pts/internal/logic"
	"github.com/gin-gonic/gin"
)

// IndexerHandler 索引器运维接口
type IndexerHandler struct {
	indexer    *indexer.Indexer
	eventLogic *logic.EventLogic
}

// NewIndexerHandler 创建索引器接口处理器
func NewIndexerHandler(idx *indexer.Indexer, eventLogic *logic.EventLogic) *IndexerHandler {
	return &IndexerHandler{
		indexer:    idx,
		eventLogic: eventLogic,
	}
}

// GetStatus 获取索引器状态
func (h *IndexerHandler) GetStatus(c *gin.Context) {
	status, err := h.indexer.Status()
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", status)
}

// backfillRequest 手动回填请求
type backfillRequest struct {
	FromBlock int64 `json:"from_block"`
}

// Backfill 从指定区块手动回填事件
func (h *IndexerHandler) Backfill(c *gin.Context) {
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	inserted, err := h.indexer.IndexFrom(c.Request.Context(), req.FromBlock)
	if err != nil {
		ErrorResponse(c, http.StatusBadGateway, err.Error())
		return
	}

	SuccessResponse(c, http.StatusOK, "回填完成", gin.H{"inserted": inserted})
}

// GetEvents 查询已索引事件
func (h *IndexerHandler) GetEvents(c *gin.Context) {
	batchId, _ := strconv.ParseInt(c.Query("batch_id"), 10, 64)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	events, total, err := h.eventLogic.GetEvents(batchId, c.Query("event_type"), page, pageSize)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", gin.H{
		"events":    events,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetStatistics 事件统计
func (h *IndexerHandler) GetStatistics(c *gin.Context) {
	stats, err := h.eventLogic.GetStatistics()
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", stats)
}
