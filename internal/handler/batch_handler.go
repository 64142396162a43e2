package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/pts/internal/logic"
	"github.com/gin-gonic/gin"
)

// BatchHandler 批次接口
type BatchHandler struct {
	traceLogic *logic.TraceLogic
}

// NewBatchHandler 创建批次接口处理器
func NewBatchHandler(traceLogic *logic.TraceLogic) *BatchHandler {
	return &BatchHandler{traceLogic: traceLogic}
}

// IssueBatch 签发批次
func (h *BatchHandler) IssueBatch(c *gin.Context) {
	var req logic.IssueBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.CallerAddress == "" {
		req.CallerAddress = callerAddress(c)
	}

	batch, err := h.traceLogic.IssueBatch(c.Request.Context(), &req)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "批次签发成功", batch)
}

// GetBatch 获取批次详情
func (h *BatchHandler) GetBatch(c *gin.Context) {
	batchId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的批次ID")
		return
	}

	batch, err := h.traceLogic.GetBatch(batchId)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", batch)
}

// GetBatches 按所有者或生产商查询批次
func (h *BatchHandler) GetBatches(c *gin.Context) {
	if owner := c.Query("owner"); owner != "" {
		batches, err := h.traceLogic.GetBatchesByOwner(owner)
		if err != nil {
			LogicErrorResponse(c, err)
			return
		}
		SuccessResponse(c, http.StatusOK, "", batches)
		return
	}

	if manufacturer := c.Query("manufacturer"); manufacturer != "" {
		batches, err := h.traceLogic.GetBatchesByManufacturer(manufacturer)
		if err != nil {
			LogicErrorResponse(c, err)
			return
		}
		SuccessResponse(c, http.StatusOK, "", batches)
		return
	}

	ErrorResponse(c, http.StatusBadRequest, "必须提供 owner 或 manufacturer 查询参数")
}

// GetBatchShipments 获取批次的出货单列表
func (h *BatchHandler) GetBatchShipments(c *gin.Context) {
	batchId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的批次ID")
		return
	}

	shipments, err := h.traceLogic.GetShipmentsByBatch(batchId)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", shipments)
}

// GetBatchHistory 获取批次的链上交易历史
func (h *BatchHandler) GetBatchHistory(c *gin.Context) {
	batchId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的批次ID")
		return
	}

	records, err := h.traceLogic.GetTransactionHistory(batchId)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", records)
}

// VerifyDrug 药品验真
func (h *BatchHandler) VerifyDrug(c *gin.Context) {
	qrCode := c.Query("qr_code")
	if qrCode == "" {
		ErrorResponse(c, http.StatusBadRequest, "必须提供 qr_code 查询参数")
		return
	}

	result, err := h.traceLogic.VerifyDrug(c.Request.Context(), qrCode)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", result)
}
