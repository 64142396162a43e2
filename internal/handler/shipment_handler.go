package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/pts/internal/logic"
	"github.com/blues/pts/internal/model"
	"github.com/gin-gonic/gin"
)

// ShipmentHandler 出货单接口
type ShipmentHandler struct {
	traceLogic *logic.TraceLogic
	shipLogic  *logic.ShipmentLogic
}

// NewShipmentHandler 创建出货单接口处理器
func NewShipmentHandler(traceLogic *logic.TraceLogic, shipLogic *logic.ShipmentLogic) *ShipmentHandler {
	return &ShipmentHandler{
		traceLogic: traceLogic,
		shipLogic:  shipLogic,
	}
}

// CreateShipment 创建出货单
func (h *ShipmentHandler) CreateShipment(c *gin.Context) {
	var req logic.CreateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.CallerAddress == "" {
		req.CallerAddress = callerAddress(c)
	}
	if req.CallerAddress == "" {
		ErrorResponse(c, http.StatusBadRequest, "缺少调用方地址")
		return
	}

	shipment, err := h.traceLogic.CreateShipment(c.Request.Context(), &req)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "出货单创建成功", shipment)
}

// ReceiveShipment 签收出货单
func (h *ShipmentHandler) ReceiveShipment(c *gin.Context) {
	shipmentId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的出货单ID")
		return
	}

	caller := callerAddress(c)
	if caller == "" {
		ErrorResponse(c, http.StatusBadRequest, "缺少调用方地址")
		return
	}

	shipment, err := h.traceLogic.ReceiveShipment(c.Request.Context(), caller, shipmentId)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "出货单签收成功", shipment)
}

// UpdateShipmentStatus 更新出货单状态
func (h *ShipmentHandler) UpdateShipmentStatus(c *gin.Context) {
	shipmentId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的出货单ID")
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	caller := callerAddress(c)
	if caller == "" {
		ErrorResponse(c, http.StatusBadRequest, "缺少调用方地址")
		return
	}

	shipment, err := h.traceLogic.UpdateShipmentStatus(caller, shipmentId,
		model.ShipmentStatus(req.Status))
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "出货单状态已更新", shipment)
}

// GetShipment 获取出货单详情
func (h *ShipmentHandler) GetShipment(c *gin.Context) {
	shipmentId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的出货单ID")
		return
	}

	shipment, err := h.shipLogic.GetShipment(shipmentId)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", shipment)
}

// GetShipments 按地址查询出货单
func (h *ShipmentHandler) GetShipments(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		ErrorResponse(c, http.StatusBadRequest, "必须提供 address 查询参数")
		return
	}

	shipments, err := h.shipLogic.GetShipmentsByAddress(address, c.Query("status"))
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", shipments)
}
