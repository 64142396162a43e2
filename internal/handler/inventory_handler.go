package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/pts/internal/logic"
	"github.com/blues/pts/internal/model"
	"github.com/gin-gonic/gin"
)

// InventoryHandler 库存接口
type InventoryHandler struct {
	traceLogic   *logic.TraceLogic
	distInv      *logic.DistributorInventoryLogic
	pharmInv     *logic.PharmacyInventoryLogic
	companyLogic *logic.CompanyLogic
}

// NewInventoryHandler 创建库存接口处理器
func NewInventoryHandler(traceLogic *logic.TraceLogic, distInv *logic.DistributorInventoryLogic,
	pharmInv *logic.PharmacyInventoryLogic, companyLogic *logic.CompanyLogic) *InventoryHandler {
	return &InventoryHandler{
		traceLogic:   traceLogic,
		distInv:      distInv,
		pharmInv:     pharmInv,
		companyLogic: companyLogic,
	}
}

// GetInventories 获取企业的库存列表，按企业角色路由到对应台账
func (h *InventoryHandler) GetInventories(c *gin.Context) {
	companyId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的企业ID")
		return
	}

	company, err := h.companyLogic.GetCompany(companyId)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	switch company.Role {
	case model.CompanyRoleDistributor:
		inventories, err := h.distInv.GetInventories(companyId)
		if err != nil {
			LogicErrorResponse(c, err)
			return
		}
		SuccessResponse(c, http.StatusOK, "", inventories)
	case model.CompanyRolePharmacy:
		inventories, err := h.pharmInv.GetInventories(companyId)
		if err != nil {
			LogicErrorResponse(c, err)
			return
		}
		SuccessResponse(c, http.StatusOK, "", inventories)
	default:
		ErrorResponse(c, http.StatusBadRequest, "该企业角色没有库存台账")
	}
}

// GetInventory 获取企业某批次的库存
func (h *InventoryHandler) GetInventory(c *gin.Context) {
	companyId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的企业ID")
		return
	}
	batchId, err := strconv.ParseInt(c.Param("batchId"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的批次ID")
		return
	}

	company, err := h.companyLogic.GetCompany(companyId)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	switch company.Role {
	case model.CompanyRoleDistributor:
		inv, err := h.distInv.GetInventory(companyId, batchId)
		if err != nil {
			LogicErrorResponse(c, err)
			return
		}
		SuccessResponse(c, http.StatusOK, "", inv)
	case model.CompanyRolePharmacy:
		inv, err := h.pharmInv.GetInventory(companyId, batchId)
		if err != nil {
			LogicErrorResponse(c, err)
			return
		}
		SuccessResponse(c, http.StatusOK, "", inv)
	default:
		ErrorResponse(c, http.StatusBadRequest, "该企业角色没有库存台账")
	}
}

// saleRequest 销售记录请求
type saleRequest struct {
	BatchId  int64 `json:"batch_id" binding:"required"`
	Quantity int64 `json:"quantity" binding:"required,min=1"`
}

// RecordSale 记录药房销售
func (h *InventoryHandler) RecordSale(c *gin.Context) {
	companyId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的企业ID")
		return
	}

	var req saleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.traceLogic.RecordSale(companyId, req.BatchId, req.Quantity); err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "销售记录成功", nil)
}

// reserveRequest 预留请求
type reserveRequest struct {
	BatchId  int64 `json:"batch_id" binding:"required"`
	Quantity int64 `json:"quantity" binding:"required,min=1"`
}

// ReserveStock 预留库存
func (h *InventoryHandler) ReserveStock(c *gin.Context) {
	h.adjustReservation(c, true)
}

// ReleaseStock 释放预留
func (h *InventoryHandler) ReleaseStock(c *gin.Context) {
	h.adjustReservation(c, false)
}

func (h *InventoryHandler) adjustReservation(c *gin.Context, reserve bool) {
	companyId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的企业ID")
		return
	}

	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	company, err := h.companyLogic.GetCompany(companyId)
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	switch company.Role {
	case model.CompanyRoleDistributor:
		if reserve {
			err = h.distInv.Reserve(nil, companyId, req.BatchId, req.Quantity)
		} else {
			err = h.distInv.Release(nil, companyId, req.BatchId, req.Quantity)
		}
	case model.CompanyRolePharmacy:
		if reserve {
			err = h.pharmInv.Reserve(nil, companyId, req.BatchId, req.Quantity)
		} else {
			err = h.pharmInv.Release(nil, companyId, req.BatchId, req.Quantity)
		}
	default:
		ErrorResponse(c, http.StatusBadRequest, "该企业角色没有库存台账")
		return
	}
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	message := "库存预留成功"
	if !reserve {
		message = "预留释放成功"
	}
	SuccessResponse(c, http.StatusOK, message, nil)
}
