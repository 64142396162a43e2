package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/pts/internal/logic"
	"github.com/blues/pts/internal/model"
	"github.com/gin-gonic/gin"
)

// CompanyHandler 企业接口
type CompanyHandler struct {
	companyLogic *logic.CompanyLogic
}

// NewCompanyHandler 创建企业接口处理器
func NewCompanyHandler(companyLogic *logic.CompanyLogic) *CompanyHandler {
	return &CompanyHandler{companyLogic: companyLogic}
}

// registerCompanyRequest 企业登记请求
type registerCompanyRequest struct {
	Name    string `json:"name" binding:"required"`
	Role    string `json:"role" binding:"required"`
	Address string `json:"address" binding:"required"`
}

// RegisterCompany 登记企业并绑定账本地址
func (h *CompanyHandler) RegisterCompany(c *gin.Context) {
	var req registerCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	company, err := h.companyLogic.RegisterCompany(&model.CompanyModel{
		Name:    req.Name,
		Role:    model.CompanyRole(req.Role),
		Address: req.Address,
	})
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "企业登记成功", company)
}

// GetCompany 获取企业详情
func (h *CompanyHandler) GetCompany(c *gin.Context) {
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

	SuccessResponse(c, http.StatusOK, "", company)
}

// GetCompanies 获取企业列表，可按角色过滤
func (h *CompanyHandler) GetCompanies(c *gin.Context) {
	companies, err := h.companyLogic.GetCompanies(c.Query("role"))
	if err != nil {
		LogicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", companies)
}
