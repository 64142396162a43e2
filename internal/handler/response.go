package handler

import (
	"errors"
	"net/http"

	"github.com/blues/pts/internal/logic"
	"github.com/gin-gonic/gin"
)

// Response 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// LogicErrorResponse 业务错误响应，按错误类型映射状态码
func LogicErrorResponse(c *gin.Context, err error) {
	switch {
	case errors.Is(err, logic.ErrBatchNotFound),
		errors.Is(err, logic.ErrShipmentNotFound),
		errors.Is(err, logic.ErrCompanyNotFound),
		errors.Is(err, logic.ErrInventoryNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, logic.ErrUnauthorized):
		ErrorResponse(c, http.StatusForbidden, err.Error())
	case errors.Is(err, logic.ErrInsufficientStock),
		errors.Is(err, logic.ErrInvalidTransition):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, logic.ErrLedgerUnavailable):
		ErrorResponse(c, http.StatusBadGateway, err.Error())
	default:
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}
}

// callerAddress 提取调用方地址。写操作必须携带
func callerAddress(c *gin.Context) string {
	return c.GetHeader("X-Caller-Address")
}
