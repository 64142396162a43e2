package model

import (
	"time"
)

// CompanyModel 企业信息与链上地址的关联记录，在入驻时建立
type CompanyModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name    string      `json:"name" gorm:"not null;index" binding:"required"`
	Role    CompanyRole `json:"role" gorm:"not null"`
	Address string      `json:"address" gorm:"not null;uniqueIndex"`

	// 关联来源：onboarding 为入驻时登记，fuzzy 为运行时模糊匹配的降级结果
	LinkSource  string `json:"link_source" gorm:"default:'onboarding'"`
	NeedsReview bool   `json:"needs_review" gorm:"default:false"`
}

// CompanyRole 企业角色
type CompanyRole string

const (
	CompanyRoleManufacturer CompanyRole = "manufacturer" // 生产商
	CompanyRoleDistributor  CompanyRole = "distributor"  // 经销商
	CompanyRolePharmacy     CompanyRole = "pharmacy"     // 药房
)

// TableName 自定义表名
func (CompanyModel) TableName() string {
	return "company"
}
