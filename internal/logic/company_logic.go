package logic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blues/pts/internal/logger"
	"github.com/blues/pts/internal/model"
	"gorm.io/gorm"
)

// CompanyLogic 企业地址关联业务逻辑
type CompanyLogic struct {
	db *gorm.DB
}

// NewCompanyLogic 创建企业业务逻辑
func NewCompanyLogic(db *gorm.DB) *CompanyLogic {
	return &CompanyLogic{db: db}
}

// RegisterCompany 入驻登记企业与链上地址的关联。同一地址重复登记为幂等操作，
// 返回已有记录
func (c *CompanyLogic) RegisterCompany(company *model.CompanyModel) (*model.CompanyModel, error) {
	if company.Name == "" {
		return nil, errors.New("企业名称不能为空")
	}
	if company.Address == "" {
		return nil, errors.New("链上地址不能为空")
	}
	if company.Role != model.CompanyRoleManufacturer &&
		company.Role != model.CompanyRoleDistributor &&
		company.Role != model.CompanyRolePharmacy {
		return nil, errors.New("企业角色不合法")
	}

	company.Address = normalizeAddress(company.Address)

	var existing model.CompanyModel
	err := c.db.Where("address = ?", company.Address).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询企业记录失败: %w", err)
	}

	company.LinkSource = "onboarding"
	company.NeedsReview = false
	if err := c.db.Create(company).Error; err != nil {
		return nil, fmt.Errorf("创建企业记录失败: %w", err)
	}

	return company, nil
}

// GetByAddress 根据链上地址获取企业
func (c *CompanyLogic) GetByAddress(address string) (*model.CompanyModel, error) {
	return c.getByAddress(nil, address)
}

// getByAddress 事务内按地址查询。事务中的读取必须经由 tx，避免在单连接
// 测试库上与开着的事务互相等待
func (c *CompanyLogic) getByAddress(tx *gorm.DB, address string) (*model.CompanyModel, error) {
	if tx == nil {
		tx = c.db
	}
	var company model.CompanyModel
	err := tx.Where("address = ?", normalizeAddress(address)).First(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompanyNotFound
		}
		return nil, fmt.Errorf("查询企业记录失败: %w", err)
	}
	return &company, nil
}

// GetCompany 获取企业详情
func (c *CompanyLogic) GetCompany(id int64) (*model.CompanyModel, error) {
	var company model.CompanyModel
	if err := c.db.First(&company, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompanyNotFound
		}
		return nil, fmt.Errorf("查询企业记录失败: %w", err)
	}
	return &company, nil
}

// GetCompanies 获取企业列表
func (c *CompanyLogic) GetCompanies(role string) ([]model.CompanyModel, error) {
	var companies []model.CompanyModel
	query := c.db.Model(&model.CompanyModel{})
	if role != "" {
		query = query.Where("role = ?", role)
	}
	if err := query.Order("id ASC").Find(&companies).Error; err != nil {
		return nil, fmt.Errorf("获取企业列表失败: %w", err)
	}
	return companies, nil
}

// ResolveCompany 解析链上地址对应的企业。优先使用入驻时登记的关联；
// 找不到时按名称提示做模糊匹配作为降级路径，命中后写入关联记录并
// 标记为待人工复核，不做静默自动关联
func (c *CompanyLogic) ResolveCompany(address, nameHint string, role model.CompanyRole) (*model.CompanyModel, error) {
	company, err := c.GetByAddress(address)
	if err == nil {
		return company, nil
	}
	if !errors.Is(err, ErrCompanyNotFound) {
		return nil, err
	}

	if nameHint == "" {
		return nil, ErrCompanyNotFound
	}

	// 降级：模糊名称匹配
	var candidate model.CompanyModel
	err = c.db.Where("role = ? AND name LIKE ?", role, "%"+nameHint+"%").First(&candidate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompanyNotFound
		}
		return nil, fmt.Errorf("模糊匹配企业失败: %w", err)
	}

	linked := &model.CompanyModel{
		Name:        candidate.Name,
		Role:        candidate.Role,
		Address:     normalizeAddress(address),
		LinkSource:  "fuzzy",
		NeedsReview: true,
	}
	if err := c.db.Create(linked).Error; err != nil {
		return nil, fmt.Errorf("创建模糊关联记录失败: %w", err)
	}

	logger.Warn("Linked address %s to company %s via fuzzy name match, flagged for review", address, candidate.Name)
	return linked, nil
}

// normalizeAddress 地址归一化，统一成小写十六进制便于比较
func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
