package models

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel provides common fields for all database models
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`
}

// Project represents a project configuration in database
type Project struct {
	BaseModel
	ProjectID   string `json:"project_id" gorm:"uniqueIndex;not null"`
	ProjectName string `json:"project_name" gorm:"not null"`
	APIKey      string `json:"api_key" gorm:"uniqueIndex;not null"`
	IsActive    bool   `json:"is_active" gorm:"default:true"`
	Description string `json:"description"`

	// App 识别字段
	BundleID    string `json:"bundle_id" gorm:"uniqueIndex"`    // iOS bundle ID
	PackageName string `json:"package_name" gorm:"uniqueIndex"` // Android package name

	// Webhook 配置（用于通知 App Backend 验证结果）
	WebhookCallbackURL string `json:"webhook_callback_url" gorm:"type:varchar(500)"` // App Backend 的 webhook 地址
	WebhookSecret      string `json:"webhook_secret" gorm:"type:varchar(255)"`       // 用于签名验证（可选）
}
