package models

import (
	"time"
)

// PaymentConfiguration is a time- and role-scoped fee rule, optionally
// tiered by tonnage. A lookup matches role + fee type + validity
// window, then the tonnage bracket when MinTons/MaxTons are set.
type PaymentConfiguration struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	RoleID        int        `gorm:"column:role_id;not null;index:idx_cfg_role_fee" json:"role_id"`
	FeeType       string     `gorm:"column:fee_type;size:50;not null;index:idx_cfg_role_fee" json:"fee_type"`
	Amount        float64    `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	MinTons       *float64   `gorm:"column:min_tons;type:decimal(10,2)" json:"min_tons"`
	MaxTons       *float64   `gorm:"column:max_tons;type:decimal(10,2)" json:"max_tons"`
	EffectiveFrom time.Time  `gorm:"column:effective_from;not null" json:"effective_from"`
	EffectiveTo   *time.Time `gorm:"column:effective_to" json:"effective_to"`
	Active        bool       `gorm:"column:active;default:true" json:"active"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PaymentConfiguration) TableName() string {
	return "payment_configurations"
}
