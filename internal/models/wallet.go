package models

import (
	"time"

	"gorm.io/gorm"
)

// Wallet types. The system wallet is a singleton holding
// platform-retained fee revenue; user wallets are created lazily.
const (
	WalletTypeSystem = "System"
	WalletTypeUser   = "User"
)

// SystemOwnerID is the reserved owner id of the singleton system wallet.
const SystemOwnerID = 0

type Wallet struct {
	ID         uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID    int            `gorm:"column:owner_id;not null;uniqueIndex:idx_wallet_owner_type" json:"owner_id"`
	WalletType string         `gorm:"column:wallet_type;size:20;not null;uniqueIndex:idx_wallet_owner_type" json:"wallet_type"`
	Balance    float64        `gorm:"column:balance;type:decimal(20,2);default:0.00" json:"balance"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Wallet) TableName() string {
	return "wallets"
}
