package domain

import "time"

type LoyaltyTier string

const (
	TierBronze   LoyaltyTier = "bronze"
	TierSilver   LoyaltyTier = "silver"
	TierGold     LoyaltyTier = "gold"
	TierPlatinum LoyaltyTier = "platinum"
)

// TierForSpend maps lifetime spend onto the loyalty ladder.
func TierForSpend(totalSpent Cents) LoyaltyTier {
	switch {
	case totalSpent >= 500000:
		return TierPlatinum
	case totalSpent >= 200000:
		return TierGold
	case totalSpent >= 50000:
		return TierSilver
	default:
		return TierBronze
	}
}

type Customer struct {
	ID                   string         `gorm:"primaryKey;size:36" json:"id"`
	Name                 string         `gorm:"size:255;not null" json:"name"`
	EmailEncrypted       *EncryptedBlob `gorm:"serializer:json" json:"-"`
	PhoneEncrypted       *EncryptedBlob `gorm:"serializer:json" json:"-"`
	Active               bool           `gorm:"not null" json:"active"`
	LoyaltyPoints        int64          `gorm:"not null;default:0" json:"loyalty_points"`
	LifetimePointsEarned int64          `gorm:"not null;default:0" json:"lifetime_points_earned"`
	TotalSpent           Cents          `gorm:"not null;default:0" json:"total_spent"`
	TransactionCount     int64          `gorm:"not null;default:0" json:"transaction_count"`
	Tier                 LoyaltyTier    `gorm:"size:32;not null;default:bronze" json:"tier"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// EncryptedBlob is an AES-256-GCM sealed value. Fields are base64 encoded.
type EncryptedBlob struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"auth_tag"`
}
