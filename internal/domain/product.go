package domain

import "time"

type Product struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	SKU           string    `gorm:"size:64;uniqueIndex;not null" json:"sku"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	Category      string    `gorm:"size:64;index" json:"category"`
	UnitPrice     Cents     `gorm:"not null" json:"unit_price"`
	Quantity      int64     `gorm:"not null;default:0" json:"quantity"`
	AgeRestricted bool      `gorm:"not null;default:false" json:"age_restricted"`
	Version       int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
