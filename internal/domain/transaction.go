package domain

import "time"

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentMobile   PaymentMethod = "mobile"
	PaymentGiftCard PaymentMethod = "gift_card"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMobile, PaymentGiftCard:
		return true
	}
	return false
}

type TransactionStatus string

const TransactionCompleted TransactionStatus = "completed"

// PaymentMetadata holds only PCI-safe payment fields.
type PaymentMetadata struct {
	Method           PaymentMethod  `json:"method"`
	CardBrand        string         `json:"card_brand,omitempty"`
	CardLast4        string         `json:"card_last4,omitempty"`
	AuthorizationRef *EncryptedBlob `json:"authorization_ref,omitempty"`
}

type RiskAssessment struct {
	Score   int      `json:"score"`
	Factors []string `json:"factors"`
}

type Transaction struct {
	ID                  string            `gorm:"primaryKey;size:36" json:"id"`
	StoreID             string            `gorm:"size:36;index;not null" json:"store_id"`
	EmployeeID          string            `gorm:"size:36;index:idx_tx_employee_created;not null" json:"employee_id"`
	CustomerID          *string           `gorm:"size:36;index" json:"customer_id,omitempty"`
	Subtotal            Cents             `gorm:"not null" json:"subtotal"`
	Tax                 Cents             `gorm:"not null" json:"tax"`
	Total               Cents             `gorm:"not null" json:"total"`
	Payment             PaymentMetadata   `gorm:"serializer:json" json:"payment"`
	Risk                RiskAssessment    `gorm:"serializer:json" json:"risk"`
	LoyaltyPointsEarned int64             `gorm:"not null;default:0" json:"loyalty_points_earned"`
	Status              TransactionStatus `gorm:"size:32;not null" json:"status"`
	LineItems           []LineItem        `gorm:"foreignKey:TransactionID" json:"line_items"`
	Employee            *User             `gorm:"foreignKey:EmployeeID" json:"-"`
	Customer            *Customer         `gorm:"foreignKey:CustomerID" json:"-"`
	CreatedAt           time.Time         `gorm:"index:idx_tx_employee_created" json:"created_at"`
}

type LineItem struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	TransactionID string    `gorm:"size:36;index;not null" json:"transaction_id"`
	Position      int       `gorm:"not null" json:"position"`
	ProductID     string    `gorm:"size:36;index;not null" json:"product_id"`
	Quantity      int64     `gorm:"not null" json:"quantity"`
	UnitPrice     Cents     `gorm:"not null" json:"unit_price"`
	LineTotal     Cents     `gorm:"not null" json:"line_total"`
	IntegrityHash string    `gorm:"size:64;not null" json:"integrity_hash"`
	CreatedAt     time.Time `json:"created_at"`
}
