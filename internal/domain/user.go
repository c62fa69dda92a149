package domain

import "time"

type Role string

const (
	RoleCashier Role = "cashier"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCashier, RoleManager, RoleAdmin:
		return true
	}
	return false
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User is a store employee able to sign in to a terminal.
type User struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Username     string     `gorm:"size:64;uniqueIndex;not null" json:"username"`
	DisplayName  string     `gorm:"size:128" json:"display_name"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	Role         Role       `gorm:"size:32;not null" json:"role"`
	StoreID      string     `gorm:"size:36;index;not null" json:"store_id"`
	Status       UserStatus `gorm:"size:32;not null;default:active" json:"status"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (u *User) Active() bool { return u.Status == UserStatusActive }

// UserView is the limited projection returned to clients.
type UserView struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	StoreID     string `json:"store_id"`
}

func (u *User) View() UserView {
	return UserView{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, Role: u.Role, StoreID: u.StoreID}
}
