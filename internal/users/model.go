package users

import "time"

// User is a registered client account.
type User struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	Name         string    `gorm:"column:name;size:190;not null"`
	Phone        string    `gorm:"column:phone;size:32;not null;default:''"`
	City         string    `gorm:"column:city;size:190;not null;default:''"`
	Country      string    `gorm:"column:country;size:190;not null;default:''"`
	PasswordHash string    `gorm:"column:password_hash;size:100;not null" json:"-"`
	ShippingMark string    `gorm:"column:shipping_mark;size:16;not null;uniqueIndex"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// RegisterRequest carries the fields of a new account.
type RegisterRequest struct {
	Email    string
	Password string
	Name     string
	Phone    string
	City     string
	Country  string
}
