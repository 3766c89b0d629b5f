package model

// User is owned by the account service; the wallet only reads it.
type User struct {
	ID    string `gorm:"primaryKey;size:64"`
	Name  string `gorm:"size:255"`
	Email string `gorm:"size:255"`
}

func (User) TableName() string { return "users" }
