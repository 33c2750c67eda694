package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// User is the minimal local account the billing core references. Account
// management itself lives outside this service.
type User struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Email      string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"email"`
	Username   string    `gorm:"type:varchar(100);not null" json:"username"`
	FirstName  string    `gorm:"type:varchar(100)" json:"first_name"`
	LastName   string    `gorm:"type:varchar(100)" json:"last_name"`
	APIKeyHash string    `gorm:"type:char(64);index" json:"-"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// HashAPIKey returns the storable digest for a raw API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
