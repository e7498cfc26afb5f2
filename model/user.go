package model

import (
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/gatewayz/gatewayz/common/metrics"
)

// User statuses.
const (
	UserStatusEnabled  = 1
	UserStatusDisabled = 2
)

// ErrInsufficientCredits is returned when a deduction would take the
// balance negative.
var ErrInsufficientCredits = errors.New("insufficient credits")

// User is a gateway account. Credits are a USD balance consumed by paid
// requests; trial accounts run on the trial table instead.
type User struct {
	Id          int64   `json:"id" gorm:"primaryKey"`
	Email       string  `json:"email" gorm:"size:255;uniqueIndex"`
	DisplayName string  `json:"display_name" gorm:"size:255"`
	Credits     float64 `json:"credits"`
	Tier        string  `json:"tier" gorm:"size:32;default:free"`
	IsAdmin     bool    `json:"is_admin"`
	Status      int     `json:"status" gorm:"default:1"`
	CreatedAt   int64   `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt   int64   `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// GetUserById loads a user by primary key.
func GetUserById(id int64) (*User, error) {
	start := time.Now()
	var user User
	err := DB.First(&user, "id = ?", id).Error
	metrics.GlobalRecorder.RecordDBQuery(start, "select", "users", err == nil)
	if err != nil {
		return nil, errors.Wrapf(err, "get user %d", id)
	}
	return &user, nil
}

// GetUserCredits returns the current balance.
func GetUserCredits(userID int64) (float64, error) {
	start := time.Now()
	var credits float64
	err := DB.Model(&User{}).Where("id = ?", userID).Pluck("credits", &credits).Error
	metrics.GlobalRecorder.RecordDBQuery(start, "select", "users", err == nil)
	if err != nil {
		return 0, errors.Wrapf(err, "get credits for user %d", userID)
	}
	return credits, nil
}

// DeductUserCredits atomically subtracts amount from the user's balance.
// The conditional update makes concurrent deductions race-free: a deduction
// that would overdraw affects zero rows and returns ErrInsufficientCredits.
func DeductUserCredits(userID int64, amount float64) error {
	if amount <= 0 {
		return nil
	}

	start := time.Now()
	tx := DB.Model(&User{}).
		Where("id = ? AND credits >= ?", userID, amount).
		Update("credits", gorm.Expr("credits - ?", amount))
	metrics.GlobalRecorder.RecordDBQuery(start, "update", "users", tx.Error == nil)
	if tx.Error != nil {
		return errors.Wrapf(tx.Error, "deduct %f credits from user %d", amount, userID)
	}
	if tx.RowsAffected == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

// RefundUserCredits adds amount back to the balance, e.g. when a request
// fails after a hold.
func RefundUserCredits(userID int64, amount float64) error {
	if amount <= 0 {
		return nil
	}

	start := time.Now()
	err := DB.Model(&User{}).
		Where("id = ?", userID).
		Update("credits", gorm.Expr("credits + ?", amount)).Error
	metrics.GlobalRecorder.RecordDBQuery(start, "update", "users", err == nil)
	return errors.Wrapf(err, "refund %f credits to user %d", amount, userID)
}
