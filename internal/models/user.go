package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID              uuid.UUID `db:"id"`
	Username        string    `db:"username"`
	Email           string    `db:"email"`
	Password        string    `db:"password"`
	DefaultCurrency string    `db:"default_currency"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}
