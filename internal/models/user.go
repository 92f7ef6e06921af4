package models

import "time"

type User struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	RoleName  string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
