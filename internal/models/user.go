package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Operator is the account allowed to use the admin API.
type Operator struct {
	Username     string
	PasswordHash string
}

// Claims defines the structure of the JWT claims.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}
