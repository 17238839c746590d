package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

type Claims struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     Role
}

func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

func GenerateToken(claims Claims, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	tc := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID:   claims.UserID.String(),
		TenantID: claims.TenantID.String(),
		Role:     string(claims.Role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tc)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ValidateToken: invalid token claims")
	}

	userID, err := uuid.Parse(tc.UserID)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: invalid user_id in token: %w", err)
	}
	tenantID, err := uuid.Parse(tc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: invalid tenant_id in token: %w", err)
	}

	role := Role(tc.Role)
	if role == "" {
		role = RoleCustomer
	}

	return &Claims{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
	}, nil
}
