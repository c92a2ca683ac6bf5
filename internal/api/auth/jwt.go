// Package auth issues and validates API access tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role grants access to API operations.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// ParseRole converts a string to a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleMember, RoleViewer:
		return r, nil
	default:
		return "", fmt.Errorf("invalid role %q: must be admin, member or viewer", s)
	}
}

// CanWrite reports whether the role may change traps, rules and alerts.
func (r Role) CanWrite() bool {
	return r == RoleAdmin || r == RoleMember
}

// Claims represents the JWT claims for access tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	TeamID string `json:"team"`
	Role   Role   `json:"role"`
}

// JWTService handles JWT token generation and validation.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewJWTService creates a new JWT service.
func NewJWTService(secret []byte, ttl time.Duration) *JWTService {
	return &JWTService{
		secret: secret,
		ttl:    ttl,
		issuer: "logtrap",
	}
}

// GenerateToken creates a new access token for a user of a team.
func (s *JWTService) GenerateToken(userID, teamID string, role Role) (string, error) {
	if userID == "" || teamID == "" {
		return "", errors.New("user and team are required")
	}
	if _, err := ParseRole(string(role)); err != nil {
		return "", err
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		UserID: userID,
		TeamID: teamID,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken validates a JWT token and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Issuer != s.issuer {
		return nil, fmt.Errorf("invalid issuer")
	}
	if claims.UserID == "" || claims.TeamID == "" {
		return nil, fmt.Errorf("token has no user or team")
	}
	if _, err := ParseRole(string(claims.Role)); err != nil {
		return nil, err
	}

	return claims, nil
}

// TTL returns the token time-to-live duration.
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}
