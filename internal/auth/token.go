package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"approvaldesk/internal/rbac"
)

// Claims carry the acting user. Capabilities are granted on top of the role.
type Claims struct {
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"caps,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

func IssueToken(secret []byte, claims Claims) (string, error) {
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(time.Now())
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// NewClaims builds claims for subject expiring after ttl.
func NewClaims(subject, name, role string, ttl time.Duration, capabilities ...string) Claims {
	now := time.Now()
	return Claims{
		Name:         name,
		Role:         role,
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        HashToken(fmt.Sprintf("%s:%d", subject, now.UnixNano()))[:16],
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func ParseToken(secret []byte, tokenString string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Claims{}, ErrExpiredToken
	}
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}

// Principal is the authenticated user seen by the approval service.
type Principal struct {
	Claims Claims
	Policy rbac.Policy
}

func (p Principal) ID() string {
	return p.Claims.Subject
}

func (p Principal) Role() rbac.Role {
	return rbac.Normalize(p.Claims.Role)
}

// Can holds a capability granted explicitly in the token or through the role.
func (p Principal) Can(capability string) bool {
	if capability == "" {
		return false
	}
	if slices.Contains(p.Claims.Capabilities, capability) {
		return true
	}
	return p.Policy.Grants(p.Role(), capability)
}
