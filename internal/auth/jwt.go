package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleMember   = "member"
	RoleOperator = "operator"
)

type JWTManager struct {
	issuer   string
	audience string
	secret   []byte
}

// Claims binds a token to one wallet address and a role. Address is the
// identity every vault and loan operation acts as.
type Claims struct {
	Address string `json:"addr"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

func NewJWTManager(issuer, audience, signingKey string) *JWTManager {
	return &JWTManager{
		issuer:   issuer,
		audience: audience,
		secret:   []byte(signingKey),
	}
}

func (m *JWTManager) Mint(address, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Address: address,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  []string{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.secret)
}

func (m *JWTManager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Issuer != m.issuer {
		return nil, errors.New("invalid issuer")
	}
	ok := false
	for _, aud := range claims.Audience {
		if aud == m.audience {
			ok = true
			break
		}
	}
	if !ok {
		return nil, errors.New("invalid audience")
	}
	if claims.Address == "" {
		return nil, errors.New("missing address")
	}
	return claims, nil
}
