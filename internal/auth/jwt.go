package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the seller identity. The subject is the seller id.
type Claims struct {
	SellerID string `json:"sub"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTService validates bearer tokens issued by the marketplace auth service.
// Issuing is only used by tooling (sellerctl) and tests.
type JWTService struct {
	secretKey []byte
	issuer    string
}

func NewJWTService(secretKey string) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
		issuer:    "seller-service",
	}
}

func (j *JWTService) GenerateToken(sellerID, email string, ttl time.Duration) (string, error) {
	if sellerID == "" {
		return "", fmt.Errorf("seller id is required")
	}
	now := time.Now()
	claims := Claims{
		SellerID: sellerID,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secretKey)
}

func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.SellerID == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
