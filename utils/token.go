package utils

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// JwtCustomClaim carries the actor and tenant attribution recorded on every
// backup/audit row. Tokens are issued by the external auth service; this
// backend only validates them.
type JwtCustomClaim struct {
	ID         int    `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	TenantId   string `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
	jwt.StandardClaims
}

var jwtSecret = []byte(getJwtSecret())

func getJwtSecret() string {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		return "FbrBackend-Secret"
	}
	return secret
}

// JwtGenerate mints a token for service-to-service calls and local testing.
// Interactive user tokens come from the external auth service.
func JwtGenerate(userID int, email, name, role, tenantId, tenantName string) (string, error) {
	token_lifespan := 24
	if v := os.Getenv("TOKEN_HOUR_LIFESPAN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", err
		}
		token_lifespan = n
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		ID:         userID,
		Email:      email,
		Name:       name,
		Role:       role,
		TenantId:   tenantId,
		TenantName: tenantName,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(time.Hour * time.Duration(token_lifespan)).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})

	token, err := t.SignedString(jwtSecret)
	if err != nil {
		return "", err
	}

	return token, nil
}

func JwtValidate(token string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return jwtSecret, nil
	})
}
