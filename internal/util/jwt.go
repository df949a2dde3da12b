package util

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const clockSkew = 30 * time.Second

// Claims are the JWT claims issued by the auth provider. Subject is the subscriber ID.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ValidateJWT verifies tokenString and returns its claims. keyMaterial is either an
// HMAC secret or a PEM-encoded RSA or ECDSA public key.
func ValidateJWT(tokenString, keyMaterial string) (*Claims, error) {
	isPEM := strings.HasPrefix(strings.TrimSpace(keyMaterial), "-----BEGIN")

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if isPEM {
				return nil, fmt.Errorf("unexpected signing method: %v (expected asymmetric)", token.Header["alg"])
			}
			return []byte(keyMaterial), nil
		case *jwt.SigningMethodRSA:
			return parsePublicKey[*rsa.PublicKey](keyMaterial)
		case *jwt.SigningMethodECDSA:
			return parsePublicKey[*ecdsa.PublicKey](keyMaterial)
		default:
			return nil, fmt.Errorf("unsupported signing algorithm: %v", token.Header["alg"])
		}
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc,
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// parsePublicKey decodes a PEM-encoded PKIX public key of type K.
func parsePublicKey[K *rsa.PublicKey | *ecdsa.PublicKey](pemKey string) (K, error) {
	var zero K
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return zero, errors.New("failed to decode PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return zero, fmt.Errorf("failed to parse public key: %w", err)
	}
	key, ok := pub.(K)
	if !ok {
		return zero, fmt.Errorf("public key is %T, not %T", pub, zero)
	}
	return key, nil
}
