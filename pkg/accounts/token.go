package accounts

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionIDBytes = 32

// identityClaims are the claims carried by an identity token.
type identityClaims struct {
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// generateSessionID creates a cryptographically random identity session id.
func generateSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}

func (s *Service) signToken(
	accountID, email, sessionID string, issuedAt, expiresAt time.Time,
) (string, error) {
	claims := identityClaims{
		Email:     email,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing identity token: %w", err)
	}

	return signed, nil
}

// parseToken verifies the signature of token. With validate unset, expiry
// is not checked, which lets an expired identity still be revoked.
func (s *Service) parseToken(token string, validate bool) (*identityClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	}

	if !validate {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &identityClaims{}

	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("parsing identity token: %w", err)
	}

	if claims.SessionID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("parsing identity token: missing sid or sub")
	}

	return claims, nil
}
