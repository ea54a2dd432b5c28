// Package token mints and validates the JWT credentials issued by the
// identity service: a short-lived bearer access token and an optional ID
// token carrying identity claims.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"beacon/internal/identity/models"
)

const issuer = "beacon"

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	SessionID string      `json:"sid"`
	Role      models.Role `json:"role"`
	jwt.RegisteredClaims
}

// IDClaims are the claims carried by an ID token.
type IDClaims struct {
	Email           string            `json:"email,omitempty"`
	Role            models.Role       `json:"role"`
	LinkedProviders []models.Provider `json:"linked_providers,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and validates tokens with a shared HMAC key.
type Manager struct {
	signingKey []byte
	accessTTL  time.Duration
}

func NewManager(signingKey string, accessTTL time.Duration) *Manager {
	return &Manager{signingKey: []byte(signingKey), accessTTL: accessTTL}
}

// AccessTTL reports the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// Mint issues an access/ID token pair for the user and session.
func (m *Manager) Mint(user *models.User, sessionID uuid.UUID, now time.Time) (models.AuthTokens, error) {
	registered := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   user.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
		ID:        uuid.NewString(),
	}

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		SessionID:        sessionID.String(),
		Role:             user.Role,
		RegisteredClaims: registered,
	})
	accessStr, err := access.SignedString(m.signingKey)
	if err != nil {
		return models.AuthTokens{}, fmt.Errorf("sign access token: %w", err)
	}

	idTok := jwt.NewWithClaims(jwt.SigningMethodHS256, IDClaims{
		Email:            user.PrimaryEmail,
		Role:             user.Role,
		LinkedProviders:  user.LinkedProviders,
		RegisteredClaims: registered,
	})
	idStr, err := idTok.SignedString(m.signingKey)
	if err != nil {
		return models.AuthTokens{}, fmt.Errorf("sign id token: %w", err)
	}

	return models.AuthTokens{
		AccessToken: accessStr,
		IDToken:     idStr,
		ExpiresIn:   int64(m.accessTTL.Seconds()),
	}, nil
}

// Validate parses and verifies an access token.
func (m *Manager) Validate(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.signingKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	return claims, nil
}
