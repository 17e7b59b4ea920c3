// Package auth issues and checks the API's bearer tokens
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Issuer          = "Sprinklers"
	RefreshAudience = "refresh"

	// TokenTTL is the lifetime of access and refresh tokens
	TokenTTL = 5 * time.Minute

	keySize = 32
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrClosed       = errors.New("token service closed")
)

// TokenService signs HS256 tokens with a key generated at start. The key never
// leaves memory and is wiped by Close, which invalidates every issued token.
type TokenService struct {
	mu  sync.RWMutex
	key []byte

	// Now is the time source for issuing and validation
	Now func() time.Time
}

// NewTokenService generates a fresh signing key
func NewTokenService() (*TokenService, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	return &TokenService{key: key, Now: time.Now}, nil
}

// Close zeroes the signing key
func (s *TokenService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.key)
	s.key = nil
}

// IssueAccess returns a token for the Authorization header
func (s *TokenService) IssueAccess() (string, error) {
	return s.issue(nil)
}

// IssueRefresh returns a token that can only be exchanged for new tokens
func (s *TokenService) IssueRefresh() (string, error) {
	return s.issue(jwt.ClaimStrings{RefreshAudience})
}

func (s *TokenService) issue(aud jwt.ClaimStrings) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return "", ErrClosed
	}

	now := s.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Audience:  aud,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// VerifyAccess checks an access token. Refresh tokens are rejected.
func (s *TokenService) VerifyAccess(token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	if len(claims.Audience) > 0 {
		return fmt.Errorf("%w: unexpected audience %v", ErrInvalidToken, claims.Audience)
	}
	return nil
}

// VerifyRefresh checks a refresh token
func (s *TokenService) VerifyRefresh(token string) error {
	_, err := s.parse(token, jwt.WithAudience(RefreshAudience))
	return err
}

func (s *TokenService) parse(token string, opts ...jwt.ParserOption) (*jwt.RegisteredClaims, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return nil, ErrClosed
	}

	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.Now),
	)

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
