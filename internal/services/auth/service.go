package auth

import (
	"context"
	"fmt"
	"strings"
)

// Service validates access tokens minted by the identity provider. The API
// is stateless: every request carries a bearer token, identity comes from
// its subject claim and is never read from request payloads.
type Service struct {
	jwt *JWTManager
}

func NewService(jwt *JWTManager) *Service {
	return &Service{jwt: jwt}
}

func (s *Service) ValidateAccessToken(_ context.Context, accessToken string) (AccessClaims, error) {
	if s.jwt == nil {
		return AccessClaims{}, fmt.Errorf("jwt manager is nil")
	}
	if strings.TrimSpace(accessToken) == "" {
		return AccessClaims{}, ErrInvalidInput
	}

	return s.jwt.ParseAccessToken(accessToken)
}

func (s *Service) IssueAccessToken(_ context.Context, userID string) (string, error) {
	if s.jwt == nil {
		return "", fmt.Errorf("jwt manager is nil")
	}

	token, _, err := s.jwt.GenerateAccessToken(userID)
	return token, err
}
