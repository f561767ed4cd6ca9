package auth

import (
	"context"
	"errors"
)

// StaticVerifier accepts a fixed set of tokens; used by handler tests and local tooling
type StaticVerifier map[string]*Principal

// Verify implements TokenVerifier
func (s StaticVerifier) Verify(_ context.Context, rawToken string) (*Principal, error) {
	p, ok := s[rawToken]
	if !ok {
		return nil, errors.Join(ErrInvalidToken, errors.New("unknown static token"))
	}
	copied := *p
	return &copied, nil
}
