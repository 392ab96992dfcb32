package auth

import (
	"context"
	"sync"

	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/client/policy"
)

// IdentitySource resolves the anonymous visitor id.
type IdentitySource interface {
	Resolve(ctx context.Context) string
}

// Session holds the current bearer token, if any.
type Session struct {
	verifier *Verifier
	visitors IdentitySource

	mu        sync.RWMutex
	principal *models.Principal
}

func NewSession(v *Verifier, visitors IdentitySource) *Session {
	return &Session{verifier: v, visitors: visitors}
}

// SignIn verifies token and makes its principal current.
func (s *Session) SignIn(token string) (models.Principal, error) {
	p, err := s.verifier.Verify(token)
	if err != nil {
		return models.Principal{}, err
	}
	s.mu.Lock()
	s.principal = &p
	s.mu.Unlock()
	return p, nil
}

func (s *Session) SignOut() {
	s.mu.Lock()
	s.principal = nil
	s.mu.Unlock()
}

// Current returns the signed-in principal, or the visitor principal of this
// device when nobody is signed in.
func (s *Session) Current(ctx context.Context) models.Principal {
	s.mu.RLock()
	p := s.principal
	s.mu.RUnlock()
	if p != nil {
		return *p
	}
	return models.Principal{
		ID:   s.visitors.Resolve(ctx),
		Kind: models.KindVisitor,
		Tier: policy.TierVisitor,
	}
}
