// Package models defines the client-side data model of the storage engine.
package models

import (
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/policy"
)

// IdentityKind distinguishes anonymous visitors from account holders.
type IdentityKind string

const (
	KindVisitor IdentityKind = "visitor"
	KindUser    IdentityKind = "user"
)

// Identity is a stable principal used to scope storage and quota. It is
// created once on first resolution and never reassigned.
type Identity struct {
	ID        string       `json:"id"`
	Kind      IdentityKind `json:"kind"`
	CreatedAt time.Time    `json:"created_at"`
}

// Principal is what the auth/session collaborator hands to the gate: who is
// calling and which tier governs them. Token is the bearer credential
// forwarded to the remote API; visitors have none.
type Principal struct {
	ID    string
	Kind  IdentityKind
	Tier  policy.Tier
	Token string
}

func (p Principal) IsVisitor() bool {
	return p.Kind == KindVisitor
}
