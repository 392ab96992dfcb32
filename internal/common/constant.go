package common

// Well-known keys in the local storage medium.
const (
	// IdentityKey holds the resolved anonymous identity id.
	IdentityKey = "datavis.visitor_id"
	// IdentityCreatedKey holds the RFC 3339 creation time of IdentityKey.
	IdentityCreatedKey = "datavis.visitor_created_at"
	// UsageKey holds the usage ledger map keyed by identity id.
	UsageKey = "datavis.usage"
	// RecordsKeyPrefix prefixes each identity's record namespace.
	RecordsKeyPrefix = "datavis.records."
)

// Metadata keys carried on outbound remote calls.
const (
	AuthorizationHeaderName  = "authorization"
	IdempotencyKeyHeaderName = "idempotency-key"
)

// RecordsKey returns the medium key of an identity's record namespace.
func RecordsKey(identity string) string {
	return RecordsKeyPrefix + identity
}
