package store

import (
	"context"
	"errors"

	"namecradle/pkg/domain"
)

var (
	// ErrNotFound indicates the target record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAccessDenied indicates the record exists but belongs to someone else.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidInviteToken indicates an unknown or stale family invite token.
	ErrInvalidInviteToken = errors.New("invalid invite token")
	// ErrReorderMismatch indicates a reorder id list that does not exactly
	// cover the (family, gender) partition. No ranks are changed.
	ErrReorderMismatch = errors.New("reorder ids do not match saved names")
)

// NameCacheStore is the global, query-keyed rating cache. It knows nothing
// about users or families.
type NameCacheStore interface {
	// LookupCachedName returns the entry for the query. A hit atomically
	// increments the access count and refreshes the last-accessed timestamp;
	// the returned entry reflects the post-hit counters.
	LookupCachedName(ctx context.Context, q domain.NameQuery) (domain.CacheEntry, bool, error)
	// UpsertCachedName overwrites or creates the entry for the query,
	// resetting last-accessed and preserving any existing access count.
	UpsertCachedName(ctx context.Context, q domain.NameQuery, result domain.RatingResult) error
	// EvictCacheOlderThan removes entries whose last access is older than the
	// retention window and returns how many were removed.
	EvictCacheOlderThan(ctx context.Context, retentionDays int) (int64, error)
	// CacheStats returns a read-only aggregate for observability.
	CacheStats(ctx context.Context) (domain.CacheStats, error)
}

// SavedNameStore persists family-curated saved names with ranked ordering.
type SavedNameStore interface {
	GetSavedNameByLookup(ctx context.Context, familyID string, q domain.NameQuery) (domain.SavedName, bool, error)
	// UpsertSavedName replaces the result of an existing (family, name, gender)
	// record, keeping its rank, or creates a new record at the end of its
	// (family, gender) partition.
	UpsertSavedName(ctx context.Context, familyID, userID string, q domain.NameQuery, result domain.RatingResult) (domain.SavedName, error)
	// ListSavedNames returns the family's names ordered by gender then rank.
	ListSavedNames(ctx context.Context, familyID string) ([]domain.SavedName, error)
	// RemoveSavedName deletes a record after verifying ownership. Returns
	// ErrNotFound or ErrAccessDenied accordingly.
	RemoveSavedName(ctx context.Context, userID, nameID string) error
	// ReorderSavedNames atomically assigns rank = index for the given id order
	// within one (family, gender) partition. All-or-nothing.
	ReorderSavedNames(ctx context.Context, familyID string, gender domain.Gender, nameIDs []string) error
}

// UserStore manages users and their family membership.
type UserStore interface {
	// UpsertUser creates or refreshes a user keyed by the identity provider's
	// email claim.
	UpsertUser(ctx context.Context, email, name string) (domain.User, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	// EnsureFamily provisions a family for the user when they have none.
	// Invoked only by the session handler, so the saved-name path never
	// creates families as a side effect.
	EnsureFamily(ctx context.Context, userID string) (domain.Family, error)
	// RotateInviteToken issues a fresh invite token for the family. The old
	// token stops working.
	RotateInviteToken(ctx context.Context, familyID string) (string, error)
	JoinFamilyByToken(ctx context.Context, userID, token string) error
	LeaveFamily(ctx context.Context, userID string) error
}

// PromptStore tracks raw model invocations and user feedback on them.
type PromptStore interface {
	// RecordPromptUse upserts by content-hash id; repeated identical requests
	// increment the usage count.
	RecordPromptUse(ctx context.Context, entry domain.PromptHistoryEntry) error
	// SavePromptFeedback appends one feedback record.
	SavePromptFeedback(ctx context.Context, fb domain.PromptFeedback) error
}

// Store aggregates all persistence capabilities of the service.
type Store interface {
	NameCacheStore
	SavedNameStore
	UserStore
	PromptStore
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
