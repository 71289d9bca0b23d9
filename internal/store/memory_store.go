package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"namecradle/internal/util"
	"namecradle/pkg/domain"
)

// MemoryStore keeps all records in-process. It mirrors the GormStore
// semantics and backs unit tests and local development.
type MemoryStore struct {
	mu sync.Mutex

	// Now is the clock used for timestamps; tests may override it.
	Now func() time.Time

	cache    map[domain.NameQuery]domain.CacheEntry
	saved    map[string]domain.SavedName
	users    map[string]domain.User
	emails   map[string]string // email -> user ID
	families map[string]domain.Family
	invites  map[string]string // invite token -> family ID
	prompts  map[string]domain.PromptHistoryEntry
	feedback []domain.PromptFeedback
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Now:      func() time.Time { return time.Now().UTC() },
		cache:    make(map[domain.NameQuery]domain.CacheEntry),
		saved:    make(map[string]domain.SavedName),
		users:    make(map[string]domain.User),
		emails:   make(map[string]string),
		families: make(map[string]domain.Family),
		invites:  make(map[string]string),
		prompts:  make(map[string]domain.PromptHistoryEntry),
	}
}

// LookupCachedName returns the entry for the query, bumping access stats.
func (m *MemoryStore) LookupCachedName(_ context.Context, q domain.NameQuery) (domain.CacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.cache[q]
	if !ok {
		return domain.CacheEntry{}, false, nil
	}
	entry.AccessCount++
	entry.LastAccessed = m.Now()
	m.cache[q] = entry
	return entry, true, nil
}

// UpsertCachedName overwrites or creates the entry for the query.
func (m *MemoryStore) UpsertCachedName(_ context.Context, q domain.NameQuery, result domain.RatingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	entry, ok := m.cache[q]
	if !ok {
		entry = domain.CacheEntry{Query: q, CreatedAt: now}
	}
	entry.Result = result
	entry.LastAccessed = now
	m.cache[q] = entry
	return nil
}

// EvictCacheOlderThan removes entries last accessed before the cutoff.
func (m *MemoryStore) EvictCacheOlderThan(_ context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.Now().AddDate(0, 0, -retentionDays)
	var removed int64
	for q, entry := range m.cache {
		if entry.LastAccessed.Before(cutoff) {
			delete(m.cache, q)
			removed++
		}
	}
	return removed, nil
}

// CacheStats returns aggregate cache statistics.
func (m *MemoryStore) CacheStats(_ context.Context) (domain.CacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := domain.CacheStats{TotalEntries: int64(len(m.cache))}
	for _, entry := range m.cache {
		if stats.OldestEntry == nil || entry.CreatedAt.Before(*stats.OldestEntry) {
			createdAt := entry.CreatedAt
			stats.OldestEntry = &createdAt
		}
		if stats.MostAccessed == nil || entry.AccessCount > stats.MostAccessed.AccessCount {
			top := entry
			stats.MostAccessed = &top
		}
	}
	return stats, nil
}

// GetSavedNameByLookup finds a saved name by its identity key.
func (m *MemoryStore) GetSavedNameByLookup(_ context.Context, familyID string, q domain.NameQuery) (domain.SavedName, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.findByIdentity(familyID, q)
	return name, ok, nil
}

func (m *MemoryStore) findByIdentity(familyID string, q domain.NameQuery) (domain.SavedName, bool) {
	for _, name := range m.saved {
		if name.FamilyID == familyID && name.Query() == q {
			return name, true
		}
	}
	return domain.SavedName{}, false
}

// UpsertSavedName updates an existing identity in place or appends a new
// record at the end of its (family, gender) partition.
func (m *MemoryStore) UpsertSavedName(_ context.Context, familyID, userID string, q domain.NameQuery, result domain.RatingResult) (domain.SavedName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	if existing, ok := m.findByIdentity(familyID, q); ok {
		existing.Result = result
		existing.SavedAt = now
		m.saved[existing.ID] = existing
		return existing, nil
	}
	nextRank := 0
	for _, name := range m.saved {
		if name.FamilyID == familyID && name.Gender == q.Gender && name.Rank >= nextRank {
			nextRank = name.Rank + 1
		}
	}
	name := domain.SavedName{
		ID:        util.NewID(),
		UserID:    userID,
		FamilyID:  familyID,
		FirstName: q.FirstName,
		LastName:  q.LastName,
		FullName:  q.FullName(),
		Gender:    q.Gender,
		Result:    result,
		Rank:      nextRank,
		SavedAt:   now,
	}
	m.saved[name.ID] = name
	return name, nil
}

// ListSavedNames returns the family's names ordered by gender then rank.
func (m *MemoryStore) ListSavedNames(_ context.Context, familyID string) ([]domain.SavedName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]domain.SavedName, 0)
	for _, name := range m.saved {
		if name.FamilyID == familyID {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i].Gender != names[j].Gender {
			return names[i].Gender < names[j].Gender
		}
		return names[i].Rank < names[j].Rank
	})
	return names, nil
}

// RemoveSavedName deletes a record after verifying ownership.
func (m *MemoryStore) RemoveSavedName(_ context.Context, userID, nameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.saved[nameID]
	if !ok {
		return ErrNotFound
	}
	if name.UserID != userID {
		return ErrAccessDenied
	}
	delete(m.saved, nameID)
	return nil
}

// ReorderSavedNames atomically reassigns ranks within one partition.
func (m *MemoryStore) ReorderSavedNames(_ context.Context, familyID string, gender domain.Gender, nameIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	partition := make(map[string]struct{})
	for id, name := range m.saved {
		if name.FamilyID == familyID && name.Gender == gender {
			partition[id] = struct{}{}
		}
	}
	if len(partition) != len(nameIDs) {
		return ErrReorderMismatch
	}
	seen := make(map[string]struct{}, len(nameIDs))
	for _, id := range nameIDs {
		if _, ok := partition[id]; !ok {
			return ErrReorderMismatch
		}
		if _, dup := seen[id]; dup {
			return ErrReorderMismatch
		}
		seen[id] = struct{}{}
	}
	for index, id := range nameIDs {
		name := m.saved[id]
		name.Rank = index
		m.saved[id] = name
	}
	return nil
}

// UpsertUser creates or refreshes a user keyed by email.
func (m *MemoryStore) UpsertUser(_ context.Context, email, name string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	if id, ok := m.emails[email]; ok {
		user := m.users[id]
		if name != "" {
			user.Name = name
		}
		user.UpdatedAt = now
		m.users[id] = user
		return user, nil
	}
	user := domain.User{
		ID:        util.NewID(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.users[user.ID] = user
	m.emails[email] = user.ID
	return user, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	return user, ok, nil
}

// EnsureFamily provisions a family for the user when they have none.
func (m *MemoryStore) EnsureFamily(_ context.Context, userID string) (domain.Family, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return domain.Family{}, ErrNotFound
	}
	if user.FamilyID != "" {
		if family, exists := m.families[user.FamilyID]; exists {
			return family, nil
		}
	}
	family := domain.Family{ID: util.NewID(), CreatedAt: m.Now()}
	m.families[family.ID] = family
	user.FamilyID = family.ID
	m.users[userID] = user
	return family, nil
}

// RotateInviteToken issues a fresh invite token for the family.
func (m *MemoryStore) RotateInviteToken(_ context.Context, familyID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	family, ok := m.families[familyID]
	if !ok {
		return "", ErrNotFound
	}
	if family.InviteToken != nil {
		delete(m.invites, *family.InviteToken)
	}
	token := uuid.NewString()
	family.InviteToken = &token
	m.families[familyID] = family
	m.invites[token] = familyID
	return token, nil
}

// JoinFamilyByToken moves the user into the family owning the token.
func (m *MemoryStore) JoinFamilyByToken(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	familyID, ok := m.invites[token]
	if !ok {
		return ErrInvalidInviteToken
	}
	user, exists := m.users[userID]
	if !exists {
		return ErrNotFound
	}
	user.FamilyID = familyID
	m.users[userID] = user
	return nil
}

// LeaveFamily detaches the user from their family.
func (m *MemoryStore) LeaveFamily(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.FamilyID = ""
	m.users[userID] = user
	return nil
}

// RecordPromptUse upserts a prompt-history entry by content hash.
func (m *MemoryStore) RecordPromptUse(_ context.Context, entry domain.PromptHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	if existing, ok := m.prompts[entry.ID]; ok {
		existing.UsageCount++
		existing.LastUsed = now
		m.prompts[entry.ID] = existing
		return nil
	}
	entry.UsageCount = 1
	entry.FirstUsed = now
	entry.LastUsed = now
	m.prompts[entry.ID] = entry
	return nil
}

// PromptUse returns the recorded entry for a prompt id.
func (m *MemoryStore) PromptUse(id string) (domain.PromptHistoryEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.prompts[id]
	return entry, ok
}

// SavePromptFeedback appends one feedback record.
func (m *MemoryStore) SavePromptFeedback(_ context.Context, fb domain.PromptFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, fb)
	return nil
}

// PromptFeedbackCount reports how many feedback records were appended.
func (m *MemoryStore) PromptFeedbackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.feedback)
}
