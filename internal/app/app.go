package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"namecradle/internal/identity"
	"namecradle/internal/store"
	"namecradle/internal/util"
	"namecradle/pkg/domain"
	"namecradle/pkg/namerater"
)

const defaultCacheRetentionDays = 30

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	SessionTTL         time.Duration
	Store              store.Store
	Sessions           store.SessionStore
	Rater              namerater.Rater
	CacheRetentionDays int
	AdminEmails        []string
}

// App wires together storage, sessions and the rating provider.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	rater         namerater.Rater
	retentionDays int
	adminEmails   map[string]struct{}

	generating singleflight.Group
}

// New constructs the application. A nil Store falls back to Postgres via
// DatabaseURL; a nil Sessions falls back to Redis.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	sessions := cfg.Sessions
	if sessions == nil {
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis addr required for sessions")
		}
		ttl := cfg.SessionTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		sessions = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, ttl)
	}
	if cfg.Rater == nil {
		return nil, fmt.Errorf("rating provider required")
	}
	retention := cfg.CacheRetentionDays
	if retention <= 0 {
		retention = defaultCacheRetentionDays
	}
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			admins[email] = struct{}{}
		}
	}
	return &App{
		store:         dataStore,
		sessions:      sessions,
		rater:         cfg.Rater,
		retentionDays: retention,
		adminEmails:   admins,
	}, nil
}

// Store exposes the underlying data store for maintenance tasks.
func (a *App) Store() store.Store { return a.store }

// Login exchanges verified identity claims for a session token, provisioning
// the user and their family on first contact.
func (a *App) Login(ctx context.Context, claims identity.Claims) (string, domain.User, error) {
	user, err := a.store.UpsertUser(ctx, claims.Email, claims.Name)
	if err != nil {
		return "", domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	if user.FamilyID == "" {
		family, err := a.store.EnsureFamily(ctx, user.ID)
		if err != nil {
			return "", domain.User{}, fmt.Errorf("ensure family: %w", err)
		}
		user.FamilyID = family.ID
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return "", domain.User{}, fmt.Errorf("create session: %w", err)
	}
	return token, user, nil
}

// Logout invalidates a session token. Unknown tokens are not an error.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// RequesterFromToken resolves a session token to the acting user.
func (a *App) RequesterFromToken(ctx context.Context, token string) (domain.Requester, bool, error) {
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.Requester{}, false, err
	}
	user, found, err := a.store.GetUserByID(ctx, userID)
	if err != nil || !found {
		return domain.Requester{}, false, err
	}
	return domain.Requester{UserID: user.ID, FamilyID: user.FamilyID}, true, nil
}

// AnalyzeOutcome is a rating together with where it came from. Saved is set
// when the rating is backed by a saved-name record.
type AnalyzeOutcome struct {
	Result domain.RatingResult
	Source domain.Source
	Cached bool
	Saved  *domain.SavedName
}

// AnalyzeRequest carries the analyze parameters. Refresh forces a fresh model
// call past both read paths; Synced marks the name as present in the caller's
// saved list, so a refreshed rating is written back to that record too.
type AnalyzeRequest struct {
	Query   domain.NameQuery
	Refresh bool
	Synced  bool
}

// AnalyzeName resolves a rating for the query. Resolution order is the
// global cache, then the family's saved copy, then a fresh model call whose
// result is written back to the cache.
func (a *App) AnalyzeName(ctx context.Context, req domain.Requester, in AnalyzeRequest) (AnalyzeOutcome, error) {
	q, err := normalizeQuery(in.Query)
	if err != nil {
		return AnalyzeOutcome{}, err
	}

	if !in.Refresh {
		entry, hit, err := a.store.LookupCachedName(ctx, q)
		if err != nil {
			util.LoggerFromContext(ctx).Warn("cache lookup failed", "error", err)
		} else if hit {
			return AnalyzeOutcome{Result: entry.Result, Source: domain.SourceGlobalCache, Cached: true}, nil
		}
		if req.FamilyID != "" {
			saved, found, err := a.store.GetSavedNameByLookup(ctx, req.FamilyID, q)
			if err != nil {
				util.LoggerFromContext(ctx).Warn("saved name lookup failed", "error", err)
			} else if found {
				return AnalyzeOutcome{Result: saved.Result, Source: domain.SourceUserSaved, Cached: true, Saved: &saved}, nil
			}
		}
	}

	result, err := a.generate(ctx, q)
	if err != nil {
		return AnalyzeOutcome{}, err
	}
	out := AnalyzeOutcome{Result: result, Source: domain.SourceLLM}
	// Only an explicit refresh of an already-saved name updates the saved
	// record; a plain analyze never writes to the family list.
	if in.Synced && in.Refresh && req.FamilyID != "" {
		saved, err := a.store.UpsertSavedName(ctx, req.FamilyID, req.UserID, q, result)
		if err != nil {
			util.LoggerFromContext(ctx).Warn("saved name sync failed", "error", err)
		} else {
			out.Saved = &saved
		}
	}
	return out, nil
}

// generate calls the rating provider, collapsing concurrent requests for the
// same query into one upstream call. The call runs on a detached context so
// a canceled requester does not starve the others sharing the flight.
func (a *App) generate(ctx context.Context, q domain.NameQuery) (domain.RatingResult, error) {
	key := q.FirstName + "|" + q.LastName + "|" + string(q.Gender)
	flightCtx := context.WithoutCancel(ctx)
	value, err, _ := a.generating.Do(key, func() (any, error) {
		result, err := a.rater.Rate(flightCtx, q.FirstName, q.LastName, q.Gender)
		if err != nil {
			return domain.RatingResult{}, err
		}
		if err := a.store.UpsertCachedName(flightCtx, q, result); err != nil {
			util.LoggerFromContext(flightCtx).Warn("cache write failed", "error", err)
		}
		return result, nil
	})
	if err != nil {
		return domain.RatingResult{}, err
	}
	return value.(domain.RatingResult), nil
}

// SaveName adds the name to the family's list. The rating is resolved
// cache-first so saving a previously analyzed name never re-calls the model.
func (a *App) SaveName(ctx context.Context, req domain.Requester, q domain.NameQuery) (domain.SavedName, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return domain.SavedName{}, err
	}
	if req.FamilyID == "" {
		return domain.SavedName{}, ErrNoFamily
	}

	var result domain.RatingResult
	entry, hit, err := a.store.LookupCachedName(ctx, q)
	switch {
	case err != nil:
		return domain.SavedName{}, fmt.Errorf("cache lookup: %w", err)
	case hit:
		result = entry.Result
	default:
		result, err = a.generate(ctx, q)
		if err != nil {
			return domain.SavedName{}, err
		}
	}
	saved, err := a.store.UpsertSavedName(ctx, req.FamilyID, req.UserID, q, result)
	if err != nil {
		return domain.SavedName{}, fmt.Errorf("save name: %w", err)
	}
	return saved, nil
}

// RemoveName deletes one saved name owned by the requester.
func (a *App) RemoveName(ctx context.Context, req domain.Requester, nameID string) error {
	nameID = strings.TrimSpace(nameID)
	if nameID == "" {
		return fmt.Errorf("%w: name id required", ErrInvalidInput)
	}
	return a.store.RemoveSavedName(ctx, req.UserID, nameID)
}

// ReorderNames applies a full new ordering to one gender's list.
func (a *App) ReorderNames(ctx context.Context, req domain.Requester, gender domain.Gender, nameIDs []string) error {
	if !gender.Valid() {
		return fmt.Errorf("%w: unknown gender %q", ErrInvalidInput, gender)
	}
	if req.FamilyID == "" {
		return ErrNoFamily
	}
	return a.store.ReorderSavedNames(ctx, req.FamilyID, gender, nameIDs)
}

// ListSavedNames returns the family's saved names in display order. A user
// without a family has nothing saved.
func (a *App) ListSavedNames(ctx context.Context, req domain.Requester) ([]domain.SavedName, error) {
	if req.FamilyID == "" {
		return []domain.SavedName{}, nil
	}
	return a.store.ListSavedNames(ctx, req.FamilyID)
}

// ShareFamily returns a fresh invite token for the requester's family.
// Each call invalidates the previous token.
func (a *App) ShareFamily(ctx context.Context, req domain.Requester) (string, error) {
	if req.FamilyID == "" {
		return "", ErrNoFamily
	}
	return a.store.RotateInviteToken(ctx, req.FamilyID)
}

// JoinFamily moves the requester into the family behind the invite token.
func (a *App) JoinFamily(ctx context.Context, req domain.Requester, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: invite token required", ErrInvalidInput)
	}
	return a.store.JoinFamilyByToken(ctx, req.UserID, token)
}

// LeaveFamily detaches the requester from their family. Their saved names
// stay with the family.
func (a *App) LeaveFamily(ctx context.Context, req domain.Requester) error {
	return a.store.LeaveFamily(ctx, req.UserID)
}

// SendFeedback records structured feedback about one prompt's output.
func (a *App) SendFeedback(ctx context.Context, req domain.Requester, fb domain.PromptFeedback) error {
	fb.PromptID = strings.TrimSpace(fb.PromptID)
	if fb.PromptID == "" {
		return fmt.Errorf("%w: prompt id required", ErrInvalidInput)
	}
	if !fb.HasContent() {
		return fmt.Errorf("%w: feedback is empty", ErrInvalidInput)
	}
	fb.UserID = req.UserID
	return a.store.SavePromptFeedback(ctx, fb)
}

// CacheStats returns cache aggregates. Admin only.
func (a *App) CacheStats(ctx context.Context, req domain.Requester) (domain.CacheStats, error) {
	if err := a.requireAdmin(ctx, req); err != nil {
		return domain.CacheStats{}, err
	}
	return a.store.CacheStats(ctx)
}

// EvictCache removes cache entries past the retention window and reports how
// many were dropped. Admin only. Zero days means the configured default.
func (a *App) EvictCache(ctx context.Context, req domain.Requester, days int) (int64, error) {
	if err := a.requireAdmin(ctx, req); err != nil {
		return 0, err
	}
	if days < 0 {
		return 0, fmt.Errorf("%w: negative retention", ErrInvalidInput)
	}
	if days == 0 {
		days = a.retentionDays
	}
	removed, err := a.store.EvictCacheOlderThan(ctx, days)
	if err != nil {
		return 0, fmt.Errorf("evict cache: %w", err)
	}
	util.LoggerFromContext(ctx).Info("cache eviction", "removed", removed, "retention_days", days)
	return removed, nil
}

// RunCacheSweeper evicts stale cache entries on the given interval until the
// context is canceled.
func (a *App) RunCacheSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.store.EvictCacheOlderThan(ctx, a.retentionDays)
			if err != nil {
				util.LoggerFromContext(ctx).Error("cache sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				util.LoggerFromContext(ctx).Info("cache sweep", "removed", removed)
			}
		}
	}
}

func (a *App) requireAdmin(ctx context.Context, req domain.Requester) error {
	if len(a.adminEmails) == 0 {
		return ErrAdminOnly
	}
	user, ok, err := a.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return ErrAdminOnly
	}
	if _, admin := a.adminEmails[strings.ToLower(user.Email)]; !admin {
		return ErrAdminOnly
	}
	return nil
}

func normalizeQuery(q domain.NameQuery) (domain.NameQuery, error) {
	q.FirstName = strings.TrimSpace(q.FirstName)
	q.LastName = strings.TrimSpace(q.LastName)
	if q.FirstName == "" {
		return q, fmt.Errorf("%w: first name required", ErrInvalidInput)
	}
	if q.LastName == "" {
		return q, fmt.Errorf("%w: last name required", ErrInvalidInput)
	}
	if !q.Gender.Valid() {
		return q, fmt.Errorf("%w: unknown gender %q", ErrInvalidInput, q.Gender)
	}
	return q, nil
}
