package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"namecradle/internal/util"
	"namecradle/pkg/domain"
)

const migrateLockID int64 = 52815281

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{}, &FamilyModel{}, &SavedNameModel{}, &NameCacheModel{},
			&PromptHistoryModel{}, &PromptFeedbackModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

// lockPartition serializes writers of one (family, gender) rank partition for
// the duration of the surrounding transaction.
func lockPartition(tx *gorm.DB, familyID string, gender domain.Gender) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", familyID+"|"+string(gender)).Error
}

// LookupCachedName returns a cache entry, bumping its access statistics.
func (s *GormStore) LookupCachedName(ctx context.Context, q domain.NameQuery) (domain.CacheEntry, bool, error) {
	var model NameCacheModel
	err := s.db.WithContext(ctx).
		Where("first_name = ? AND last_name = ? AND gender = ?", q.FirstName, q.LastName, string(q.Gender)).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.CacheEntry{}, false, nil
		}
		return domain.CacheEntry{}, false, err
	}
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&NameCacheModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"access_count":  gorm.Expr("access_count + 1"),
			"last_accessed": now,
		}).Error; err != nil {
		return domain.CacheEntry{}, false, err
	}
	entry := cacheEntryFromModel(model)
	entry.AccessCount++
	entry.LastAccessed = now
	return entry, true, nil
}

// UpsertCachedName overwrites or creates the entry for the query.
func (s *GormStore) UpsertCachedName(ctx context.Context, q domain.NameQuery, result domain.RatingResult) error {
	now := time.Now().UTC()
	model := NameCacheModel{
		ID:           util.NewID(),
		FirstName:    q.FirstName,
		LastName:     q.LastName,
		FullName:     q.FullName(),
		Gender:       string(q.Gender),
		Origin:       result.Origin,
		Feedback:     result.Feedback,
		Popularity:   result.Popularity,
		MiddleNames:  toJSON(result.MiddleNames),
		SimilarNames: toJSON(result.SimilarNames),
		PromptID:     optional(result.PromptID),
		AccessCount:  0,
		LastAccessed: now,
		CreatedAt:    now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "first_name"}, {Name: "last_name"}, {Name: "gender"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"origin", "feedback", "popularity", "middle_names", "similar_names",
			"prompt_id", "last_accessed",
		}),
	}).Create(&model).Error
}

// EvictCacheOlderThan removes entries not accessed within the retention window.
func (s *GormStore) EvictCacheOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res := s.db.WithContext(ctx).Where("last_accessed < ?", cutoff).Delete(&NameCacheModel{})
	return res.RowsAffected, res.Error
}

// CacheStats returns aggregate cache statistics.
func (s *GormStore) CacheStats(ctx context.Context) (domain.CacheStats, error) {
	stats := domain.CacheStats{}
	if err := s.db.WithContext(ctx).Model(&NameCacheModel{}).Count(&stats.TotalEntries).Error; err != nil {
		return domain.CacheStats{}, err
	}
	if stats.TotalEntries == 0 {
		return stats, nil
	}
	var oldest NameCacheModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").First(&oldest).Error; err != nil {
		return domain.CacheStats{}, err
	}
	oldestAt := oldest.CreatedAt
	stats.OldestEntry = &oldestAt
	var top NameCacheModel
	if err := s.db.WithContext(ctx).Order("access_count DESC").First(&top).Error; err != nil {
		return domain.CacheStats{}, err
	}
	entry := cacheEntryFromModel(top)
	stats.MostAccessed = &entry
	return stats, nil
}

// GetSavedNameByLookup finds a saved name by its identity key.
func (s *GormStore) GetSavedNameByLookup(ctx context.Context, familyID string, q domain.NameQuery) (domain.SavedName, bool, error) {
	var model SavedNameModel
	err := s.db.WithContext(ctx).
		Where("family_id = ? AND first_name = ? AND last_name = ? AND gender = ?",
			familyID, q.FirstName, q.LastName, string(q.Gender)).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.SavedName{}, false, nil
		}
		return domain.SavedName{}, false, err
	}
	return savedNameFromModel(model), true, nil
}

// UpsertSavedName updates an existing identity in place (rank preserved) or
// appends a new record at the end of its (family, gender) partition.
func (s *GormStore) UpsertSavedName(ctx context.Context, familyID, userID string, q domain.NameQuery, result domain.RatingResult) (domain.SavedName, error) {
	var saved domain.SavedName
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockPartition(tx, familyID, q.Gender); err != nil {
			return err
		}
		now := time.Now().UTC()
		var existing SavedNameModel
		err := tx.Where("family_id = ? AND first_name = ? AND last_name = ? AND gender = ?",
			familyID, q.FirstName, q.LastName, string(q.Gender)).
			First(&existing).Error
		if err == nil {
			updates := map[string]any{
				"origin":        result.Origin,
				"feedback":      result.Feedback,
				"popularity":    result.Popularity,
				"middle_names":  toJSON(result.MiddleNames),
				"similar_names": toJSON(result.SimilarNames),
				"prompt_id":     optional(result.PromptID),
				"saved_at":      now,
			}
			if err := tx.Model(&SavedNameModel{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
				return err
			}
			if err := tx.First(&existing, "id = ?", existing.ID).Error; err != nil {
				return err
			}
			saved = savedNameFromModel(existing)
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		var maxRank *int
		if err := tx.Model(&SavedNameModel{}).
			Where("family_id = ? AND gender = ?", familyID, string(q.Gender)).
			Select("MAX(rank)").Scan(&maxRank).Error; err != nil {
			return err
		}
		nextRank := 0
		if maxRank != nil {
			nextRank = *maxRank + 1
		}
		model := SavedNameModel{
			ID:           util.NewID(),
			UserID:       userID,
			FamilyID:     familyID,
			FirstName:    q.FirstName,
			LastName:     q.LastName,
			FullName:     q.FullName(),
			Gender:       string(q.Gender),
			Origin:       result.Origin,
			Feedback:     result.Feedback,
			Popularity:   result.Popularity,
			MiddleNames:  toJSON(result.MiddleNames),
			SimilarNames: toJSON(result.SimilarNames),
			PromptID:     optional(result.PromptID),
			Rank:         nextRank,
			SavedAt:      now,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		saved = savedNameFromModel(model)
		return nil
	})
	if err != nil {
		return domain.SavedName{}, err
	}
	return saved, nil
}

// ListSavedNames returns the family's names ordered by gender then rank.
func (s *GormStore) ListSavedNames(ctx context.Context, familyID string) ([]domain.SavedName, error) {
	var models []SavedNameModel
	if err := s.db.WithContext(ctx).
		Where("family_id = ?", familyID).
		Order("gender ASC").
		Order("rank ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	names := make([]domain.SavedName, 0, len(models))
	for _, m := range models {
		names = append(names, savedNameFromModel(m))
	}
	return names, nil
}

// RemoveSavedName deletes a record after verifying ownership.
func (s *GormStore) RemoveSavedName(ctx context.Context, userID, nameID string) error {
	var model SavedNameModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", nameID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrNotFound
		}
		return err
	}
	if model.UserID != userID {
		return ErrAccessDenied
	}
	return s.db.WithContext(ctx).Delete(&SavedNameModel{}, "id = ?", nameID).Error
}

// ReorderSavedNames atomically reassigns ranks within one partition.
func (s *GormStore) ReorderSavedNames(ctx context.Context, familyID string, gender domain.Gender, nameIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockPartition(tx, familyID, gender); err != nil {
			return err
		}
		var current []SavedNameModel
		if err := tx.Where("family_id = ? AND gender = ?", familyID, string(gender)).
			Find(&current).Error; err != nil {
			return err
		}
		if len(current) != len(nameIDs) {
			return ErrReorderMismatch
		}
		partition := make(map[string]struct{}, len(current))
		for _, m := range current {
			partition[m.ID] = struct{}{}
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
			if err := tx.Model(&SavedNameModel{}).Where("id = ?", id).
				Update("rank", index).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertUser creates or refreshes a user keyed by email.
func (s *GormStore) UpsertUser(ctx context.Context, email, name string) (domain.User, error) {
	now := time.Now().UTC()
	model := UserModel{
		ID:        util.NewID(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	assignments := map[string]any{"updated_at": now}
	if name != "" {
		assignments["name"] = name
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&model).Error; err != nil {
		return domain.User{}, err
	}
	var stored UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&stored).Error; err != nil {
		return domain.User{}, err
	}
	return userFromModel(stored), nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// EnsureFamily provisions a family for the user when they have none.
func (s *GormStore) EnsureFamily(ctx context.Context, userID string) (domain.Family, error) {
	var family domain.Family
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user UserModel
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		if user.FamilyID != nil {
			var model FamilyModel
			if err := tx.First(&model, "id = ?", *user.FamilyID).Error; err == nil {
				family = familyFromModel(model)
				return nil
			} else if err != gorm.ErrRecordNotFound {
				return err
			}
			// Dangling family reference; fall through and re-provision.
		}
		model := FamilyModel{
			ID:        util.NewID(),
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Model(&UserModel{}).Where("id = ?", userID).
			Update("family_id", model.ID).Error; err != nil {
			return err
		}
		family = familyFromModel(model)
		return nil
	})
	if err != nil {
		return domain.Family{}, err
	}
	return family, nil
}

// RotateInviteToken issues a fresh invite token for the family.
func (s *GormStore) RotateInviteToken(ctx context.Context, familyID string) (string, error) {
	token := uuid.NewString()
	res := s.db.WithContext(ctx).Model(&FamilyModel{}).
		Where("id = ?", familyID).
		Update("invite_token", token)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", ErrNotFound
	}
	return token, nil
}

// JoinFamilyByToken moves the user into the family owning the token.
func (s *GormStore) JoinFamilyByToken(ctx context.Context, userID, token string) error {
	var family FamilyModel
	if err := s.db.WithContext(ctx).Where("invite_token = ?", token).First(&family).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrInvalidInviteToken
		}
		return err
	}
	return s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", userID).
		Update("family_id", family.ID).Error
}

// LeaveFamily detaches the user from their family. The next session will
// provision a fresh one via EnsureFamily.
func (s *GormStore) LeaveFamily(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", userID).
		Update("family_id", nil).Error
}

// RecordPromptUse upserts a prompt-history row by content hash.
func (s *GormStore) RecordPromptUse(ctx context.Context, entry domain.PromptHistoryEntry) error {
	now := time.Now().UTC()
	model := PromptHistoryModel{
		ID:              entry.ID,
		Prompt:          entry.Prompt,
		ModelName:       entry.ModelName,
		TopP:            entry.TopP,
		MinTokens:       entry.MinTokens,
		Temperature:     entry.Temperature,
		PresencePenalty: entry.PresencePenalty,
		UsageCount:      1,
		FirstUsed:       now,
		LastUsed:        now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"usage_count": gorm.Expr("prompt_history_models.usage_count + 1"),
			"last_used":   now,
		}),
	}).Create(&model).Error
}

// SavePromptFeedback appends one feedback record.
func (s *GormStore) SavePromptFeedback(ctx context.Context, fb domain.PromptFeedback) error {
	model := PromptFeedbackModel{
		ID:       util.NewID(),
		PromptID: fb.PromptID,
		UserID:   optional(fb.UserID),

		AnalysisFeedback:          fb.AnalysisFeedback,
		AnalysisFeedbackQuant:     fb.AnalysisFeedbackQuant,
		OriginFeedback:            fb.OriginFeedback,
		OriginFeedbackQuant:       fb.OriginFeedbackQuant,
		PopularityFeedback:        fb.PopularityFeedback,
		PopularityFeedbackQuant:   fb.PopularityFeedbackQuant,
		SimilarNamesFeedback:      fb.SimilarNamesFeedback,
		SimilarNamesFeedbackQuant: fb.SimilarNamesFeedbackQuant,
		MiddleNamesFeedback:       fb.MiddleNamesFeedback,
		MiddleNamesFeedbackQuant:  fb.MiddleNamesFeedbackQuant,

		CreatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func savedNameFromModel(m SavedNameModel) domain.SavedName {
	return domain.SavedName{
		ID:        m.ID,
		UserID:    m.UserID,
		FamilyID:  m.FamilyID,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		FullName:  m.FullName,
		Gender:    domain.Gender(m.Gender),
		Result: domain.RatingResult{
			Origin:       m.Origin,
			Feedback:     m.Feedback,
			Popularity:   m.Popularity,
			MiddleNames:  fromJSON(m.MiddleNames),
			SimilarNames: fromJSON(m.SimilarNames),
			PromptID:     deref(m.PromptID),
		},
		Rank:    m.Rank,
		SavedAt: m.SavedAt,
	}
}

func cacheEntryFromModel(m NameCacheModel) domain.CacheEntry {
	return domain.CacheEntry{
		Query: domain.NameQuery{
			FirstName: m.FirstName,
			LastName:  m.LastName,
			Gender:    domain.Gender(m.Gender),
		},
		Result: domain.RatingResult{
			Origin:       m.Origin,
			Feedback:     m.Feedback,
			Popularity:   m.Popularity,
			MiddleNames:  fromJSON(m.MiddleNames),
			SimilarNames: fromJSON(m.SimilarNames),
			PromptID:     deref(m.PromptID),
		},
		AccessCount:  m.AccessCount,
		LastAccessed: m.LastAccessed,
		CreatedAt:    m.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		FamilyID:  deref(m.FamilyID),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func familyFromModel(m FamilyModel) domain.Family {
	return domain.Family{
		ID:          m.ID,
		InviteToken: m.InviteToken,
		CreatedAt:   m.CreatedAt,
	}
}

func toJSON(names []string) datatypes.JSON {
	if names == nil {
		names = []string{}
	}
	raw, _ := json.Marshal(names)
	return datatypes.JSON(raw)
}

func fromJSON(raw datatypes.JSON) []string {
	var names []string
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &names)
	}
	if names == nil {
		names = []string{}
	}
	return names
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
