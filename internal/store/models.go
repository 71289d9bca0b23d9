package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID        string `gorm:"primaryKey"`
	Email     string `gorm:"uniqueIndex;not null"`
	Name      string
	FamilyID  *string   `gorm:"index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type FamilyModel struct {
	ID          string  `gorm:"primaryKey"`
	InviteToken *string `gorm:"uniqueIndex"`
	CreatedAt   time.Time `gorm:"not null"`
}

type SavedNameModel struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"not null;index"`
	FamilyID     string `gorm:"not null;uniqueIndex:idx_saved_identity,priority:1;index:idx_saved_partition,priority:1"`
	FirstName    string `gorm:"not null;uniqueIndex:idx_saved_identity,priority:2"`
	LastName     string `gorm:"not null;uniqueIndex:idx_saved_identity,priority:3"`
	FullName     string `gorm:"not null"`
	Gender       string `gorm:"not null;uniqueIndex:idx_saved_identity,priority:4;index:idx_saved_partition,priority:2"`
	Origin       *string
	Feedback     *string
	Popularity   *string
	MiddleNames  datatypes.JSON `gorm:"type:jsonb"`
	SimilarNames datatypes.JSON `gorm:"type:jsonb"`
	PromptID     *string
	Rank         int       `gorm:"not null"`
	SavedAt      time.Time `gorm:"not null"`
}

type NameCacheModel struct {
	ID           string `gorm:"primaryKey"`
	FirstName    string `gorm:"not null;uniqueIndex:idx_cache_identity,priority:1"`
	LastName     string `gorm:"not null;uniqueIndex:idx_cache_identity,priority:2"`
	FullName     string `gorm:"not null"`
	Gender       string `gorm:"not null;uniqueIndex:idx_cache_identity,priority:3"`
	Origin       *string
	Feedback     *string
	Popularity   *string
	MiddleNames  datatypes.JSON `gorm:"type:jsonb"`
	SimilarNames datatypes.JSON `gorm:"type:jsonb"`
	PromptID     *string
	AccessCount  int64     `gorm:"not null;default:0"`
	LastAccessed time.Time `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
}

// PromptHistoryModel rows are keyed by the content hash of the request, so an
// identical invocation maps to the same row.
type PromptHistoryModel struct {
	ID              string `gorm:"primaryKey"`
	Prompt          string `gorm:"type:text;not null"`
	ModelName       string `gorm:"not null"`
	TopP            float64
	MinTokens       int
	Temperature     float64
	PresencePenalty float64
	UsageCount      int64     `gorm:"not null;default:1"`
	FirstUsed       time.Time `gorm:"not null"`
	LastUsed        time.Time `gorm:"not null"`
}

type PromptFeedbackModel struct {
	ID       string  `gorm:"primaryKey"`
	PromptID string  `gorm:"not null;index"`
	UserID   *string

	AnalysisFeedback          *string
	AnalysisFeedbackQuant     *int
	OriginFeedback            *string
	OriginFeedbackQuant       *int
	PopularityFeedback        *string
	PopularityFeedbackQuant   *int
	SimilarNamesFeedback      *string
	SimilarNamesFeedbackQuant *int
	MiddleNamesFeedback       *string
	MiddleNamesFeedbackQuant  *int

	CreatedAt time.Time `gorm:"not null"`
}
