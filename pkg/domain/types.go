package domain

import "time"

type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

// Valid reports whether the gender is one of the known values.
func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale
}

// Source identifies where an analysis response was served from.
type Source string

const (
	SourceGlobalCache Source = "global_cache"
	SourceUserSaved   Source = "user_saved"
	SourceLLM         Source = "llm"
)

// NameQuery is the identity key for cache and saved-name lookups.
// Comparison is exact-string after whitespace trimming; no case folding.
type NameQuery struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Gender    Gender `json:"gender"`
}

// FullName joins first and last name for display.
func (q NameQuery) FullName() string {
	return q.FirstName + " " + q.LastName
}

// RatingResult is the structured critique produced by one generation call.
// It is immutable once created; a refresh replaces it wholesale.
type RatingResult struct {
	Origin       *string  `json:"origin"`
	Feedback     *string  `json:"feedback"`
	Popularity   *string  `json:"popularity"`
	MiddleNames  []string `json:"middleNames"`
	SimilarNames []string `json:"similarNames"`
	PromptID     string   `json:"promptId,omitempty"`
}

// CacheEntry is one globally shared cached rating keyed by NameQuery.
type CacheEntry struct {
	Query        NameQuery    `json:"query"`
	Result       RatingResult `json:"result"`
	AccessCount  int64        `json:"accessCount"`
	LastAccessed time.Time    `json:"lastAccessed"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// SavedName is a family-owned, user-attributed saved rating with a rank
// unique and contiguous within its (family, gender) partition.
type SavedName struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	FamilyID  string       `json:"familyId"`
	FirstName string       `json:"firstName"`
	LastName  string       `json:"lastName"`
	FullName  string       `json:"fullName"`
	Gender    Gender       `json:"gender"`
	Result    RatingResult `json:"result"`
	Rank      int          `json:"rank"`
	SavedAt   time.Time    `json:"savedAt"`
}

// Query returns the identity key of the saved name.
func (s SavedName) Query() NameQuery {
	return NameQuery{FirstName: s.FirstName, LastName: s.LastName, Gender: s.Gender}
}

type Family struct {
	ID          string    `json:"id"`
	InviteToken *string   `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	FamilyID  string    `json:"familyId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Requester carries the caller identity into every pipeline and store call,
// replacing ambient session lookups.
type Requester struct {
	UserID   string
	FamilyID string
}

// PromptHistoryEntry deduplicates identical generation requests for auditing.
// ID is the content hash of the prompt, model, and sampling parameters.
type PromptHistoryEntry struct {
	ID              string    `json:"id"`
	Prompt          string    `json:"prompt"`
	ModelName       string    `json:"modelName"`
	TopP            float64   `json:"topP"`
	MinTokens       int       `json:"minTokens"`
	Temperature     float64   `json:"temperature"`
	PresencePenalty float64   `json:"presencePenalty"`
	UsageCount      int64     `json:"usageCount"`
	FirstUsed       time.Time `json:"firstUsed"`
	LastUsed        time.Time `json:"lastUsed"`
}

// PromptFeedback is one append-only user feedback record for a prompt.
type PromptFeedback struct {
	PromptID string `json:"promptId"`
	UserID   string `json:"userId,omitempty"`

	AnalysisFeedback          *string `json:"analysisFeedback,omitempty"`
	AnalysisFeedbackQuant     *int    `json:"analysisFeedbackQuant,omitempty"`
	OriginFeedback            *string `json:"originFeedback,omitempty"`
	OriginFeedbackQuant       *int    `json:"originFeedbackQuant,omitempty"`
	PopularityFeedback        *string `json:"popularityFeedback,omitempty"`
	PopularityFeedbackQuant   *int    `json:"popularityFeedbackQuant,omitempty"`
	SimilarNamesFeedback      *string `json:"similarNamesFeedback,omitempty"`
	SimilarNamesFeedbackQuant *int    `json:"similarNamesFeedbackQuant,omitempty"`
	MiddleNamesFeedback       *string `json:"middleNamesFeedback,omitempty"`
	MiddleNamesFeedbackQuant  *int    `json:"middleNamesFeedbackQuant,omitempty"`
}

// HasContent reports whether at least one feedback field is set and non-empty.
func (f PromptFeedback) HasContent() bool {
	for _, s := range []*string{
		f.AnalysisFeedback, f.OriginFeedback, f.PopularityFeedback,
		f.SimilarNamesFeedback, f.MiddleNamesFeedback,
	} {
		if s != nil && *s != "" {
			return true
		}
	}
	for _, n := range []*int{
		f.AnalysisFeedbackQuant, f.OriginFeedbackQuant, f.PopularityFeedbackQuant,
		f.SimilarNamesFeedbackQuant, f.MiddleNamesFeedbackQuant,
	} {
		if n != nil {
			return true
		}
	}
	return false
}

// CacheStats is a read-only aggregate over the name cache.
type CacheStats struct {
	TotalEntries int64       `json:"totalEntries"`
	OldestEntry  *time.Time  `json:"oldestEntry,omitempty"`
	MostAccessed *CacheEntry `json:"mostAccessed,omitempty"`
}
