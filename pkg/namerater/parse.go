package namerater

import (
	"encoding/json"
	"fmt"
	"strings"

	"namecradle/pkg/domain"
)

// parseRatingResult decodes the model's raw text into the canonical
// RatingResult. It is the single parse boundary for upstream output: the
// model is prompted for one JSON object, and anything that does not decode
// into it is a generation failure.
func parseRatingResult(raw string) (domain.RatingResult, error) {
	payload := extractJSONObject(raw)
	if payload == "" {
		return domain.RatingResult{}, fmt.Errorf("%w: no JSON object in model output", ErrGeneration)
	}
	var decoded struct {
		Origin       *string  `json:"origin"`
		Feedback     *string  `json:"feedback"`
		Popularity   *string  `json:"popularity"`
		MiddleNames  []string `json:"middleNames"`
		SimilarNames []string `json:"similarNames"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return domain.RatingResult{}, fmt.Errorf("%w: decode model output: %v", ErrGeneration, err)
	}
	if decoded.Feedback == nil || strings.TrimSpace(*decoded.Feedback) == "" {
		return domain.RatingResult{}, fmt.Errorf("%w: model output missing feedback", ErrGeneration)
	}
	return domain.RatingResult{
		Origin:       trimPtr(decoded.Origin),
		Feedback:     trimPtr(decoded.Feedback),
		Popularity:   trimPtr(decoded.Popularity),
		MiddleNames:  cleanNames(decoded.MiddleNames),
		SimilarNames: cleanNames(decoded.SimilarNames),
	}, nil
}

// extractJSONObject returns the outermost {...} span, tolerating markdown
// code fences and prose around the object.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}
