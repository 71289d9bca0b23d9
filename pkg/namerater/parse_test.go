package namerater

import (
	"errors"
	"testing"
)

func TestParseRatingResultPlainJSON(t *testing.T) {
	raw := `{
		"origin": "Italian, short form of Maria",
		"feedback": "Soft and melodic; flows well with Smith.",
		"popularity": "Top 10 in the US for the past decade",
		"middleNames": ["Rose", "Claire", " Elena ", ""],
		"similarNames": ["Mila", "Maya"]
	}`
	result, err := parseRatingResult(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.Origin == nil || *result.Origin != "Italian, short form of Maria" {
		t.Fatalf("unexpected origin: %v", result.Origin)
	}
	if result.Feedback == nil || *result.Feedback == "" {
		t.Fatalf("expected feedback")
	}
	if len(result.MiddleNames) != 3 {
		t.Fatalf("expected blank middle names dropped, got %v", result.MiddleNames)
	}
	if result.MiddleNames[2] != "Elena" {
		t.Fatalf("expected trimmed middle name, got %q", result.MiddleNames[2])
	}
}

func TestParseRatingResultCodeFence(t *testing.T) {
	raw := "Here you go:\n```json\n{\"feedback\": \"Strong and classic.\", \"middleNames\": [], \"similarNames\": []}\n```"
	result, err := parseRatingResult(raw)
	if err != nil {
		t.Fatalf("parse fenced output: %v", err)
	}
	if *result.Feedback != "Strong and classic." {
		t.Fatalf("unexpected feedback: %q", *result.Feedback)
	}
	if result.Origin != nil {
		t.Fatalf("expected nil origin, got %v", *result.Origin)
	}
}

func TestParseRatingResultRejectsMissingFeedback(t *testing.T) {
	for name, raw := range map[string]string{
		"no object":      "the name is fine",
		"empty feedback": `{"feedback": "  "}`,
		"no feedback":    `{"origin": "Latin"}`,
		"broken json":    `{"feedback": "ok"`,
	} {
		if _, err := parseRatingResult(raw); !errors.Is(err, ErrGeneration) {
			t.Fatalf("%s: expected GenerationError, got %v", name, err)
		}
	}
}
