package namerater

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"namecradle/pkg/domain"
)

type captureRecorder struct {
	entries []domain.PromptHistoryEntry
}

func (c *captureRecorder) RecordPromptUse(_ context.Context, entry domain.PromptHistoryEntry) error {
	c.entries = append(c.entries, entry)
	return nil
}

func TestOpenAICompatRaterRate(t *testing.T) {
	var gotReq oaiChatRequest
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{
					"role":    "assistant",
					"content": `{"origin":"Hebrew","feedback":"Short and strong.","popularity":"common","middleNames":["James"],"similarNames":["Noah"]}`,
				}},
			},
		})
	}))
	defer upstream.Close()

	recorder := &captureRecorder{}
	rater := NewOpenAICompatRater(upstream.URL+"/v1", "", "test-model", DefaultSampling, recorder)

	result, err := rater.Rate(context.Background(), "Mia", "Smith", domain.GenderFemale)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if result.Feedback == nil || *result.Feedback != "Short and strong." {
		t.Fatalf("unexpected feedback: %v", result.Feedback)
	}
	if result.PromptID == "" {
		t.Fatalf("expected prompt id on result")
	}
	if gotReq.Model != "test-model" {
		t.Fatalf("unexpected model: %q", gotReq.Model)
	}
	if gotReq.TopP != DefaultSampling.TopP || gotReq.Temperature != DefaultSampling.Temperature {
		t.Fatalf("sampling parameters not forwarded: %+v", gotReq)
	}
	if len(recorder.entries) != 1 {
		t.Fatalf("expected one prompt-history entry, got %d", len(recorder.entries))
	}
	if recorder.entries[0].ID != result.PromptID {
		t.Fatalf("recorder entry id %q != result prompt id %q", recorder.entries[0].ID, result.PromptID)
	}
}

func TestOpenAICompatRaterUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "model overloaded"}})
	}))
	defer upstream.Close()

	rater := NewOpenAICompatRater(upstream.URL+"/v1", "", "test-model", DefaultSampling, nil)
	if _, err := rater.Rate(context.Background(), "Mia", "Smith", domain.GenderFemale); !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
}

func TestOpenAICompatRaterRetriesTransportFailureOnce(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// Kill the connection so the client sees a transport error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatalf("response writer does not support hijack")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatalf("hijack: %v", err)
			}
			conn.Close()
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": `{"feedback":"Fine."}`}},
			},
		})
	}))
	defer upstream.Close()

	rater := NewOpenAICompatRater(upstream.URL+"/v1", "", "test-model", DefaultSampling, nil)
	result, err := rater.Rate(context.Background(), "Noah", "Smith", domain.GenderMale)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 upstream calls, got %d", calls)
	}
	if result.Feedback == nil {
		t.Fatalf("expected feedback after retry")
	}
}
