package namerater

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"namecradle/pkg/domain"
	"namecradle/pkg/prompthash"
)

const defaultRequestTimeout = 30 * time.Second

// OpenAICompatRater calls any OpenAI-compatible /v1/chat/completions endpoint.
// Works with vLLM, LiteLLM, LocalAI, OpenRouter, self-hosted models, etc.
type OpenAICompatRater struct {
	baseURL    string
	apiKey     string
	model      string
	sampling   Sampling
	recorder   UseRecorder
	httpClient *http.Client
}

// NewOpenAICompatRater builds an OpenAI-compatible Rater.
// baseURL should include the /v1 prefix, e.g. "http://localhost:8000/v1".
// apiKey can be empty for local models that do not require authentication.
// recorder may be nil when prompt-history tracking is not wanted.
func NewOpenAICompatRater(baseURL, apiKey, model string, sampling Sampling, recorder UseRecorder) *OpenAICompatRater {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &OpenAICompatRater{
		baseURL:  baseURL,
		apiKey:   strings.TrimSpace(apiKey),
		model:    strings.TrimSpace(model),
		sampling: sampling,
		recorder: recorder,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

// Rate implements Rater. The returned result carries the prompt id of the
// invocation so feedback can be attached to it later.
func (r *OpenAICompatRater) Rate(ctx context.Context, firstName, lastName string, gender domain.Gender) (domain.RatingResult, error) {
	if r.model == "" {
		return domain.RatingResult{}, fmt.Errorf("%w: generation model not configured", ErrGeneration)
	}
	prompt := buildRatingPrompt(firstName, lastName, gender)
	promptID := prompthash.Hash(prompt, r.model, r.sampling.TopP, r.sampling.MinTokens, r.sampling.Temperature, r.sampling.PresencePenalty)

	raw, err := r.complete(ctx, prompt)
	if err != nil {
		return domain.RatingResult{}, err
	}
	result, err := parseRatingResult(raw)
	if err != nil {
		return domain.RatingResult{}, err
	}
	result.PromptID = promptID

	if r.recorder != nil {
		now := time.Now().UTC()
		entry := domain.PromptHistoryEntry{
			ID:              promptID,
			Prompt:          prompt,
			ModelName:       r.model,
			TopP:            r.sampling.TopP,
			MinTokens:       r.sampling.MinTokens,
			Temperature:     r.sampling.Temperature,
			PresencePenalty: r.sampling.PresencePenalty,
			FirstUsed:       now,
			LastUsed:        now,
		}
		if err := r.recorder.RecordPromptUse(ctx, entry); err != nil {
			slog.Warn("record prompt use failed", "prompt_id", promptID, "err", err)
		}
	}
	return result, nil
}

// complete performs the chat-completions call with at most one retry on
// transport failure.
func (r *OpenAICompatRater) complete(ctx context.Context, prompt string) (string, error) {
	raw, err := r.completeOnce(ctx, prompt)
	if err != nil && isTransportError(err) && ctx.Err() == nil {
		raw, err = r.completeOnce(ctx, prompt)
	}
	return raw, err
}

func (r *OpenAICompatRater) completeOnce(ctx context.Context, prompt string) (string, error) {
	reqBody := oaiChatRequest{
		Model: r.model,
		Messages: []oaiMessage{
			{Role: "user", Content: prompt},
		},
		Temperature:     r.sampling.Temperature,
		TopP:            r.sampling.TopP,
		PresencePenalty: r.sampling.PresencePenalty,
		MinTokens:       r.sampling.MinTokens,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	url := r.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return "", fmt.Errorf("%w: api error: %s", ErrGeneration, errResp.Error.Message)
		}
		return "", fmt.Errorf("%w: api error: %s", ErrGeneration, resp.Status)
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrGeneration, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}
	return text, nil
}

func buildRatingPrompt(firstName, lastName string, gender domain.Gender) string {
	genderWord := "boy"
	if gender == domain.GenderFemale {
		genderWord = "girl"
	}
	return fmt.Sprintf(`You are a baby-name consultant. Critique the %s name "%s %s".

Focus on the first name only, because the last name cannot be changed, but
consider how the first name flows with the last name. Don't be afraid to be
critical. Keep each field concise (1-2 sentences).

Respond with exactly one JSON object and nothing else, in this shape:
{
  "origin": "linguistic/cultural origin of the first name",
  "feedback": "brief critique of the name's aesthetic qualities and flow",
  "popularity": "how common the name currently is",
  "middleNames": ["4-6 middle names that pair well"],
  "similarNames": ["4-6 similar first names worth considering"]
}`, genderWord, firstName, lastName)
}

// transportError marks network-level failures eligible for one retry.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("%v: upstream request: %v", ErrGeneration, e.err)
}

func (e *transportError) Unwrap() error { return ErrGeneration }

func isTransportError(err error) bool {
	_, ok := err.(*transportError)
	return ok
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model           string       `json:"model"`
	Messages        []oaiMessage `json:"messages"`
	Temperature     float64      `json:"temperature"`
	TopP            float64      `json:"top_p"`
	PresencePenalty float64      `json:"presence_penalty"`
	MinTokens       int          `json:"min_tokens,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
