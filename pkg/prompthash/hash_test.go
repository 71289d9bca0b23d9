package prompthash

import "testing"

func TestHashDeterministic(t *testing.T) {
	a := Hash("rate the name", "meta/meta-llama-3-70b-instruct", 0.9, 0, 0.3, 0.1)
	b := Hash("rate the name", "meta/meta-llama-3-70b-instruct", 0.9, 0, 0.3, 0.1)
	if a != b {
		t.Fatalf("identical inputs produced different digests: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestHashSensitiveToEveryField(t *testing.T) {
	base := Hash("prompt", "model", 0.9, 0, 0.3, 0.1)
	variants := map[string]string{
		"prompt":          Hash("prompt2", "model", 0.9, 0, 0.3, 0.1),
		"model":           Hash("prompt", "model2", 0.9, 0, 0.3, 0.1),
		"topP":            Hash("prompt", "model", 0.95, 0, 0.3, 0.1),
		"minTokens":       Hash("prompt", "model", 0.9, 1, 0.3, 0.1),
		"temperature":     Hash("prompt", "model", 0.9, 0, 0.35, 0.1),
		"presencePenalty": Hash("prompt", "model", 0.9, 0, 0.3, 0.15),
	}
	for field, digest := range variants {
		if digest == base {
			t.Fatalf("changing %s did not change the digest", field)
		}
	}
}
