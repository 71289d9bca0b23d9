package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"namecradle/pkg/domain"
)

func maleQuery(first string) domain.NameQuery {
	return domain.NameQuery{FirstName: first, LastName: "Stone", Gender: domain.GenderMale}
}

func sampleResult(origin string) domain.RatingResult {
	return domain.RatingResult{
		Origin:       strPtr(origin),
		Feedback:     strPtr("a solid classic"),
		MiddleNames:  []string{"James"},
		SimilarNames: []string{"Liam"},
	}
}

func strPtr(s string) *string { return &s }

func TestCacheLookupCountsAccesses(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	q := maleQuery("Noah")

	if _, ok, err := m.LookupCachedName(ctx, q); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := m.UpsertCachedName(ctx, q, sampleResult("Hebrew")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	entry, ok, err := m.LookupCachedName(ctx, q)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if entry.AccessCount != 1 {
		t.Fatalf("access count = %d, want 1", entry.AccessCount)
	}
	entry, _, _ = m.LookupCachedName(ctx, q)
	if entry.AccessCount != 2 {
		t.Fatalf("access count = %d, want 2", entry.AccessCount)
	}
}

func TestCacheUpsertPreservesAccessCount(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	q := maleQuery("Noah")

	if err := m.UpsertCachedName(ctx, q, sampleResult("Hebrew")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	m.LookupCachedName(ctx, q)
	m.LookupCachedName(ctx, q)
	if err := m.UpsertCachedName(ctx, q, sampleResult("refreshed")); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	entry, ok, _ := m.LookupCachedName(ctx, q)
	if !ok {
		t.Fatal("expected hit after refresh")
	}
	if entry.AccessCount != 3 {
		t.Fatalf("access count = %d, want 3", entry.AccessCount)
	}
	if entry.Result.Origin == nil || *entry.Result.Origin != "refreshed" {
		t.Fatalf("result not replaced: %+v", entry.Result)
	}
}

func TestCacheEviction(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	m.Now = func() time.Time { return base.AddDate(0, 0, -45) }
	if err := m.UpsertCachedName(ctx, maleQuery("Old"), sampleResult("stale")); err != nil {
		t.Fatalf("upsert old: %v", err)
	}
	m.Now = func() time.Time { return base.AddDate(0, 0, -5) }
	if err := m.UpsertCachedName(ctx, maleQuery("New"), sampleResult("fresh")); err != nil {
		t.Fatalf("upsert new: %v", err)
	}

	m.Now = func() time.Time { return base }
	removed, err := m.EvictCacheOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok, _ := m.LookupCachedName(ctx, maleQuery("Old")); ok {
		t.Fatal("stale entry still present")
	}
	if _, ok, _ := m.LookupCachedName(ctx, maleQuery("New")); !ok {
		t.Fatal("fresh entry was evicted")
	}
}

func TestSavedNameRanksAppendPerPartition(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	first, err := m.UpsertSavedName(ctx, "fam1", "u1", maleQuery("Noah"), sampleResult("Hebrew"))
	if err != nil {
		t.Fatalf("save first: %v", err)
	}
	second, err := m.UpsertSavedName(ctx, "fam1", "u1", maleQuery("Oliver"), sampleResult("Latin"))
	if err != nil {
		t.Fatalf("save second: %v", err)
	}
	girl, err := m.UpsertSavedName(ctx, "fam1", "u1", domain.NameQuery{FirstName: "Ava", LastName: "Stone", Gender: domain.GenderFemale}, sampleResult("Latin"))
	if err != nil {
		t.Fatalf("save girl: %v", err)
	}

	if first.Rank != 0 || second.Rank != 1 {
		t.Fatalf("male ranks = %d,%d, want 0,1", first.Rank, second.Rank)
	}
	if girl.Rank != 0 {
		t.Fatalf("female rank = %d, want 0 (separate partition)", girl.Rank)
	}
}

func TestSavedNameUpsertKeepsRank(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	m.UpsertSavedName(ctx, "fam1", "u1", maleQuery("Noah"), sampleResult("Hebrew"))
	second, _ := m.UpsertSavedName(ctx, "fam1", "u1", maleQuery("Oliver"), sampleResult("Latin"))

	again, err := m.UpsertSavedName(ctx, "fam1", "u2", maleQuery("Oliver"), sampleResult("updated"))
	if err != nil {
		t.Fatalf("re-save: %v", err)
	}
	if again.ID != second.ID {
		t.Fatalf("re-save created a new record: %s != %s", again.ID, second.ID)
	}
	if again.Rank != 1 {
		t.Fatalf("rank changed on re-save: %d", again.Rank)
	}
	if again.Result.Origin == nil || *again.Result.Origin != "updated" {
		t.Fatalf("result not replaced: %+v", again.Result)
	}

	names, _ := m.ListSavedNames(ctx, "fam1")
	if len(names) != 2 {
		t.Fatalf("len = %d, want 2", len(names))
	}
}

func TestReorderSavedNames(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	a, _ := m.UpsertSavedName(ctx, "fam1", "u1", maleQuery("Noah"), sampleResult("x"))
	b, _ := m.UpsertSavedName(ctx, "fam1", "u1", maleQuery("Oliver"), sampleResult("x"))
	c, _ := m.UpsertSavedName(ctx, "fam1", "u1", maleQuery("Henry"), sampleResult("x"))

	if err := m.ReorderSavedNames(ctx, "fam1", domain.GenderMale, []string{c.ID, a.ID, b.ID}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	names, _ := m.ListSavedNames(ctx, "fam1")
	got := []string{names[0].ID, names[1].ID, names[2].ID}
	want := []string{c.ID, a.ID, b.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	for i, name := range names {
		if name.Rank != i {
			t.Fatalf("rank[%d] = %d, want contiguous from 0", i, name.Rank)
		}
	}
}

func TestReorderRejectsPartialOrForeignLists(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	a, _ := m.UpsertSavedName(ctx, "fam1", "u1", maleQuery("Noah"), sampleResult("x"))
	b, _ := m.UpsertSavedName(ctx, "fam1", "u1", maleQuery("Oliver"), sampleResult("x"))
	other, _ := m.UpsertSavedName(ctx, "fam2", "u2", maleQuery("Noah"), sampleResult("x"))

	cases := [][]string{
		{a.ID},                  // missing b
		{a.ID, b.ID, other.ID},  // too many
		{a.ID, other.ID},        // foreign id
		{a.ID, a.ID},            // duplicate
	}
	for i, ids := range cases {
		if err := m.ReorderSavedNames(ctx, "fam1", domain.GenderMale, ids); !errors.Is(err, ErrReorderMismatch) {
			t.Fatalf("case %d: err = %v, want ErrReorderMismatch", i, err)
		}
	}

	// Ranks untouched after failed attempts.
	names, _ := m.ListSavedNames(ctx, "fam1")
	if names[0].ID != a.ID || names[1].ID != b.ID {
		t.Fatal("failed reorder mutated ranks")
	}
}

func TestRemoveSavedNameOwnership(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	a, _ := m.UpsertSavedName(ctx, "fam1", "u1", maleQuery("Noah"), sampleResult("x"))

	if err := m.RemoveSavedName(ctx, "u2", a.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("foreign remove err = %v, want ErrAccessDenied", err)
	}
	if err := m.RemoveSavedName(ctx, "u1", a.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := m.RemoveSavedName(ctx, "u1", a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove err = %v, want ErrNotFound", err)
	}
}

func TestFamilyLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	owner, err := m.UpsertUser(ctx, "owner@example.com", "Owner")
	if err != nil {
		t.Fatalf("upsert owner: %v", err)
	}
	family, err := m.EnsureFamily(ctx, owner.ID)
	if err != nil {
		t.Fatalf("ensure family: %v", err)
	}
	if again, _ := m.EnsureFamily(ctx, owner.ID); again.ID != family.ID {
		t.Fatal("ensure family created a duplicate")
	}

	token, err := m.RotateInviteToken(ctx, family.ID)
	if err != nil {
		t.Fatalf("rotate token: %v", err)
	}
	rotated, err := m.RotateInviteToken(ctx, family.ID)
	if err != nil {
		t.Fatalf("second rotate: %v", err)
	}
	if rotated == token {
		t.Fatal("rotation returned the same token")
	}

	partner, _ := m.UpsertUser(ctx, "partner@example.com", "Partner")
	if err := m.JoinFamilyByToken(ctx, partner.ID, token); !errors.Is(err, ErrInvalidInviteToken) {
		t.Fatalf("stale token err = %v, want ErrInvalidInviteToken", err)
	}
	if err := m.JoinFamilyByToken(ctx, partner.ID, rotated); err != nil {
		t.Fatalf("join: %v", err)
	}
	joined, _, _ := m.GetUserByID(ctx, partner.ID)
	if joined.FamilyID != family.ID {
		t.Fatalf("partner family = %q, want %q", joined.FamilyID, family.ID)
	}

	if err := m.LeaveFamily(ctx, partner.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	left, _, _ := m.GetUserByID(ctx, partner.ID)
	if left.FamilyID != "" {
		t.Fatal("leave did not clear family")
	}
}

func TestRecordPromptUseIncrements(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	entry := domain.PromptHistoryEntry{ID: "hash1", Prompt: "rate this name", ModelName: "m"}
	if err := m.RecordPromptUse(ctx, entry); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := m.RecordPromptUse(ctx, entry); err != nil {
		t.Fatalf("record again: %v", err)
	}
	got, ok := m.PromptUse("hash1")
	if !ok {
		t.Fatal("entry missing")
	}
	if got.UsageCount != 2 {
		t.Fatalf("usage count = %d, want 2", got.UsageCount)
	}
}
