package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testFact(userID, entity, content string, confidence float64) Fact {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return Fact{
		ID:              "fact-" + userID + "-" + entity + "-" + content,
		UserID:          userID,
		Layer:           LayerResource,
		EntityName:      entity,
		FactContent:     content,
		Confidence:      confidence,
		CreatedAt:       now,
		LastConfirmedAt: now,
	}
}

func TestActiveFactNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.ActiveFact(ctx, "u1", "tax_id")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAndLoadFact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := testFact("u1", "tax_id", `"12345678"`, 0.9)
	if err := s.CreateFact(ctx, f); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	got, err := s.ActiveFact(ctx, "u1", "tax_id")
	if err != nil {
		t.Fatalf("ActiveFact: %v", err)
	}
	if got.ID != f.ID || got.FactContent != f.FactContent || got.Confidence != f.Confidence {
		t.Errorf("loaded fact mismatch: got %+v", got)
	}
	if got.IsSuperseded {
		t.Error("fresh fact should not be superseded")
	}
	if !got.CreatedAt.Equal(f.CreatedAt) {
		t.Errorf("created_at round trip: got %v, want %v", got.CreatedAt, f.CreatedAt)
	}
}

// TestOneActiveFactPerKey verifies the partial unique index rejects a second
// active fact for the same (user, entity) with ErrConflict.
func TestOneActiveFactPerKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateFact(ctx, testFact("u1", "tax_id", `"111"`, 0.9)); err != nil {
		t.Fatalf("first CreateFact: %v", err)
	}

	err := s.CreateFact(ctx, testFact("u1", "tax_id", `"222"`, 0.8))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second active fact, got %v", err)
	}

	// Different entity and different user are both fine.
	if err := s.CreateFact(ctx, testFact("u1", "vat_number", `"333"`, 0.8)); err != nil {
		t.Errorf("different entity should not conflict: %v", err)
	}
	if err := s.CreateFact(ctx, testFact("u2", "tax_id", `"444"`, 0.8)); err != nil {
		t.Errorf("different user should not conflict: %v", err)
	}
}

func TestSupersedeFact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := testFact("u1", "tax_id", `"111"`, 0.8)
	if err := s.CreateFact(ctx, old); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	replacement := testFact("u1", "tax_id", `"222"`, 0.9)
	replacement.CreatedAt = old.CreatedAt.Add(time.Minute)
	replacement.LastConfirmedAt = replacement.CreatedAt
	if err := s.SupersedeFact(ctx, old.ID, replacement); err != nil {
		t.Fatalf("SupersedeFact: %v", err)
	}

	active, err := s.ActiveFact(ctx, "u1", "tax_id")
	if err != nil {
		t.Fatalf("ActiveFact after supersede: %v", err)
	}
	if active.ID != replacement.ID {
		t.Errorf("active fact is %s, want replacement %s", active.ID, replacement.ID)
	}

	retired, err := s.GetFact(ctx, old.ID)
	if err != nil {
		t.Fatalf("GetFact(old): %v", err)
	}
	if !retired.IsSuperseded {
		t.Error("old fact should be marked superseded")
	}
	if retired.SupersededBy != replacement.ID {
		t.Errorf("superseded_by = %q, want %q", retired.SupersededBy, replacement.ID)
	}
	if retired.FactContent != `"111"` {
		t.Errorf("old fact content changed: %q", retired.FactContent)
	}
}

// TestSupersedeFactConflict verifies the guarded UPDATE reports ErrConflict
// when the target fact was already retired by another run.
func TestSupersedeFactConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := testFact("u1", "tax_id", `"111"`, 0.8)
	if err := s.CreateFact(ctx, old); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	first := testFact("u1", "tax_id", `"222"`, 0.9)
	if err := s.SupersedeFact(ctx, old.ID, first); err != nil {
		t.Fatalf("first SupersedeFact: %v", err)
	}

	// Second supersession of the already-retired fact must conflict, and must
	// not leave a second active row behind.
	second := testFact("u1", "tax_id", `"333"`, 0.95)
	err := s.SupersedeFact(ctx, old.ID, second)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	var activeCount int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM atomic_facts WHERE user_id = 'u1' AND entity_name = 'tax_id' AND is_superseded = 0",
	).Scan(&activeCount); err != nil {
		t.Fatalf("counting active facts: %v", err)
	}
	if activeCount != 1 {
		t.Errorf("active fact count = %d, want 1", activeCount)
	}
}

func TestFactHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v1 := testFact("u1", "tax_id", `"111"`, 0.7)
	if err := s.CreateFact(ctx, v1); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}
	v2 := testFact("u1", "tax_id", `"222"`, 0.8)
	if err := s.SupersedeFact(ctx, v1.ID, v2); err != nil {
		t.Fatalf("SupersedeFact v1->v2: %v", err)
	}
	v3 := testFact("u1", "tax_id", `"333"`, 0.9)
	if err := s.SupersedeFact(ctx, v2.ID, v3); err != nil {
		t.Fatalf("SupersedeFact v2->v3: %v", err)
	}

	chain, err := s.FactHistory(ctx, "u1", "tax_id")
	if err != nil {
		t.Fatalf("FactHistory: %v", err)
	}

	wantIDs := []string{v3.ID, v2.ID, v1.ID}
	if len(chain) != len(wantIDs) {
		t.Fatalf("chain length = %d, want %d", len(chain), len(wantIDs))
	}
	for i, want := range wantIDs {
		if chain[i].ID != want {
			t.Errorf("chain[%d] = %s, want %s", i, chain[i].ID, want)
		}
	}
	if chain[0].IsSuperseded {
		t.Error("head of chain should be the active fact")
	}
}

func TestFactHistoryNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.FactHistory(context.Background(), "u1", "never_claimed")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConfirmFact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := testFact("u1", "tax_id", `"111"`, 0.8)
	if err := s.CreateFact(ctx, f); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	later := f.LastConfirmedAt.Add(time.Hour)
	if err := s.ConfirmFact(ctx, f.ID, later); err != nil {
		t.Fatalf("ConfirmFact: %v", err)
	}

	got, err := s.GetFact(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if !got.LastConfirmedAt.Equal(later) {
		t.Errorf("last_confirmed_at = %v, want %v", got.LastConfirmedAt, later)
	}
	if !got.CreatedAt.Equal(f.CreatedAt) {
		t.Error("created_at must not move on confirm")
	}
	if got.FactContent != f.FactContent {
		t.Error("content must not change on confirm")
	}
}

func TestConfirmSupersededFactConflicts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := testFact("u1", "tax_id", `"111"`, 0.8)
	if err := s.CreateFact(ctx, old); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}
	if err := s.SupersedeFact(ctx, old.ID, testFact("u1", "tax_id", `"222"`, 0.9)); err != nil {
		t.Fatalf("SupersedeFact: %v", err)
	}

	err := s.ConfirmFact(ctx, old.ID, time.Now().UTC())
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict confirming a retired fact, got %v", err)
	}
}

func TestListActiveFactsLayerFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := testFact("u1", "business_name", `"Acme"`, 0.9)
	a.Layer = LayerArea
	b := testFact("u1", "tax_id", `"111"`, 0.9)
	b.Layer = LayerResource
	for _, f := range []Fact{a, b} {
		if err := s.CreateFact(ctx, f); err != nil {
			t.Fatalf("CreateFact: %v", err)
		}
	}

	all, err := s.ListActiveFacts(ctx, "u1", "")
	if err != nil {
		t.Fatalf("ListActiveFacts: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("unfiltered count = %d, want 2", len(all))
	}

	areas, err := s.ListActiveFacts(ctx, "u1", LayerArea)
	if err != nil {
		t.Fatalf("ListActiveFacts(area): %v", err)
	}
	if len(areas) != 1 || areas[0].EntityName != "business_name" {
		t.Errorf("layer filter returned %+v", areas)
	}
}

func TestRejectedCandidates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rc := RejectedCandidate{
		ID:          "rc1",
		UserID:      "u1",
		EntityName:  "tax_id",
		FactContent: `"999"`,
		Confidence:  0.3,
		Reason:      "confidence 0.30 below active 0.90 (margin 0.00)",
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.RecordRejectedCandidate(ctx, rc); err != nil {
		t.Fatalf("RecordRejectedCandidate: %v", err)
	}

	list, err := s.ListRejectedCandidates(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListRejectedCandidates: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("rejected count = %d, want 1", len(list))
	}
	if list[0].Reason != rc.Reason || list[0].FactContent != rc.FactContent {
		t.Errorf("round trip mismatch: %+v", list[0])
	}
}
