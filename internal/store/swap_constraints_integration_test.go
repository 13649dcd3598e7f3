package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

// The schema carries backstop constraints for the invariants the service
// checks up front: one pending swap per (requester, receiver) pair, one
// feedback row per (swap, rater), ratings between 1 and 5. These tests
// verify the constraints hold even when the service layer is bypassed.

func setupConstraintDB(t *testing.T) (context.Context, *PostgresStore) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("SKILLSWAP_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SKILLSWAP_TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := NewPostgresStore(db)
	seed := []User{
		{ID: "usr_a", Name: "Asha", Email: "asha@example.com", PasswordHash: "x", IsPublic: true},
		{ID: "usr_b", Name: "Bruno", Email: "bruno@example.com", PasswordHash: "x", IsPublic: true},
	}
	for _, u := range seed {
		if err := store.CreateUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	return ctx, store
}

func assertSQLState(t *testing.T, err error, state string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected constraint violation, got nil")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != state {
		t.Fatalf("expected SQLSTATE %s, got %s (%s)", state, pgErr.SQLState(), pgErr.Message)
	}
}

func TestDuplicatePendingSwapBlockedByIndex(t *testing.T) {
	ctx, store := setupConstraintDB(t)

	first := Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", RequesterSkill: "Guitar", ReceiverSkill: "Spanish"}
	if err := store.InsertSwap(ctx, first); err != nil {
		t.Fatalf("insert first swap: %v", err)
	}

	second := first
	second.ID = "swp_2"
	err := store.InsertSwap(ctx, second)
	assertSQLState(t, err, "23505")

	// A pending request in the opposite direction is a different pair.
	reverse := Swap{ID: "swp_3", RequesterID: "usr_b", ReceiverID: "usr_a", RequesterSkill: "Spanish", ReceiverSkill: "Guitar"}
	if err := store.InsertSwap(ctx, reverse); err != nil {
		t.Fatalf("insert reverse swap: %v", err)
	}

	// Once the first request leaves pending, the pair frees up again.
	if ok, err := store.TransitionSwap(ctx, "swp_1", SwapPending, SwapRejected); err != nil || !ok {
		t.Fatalf("transition swap: ok=%v err=%v", ok, err)
	}
	retry := first
	retry.ID = "swp_4"
	if err := store.InsertSwap(ctx, retry); err != nil {
		t.Fatalf("insert after rejection: %v", err)
	}
}

func TestFeedbackConstraints(t *testing.T) {
	ctx, store := setupConstraintDB(t)

	swap := Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", RequesterSkill: "Guitar", ReceiverSkill: "Spanish"}
	if err := store.InsertSwap(ctx, swap); err != nil {
		t.Fatalf("insert swap: %v", err)
	}

	entry := Feedback{ID: "fbk_1", SwapID: "swp_1", RaterID: "usr_a", RatedUserID: "usr_b", Rating: 5}
	if err := store.InsertFeedback(ctx, entry); err != nil {
		t.Fatalf("insert feedback: %v", err)
	}

	duplicate := entry
	duplicate.ID = "fbk_2"
	assertSQLState(t, store.InsertFeedback(ctx, duplicate), "23505")

	outOfRange := Feedback{ID: "fbk_3", SwapID: "swp_1", RaterID: "usr_b", RatedUserID: "usr_a", Rating: 6}
	assertSQLState(t, store.InsertFeedback(ctx, outOfRange), "23514")
}

func TestTransitionSwapIsConditional(t *testing.T) {
	ctx, store := setupConstraintDB(t)

	swap := Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", RequesterSkill: "Guitar", ReceiverSkill: "Spanish"}
	if err := store.InsertSwap(ctx, swap); err != nil {
		t.Fatalf("insert swap: %v", err)
	}

	ok, err := store.TransitionSwap(ctx, "swp_1", SwapPending, SwapAccepted)
	if err != nil || !ok {
		t.Fatalf("accept: ok=%v err=%v", ok, err)
	}

	// The same transition again finds zero rows in the from-state.
	ok, err = store.TransitionSwap(ctx, "swp_1", SwapPending, SwapAccepted)
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if ok {
		t.Fatal("second accept should report no rows updated")
	}

	ok, err = store.TransitionSwap(ctx, "swp_1", SwapAccepted, SwapCompleted)
	if err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	got, err := store.GetSwap(ctx, "swp_1")
	if err != nil {
		t.Fatalf("get swap: %v", err)
	}
	if got.Status != SwapCompleted || got.CompletedAt == nil {
		t.Fatalf("expected completed swap with timestamp, got %+v", got)
	}
}

func TestHasOfferedSkillMatchesExactName(t *testing.T) {
	ctx, store := setupConstraintDB(t)

	skill, err := store.EnsureSkillByName(ctx, "skl_1", "Guitar", "music")
	if err != nil {
		t.Fatalf("ensure skill: %v", err)
	}
	entry := UserSkill{ID: "usk_1", UserID: "usr_a", SkillID: skill.ID, SkillType: "offered", Proficiency: "beginner"}
	if err := store.AddUserSkill(ctx, entry); err != nil {
		t.Fatalf("add user skill: %v", err)
	}

	ok, err := store.HasOfferedSkill(ctx, "usr_a", "Guitar")
	if err != nil {
		t.Fatalf("check offered skill: %v", err)
	}
	if !ok {
		t.Fatal("expected exact name to match")
	}

	// The membership test is case-sensitive; the catalog's find-or-create
	// handles casing, so the canonical name is the only identity.
	ok, err = store.HasOfferedSkill(ctx, "usr_a", "guitar")
	if err != nil {
		t.Fatalf("check offered skill: %v", err)
	}
	if ok {
		t.Fatal("expected a differently-cased name not to match")
	}

	// A wanted skill never counts as offered.
	wanted, err := store.EnsureSkillByName(ctx, "skl_2", "Spanish", "languages")
	if err != nil {
		t.Fatalf("ensure skill: %v", err)
	}
	if err := store.AddUserSkill(ctx, UserSkill{ID: "usk_2", UserID: "usr_a", SkillID: wanted.ID, SkillType: "wanted", Proficiency: "beginner"}); err != nil {
		t.Fatalf("add wanted skill: %v", err)
	}
	ok, err = store.HasOfferedSkill(ctx, "usr_a", "Spanish")
	if err != nil {
		t.Fatalf("check offered skill: %v", err)
	}
	if ok {
		t.Fatal("expected wanted-only skill not to count as offered")
	}
}

func TestEnsureSkillByNameReusesCanonicalRow(t *testing.T) {
	ctx, store := setupConstraintDB(t)

	first, err := store.EnsureSkillByName(ctx, "skl_1", "Guitar", "music")
	if err != nil {
		t.Fatalf("ensure skill: %v", err)
	}
	again, err := store.EnsureSkillByName(ctx, "skl_2", "guitar", "music")
	if err != nil {
		t.Fatalf("ensure skill again: %v", err)
	}
	if again.ID != first.ID || again.Name != "Guitar" {
		t.Fatalf("expected the canonical row back, got %+v", again)
	}
}
