package chat

import (
	"context"
	"testing"
	"time"

	"github.com/suPer8Hu/chat-relay/internal/ai"
)

func TestRepo_TurnsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	photo := Turn{Role: ai.RoleUser, Content: ai.MultiPartContent{Parts: []ai.Part{
		{Type: ai.PartText, Text: "what?"},
		{Type: ai.PartImage, ImageURL: "data:image/png;base64,AAAA"},
	}}}
	turns := []Turn{ai.Text(ai.RoleSystem, "sys"), photo, ai.Text(ai.RoleAssistant, "a cat")}
	for i, turn := range turns {
		if err := repo.AppendTurn(ctx, 1, i, turn); err != nil {
			t.Fatalf("append turn %d: %v", i, err)
		}
	}

	got, err := repo.LoadTurns(ctx, 1)
	if err != nil {
		t.Fatalf("load turns: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(got))
	}
	mp, ok := got[1].Content.(ai.MultiPartContent)
	if !ok {
		t.Fatalf("expected multipart content, got %T", got[1].Content)
	}
	if len(mp.Parts) != 2 || mp.Parts[1].ImageURL != "data:image/png;base64,AAAA" {
		t.Fatalf("unexpected parts: %+v", mp.Parts)
	}
	if summary(got[2]) != "a cat" {
		t.Fatalf("unexpected assistant turn: %q", summary(got[2]))
	}
}

func TestRepo_TruncateThenAppendReusesSeq(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	for i, text := range []string{"sys", "q1", "a1"} {
		role := ai.RoleUser
		if i == 0 {
			role = ai.RoleSystem
		}
		if err := repo.AppendTurn(ctx, 2, i, ai.Text(role, text)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := repo.TruncateTurns(ctx, 2, 1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if err := repo.AppendTurn(ctx, 2, 1, ai.Text(ai.RoleUser, "q2")); err != nil {
		t.Fatalf("append after truncate: %v", err)
	}
	// overwriting a stale row at the same seq must not fail
	if err := repo.AppendTurn(ctx, 2, 1, ai.Text(ai.RoleUser, "q3")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := repo.LoadTurns(ctx, 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || summary(got[1]) != "q3" {
		t.Fatalf("unexpected history: %+v", got)
	}

	other, err := repo.LoadTurns(ctx, 3)
	if err != nil {
		t.Fatalf("load other user: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no turns for another user, got %d", len(other))
	}
}

func TestRepo_JobLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	id, err := NewJobID()
	if err != nil {
		t.Fatalf("job id: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("expected a 26 char ULID, got %q", id)
	}
	if err := repo.CreateJob(ctx, &JobRecord{ID: id, UserID: 4, Kind: "text", Status: JobQueued}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := repo.MarkJobRunning(ctx, id); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := repo.MarkJobFailed(ctx, id, KindTimeout, "too slow"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	j, err := repo.GetJobByID(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Status != JobFailed {
		t.Fatalf("expected failed, got %q", j.Status)
	}
	if j.ErrorKind == nil || *j.ErrorKind != string(KindTimeout) {
		t.Fatalf("unexpected error kind: %v", j.ErrorKind)
	}
}

func TestRepo_InsertDiagnosticIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	rec := DiagnosticRecord{JobID: "01JOB", UserID: 8, Name: "Kim", Turns: []string{"user:hi"}, At: time.Now().UTC()}
	d, err := NewDiagnostic(rec)
	if err != nil {
		t.Fatalf("new diagnostic: %v", err)
	}
	inserted, err := repo.InsertDiagnostic(ctx, d)
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}

	d2, _ := NewDiagnostic(rec)
	inserted, err = repo.InsertDiagnostic(ctx, d2)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Fatalf("expected redelivery to be ignored")
	}

	list, err := repo.ListDiagnostics(ctx, 8, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Turns != `["user:hi"]` {
		t.Fatalf("unexpected diagnostics: %+v", list)
	}
}
