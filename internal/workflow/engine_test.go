package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"recipes/internal/domain"
	"recipes/internal/providers/image"
)

func newJob(t *testing.T, raw, locale string) *domain.JobExecution {
	t.Helper()
	list, err := domain.ParseIngredients(raw, 0)
	if err != nil {
		t.Fatalf("ParseIngredients: %v", err)
	}
	return domain.NewJobExecution("job-1", "conn-1", list, locale)
}

func newTestEngine(t *testing.T, txt *scriptedText, img *fakeImage, store *memoryStore, rel *recordingRelay, notices bool) *Engine {
	t.Helper()
	eng, err := New(Options{
		Text:    txt,
		Image:   img,
		Store:   store,
		Relay:   rel,
		Retry:   RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Notices: notices,
		Seed:    func() int64 { return 42 },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func TestRunCompletesJob(t *testing.T) {
	txt := &scriptedText{scripts: []textScript{{chunks: []string{"# Receta: Tortilla\n", "## Ingredientes:\n- 2 huevos\n", "## Pasos:\n1. Batir.\n"}}}}
	img := &fakeImage{}
	store := newMemoryStore()
	rel := &recordingRelay{}
	eng := newTestEngine(t, txt, img, store, rel, false)

	job := newJob(t, "2 huevos\n1 taza de harina", "es")
	if err := eng.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if job.Stage != domain.StageCompleted {
		t.Fatalf("Stage = %q, want %q", job.Stage, domain.StageCompleted)
	}

	msgs := rel.snapshot()
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4: %#v", len(msgs), msgs)
	}
	var streamed strings.Builder
	for _, m := range msgs[:3] {
		if m.Type != domain.MessageRecipe {
			t.Fatalf("message type = %q, want recipe", m.Type)
		}
		streamed.WriteString(m.Message)
	}
	if streamed.String() != job.RecipeText() {
		t.Fatalf("streamed text %q != recipe %q", streamed.String(), job.RecipeText())
	}
	last := msgs[3]
	if last.Type != domain.MessageImage || last.Message != ImageSavedMessage {
		t.Fatalf("last message = %#v", last)
	}
	if last.ImageURL != "https://cdn.example.com/images/conn-1/42.png" {
		t.Fatalf("ImageURL = %q", last.ImageURL)
	}
	if _, ok := store.objects["images/conn-1/42.png"]; !ok {
		t.Fatalf("image not stored under the expected key: %v", store.objects)
	}
	if store.types["images/conn-1/42.png"] != "image/png" {
		t.Fatalf("content type = %q", store.types["images/conn-1/42.png"])
	}

	if !strings.Contains(txt.prompts[0], "- 2 huevos\n- 1 taza de harina\n") {
		t.Fatalf("recipe prompt does not list ingredients: %q", txt.prompts[0])
	}
	if !strings.Contains(img.prompt, "# Receta: Tortilla") || strings.Contains(img.prompt, "Batir") {
		t.Fatalf("image prompt should hold only the text before the steps: %q", img.prompt)
	}
	if img.seed != 42 || img.calls != 1 {
		t.Fatalf("image calls=%d seed=%d, want 1 call with seed 42", img.calls, img.seed)
	}
}

func TestRunProgressNotices(t *testing.T) {
	txt := &scriptedText{scripts: []textScript{{chunks: []string{"Recipe: Toast\nSteps:\n1. Toast.\n"}}}}
	rel := &recordingRelay{}
	eng := newTestEngine(t, txt, &fakeImage{}, newMemoryStore(), rel, true)

	if err := eng.Run(context.Background(), newJob(t, "bread", "en")); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	msgs := rel.snapshot()
	want := []domain.MessageType{domain.MessageRecipe, domain.MessageInfo, domain.MessageInfo, domain.MessageImage}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d: %#v", len(msgs), len(want), msgs)
	}
	for i := range want {
		if msgs[i].Type != want[i] {
			t.Fatalf("message %d type = %q, want %q", i, msgs[i].Type, want[i])
		}
	}
	if msgs[1].Message != GeneratingNotice || msgs[2].Message != SavingNotice {
		t.Fatalf("notices = %q, %q", msgs[1].Message, msgs[2].Message)
	}
}

func TestRunTextFailsOnFirstChunk(t *testing.T) {
	txt := &scriptedText{scripts: []textScript{{err: domain.NewFatalError("scripted", errBoom)}}}
	img := &fakeImage{}
	rel := &recordingRelay{}
	eng := newTestEngine(t, txt, img, newMemoryStore(), rel, true)

	job := newJob(t, "rice", "es")
	err := eng.Run(context.Background(), job)
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("Run error = %v, want provider failure", err)
	}
	if job.Stage != domain.StageFailed {
		t.Fatalf("Stage = %q, want failed", job.Stage)
	}
	msgs := rel.snapshot()
	if len(msgs) != 1 || msgs[0].Type != domain.MessageInfo || msgs[0].Message != RecipeFailedNotice {
		t.Fatalf("messages = %#v, want one failure info", msgs)
	}
	if img.calls != 0 {
		t.Fatalf("image generator called %d times after recipe failure", img.calls)
	}
	if txt.calls != 1 {
		t.Fatalf("fatal error retried: %d calls", txt.calls)
	}
}

func TestRunImageFailsAfterChunks(t *testing.T) {
	txt := &scriptedText{scripts: []textScript{{chunks: []string{"uno ", "dos ", "tres"}}}}
	img := &fakeImage{errs: []error{domain.NewFatalError("fake-image", errBoom)}}
	rel := &recordingRelay{}
	eng := newTestEngine(t, txt, img, newMemoryStore(), rel, false)

	job := newJob(t, "rice", "es")
	if err := eng.Run(context.Background(), job); err == nil {
		t.Fatalf("expected image failure")
	}
	msgs := rel.snapshot()
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4: %#v", len(msgs), msgs)
	}
	if countType(msgs[:3], domain.MessageRecipe) != 3 {
		t.Fatalf("first three messages should be recipe chunks: %#v", msgs)
	}
	if msgs[3].Type != domain.MessageInfo || msgs[3].Message != ImageFailedNotice {
		t.Fatalf("last message = %#v, want image failure notice", msgs[3])
	}
	if countType(msgs, domain.MessageImage) != 0 {
		t.Fatalf("image message sent after failure")
	}
	if job.Stage != domain.StageFailed || job.RecipeText() != "uno dos tres" {
		t.Fatalf("stage=%q recipe=%q", job.Stage, job.RecipeText())
	}
}

func TestRunRetriesTransientBeforeFirstChunk(t *testing.T) {
	txt := &scriptedText{scripts: []textScript{
		{openErr: domain.NewTransientError("scripted", errBoom)},
		{err: domain.NewTransientError("scripted", errBoom)},
		{chunks: []string{"Recipe\n", "Steps\n"}},
	}}
	img := &fakeImage{errs: []error{domain.NewTransientError("fake-image", errBoom)}}
	rel := &recordingRelay{}
	eng := newTestEngine(t, txt, img, newMemoryStore(), rel, false)

	job := newJob(t, "rice", "en")
	if err := eng.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if txt.calls != 3 || img.calls != 2 {
		t.Fatalf("text calls=%d image calls=%d, want 3 and 2", txt.calls, img.calls)
	}
	msgs := rel.snapshot()
	if countType(msgs, domain.MessageRecipe) != 2 || countType(msgs, domain.MessageImage) != 1 {
		t.Fatalf("unexpected messages: %#v", msgs)
	}
}

func TestRunDoesNotRetryMidStream(t *testing.T) {
	txt := &scriptedText{scripts: []textScript{
		{chunks: []string{"partial "}, err: domain.NewTransientError("scripted", errBoom)},
		{chunks: []string{"should not be sent"}},
	}}
	rel := &recordingRelay{}
	eng := newTestEngine(t, txt, &fakeImage{}, newMemoryStore(), rel, false)

	job := newJob(t, "rice", "es")
	if err := eng.Run(context.Background(), job); err == nil {
		t.Fatalf("expected mid-stream failure")
	}
	if txt.calls != 1 {
		t.Fatalf("text stream reopened %d times", txt.calls)
	}
	if job.RecipeText() != "partial " {
		t.Fatalf("recipe = %q", job.RecipeText())
	}
	msgs := rel.snapshot()
	if len(msgs) != 2 || msgs[1].Message != RecipeFailedNotice {
		t.Fatalf("messages = %#v", msgs)
	}
}

func TestRunRetriesExhausted(t *testing.T) {
	txt := &scriptedText{scripts: []textScript{{openErr: domain.NewTransientError("scripted", errBoom)}}}
	eng := newTestEngine(t, txt, &fakeImage{}, newMemoryStore(), &recordingRelay{}, false)

	job := newJob(t, "rice", "es")
	err := eng.Run(context.Background(), job)
	if !domain.IsTransient(err) {
		t.Fatalf("Run error = %v, want the last transient error", err)
	}
	if txt.calls != 3 {
		t.Fatalf("text calls = %d, want 3", txt.calls)
	}
}

func TestRunEmptyRecipeFails(t *testing.T) {
	txt := &scriptedText{scripts: []textScript{{chunks: []string{"", ""}}}}
	rel := &recordingRelay{}
	eng := newTestEngine(t, txt, &fakeImage{}, newMemoryStore(), rel, false)

	job := newJob(t, "rice", "es")
	if err := eng.Run(context.Background(), job); err == nil {
		t.Fatalf("expected empty recipe to fail")
	}
	if msgs := rel.snapshot(); countType(msgs, domain.MessageRecipe) != 0 {
		t.Fatalf("empty chunks were delivered: %#v", msgs)
	}
}

func TestRunStorageFailure(t *testing.T) {
	txt := &scriptedText{scripts: []textScript{{chunks: []string{"Recipe"}}}}
	store := newMemoryStore()
	store.err = errors.New("disk full")
	rel := &recordingRelay{}
	eng := newTestEngine(t, txt, &fakeImage{}, store, rel, false)

	err := eng.Run(context.Background(), newJob(t, "rice", "es"))
	var serr *domain.StorageError
	if !errors.As(err, &serr) || serr.Key != "images/conn-1/42.png" {
		t.Fatalf("Run error = %v, want storage error for the image key", err)
	}
	msgs := rel.snapshot()
	if msgs[len(msgs)-1].Message != ImageFailedNotice {
		t.Fatalf("last message = %#v", msgs[len(msgs)-1])
	}
}

func TestRunContinuesWhenConnectionGone(t *testing.T) {
	txt := &scriptedText{scripts: []textScript{{chunks: []string{"a", "b"}}}}
	img := &fakeImage{}
	store := newMemoryStore()
	rel := &recordingRelay{gone: true}
	eng := newTestEngine(t, txt, img, store, rel, true)

	job := newJob(t, "rice", "es")
	if err := eng.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if job.Stage != domain.StageCompleted || img.calls != 1 || len(store.objects) != 1 {
		t.Fatalf("stage=%q image calls=%d stored=%d", job.Stage, img.calls, len(store.objects))
	}
}

func TestRunRejectsStartedJob(t *testing.T) {
	eng := newTestEngine(t, &scriptedText{scripts: []textScript{{chunks: []string{"x"}}}}, &fakeImage{}, newMemoryStore(), &recordingRelay{}, false)
	job := newJob(t, "rice", "es")
	job.Stage = domain.StageGeneratingImage
	if err := eng.Run(context.Background(), job); !errors.Is(err, domain.ErrInvalidStage) {
		t.Fatalf("Run error = %v, want ErrInvalidStage", err)
	}
}

func TestImageKeyExtension(t *testing.T) {
	if got := ImageKey("c", 7, "image/jpeg"); got != "images/c/7.jpg" {
		t.Fatalf("ImageKey jpeg = %q", got)
	}
	if got := ImageKey("c", 7, "image/png"); got != "images/c/7.png" {
		t.Fatalf("ImageKey png = %q", got)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{Image: &fakeImage{}, Store: newMemoryStore(), Relay: &recordingRelay{}}); err == nil {
		t.Fatalf("expected error without text generator")
	}
}

var _ image.Generator = (*fakeImage)(nil)
