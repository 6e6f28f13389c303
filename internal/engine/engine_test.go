package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mjgateway/internal/domain"
	"mjgateway/internal/pool"
	"mjgateway/internal/store"
)

type fakeSender struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSender) Send(_ context.Context, _ domain.Account, _ *domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeSender) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu       sync.Mutex
	statuses []domain.TaskStatus
}

func (f *fakeNotifier) Notify(_ context.Context, task *domain.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, task.Status)
}

func (f *fakeNotifier) last() domain.TaskStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type mirrorRewriter struct{}

func (mirrorRewriter) Rewrite(raw string) string {
	return strings.Replace(raw, "https://cdn.discordapp.com", "https://mirror.example.com", 1)
}

type testRig struct {
	engine   *Engine
	store    *store.MemoryStore
	pool     *pool.AccountPool
	sender   *fakeSender
	notifier *fakeNotifier
}

func newTestRig(t *testing.T, maxConcurrency int) *testRig {
	t.Helper()
	st := store.NewMemoryStore()
	p := pool.NewAccountPool([]domain.Account{
		{InstanceID: "acc-1", ChannelID: "chan-1", MaxConcurrency: maxConcurrency, Enabled: true},
	})
	sender := &fakeSender{}
	notifier := &fakeNotifier{}
	eng := New(Options{
		Store:    st,
		Pool:     p,
		Sender:   sender,
		Notifier: notifier,
		Rewriter: mirrorRewriter{},
		Logger:   zerolog.Nop(),
	})
	return &testRig{engine: eng, store: st, pool: p, sender: sender, notifier: notifier}
}

func submitImagine(t *testing.T, rig *testRig, id, promptEn string) *domain.Task {
	t.Helper()
	task := domain.NewTask(domain.ActionImagine)
	if id != "" {
		task.ID = id
	}
	task.Prompt = promptEn
	task.PromptEn = promptEn
	task.Description = "/imagine " + promptEn
	res := rig.engine.Submit(context.Background(), task)
	if res.Code != domain.CodeSuccess {
		t.Fatalf("Submit = %+v, want success", res)
	}
	return task
}

func TestSubmitHappyPath(t *testing.T) {
	rig := newTestRig(t, 3)
	task := submitImagine(t, rig, "", "a cat")

	snap, err := rig.store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Status != domain.StatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", snap.Status)
	}
	if got := snap.PropertyString(domain.PropertyInstanceID); got != "acc-1" {
		t.Fatalf("instance property = %q, want acc-1", got)
	}
	if rig.sender.sent() != 1 {
		t.Fatalf("sender called %d times, want 1", rig.sender.sent())
	}
	if rig.pool.Running("acc-1") != 1 {
		t.Fatalf("running = %d, want 1", rig.pool.Running("acc-1"))
	}
}

func TestSubmitBusyTerminatesTask(t *testing.T) {
	rig := newTestRig(t, 1)
	submitImagine(t, rig, "", "a cat")

	task := domain.NewTask(domain.ActionImagine)
	task.PromptEn = "a dog"
	task.Description = "/imagine a dog"
	res := rig.engine.Submit(context.Background(), task)
	if res.Code != domain.CodeBusy {
		t.Fatalf("Submit over capacity = %+v, want busy", res)
	}
	snap, err := rig.store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Status != domain.StatusFailure || snap.FailReason == "" {
		t.Fatalf("busy task = %s/%q, want FAILURE with reason", snap.Status, snap.FailReason)
	}
}

func TestSubmitDispatchErrorReleasesSlot(t *testing.T) {
	rig := newTestRig(t, 1)
	rig.sender.err = errors.New("transport down")

	task := domain.NewTask(domain.ActionImagine)
	task.PromptEn = "a cat"
	task.Description = "/imagine a cat"
	res := rig.engine.Submit(context.Background(), task)
	if res.Code != domain.CodeFailure {
		t.Fatalf("Submit = %+v, want failure", res)
	}
	snap, _ := rig.store.Get(context.Background(), task.ID)
	if snap.Status != domain.StatusFailure || snap.FailReason != "dispatch failed" {
		t.Fatalf("task = %s/%q, want FAILURE dispatch failed", snap.Status, snap.FailReason)
	}
	if rig.pool.Running("acc-1") != 0 {
		t.Fatalf("slot leaked: running = %d", rig.pool.Running("acc-1"))
	}
}

func TestProgressEventStaysNonTerminal(t *testing.T) {
	rig := newTestRig(t, 3)
	task := submitImagine(t, rig, "", "a cat --v 5")

	rig.engine.OnEvent(context.Background(), domain.EventRecord{
		Kind:        domain.EventUpdate,
		AuthorIsBot: true,
		Content:     "**a cat --v 5** - <@111> (31%) (fast)",
		MessageID:   "m-progress",
		Attachments: []domain.Attachment{{
			Filename: "grid_0.webp",
			URL:      "https://cdn.discordapp.com/attachments/1/2/grid_0.webp",
		}},
	})

	snap, _ := rig.store.Get(context.Background(), task.ID)
	if snap.Status != domain.StatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", snap.Status)
	}
	if snap.Progress != "31%" {
		t.Fatalf("progress = %q, want 31%%", snap.Progress)
	}
	if !strings.HasPrefix(snap.ImageURL, "https://mirror.example.com/") {
		t.Fatalf("imageUrl = %q, want rewritten preview", snap.ImageURL)
	}
	if snap.FinishTime != 0 {
		t.Fatal("progress event set a finish time")
	}
}

func TestSuccessEventMatchesNormalizedPrompt(t *testing.T) {
	rig := newTestRig(t, 3)
	target := submitImagine(t, rig, "", "A  Cat --v 5")
	other := submitImagine(t, rig, "", "a dog")

	rig.engine.OnEvent(context.Background(), domain.EventRecord{
		Kind:        domain.EventCreate,
		AuthorIsBot: true,
		Content:     "**a cat --v 5** - <@111> (fast)",
		MessageID:   "m-done",
		Attachments: []domain.Attachment{{
			Filename: "a_cat_abc123hash.png",
			URL:      "https://cdn.discordapp.com/attachments/1/2/a_cat_abc123hash.png",
		}},
	})

	snap, _ := rig.store.Get(context.Background(), target.ID)
	if snap.Status != domain.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", snap.Status)
	}
	if snap.FinishTime == 0 {
		t.Fatal("finish time not set")
	}
	if got := snap.PropertyString(domain.PropertyMessageHash); got != "abc123hash" {
		t.Fatalf("message hash = %q, want abc123hash", got)
	}
	if !strings.HasPrefix(snap.ImageURL, "https://mirror.example.com/") {
		t.Fatalf("imageUrl = %q, want rewritten", snap.ImageURL)
	}
	if rig.notifier.last() != domain.StatusSuccess {
		t.Fatalf("notifier last status = %s, want SUCCESS", rig.notifier.last())
	}
	if rig.pool.Running("acc-1") != 1 {
		t.Fatalf("running = %d, want 1 (only the other task holds a slot)", rig.pool.Running("acc-1"))
	}

	otherSnap, _ := rig.store.Get(context.Background(), other.ID)
	if otherSnap.Status != domain.StatusSubmitted {
		t.Fatalf("unrelated task moved to %s", otherSnap.Status)
	}
}

func TestAmbiguousMatchPicksEarliestSubmitted(t *testing.T) {
	rig := newTestRig(t, 3)
	first := submitImagine(t, rig, "1000", "a cat")
	second := submitImagine(t, rig, "1001", "a cat")

	rig.engine.OnEvent(context.Background(), domain.EventRecord{
		Kind:        domain.EventCreate,
		AuthorIsBot: true,
		Content:     "**a cat** - <@111> (fast)",
		MessageID:   "m-done",
		Attachments: []domain.Attachment{{URL: "https://cdn.discordapp.com/attachments/1/2/x_h.png", Filename: "x_h.png"}},
	})

	firstSnap, _ := rig.store.Get(context.Background(), first.ID)
	secondSnap, _ := rig.store.Get(context.Background(), second.ID)
	if firstSnap.Status != domain.StatusSuccess {
		t.Fatalf("earliest task = %s, want SUCCESS", firstSnap.Status)
	}
	if secondSnap.Status.Terminal() {
		t.Fatalf("later duplicate resurrected: %s", secondSnap.Status)
	}
}

func TestEventsFromNonBotAuthorsIgnored(t *testing.T) {
	rig := newTestRig(t, 3)
	task := submitImagine(t, rig, "", "a cat")

	rig.engine.OnEvent(context.Background(), domain.EventRecord{
		Kind:        domain.EventCreate,
		AuthorIsBot: false,
		Content:     "**a cat** - <@111> (fast)",
		Attachments: []domain.Attachment{{URL: "https://cdn.discordapp.com/a/b/x.png"}},
	})

	snap, _ := rig.store.Get(context.Background(), task.ID)
	if snap.Status != domain.StatusSubmitted {
		t.Fatalf("non-bot event mutated task to %s", snap.Status)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	rig := newTestRig(t, 3)
	task := submitImagine(t, rig, "", "a cat")

	done := domain.EventRecord{
		Kind:        domain.EventCreate,
		AuthorIsBot: true,
		Content:     "**a cat** - <@111> (fast)",
		MessageID:   "m-done",
		Attachments: []domain.Attachment{{URL: "https://cdn.discordapp.com/a/b/x_h.png", Filename: "x_h.png"}},
	}
	rig.engine.OnEvent(context.Background(), done)

	// A late progress update for the same prompt must not reopen it.
	rig.engine.OnEvent(context.Background(), domain.EventRecord{
		Kind:        domain.EventUpdate,
		AuthorIsBot: true,
		Content:     "**a cat** - <@111> (97%) (fast)",
		MessageID:   "m-late",
	})

	snap, _ := rig.store.Get(context.Background(), task.ID)
	if snap.Status != domain.StatusSuccess || snap.Progress != "100%" {
		t.Fatalf("late progress regressed task to %s/%s", snap.Status, snap.Progress)
	}
}

func TestUpscaleImageIndexCorrelation(t *testing.T) {
	rig := newTestRig(t, 4)
	mk := func(index int) *domain.Task {
		task := domain.NewTask(domain.ActionUpscale)
		task.PromptEn = "a cat"
		task.Description = "/up 1000 U" + string(rune('0'+index))
		task.SetProperty(domain.PropertyFinalPrompt, "a cat")
		task.SetProperty(domain.PropertyChangeIndex, index)
		res := rig.engine.Submit(context.Background(), task)
		if res.Code != domain.CodeSuccess {
			t.Fatalf("Submit U%d = %+v", index, res)
		}
		return task
	}
	u1 := mk(1)
	u2 := mk(2)

	rig.engine.OnEvent(context.Background(), domain.EventRecord{
		Kind:        domain.EventCreate,
		AuthorIsBot: true,
		Content:     "**a cat** - Image #2 <@111>",
		MessageID:   "m-up",
		Attachments: []domain.Attachment{{URL: "https://cdn.discordapp.com/a/b/up_h2.png", Filename: "up_h2.png"}},
	})

	u1Snap, _ := rig.store.Get(context.Background(), u1.ID)
	u2Snap, _ := rig.store.Get(context.Background(), u2.ID)
	if u2Snap.Status != domain.StatusSuccess {
		t.Fatalf("index-2 upscale = %s, want SUCCESS", u2Snap.Status)
	}
	if u1Snap.Status.Terminal() {
		t.Fatalf("index-1 upscale finished by wrong event: %s", u1Snap.Status)
	}
}

func TestDescribeWithoutImageEmbedDiscarded(t *testing.T) {
	rig := newTestRig(t, 3)
	task := domain.NewTask(domain.ActionDescribe)
	task.Description = "/describe " + task.ID + ".png"
	res := rig.engine.Submit(context.Background(), task)
	if res.Code != domain.CodeSuccess {
		t.Fatalf("Submit describe = %+v", res)
	}

	rig.engine.OnEvent(context.Background(), domain.EventRecord{
		Kind:            domain.EventUpdate,
		AuthorIsBot:     true,
		InteractionName: "describe",
		Embeds:          []domain.Embed{{Description: "1. a painting"}},
	})

	snap, _ := rig.store.Get(context.Background(), task.ID)
	if snap.Status != domain.StatusSubmitted {
		t.Fatalf("describe event without image mutated task to %s", snap.Status)
	}
}

func TestDescribeSuccessByUploadedFilename(t *testing.T) {
	rig := newTestRig(t, 3)
	task := domain.NewTask(domain.ActionDescribe)
	task.ID = "900100"
	task.Description = "/describe 900100.png"
	res := rig.engine.Submit(context.Background(), task)
	if res.Code != domain.CodeSuccess {
		t.Fatalf("Submit describe = %+v", res)
	}

	rig.engine.OnEvent(context.Background(), domain.EventRecord{
		Kind:            domain.EventUpdate,
		AuthorIsBot:     true,
		InteractionName: "describe",
		MessageID:       "m-desc",
		Embeds: []domain.Embed{{
			Description: "1. an oil painting of a cat",
			Image:       &domain.EmbedImage{URL: "https://cdn.discordapp.com/ephemeral-attachments/1/2/900100.png"},
		}},
	})

	snap, _ := rig.store.Get(context.Background(), task.ID)
	if snap.Status != domain.StatusSuccess {
		t.Fatalf("describe task = %s, want SUCCESS", snap.Status)
	}
	if snap.PromptEn != "1. an oil painting of a cat" {
		t.Fatalf("promptEn = %q, want generated description", snap.PromptEn)
	}
}

func TestRerollOfDescribeMatchesCDNFilename(t *testing.T) {
	rig := newTestRig(t, 3)
	task := domain.NewTask(domain.ActionReroll)
	task.Description = "/describe file123.png R"
	res := rig.engine.Submit(context.Background(), task)
	if res.Code != domain.CodeSuccess {
		t.Fatalf("Submit reroll = %+v", res)
	}

	rig.engine.OnEvent(context.Background(), domain.EventRecord{
		Kind:        domain.EventCreate,
		AuthorIsBot: true,
		MessageID:   "m-reroll",
		Embeds: []domain.Embed{{
			Description: "a generated description",
			Image:       &domain.EmbedImage{URL: "https://cdn.discordapp.com/attachments/1/2/file123.webp"},
		}},
	})

	snap, _ := rig.store.Get(context.Background(), task.ID)
	if snap.Status != domain.StatusSuccess {
		t.Fatalf("reroll-of-describe = %s, want SUCCESS", snap.Status)
	}
	if got := snap.PropertyString("rollType"); got != "describe" {
		t.Fatalf("rollType = %q, want describe", got)
	}
}

func TestFailureEmbedTerminatesTask(t *testing.T) {
	rig := newTestRig(t, 3)
	task := submitImagine(t, rig, "", "a cat")

	rig.engine.OnEvent(context.Background(), domain.EventRecord{
		Kind:        domain.EventCreate,
		AuthorIsBot: true,
		MessageID:   "m-err",
		Embeds: []domain.Embed{{
			Title:       "Invalid parameter",
			Description: "**a cat** could not be processed",
			Color:       failureEmbedColor,
		}},
	})

	snap, _ := rig.store.Get(context.Background(), task.ID)
	if snap.Status != domain.StatusFailure {
		t.Fatalf("status = %s, want FAILURE", snap.Status)
	}
	if !strings.Contains(snap.FailReason, "Invalid parameter") {
		t.Fatalf("failReason = %q", snap.FailReason)
	}
	if rig.pool.Running("acc-1") != 0 {
		t.Fatalf("slot leaked after failure: %d", rig.pool.Running("acc-1"))
	}
}

func TestWaitUntilTerminalWakesOnSuccess(t *testing.T) {
	rig := newTestRig(t, 3)
	task := submitImagine(t, rig, "", "a cat")

	go func() {
		time.Sleep(30 * time.Millisecond)
		rig.engine.OnEvent(context.Background(), domain.EventRecord{
			Kind:        domain.EventCreate,
			AuthorIsBot: true,
			Content:     "**a cat** - <@111> (fast)",
			MessageID:   "m-done",
			Attachments: []domain.Attachment{{URL: "https://cdn.discordapp.com/a/b/x_h.png", Filename: "x_h.png"}},
		})
	}()

	snap, err := rig.engine.WaitUntilTerminal(context.Background(), task.ID, 3*time.Second)
	if err != nil {
		t.Fatalf("WaitUntilTerminal: %v", err)
	}
	if snap.Status != domain.StatusSuccess {
		t.Fatalf("woke with %s, want SUCCESS", snap.Status)
	}
}

func TestWaitUntilTerminalTimeoutReturnsPending(t *testing.T) {
	rig := newTestRig(t, 3)
	task := submitImagine(t, rig, "", "a cat")

	snap, err := rig.engine.WaitUntilTerminal(context.Background(), task.ID, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitUntilTerminal: %v", err)
	}
	if snap.Status != domain.StatusSubmitted {
		t.Fatalf("timeout snapshot = %s, want SUBMITTED", snap.Status)
	}
}

func TestManyWaitersAllWake(t *testing.T) {
	rig := newTestRig(t, 3)
	task := submitImagine(t, rig, "", "a cat")

	const waiters = 5
	results := make(chan domain.TaskStatus, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			snap, err := rig.engine.WaitUntilTerminal(context.Background(), task.ID, 3*time.Second)
			if err != nil {
				results <- ""
				return
			}
			results <- snap.Status
		}()
	}

	time.Sleep(30 * time.Millisecond)
	rig.engine.OnEvent(context.Background(), domain.EventRecord{
		Kind:        domain.EventCreate,
		AuthorIsBot: true,
		Content:     "**a cat** - <@111> (fast)",
		MessageID:   "m-done",
		Attachments: []domain.Attachment{{URL: "https://cdn.discordapp.com/a/b/x_h.png", Filename: "x_h.png"}},
	})

	for i := 0; i < waiters; i++ {
		if got := <-results; got != domain.StatusSuccess {
			t.Fatalf("waiter %d woke with %q, want SUCCESS", i, got)
		}
	}
}

func TestBlendLifecycleCorrelatesByInteraction(t *testing.T) {
	rig := newTestRig(t, 3)
	task := domain.NewTask(domain.ActionBlend)
	task.Description = "/blend " + task.ID + " 2"
	task.InputImages = []domain.DataURL{
		{MimeType: "image/png", Data: []byte("one")},
		{MimeType: "image/png", Data: []byte("two")},
	}
	if res := rig.engine.Submit(context.Background(), task); res.Code != domain.CodeSuccess {
		t.Fatalf("Submit = %+v, want success", res)
	}

	// Blends carry no prompt, so the start acknowledgment can only be
	// bound through its interaction tag. The upstream invents the
	// subject from the uploaded filenames.
	rig.engine.OnEvent(context.Background(), domain.EventRecord{
		Kind:            domain.EventCreate,
		AuthorIsBot:     true,
		InteractionName: "blend",
		Content:         "**one.png two.png** - <@111> (Waiting to start)",
		MessageID:       "m-start",
	})

	snap, _ := rig.store.Get(context.Background(), task.ID)
	if snap.Status != domain.StatusInProgress {
		t.Fatalf("status after ack = %s, want IN_PROGRESS", snap.Status)
	}
	if got := snap.PropertyString(domain.PropertyFinalPrompt); got != "one.png two.png" {
		t.Fatalf("finalPrompt = %q, want pinned subject", got)
	}

	// With the subject pinned, the completion correlates like any
	// other action.
	rig.engine.OnEvent(context.Background(), domain.EventRecord{
		Kind:        domain.EventCreate,
		AuthorIsBot: true,
		Content:     "**one.png two.png** - <@111> (fast)",
		MessageID:   "m-done",
		Attachments: []domain.Attachment{{
			Filename: "blend_feedbeef.png",
			URL:      "https://cdn.discordapp.com/attachments/1/2/blend_feedbeef.png",
		}},
	})

	snap, _ = rig.store.Get(context.Background(), task.ID)
	if snap.Status != domain.StatusSuccess {
		t.Fatalf("status after completion = %s, want SUCCESS", snap.Status)
	}
	if !strings.HasPrefix(snap.ImageURL, "https://mirror.example.com/") {
		t.Fatalf("imageUrl = %q, want rewritten", snap.ImageURL)
	}
	if rig.pool.Running("acc-1") != 0 {
		t.Fatalf("running = %d, want 0 after terminal", rig.pool.Running("acc-1"))
	}
}

func TestSubmitBusyKeepsHoldersSlot(t *testing.T) {
	rig := newTestRig(t, 1)
	submitImagine(t, rig, "", "a cat")

	rejected := domain.NewTask(domain.ActionImagine)
	rejected.Prompt = "a dog"
	rejected.PromptEn = "a dog"
	rejected.Description = "/imagine a dog"
	if res := rig.engine.Submit(context.Background(), rejected); res.Code != domain.CodeBusy {
		t.Fatalf("Submit = %+v, want busy", res)
	}

	// The busy task's failure path releases it; the holder's slot must
	// survive that release.
	if got := rig.pool.Running("acc-1"); got != 1 {
		t.Fatalf("running = %d, want 1 (holder keeps its slot)", got)
	}
}
