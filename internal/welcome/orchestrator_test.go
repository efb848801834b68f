package welcome

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/whopvoice/internal/delivery"
	"github.com/wolfeidau/whopvoice/internal/fishaudio"
	"github.com/wolfeidau/whopvoice/internal/ledger"
	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
	"github.com/wolfeidau/whopvoice/internal/store/memory"
	"github.com/wolfeidau/whopvoice/internal/util"
	"github.com/wolfeidau/whopvoice/internal/worker"
)

type fakeVoice struct {
	mu         sync.Mutex
	state      fishaudio.ModelState
	speechErr  error
	modelCalls int
	ttsCalls   int
	lastText   string
}

func (f *fakeVoice) GetModel(_ context.Context, modelID string) (*fishaudio.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modelCalls++
	return &fishaudio.Model{ID: modelID, State: f.state}, nil
}

func (f *fakeVoice) GenerateSpeech(_ context.Context, text, _ string, _ fishaudio.Format) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttsCalls++
	f.lastText = text
	if f.speechErr != nil {
		return nil, f.speechErr
	}
	return []byte("mp3-bytes"), nil
}

func (f *fakeVoice) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modelCalls + f.ttsCalls
}

type fakeDeliverer struct {
	mu      sync.Mutex
	result  delivery.Result
	err     error
	calls   int
	content string
}

func (f *fakeDeliverer) Deliver(_ context.Context, _ *models.Creator, _ *models.Customer, content string) (delivery.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.content = content
	return f.result, f.err
}

// statusRecorder captures every status written for each job.
type statusRecorder struct {
	store.AudioMessageStore
	mu     sync.Mutex
	traces map[string][]models.MessageStatus
}

func (r *statusRecorder) record(msg *models.AudioMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trace := r.traces[msg.ID]
	if len(trace) == 0 || trace[len(trace)-1] != msg.Status {
		r.traces[msg.ID] = append(trace, msg.Status)
	}
}

func (r *statusRecorder) Create(ctx context.Context, msg *models.AudioMessage) error {
	if err := r.AudioMessageStore.Create(ctx, msg); err != nil {
		return err
	}
	r.record(msg)
	return nil
}

func (r *statusRecorder) Update(ctx context.Context, msg *models.AudioMessage) error {
	if err := r.AudioMessageStore.Update(ctx, msg); err != nil {
		return err
	}
	r.record(msg)
	return nil
}

func (r *statusRecorder) trace(id string) []models.MessageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.MessageStatus(nil), r.traces[id]...)
}

type harness struct {
	stores    store.Stores
	jobs      *statusRecorder
	ledger    *ledger.Ledger
	voice     *fakeVoice
	deliverer *fakeDeliverer
	orch      *Orchestrator
	creator   *models.Creator
	customer  *models.Customer

	mu     sync.Mutex
	events []ledger.Event
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()

	stores := memory.NewStores()
	jobs := &statusRecorder{AudioMessageStore: stores.AudioMessages, traces: map[string][]models.MessageStatus{}}
	stores.AudioMessages = jobs

	h := &harness{
		stores:    stores,
		jobs:      jobs,
		ledger:    ledger.New(stores.Creators),
		voice:     &fakeVoice{state: fishaudio.ModelTrained},
		deliverer: &fakeDeliverer{result: delivery.Result{MessageID: "msg_1", ChannelID: "ch_1"}},
	}
	h.ledger.Subscribe(ledger.NewAutoPauser(stores.Creators, nil).Handle)
	h.ledger.Subscribe(func(_ context.Context, ev ledger.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, ev)
	})

	h.creator = &models.Creator{
		WhopUserID:         "user_admin",
		WhopCompanyID:      "biz_1",
		MessageTemplate:    "Hi {name}, welcome to {plan}!",
		FishAudioModelID:   "model_1",
		IsSetupComplete:    true,
		IsAutomationActive: true,
		Credits:            5,
		PlanType:           models.PlanFree,
	}
	require.NoError(t, stores.Creators.Create(ctx, h.creator))

	h.customer = &models.Customer{CreatorID: h.creator.ID, WhopUserID: "user_member", Name: "Ada"}
	require.NoError(t, stores.Customers.Create(ctx, h.customer))

	h.orch = New(stores, h.ledger, h.voice, h.deliverer, Config{PublicBaseURL: "https://voice.example.com"}, opts...)
	return h
}

func (h *harness) setBilling(t *testing.T, plan models.PlanType, credits int) {
	t.Helper()
	updated, err := h.stores.Creators.ApplyPlan(context.Background(), h.creator.ID, store.PlanChange{PlanType: plan, Credits: &credits})
	require.NoError(t, err)
	*h.creator = *updated
}

func (h *harness) reloadCreator(t *testing.T) *models.Creator {
	t.Helper()
	c, err := h.stores.Creators.Get(context.Background(), h.creator.ID)
	require.NoError(t, err)
	return c
}

func (h *harness) reloadCustomer(t *testing.T) *models.Customer {
	t.Helper()
	c, err := h.stores.Customers.Get(context.Background(), h.customer.ID)
	require.NoError(t, err)
	return c
}

func (h *harness) countEvents(typ ledger.EventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ev := range h.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (h *harness) request(mode Mode) Request {
	return Request{Creator: h.creator, Customer: h.customer, Mode: mode}
}

func TestGenerate_Delivered(t *testing.T) {
	h := newHarness(t)

	out, err := h.orch.Generate(context.Background(), h.request(ModeDeliver))
	require.NoError(t, err)

	require.Equal(t, "Hi Ada, welcome to our community!", out.Script)
	require.Equal(t, "https://voice.example.com/api/audio/"+out.Job.ID, out.AudioURL)
	require.True(t, out.Delivery.Delivered())

	job, err := h.stores.AudioMessages.Get(context.Background(), out.Job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, job.Status)
	require.Equal(t, "msg_1", job.WhopMessageID)
	require.Equal(t, "ch_1", job.WhopChatID)
	require.NotNil(t, job.SentAt)
	require.NotNil(t, job.CompletedAt)
	require.Empty(t, job.ErrorMessage)

	mime, audio, err := util.DecodeDataURL(job.AudioURL)
	require.NoError(t, err)
	require.Equal(t, "audio/mp3", mime)
	require.Equal(t, []byte("mp3-bytes"), audio)

	require.Equal(t, []models.MessageStatus{
		models.StatusPending, models.StatusGenerating, models.StatusCompleted, models.StatusSent,
	}, h.jobs.trace(job.ID))

	require.Contains(t, h.deliverer.content, "Hi Ada! 🎵")
	require.Contains(t, h.deliverer.content, out.AudioURL)

	require.Equal(t, 4, h.reloadCreator(t).Credits)
	require.True(t, h.reloadCustomer(t).FirstMessageSent)
	require.Equal(t, 1, h.countEvents(ledger.EventCreditConsumed))
}

func TestGenerate_UnlimitedNotCharged(t *testing.T) {
	h := newHarness(t)
	h.setBilling(t, models.PlanUnlimited, 0)

	out, err := h.orch.Generate(context.Background(), h.request(ModeDeliver))
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, out.Job.Status)
	require.Equal(t, 0, h.reloadCreator(t).Credits)
	require.Zero(t, h.countEvents(ledger.EventCreditConsumed))
}

func TestGenerate_LastCreditPausesAutomation(t *testing.T) {
	h := newHarness(t)
	h.setBilling(t, models.PlanFree, 1)

	_, err := h.orch.Generate(context.Background(), h.request(ModeDeliver))
	require.NoError(t, err)

	creator := h.reloadCreator(t)
	require.Equal(t, 0, creator.Credits)
	require.False(t, creator.IsAutomationActive)
	require.Equal(t, 1, h.countEvents(ledger.EventCreditsExhausted))
}

func TestGenerate_NoCredits(t *testing.T) {
	h := newHarness(t)
	h.setBilling(t, models.PlanFree, 0)

	out, err := h.orch.Generate(context.Background(), h.request(ModeDeliver))
	require.ErrorIs(t, err, ledger.ErrInsufficientCredits)
	require.NotNil(t, out)
	require.Equal(t, models.StatusFailed, out.Job.Status)
	require.Equal(t, ledger.InsufficientCreditsReason, out.Job.ErrorMessage)
	require.Equal(t, "Hi Ada, welcome to our community!", out.Job.PersonalizedScript)

	require.Zero(t, h.voice.calls())
	require.Zero(t, h.deliverer.calls)
	require.False(t, h.reloadCreator(t).IsAutomationActive)
	require.Equal(t, []models.MessageStatus{models.StatusFailed}, h.jobs.trace(out.Job.ID))
}

func TestGenerate_EntryGate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *models.Creator)
		wantErr error
	}{
		{
			name:    "no model",
			mutate:  func(c *models.Creator) { c.FishAudioModelID = "" },
			wantErr: ErrModelNotConfigured,
		},
		{
			name:    "no template",
			mutate:  func(c *models.Creator) { c.MessageTemplate = "  " },
			wantErr: ErrTemplateMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.mutate(h.creator)

			out, err := h.orch.Generate(context.Background(), h.request(ModePreview))
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, models.StatusFailed, out.Job.Status)
			require.Equal(t, tt.wantErr.Error(), out.Job.ErrorMessage)
			require.Zero(t, h.voice.calls())

			// a gate failure releases the lock
			_, err = h.orch.Generate(context.Background(), h.request(ModePreview))
			require.NotErrorIs(t, err, ErrGenerationInFlight)
		})
	}
}

func TestGenerate_ModelNotReady(t *testing.T) {
	for _, state := range []fishaudio.ModelState{fishaudio.ModelCreated, fishaudio.ModelTraining} {
		t.Run(string(state), func(t *testing.T) {
			h := newHarness(t)
			h.voice.state = state

			out, err := h.orch.Generate(context.Background(), h.request(ModeDeliver))
			require.ErrorIs(t, err, fishaudio.ErrModelNotReady)
			require.Equal(t, models.StatusFailed, out.Job.Status)
			require.Contains(t, out.Job.ErrorMessage, "not ready yet")
			require.Zero(t, h.voice.ttsCalls)
			require.Equal(t, 5, h.reloadCreator(t).Credits)
		})
	}

	t.Run("failed", func(t *testing.T) {
		h := newHarness(t)
		h.voice.state = fishaudio.ModelFailed

		out, err := h.orch.Generate(context.Background(), h.request(ModeDeliver))
		require.ErrorIs(t, err, fishaudio.ErrModelFailed)
		require.Equal(t, models.StatusFailed, out.Job.Status)
	})
}

func TestGenerate_VendorErrorPreserved(t *testing.T) {
	h := newHarness(t)
	h.voice.speechErr = &fishaudio.APIError{StatusCode: 502, Message: "upstream exploded"}

	out, err := h.orch.Generate(context.Background(), h.request(ModeDeliver))
	require.Error(t, err)

	job, gerr := h.stores.AudioMessages.Get(context.Background(), out.Job.ID)
	require.NoError(t, gerr)
	require.Equal(t, models.StatusFailed, job.Status)
	require.Equal(t, h.voice.speechErr.Error(), job.ErrorMessage)
	require.Zero(t, h.deliverer.calls)
	require.Equal(t, 5, h.reloadCreator(t).Credits)
}

func TestGenerate_DeliverySkipped(t *testing.T) {
	h := newHarness(t)
	h.deliverer.result = delivery.Result{Skipped: true, Reason: "no channel"}

	out, err := h.orch.Generate(context.Background(), h.request(ModeDeliver))
	require.NoError(t, err)
	require.True(t, out.Delivery.Skipped)

	job, err := h.stores.AudioMessages.Get(context.Background(), out.Job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, job.Status)
	require.Equal(t, "no channel", job.ErrorMessage)
	require.NotEmpty(t, job.AudioURL)

	require.Equal(t, 5, h.reloadCreator(t).Credits)
	require.False(t, h.reloadCustomer(t).FirstMessageSent)
	require.Zero(t, h.countEvents(ledger.EventCreditConsumed))
}

func TestGenerate_DeliveryError(t *testing.T) {
	h := newHarness(t)
	h.deliverer.err = errors.New("whop 500")

	out, err := h.orch.Generate(context.Background(), h.request(ModeDeliver))
	require.ErrorContains(t, err, "whop 500")

	job, gerr := h.stores.AudioMessages.Get(context.Background(), out.Job.ID)
	require.NoError(t, gerr)
	require.Equal(t, models.StatusCompleted, job.Status)
	require.Empty(t, job.WhopMessageID)
	require.Nil(t, job.SentAt)
	require.Equal(t, 5, h.reloadCreator(t).Credits)
}

func TestGenerate_Preview(t *testing.T) {
	h := newHarness(t)

	out, err := h.orch.Generate(context.Background(), h.request(ModePreview))
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, out.Job.Status)
	require.True(t, out.Job.IsPreview)
	require.NotEmpty(t, out.AudioURL)
	require.Equal(t, "Hi Ada, welcome to our community!", out.Script)
	require.Zero(t, h.deliverer.calls)

	stored, err := h.stores.AudioMessages.Get(context.Background(), out.Job.ID)
	require.NoError(t, err)
	require.True(t, stored.IsPreview)
	require.Equal(t, 5, h.reloadCreator(t).Credits)

	// preview skips the credit gate
	h.creator.Credits = 0
	out, err = h.orch.Generate(context.Background(), h.request(ModePreview))
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, out.Job.Status)
}

func TestGenerate_InFlight(t *testing.T) {
	h := newHarness(t)
	lock := NewMemoryLock()
	h.orch = New(h.stores, h.ledger, h.voice, h.deliverer, Config{}, WithLocker(lock))

	release, err := lock.Acquire(context.Background(), LockKey(h.creator.ID, h.customer.ID))
	require.NoError(t, err)

	_, err = h.orch.Generate(context.Background(), h.request(ModeDeliver))
	require.ErrorIs(t, err, ErrGenerationInFlight)

	jobs, err := h.stores.AudioMessages.ListByCustomer(context.Background(), h.customer.ID)
	require.NoError(t, err)
	require.Empty(t, jobs)

	release()
	_, err = h.orch.Generate(context.Background(), h.request(ModeDeliver))
	require.NoError(t, err)
}

func TestGenerate_WrongCreator(t *testing.T) {
	h := newHarness(t)
	stranger := &models.Customer{ID: "cu_x", CreatorID: "someone_else"}

	_, err := h.orch.Generate(context.Background(), Request{Creator: h.creator, Customer: stranger})
	require.ErrorIs(t, err, ErrWrongCreator)
}

func TestEnqueue(t *testing.T) {
	pool := worker.NewPool(worker.Config{Workers: 1, QueueDepth: 4})
	pool.Start(context.Background())

	done := make(chan *models.AudioMessage, 1)
	h := newHarness(t, WithPool(pool), WithObserver(func(_ context.Context, job *models.AudioMessage) {
		done <- job
	}))

	job, err := h.orch.Enqueue(context.Background(), h.request(ModeDeliver))
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, job.Status)

	select {
	case final := <-done:
		require.Equal(t, job.ID, final.ID)
		require.Equal(t, models.StatusSent, final.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
	}

	require.NoError(t, pool.Shutdown(context.Background()))
	require.Equal(t, 4, h.reloadCreator(t).Credits)

	_, err = h.orch.Enqueue(context.Background(), h.request(ModeDeliver))
	require.ErrorIs(t, err, worker.ErrPoolClosed)
}

func TestEnqueue_QueueFull(t *testing.T) {
	pool := worker.NewPool(worker.Config{Workers: 1, QueueDepth: 1})
	// not started, so the single slot stays taken
	require.NoError(t, pool.Submit("filler", func(context.Context) {}))

	h := newHarness(t, WithPool(pool))

	job, err := h.orch.Enqueue(context.Background(), h.request(ModeDeliver))
	require.ErrorIs(t, err, ErrQueueFull)

	stored, gerr := h.stores.AudioMessages.Get(context.Background(), job.ID)
	require.NoError(t, gerr)
	require.Equal(t, models.StatusFailed, stored.Status)

	// the lock was released
	_, err = h.orch.Generate(context.Background(), h.request(ModePreview))
	require.NoError(t, err)
}

func TestRedeliver(t *testing.T) {
	h := newHarness(t)
	h.deliverer.result = delivery.Result{Skipped: true, Reason: "no channel"}

	out, err := h.orch.Generate(context.Background(), h.request(ModeDeliver))
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, out.Job.Status)

	dm := &fakeDeliverer{result: delivery.Result{MessageID: "dm_1"}}
	h.orch = New(h.stores, h.ledger, h.voice, h.deliverer, Config{}, WithRedeliverer(dm))

	re, err := h.orch.Redeliver(context.Background(), h.creator, out.Job.ID)
	require.NoError(t, err)
	require.Equal(t, "dm_1", re.Delivery.MessageID)
	require.Equal(t, 1, dm.calls)

	job, err := h.stores.AudioMessages.Get(context.Background(), out.Job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, job.Status)
	require.Equal(t, "dm_1", job.WhopMessageID)
	require.Equal(t, 4, h.reloadCreator(t).Credits)
	require.True(t, h.reloadCustomer(t).FirstMessageSent)

	t.Run("other creator", func(t *testing.T) {
		_, err := h.orch.Redeliver(context.Background(), &models.Creator{ID: "cr_other"}, out.Job.ID)
		require.ErrorIs(t, err, store.ErrAudioMessageNotFound)
	})

	t.Run("failed job", func(t *testing.T) {
		h.voice.speechErr = errors.New("boom")
		failed, _ := h.orch.Generate(context.Background(), h.request(ModeDeliver))
		_, err := h.orch.Redeliver(context.Background(), h.creator, failed.Job.ID)
		require.ErrorIs(t, err, ErrAudioUnavailable)
	})
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stuck := &models.AudioMessage{CustomerID: h.customer.ID, CreatorID: h.creator.ID, Status: models.StatusGenerating}
	require.NoError(t, h.stores.AudioMessages.Create(ctx, stuck))
	sent := &models.AudioMessage{CustomerID: h.customer.ID, CreatorID: h.creator.ID, Status: models.StatusSent}
	require.NoError(t, h.stores.AudioMessages.Create(ctx, sent))

	h.customer.FirstMessageSent = true
	require.NoError(t, h.stores.Customers.Update(ctx, h.customer))

	n, err := h.orch.Reset(ctx, h.customer)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := h.stores.AudioMessages.Get(ctx, stuck.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)
	require.Equal(t, ResetReason, got.ErrorMessage)

	got, err = h.stores.AudioMessages.Get(ctx, sent.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, got.Status)

	require.False(t, h.reloadCustomer(t).FirstMessageSent)
}

// New member joins, automation is on and setup complete: the member gets a
// sent job, the flag is set and one credit is consumed.
func TestEndToEnd_NewMember(t *testing.T) {
	pool := worker.NewPool(worker.DefaultConfig())
	pool.Start(context.Background())
	h := newHarness(t, WithPool(pool))
	ctx := context.Background()

	member := &models.Customer{CreatorID: h.creator.ID, WhopUserID: "user_new", Name: "Grace", PlanName: "VIP"}
	require.NoError(t, h.stores.Customers.Create(ctx, member))

	job, err := h.orch.Enqueue(ctx, Request{Creator: h.creator, Customer: member})
	require.NoError(t, err)
	require.NoError(t, pool.Shutdown(ctx))

	require.Equal(t, []models.MessageStatus{
		models.StatusPending, models.StatusGenerating, models.StatusCompleted, models.StatusSent,
	}, h.jobs.trace(job.ID))

	stored, err := h.stores.Customers.Get(ctx, member.ID)
	require.NoError(t, err)
	require.True(t, stored.FirstMessageSent)
	require.Equal(t, 4, h.reloadCreator(t).Credits)
	require.True(t, strings.HasPrefix(h.voice.lastText, "Hi Grace, welcome to VIP!"))
}
