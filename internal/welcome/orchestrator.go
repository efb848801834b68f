// Package welcome drives a customer's welcome audio from script to delivery.
//
// A job moves pending, generating, completed, sent. Any step before sent can
// fail the job. A completed job whose delivery was skipped keeps its audio
// and is never charged.
package welcome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/whopvoice/internal/delivery"
	"github.com/wolfeidau/whopvoice/internal/fishaudio"
	"github.com/wolfeidau/whopvoice/internal/ledger"
	"github.com/wolfeidau/whopvoice/internal/logger"
	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
	"github.com/wolfeidau/whopvoice/internal/template"
	"github.com/wolfeidau/whopvoice/internal/util"
	"github.com/wolfeidau/whopvoice/internal/worker"
)

// ResetReason is recorded on jobs failed by Reset.
const ResetReason = "Manually reset by user"

// Mode selects how far the pipeline runs.
type Mode int

const (
	// ModeDeliver generates, delivers and charges.
	ModeDeliver Mode = iota
	// ModePreview generates without the credit gate and never delivers.
	ModePreview
)

// Synthesizer is the voice vendor.
type Synthesizer interface {
	GetModel(ctx context.Context, modelID string) (*fishaudio.Model, error)
	GenerateSpeech(ctx context.Context, text, modelID string, format fishaudio.Format) ([]byte, error)
}

// Observer is notified with the final state of every job the pipeline ends.
type Observer func(ctx context.Context, job *models.AudioMessage)

// Request identifies whose welcome to generate.
type Request struct {
	Creator  *models.Creator
	Customer *models.Customer
	Mode     Mode
}

// Outcome is the result of a pipeline run.
type Outcome struct {
	Job      *models.AudioMessage
	Script   string
	AudioURL string // public link served by the audio endpoint
	Delivery delivery.Result
}

// Config holds orchestrator settings.
type Config struct {
	PublicBaseURL string
	Format        fishaudio.Format
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocker replaces the in-process lock.
func WithLocker(l Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithPool sets the pool used by Enqueue.
func WithPool(p *worker.Pool) Option {
	return func(o *Orchestrator) { o.pool = p }
}

// WithRedeliverer sets the deliverer used by Redeliver. It defaults to the
// primary deliverer.
func WithRedeliverer(d delivery.Deliverer) Option {
	return func(o *Orchestrator) { o.redeliverer = d }
}

// WithObserver registers a job observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs welcome jobs.
type Orchestrator struct {
	stores      store.Stores
	ledger      *ledger.Ledger
	voice       Synthesizer
	deliverer   delivery.Deliverer
	redeliverer delivery.Deliverer
	locker      Locker
	pool        *worker.Pool
	observers   []Observer
	cfg         Config
	now         func() time.Time
}

// New creates an orchestrator.
func New(stores store.Stores, l *ledger.Ledger, voice Synthesizer, deliverer delivery.Deliverer, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Format == "" {
		cfg.Format = fishaudio.FormatMP3
	}
	o := &Orchestrator{
		stores:    stores,
		ledger:    l,
		voice:     voice,
		deliverer: deliverer,
		locker:    NewMemoryLock(),
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.redeliverer == nil {
		o.redeliverer = o.deliverer
	}
	return o
}

// Generate runs the whole pipeline before returning. Entry gate failures
// return the failed job in the outcome along with the error.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Outcome, error) {
	req, err := normalize(req)
	if err != nil {
		return nil, err
	}

	job, release, err := o.start(ctx, req)
	if err != nil {
		if job != nil {
			return &Outcome{Job: job, Script: job.PersonalizedScript}, err
		}
		return nil, err
	}
	defer release()

	return o.run(o.jobContext(ctx, job), req, job)
}

// Enqueue creates the job and hands the rest of the pipeline to the worker
// pool. The returned job is pending.
func (o *Orchestrator) Enqueue(ctx context.Context, req Request) (*models.AudioMessage, error) {
	if o.pool == nil {
		return nil, errors.New("welcome: no worker pool configured")
	}
	req, err := normalize(req)
	if err != nil {
		return nil, err
	}

	job, release, err := o.start(ctx, req)
	if err != nil {
		return job, err
	}

	err = o.pool.Submit("welcome:"+job.ID, func(taskCtx context.Context) {
		defer release()
		taskCtx = o.jobContext(taskCtx, job)
		if _, err := o.run(taskCtx, req, job); err != nil {
			log.Ctx(taskCtx).Error().Err(err).Msg("Welcome generation finished with error")
		}
	})
	if err != nil {
		release()
		o.fail(ctx, job, "Generation queue is busy, try again shortly")
		return job, err
	}

	log.Ctx(ctx).Info().
		Str("audio_message_id", job.ID).
		Str("customer_id", job.CustomerID).
		Msg("Welcome generation queued")
	return job, nil
}

// Redeliver sends an already generated job again. A credit is charged only
// when the platform confirms the message.
func (o *Orchestrator) Redeliver(ctx context.Context, creator *models.Creator, audioMessageID string) (*Outcome, error) {
	job, err := o.stores.AudioMessages.Get(ctx, audioMessageID)
	if err != nil {
		return nil, err
	}
	if job.CreatorID != creator.ID {
		return nil, store.ErrAudioMessageNotFound
	}
	if job.AudioURL == "" || job.Status == models.StatusFailed {
		return nil, ErrAudioUnavailable
	}

	customer, err := o.stores.Customers.Get(ctx, job.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	release, err := o.locker.Acquire(ctx, LockKey(creator.ID, customer.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	if avail := o.ledger.CheckAvailability(creator); !avail.OK {
		o.ledger.Exhausted(ctx, creator)
		return nil, ledger.ErrInsufficientCredits
	}

	ctx = o.jobContext(ctx, job)
	out := &Outcome{
		Job:      job,
		Script:   job.PersonalizedScript,
		AudioURL: delivery.AudioURL(o.cfg.PublicBaseURL, job.ID),
	}
	out.Delivery, err = o.deliver(ctx, o.redeliverer, creator, customer, job, out.AudioURL)
	return out, err
}

// Reset clears a customer's first-message flag and fails jobs stuck in
// progress, so a test member can be welcomed again.
func (o *Orchestrator) Reset(ctx context.Context, customer *models.Customer) (int, error) {
	jobs, err := o.stores.AudioMessages.ListByCustomer(ctx, customer.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list audio messages: %w", err)
	}

	reset := 0
	for _, job := range jobs {
		if !job.Status.IsInProgress() {
			continue
		}
		job.Status = models.StatusFailed
		job.ErrorMessage = ResetReason
		if err := o.stores.AudioMessages.Update(ctx, job); err != nil {
			return reset, fmt.Errorf("failed to reset audio message %s: %w", job.ID, err)
		}
		reset++
	}

	customer.FirstMessageSent = false
	if err := o.stores.Customers.Update(ctx, customer); err != nil {
		return reset, fmt.Errorf("failed to reset customer: %w", err)
	}
	return reset, nil
}

func normalize(req Request) (Request, error) {
	if req.Creator == nil || req.Customer == nil {
		return req, errors.New("welcome: creator and customer are required")
	}
	if req.Customer.CreatorID != req.Creator.ID {
		return req, ErrWrongCreator
	}
	creator, customer := *req.Creator, *req.Customer
	req.Creator, req.Customer = &creator, &customer
	return req, nil
}

// start takes the lock, runs the entry gate and persists the job. On a gate
// failure the job is persisted as failed, the lock released and the gate
// error returned next to the job.
func (o *Orchestrator) start(ctx context.Context, req Request) (*models.AudioMessage, func(), error) {
	release, err := o.locker.Acquire(ctx, LockKey(req.Creator.ID, req.Customer.ID))
	if err != nil {
		return nil, nil, err
	}

	job := &models.AudioMessage{
		CustomerID:         req.Customer.ID,
		CreatorID:          req.Creator.ID,
		PersonalizedScript: o.render(req),
		Status:             models.StatusPending,
		IsPreview:          req.Mode == ModePreview,
	}

	reason, gateErr := o.gate(ctx, req)
	if gateErr != nil {
		job.Status = models.StatusFailed
		job.ErrorMessage = reason
	}

	if err := o.stores.AudioMessages.Create(ctx, job); err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to create audio message: %w", err)
	}

	if gateErr != nil {
		release()
		log.Ctx(ctx).Warn().
			Str("creator_id", req.Creator.ID).
			Str("customer_id", req.Customer.ID).
			Str("audio_message_id", job.ID).
			Str("reason", reason).
			Msg("Welcome generation blocked")
		o.notify(ctx, job)
		return job, nil, gateErr
	}

	return job, release, nil
}

func (o *Orchestrator) gate(ctx context.Context, req Request) (string, error) {
	if req.Creator.FishAudioModelID == "" {
		return ErrModelNotConfigured.Error(), ErrModelNotConfigured
	}
	if strings.TrimSpace(req.Creator.MessageTemplate) == "" {
		return ErrTemplateMissing.Error(), ErrTemplateMissing
	}
	if req.Mode == ModePreview {
		return "", nil
	}
	if avail := o.ledger.CheckAvailability(req.Creator); !avail.OK {
		o.ledger.Exhausted(ctx, req.Creator)
		return avail.Reason, ledger.ErrInsufficientCredits
	}
	return "", nil
}

func (o *Orchestrator) render(req Request) string {
	return template.RenderAt(req.Creator.MessageTemplate, template.Fields{
		Name:     req.Customer.Name,
		Email:    req.Customer.Email,
		Username: req.Customer.Username,
		PlanName: req.Customer.PlanName,
	}, o.now())
}

func (o *Orchestrator) run(ctx context.Context, req Request, job *models.AudioMessage) (*Outcome, error) {
	out := &Outcome{Job: job, Script: job.PersonalizedScript}

	job.Status = models.StatusGenerating
	if err := o.stores.AudioMessages.Update(ctx, job); err != nil {
		return out, fmt.Errorf("failed to mark audio message generating: %w", err)
	}

	modelID := req.Creator.FishAudioModelID
	model, err := o.voice.GetModel(ctx, modelID)
	if err != nil {
		o.fail(ctx, job, fmt.Sprintf("Failed to check Fish Audio model: %v", err))
		return out, fmt.Errorf("failed to check voice model: %w", err)
	}
	switch model.State {
	case fishaudio.ModelTrained:
	case fishaudio.ModelFailed:
		o.fail(ctx, job, "Fish Audio model training failed. Please upload a new voice sample.")
		return out, fishaudio.ErrModelFailed
	default:
		o.fail(ctx, job, fmt.Sprintf("Fish Audio model is not ready yet (state: %s). Please wait for training to complete.", model.State))
		return out, fmt.Errorf("%w: state %s", fishaudio.ErrModelNotReady, model.State)
	}

	audio, err := o.voice.GenerateSpeech(ctx, job.PersonalizedScript, modelID, o.cfg.Format)
	if err != nil {
		o.fail(ctx, job, err.Error())
		return out, fmt.Errorf("failed to generate speech: %w", err)
	}

	completed := o.now()
	job.Status = models.StatusCompleted
	job.AudioURL = util.EncodeDataURL(o.cfg.Format.MIMEType(), audio)
	job.CompletedAt = &completed
	if err := o.stores.AudioMessages.Update(ctx, job); err != nil {
		return out, fmt.Errorf("failed to store audio: %w", err)
	}
	out.AudioURL = delivery.AudioURL(o.cfg.PublicBaseURL, job.ID)

	log.Ctx(ctx).Info().Int("bytes", len(audio)).Msg("Welcome audio generated")

	if req.Mode == ModePreview {
		o.notify(ctx, job)
		return out, nil
	}

	out.Delivery, err = o.deliver(ctx, o.deliverer, req.Creator, req.Customer, job, out.AudioURL)
	return out, err
}

// deliver sends the audio link and on confirmation charges a credit, marks
// the job sent and flags the customer.
func (o *Orchestrator) deliver(ctx context.Context, d delivery.Deliverer, creator *models.Creator, customer *models.Customer, job *models.AudioMessage, audioURL string) (delivery.Result, error) {
	defer o.notify(ctx, job)

	res, err := d.Deliver(ctx, creator, customer, delivery.WelcomeText(customer.Name, audioURL))
	if err != nil {
		o.annotate(ctx, job, fmt.Sprintf("Delivery failed: %v", err))
		return res, fmt.Errorf("failed to deliver welcome message: %w", err)
	}
	if !res.Delivered() {
		reason := res.Reason
		if reason == "" {
			reason = "Delivery skipped"
		}
		o.annotate(ctx, job, reason)
		log.Ctx(ctx).Warn().Str("reason", reason).Msg("Welcome delivery skipped, no credit charged")
		return res, nil
	}

	if _, err := o.ledger.Decrement(ctx, creator); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("creator_id", creator.ID).Msg("Failed to charge credit for delivered message")
	}

	sent := o.now()
	if !job.Status.IsDelivered() {
		job.Status = models.StatusSent
	}
	job.WhopMessageID = res.MessageID
	job.WhopChatID = res.ChannelID
	job.SentAt = &sent
	job.ErrorMessage = ""
	if err := o.stores.AudioMessages.Update(ctx, job); err != nil {
		return res, fmt.Errorf("failed to mark audio message sent: %w", err)
	}

	if !customer.FirstMessageSent {
		customer.FirstMessageSent = true
		if err := o.stores.Customers.Update(ctx, customer); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to flag first message sent")
		}
	}

	log.Ctx(ctx).Info().Str("message_id", res.MessageID).Msg("Welcome message sent")
	return res, nil
}

func (o *Orchestrator) fail(ctx context.Context, job *models.AudioMessage, reason string) {
	job.Status = models.StatusFailed
	job.ErrorMessage = reason
	if err := o.stores.AudioMessages.Update(ctx, job); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("audio_message_id", job.ID).Msg("Failed to record failed audio message")
	}
	log.Ctx(ctx).Warn().Str("audio_message_id", job.ID).Str("reason", reason).Msg("Welcome generation failed")
	o.notify(ctx, job)
}

func (o *Orchestrator) annotate(ctx context.Context, job *models.AudioMessage, reason string) {
	job.ErrorMessage = reason
	if err := o.stores.AudioMessages.Update(ctx, job); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("audio_message_id", job.ID).Msg("Failed to annotate audio message")
	}
}

func (o *Orchestrator) notify(ctx context.Context, job *models.AudioMessage) {
	for _, fn := range o.observers {
		fn(ctx, job)
	}
}

func (o *Orchestrator) jobContext(ctx context.Context, job *models.AudioMessage) context.Context {
	return logger.WithFields(ctx,
		"creator_id", job.CreatorID,
		"customer_id", job.CustomerID,
		"audio_message_id", job.ID,
	)
}
