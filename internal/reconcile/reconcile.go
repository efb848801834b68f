// Package reconcile corrects a creator's local plan and credits against the
// memberships Whop reports for the operator.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/plans"
	"github.com/wolfeidau/whopvoice/internal/store"
	"github.com/wolfeidau/whopvoice/internal/whop"
)

// MembershipLister is the subset of the Whop client the reconciler needs.
type MembershipLister interface {
	ListMemberships(ctx context.Context, q whop.MembershipQuery) ([]whop.Membership, error)
}

// Result reports what a reconciliation found.
type Result struct {
	// IsCancelled is true when the operator has no valid subscription left, or
	// the one in force is scheduled to end.
	IsCancelled bool
	// DidChangePlan is true when the local plan tier was rewritten.
	DidChangePlan bool
}

// Change describes a plan rewrite, passed to the change hook.
type Change struct {
	CreatorID string
	From      models.PlanType
	To        models.PlanType
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides time.Now for purchase timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithOnChange registers a hook that runs after a plan rewrite is persisted.
func WithOnChange(fn func(ctx context.Context, c Change)) Option {
	return func(r *Reconciler) {
		r.onChange = fn
	}
}

// Reconciler pulls subscription state from Whop and applies it locally.
type Reconciler struct {
	memberships MembershipLister
	creators    store.CreatorStore
	catalog     *plans.Catalog
	now         func() time.Time
	onChange    func(ctx context.Context, c Change)
}

// New creates a reconciler.
func New(memberships MembershipLister, creators store.CreatorStore, catalog *plans.Catalog, opts ...Option) *Reconciler {
	r := &Reconciler{
		memberships: memberships,
		creators:    creators,
		catalog:     catalog,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile brings creator in line with Whop. The creator is updated in place
// and persisted when anything changes.
//
// Failing to reach Whop is not an error: the creator is left untouched and
// the previous state is treated as still valid. Only store failures are
// returned.
func (r *Reconciler) Reconcile(ctx context.Context, creator *models.Creator) (Result, error) {
	logger := log.Ctx(ctx).With().Str("creator_id", creator.ID).Logger()

	planIDs := r.catalog.WhopPlanIDs()
	if len(planIDs) == 0 {
		return Result{}, nil
	}

	memberships, err := r.memberships.ListMemberships(ctx, whop.MembershipQuery{
		UserIDs: []string{creator.WhopUserID},
		PlanIDs: planIDs,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Membership lookup failed, keeping current plan")
		return Result{}, nil
	}

	best, ok := pick(memberships, r.catalog)
	if !ok {
		return r.downgrade(ctx, creator)
	}

	plan, _ := r.catalog.ForWhopPlan(best.Plan.ID)
	res := Result{IsCancelled: best.CancelAtPeriodEnd}

	if plan.Tier == creator.PlanType {
		if creator.WhopPlanID == best.Plan.ID {
			return res, nil
		}
		err := r.apply(ctx, creator, store.PlanChange{
			PlanType:         creator.PlanType,
			WhopPlanID:       best.Plan.ID,
			LastPurchaseDate: creator.LastPurchaseDate,
		})
		if err != nil {
			return Result{}, fmt.Errorf("failed to update plan reference: %w", err)
		}
		return res, nil
	}

	from := creator.PlanType
	now := r.now()
	change := store.PlanChange{
		PlanType:         plan.Tier,
		WhopPlanID:       best.Plan.ID,
		LastPurchaseDate: &now,
	}
	if !plan.Unlimited {
		credits := plan.Credits
		change.Credits = &credits
	}
	if err := r.apply(ctx, creator, change); err != nil {
		return Result{}, fmt.Errorf("failed to apply plan %s: %w", plan.Tier, err)
	}

	logger.Info().
		Str("from", string(from)).
		Str("to", string(plan.Tier)).
		Str("membership_id", best.ID).
		Msg("Plan updated from Whop membership")

	res.DidChangePlan = true
	r.changed(ctx, Change{CreatorID: creator.ID, From: from, To: plan.Tier})
	return res, nil
}

func (r *Reconciler) downgrade(ctx context.Context, creator *models.Creator) (Result, error) {
	if creator.PlanType == models.PlanFree {
		return Result{}, nil
	}

	from := creator.PlanType
	free := r.catalog.Free()
	credits := free.Credits
	err := r.apply(ctx, creator, store.PlanChange{
		PlanType:         models.PlanFree,
		LastPurchaseDate: creator.LastPurchaseDate,
		Credits:          &credits,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to downgrade creator: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("creator_id", creator.ID).
		Str("from", string(from)).
		Int("credits", free.Credits).
		Msg("No valid membership, downgraded to free")

	r.changed(ctx, Change{CreatorID: creator.ID, From: from, To: models.PlanFree})
	return Result{IsCancelled: true, DidChangePlan: true}, nil
}

// apply stores the change and refreshes creator from the stored record.
func (r *Reconciler) apply(ctx context.Context, creator *models.Creator, change store.PlanChange) error {
	updated, err := r.creators.ApplyPlan(ctx, creator.ID, change)
	if err != nil {
		return err
	}
	*creator = *updated
	return nil
}

func (r *Reconciler) changed(ctx context.Context, c Change) {
	if r.onChange != nil {
		r.onChange(ctx, c)
	}
}

// pick chooses the membership in force. Only memberships on a known plan
// with an active or trialing status count. Precedence is active without a
// pending cancellation, then active with one, then trialing, then whatever
// matched first.
func pick(memberships []whop.Membership, catalog *plans.Catalog) (whop.Membership, bool) {
	var (
		best     whop.Membership
		bestRank = -1
	)
	for _, m := range memberships {
		if _, ok := catalog.ForWhopPlan(m.Plan.ID); !ok {
			continue
		}
		rank := precedence(m)
		if rank < 0 {
			continue
		}
		if rank > bestRank {
			best, bestRank = m, rank
		}
	}
	return best, bestRank >= 0
}

func precedence(m whop.Membership) int {
	switch m.Status {
	case whop.MembershipActive:
		if m.CancelAtPeriodEnd {
			return 2
		}
		return 3
	case whop.MembershipTrialing:
		return 1
	case whop.MembershipPastDue:
		return 0
	}
	return -1
}
