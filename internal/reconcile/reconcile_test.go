package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/plans"
	"github.com/wolfeidau/whopvoice/internal/store/memory"
	"github.com/wolfeidau/whopvoice/internal/whop"
)

type fakeLister struct {
	memberships []whop.Membership
	err         error
	calls       int
	lastQuery   whop.MembershipQuery
}

func (f *fakeLister) ListMemberships(_ context.Context, q whop.MembershipQuery) ([]whop.Membership, error) {
	f.calls++
	f.lastQuery = q
	return f.memberships, f.err
}

func membership(id, planID string, status whop.MembershipStatus, cancelling bool) whop.Membership {
	m := whop.Membership{ID: id, Status: status, CancelAtPeriodEnd: cancelling}
	m.Plan.ID = planID
	return m
}

func setup(t *testing.T, lister MembershipLister, plan models.PlanType, credits int) (*Reconciler, *memory.CreatorStore, *models.Creator) {
	t.Helper()
	creators := memory.NewCreatorStore()
	c := &models.Creator{
		WhopUserID:    "user_1",
		WhopCompanyID: "biz_1",
		PlanType:      plan,
		Credits:       credits,
	}
	if plan != models.PlanFree {
		c.WhopPlanID = "plan_" + string(plan)
	}
	require.NoError(t, creators.Create(context.Background(), c))

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return New(lister, creators, plans.Default(), WithClock(func() time.Time { return fixed })), creators, c
}

func TestReconcile_QueriesKnownPlans(t *testing.T) {
	lister := &fakeLister{}
	r, _, c := setup(t, lister, models.PlanFree, 5)

	_, err := r.Reconcile(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, []string{"user_1"}, lister.lastQuery.UserIDs)
	require.ElementsMatch(t, []string{"plan_tier200", "plan_unlimited"}, lister.lastQuery.PlanIDs)
}

func TestReconcile_Downgrade(t *testing.T) {
	lister := &fakeLister{memberships: []whop.Membership{
		membership("mem_1", "plan_tier200", whop.MembershipCanceled, false),
	}}
	var changes []Change
	creators := memory.NewCreatorStore()
	c := &models.Creator{WhopUserID: "user_1", WhopCompanyID: "biz_1", PlanType: models.PlanTier200, Credits: 150, WhopPlanID: "plan_tier200"}
	require.NoError(t, creators.Create(context.Background(), c))
	r := New(lister, creators, plans.Default(), WithOnChange(func(_ context.Context, ch Change) {
		changes = append(changes, ch)
	}))

	res, err := r.Reconcile(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, Result{IsCancelled: true, DidChangePlan: true}, res)
	require.Equal(t, models.PlanFree, c.PlanType)
	require.Equal(t, 20, c.Credits)
	require.Empty(t, c.WhopPlanID)

	stored, err := creators.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlanFree, stored.PlanType)
	require.Equal(t, 20, stored.Credits)

	// a second pass is a no-op
	res, err = r.Reconcile(context.Background(), stored)
	require.NoError(t, err)
	require.False(t, res.DidChangePlan)
	require.Equal(t, 20, stored.Credits)
	require.Len(t, changes, 1)
	require.Equal(t, Change{CreatorID: c.ID, From: models.PlanTier200, To: models.PlanFree}, changes[0])
}

func TestReconcile_Upgrade(t *testing.T) {
	lister := &fakeLister{memberships: []whop.Membership{
		membership("mem_1", "plan_tier200", whop.MembershipActive, false),
	}}
	r, creators, c := setup(t, lister, models.PlanFree, 3)

	res, err := r.Reconcile(context.Background(), c)
	require.NoError(t, err)
	require.True(t, res.DidChangePlan)
	require.False(t, res.IsCancelled)

	stored, err := creators.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlanTier200, stored.PlanType)
	require.Equal(t, 200, stored.Credits)
	require.Equal(t, "plan_tier200", stored.WhopPlanID)
	require.NotNil(t, stored.LastPurchaseDate)

	res, err = r.Reconcile(context.Background(), stored)
	require.NoError(t, err)
	require.False(t, res.DidChangePlan)
}

func TestReconcile_UnlimitedKeepsBalance(t *testing.T) {
	lister := &fakeLister{memberships: []whop.Membership{
		membership("mem_1", "plan_unlimited", whop.MembershipActive, false),
	}}
	r, _, c := setup(t, lister, models.PlanFree, 7)

	res, err := r.Reconcile(context.Background(), c)
	require.NoError(t, err)
	require.True(t, res.DidChangePlan)
	require.Equal(t, models.PlanUnlimited, c.PlanType)
	require.Equal(t, 7, c.Credits)
}

func TestReconcile_Precedence(t *testing.T) {
	tests := []struct {
		name        string
		memberships []whop.Membership
		wantTier    models.PlanType
		cancelled   bool
	}{
		{
			name: "active beats cancelling",
			memberships: []whop.Membership{
				membership("m1", "plan_unlimited", whop.MembershipActive, true),
				membership("m2", "plan_tier200", whop.MembershipActive, false),
			},
			wantTier: models.PlanTier200,
		},
		{
			name: "cancelling beats trialing",
			memberships: []whop.Membership{
				membership("m1", "plan_unlimited", whop.MembershipTrialing, false),
				membership("m2", "plan_tier200", whop.MembershipActive, true),
			},
			wantTier:  models.PlanTier200,
			cancelled: true,
		},
		{
			name: "trialing beats past due",
			memberships: []whop.Membership{
				membership("m1", "plan_tier200", whop.MembershipPastDue, false),
				membership("m2", "plan_unlimited", whop.MembershipTrialing, false),
			},
			wantTier: models.PlanUnlimited,
		},
		{
			name: "first found among equals",
			memberships: []whop.Membership{
				membership("m1", "plan_unlimited", whop.MembershipActive, false),
				membership("m2", "plan_tier200", whop.MembershipActive, false),
			},
			wantTier: models.PlanUnlimited,
		},
		{
			name: "unknown plans ignored",
			memberships: []whop.Membership{
				membership("m1", "plan_other", whop.MembershipActive, false),
				membership("m2", "plan_tier200", whop.MembershipTrialing, false),
			},
			wantTier: models.PlanTier200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, c := setup(t, &fakeLister{memberships: tt.memberships}, models.PlanFree, 0)

			res, err := r.Reconcile(context.Background(), c)
			require.NoError(t, err)
			require.Equal(t, tt.wantTier, c.PlanType)
			require.Equal(t, tt.cancelled, res.IsCancelled)
		})
	}
}

func TestReconcile_FailOpen(t *testing.T) {
	lister := &fakeLister{err: errors.New("whop unavailable")}
	r, creators, c := setup(t, lister, models.PlanTier200, 42)

	before, err := creators.Get(context.Background(), c.ID)
	require.NoError(t, err)
	snapshot := *c

	res, err := r.Reconcile(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, Result{}, res)
	require.Equal(t, snapshot, *c)

	after, err := creators.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestReconcile_FreeWithoutMembershipIsNoop(t *testing.T) {
	r, creators, c := setup(t, &fakeLister{}, models.PlanFree, 11)

	before, err := creators.Get(context.Background(), c.ID)
	require.NoError(t, err)

	res, err := r.Reconcile(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, Result{}, res)

	after, err := creators.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestReconcile_KeepsChargeTakenSinceLoad(t *testing.T) {
	lister := &fakeLister{memberships: []whop.Membership{
		membership("mem_1", "plan_unlimited", whop.MembershipActive, false),
	}}
	r, creators, c := setup(t, lister, models.PlanFree, 7)

	_, err := creators.DecrementCredits(context.Background(), c.ID)
	require.NoError(t, err)

	_, err = r.Reconcile(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, 6, c.Credits)

	stored, err := creators.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlanUnlimited, stored.PlanType)
	require.Equal(t, 6, stored.Credits)
}
