package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store/memory"
)

func newCreator(t *testing.T, st *memory.CreatorStore, credits int, plan models.PlanType) *models.Creator {
	t.Helper()
	c := &models.Creator{
		WhopUserID:         "user_1",
		WhopCompanyID:      "biz_" + string(plan),
		Credits:            credits,
		PlanType:           plan,
		IsAutomationActive: true,
	}
	require.NoError(t, st.Create(context.Background(), c))
	return c
}

func TestLedger_CheckAvailability(t *testing.T) {
	l := New(memory.NewCreatorStore())

	tests := []struct {
		name    string
		creator models.Creator
		ok      bool
	}{
		{name: "metered with balance", creator: models.Creator{Credits: 1, PlanType: models.PlanFree}, ok: true},
		{name: "metered at zero", creator: models.Creator{Credits: 0, PlanType: models.PlanFree}, ok: false},
		{name: "metered negative", creator: models.Creator{Credits: -2, PlanType: models.PlanTier200}, ok: false},
		{name: "unlimited at zero", creator: models.Creator{Credits: 0, PlanType: models.PlanUnlimited}, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.CheckAvailability(&tt.creator)
			require.Equal(t, tt.ok, got.OK)
			if !tt.ok {
				require.Equal(t, InsufficientCreditsReason, got.Reason)
			}
		})
	}
}

func TestLedger_Decrement(t *testing.T) {
	t.Run("metered creator is charged", func(t *testing.T) {
		st := memory.NewCreatorStore()
		l := New(st)
		creator := newCreator(t, st, 3, models.PlanFree)

		var events []Event
		l.Subscribe(func(_ context.Context, ev Event) { events = append(events, ev) })

		remaining, err := l.Decrement(context.Background(), creator)
		require.NoError(t, err)
		require.Equal(t, 2, remaining)
		require.Equal(t, 2, creator.Credits)
		require.Len(t, events, 1)
		require.Equal(t, EventCreditConsumed, events[0].Type)
	})

	t.Run("unlimited creator is never charged", func(t *testing.T) {
		st := memory.NewCreatorStore()
		l := New(st)
		creator := newCreator(t, st, 0, models.PlanUnlimited)

		l.Subscribe(func(context.Context, Event) { t.Fatal("unexpected event") })

		remaining, err := l.Decrement(context.Background(), creator)
		require.NoError(t, err)
		require.Equal(t, 0, remaining)

		stored, err := st.Get(context.Background(), creator.ID)
		require.NoError(t, err)
		require.Equal(t, 0, stored.Credits)
	})

	t.Run("last credit publishes exhaustion and pauses", func(t *testing.T) {
		st := memory.NewCreatorStore()
		l := New(st)
		creator := newCreator(t, st, 1, models.PlanFree)

		var paused []string
		l.Subscribe(NewAutoPauser(st, func(id string) { paused = append(paused, id) }).Handle)

		remaining, err := l.Decrement(context.Background(), creator)
		require.NoError(t, err)
		require.Equal(t, 0, remaining)
		require.Equal(t, []string{creator.ID}, paused)

		stored, err := st.Get(context.Background(), creator.ID)
		require.NoError(t, err)
		require.False(t, stored.IsAutomationActive)
	})

	t.Run("missing creator", func(t *testing.T) {
		l := New(memory.NewCreatorStore())
		_, err := l.Decrement(context.Background(), &models.Creator{ID: "nope", PlanType: models.PlanFree})
		require.Error(t, err)
	})
}

func TestAutoPauser_ignoresOtherEvents(t *testing.T) {
	st := memory.NewCreatorStore()
	creator := newCreator(t, st, 5, models.PlanFree)

	p := NewAutoPauser(st, nil)
	p.Handle(context.Background(), Event{Type: EventCreditConsumed, CreatorID: creator.ID})

	stored, err := st.Get(context.Background(), creator.ID)
	require.NoError(t, err)
	require.True(t, stored.IsAutomationActive)
}

func TestLedger_Exhausted(t *testing.T) {
	st := memory.NewCreatorStore()
	l := New(st)
	creator := newCreator(t, st, 0, models.PlanFree)
	l.Subscribe(NewAutoPauser(st, nil).Handle)

	l.Exhausted(context.Background(), creator)

	stored, err := st.Get(context.Background(), creator.ID)
	require.NoError(t, err)
	require.False(t, stored.IsAutomationActive)
}

func TestLedger_ProfileUpdateKeepsCharge(t *testing.T) {
	st := memory.NewCreatorStore()
	l := New(st)
	l.Subscribe(NewAutoPauser(st, nil).Handle)
	creator := newCreator(t, st, 1, models.PlanFree)

	snapshot, err := st.Get(context.Background(), creator.ID)
	require.NoError(t, err)

	charged, err := st.Get(context.Background(), creator.ID)
	require.NoError(t, err)
	_, err = l.Decrement(context.Background(), charged)
	require.NoError(t, err)

	snapshot.MessageTemplate = "Welcome {name}"
	require.NoError(t, st.Update(context.Background(), snapshot))

	stored, err := st.Get(context.Background(), creator.ID)
	require.NoError(t, err)
	require.Equal(t, "Welcome {name}", stored.MessageTemplate)
	require.Equal(t, 0, stored.Credits)
	require.False(t, stored.IsAutomationActive)
	require.Equal(t, 0, snapshot.Credits)
	require.False(t, snapshot.IsAutomationActive)
}
