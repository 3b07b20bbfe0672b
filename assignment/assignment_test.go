package assignment

import (
	"context"
	"testing"
	"time"

	"atende/config"
	"atende/database"
	"atende/events"
	"atende/model"
	"atende/testutil"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db   *sqlx.DB
	svc  *Service
	ring *events.Ring
	now  time.Time
}

func newFixture(t *testing.T, maxConcurrent int) *fixture {
	t.Helper()
	prev := config.Replace(config.Config{MaxConcurrentTickets: maxConcurrent, PresenceTimeoutMinutes: 5})
	t.Cleanup(func() { config.Replace(prev) })

	f := &fixture{db: testutil.NewDB(t), ring: events.NewRing(100)}
	f.now = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	t.Cleanup(database.SetClock(func() time.Time { return f.now }))
	f.svc = NewService(f.db, f.ring)
	return f
}

func (f *fixture) tick() { f.now = f.now.Add(time.Minute) }

func (f *fixture) attendant(t *testing.T, id, name string, online bool) {
	t.Helper()
	a := &model.Attendant{ID: id, Name: name, Email: id + "@example.com", Active: true}
	require.NoError(t, database.CreateAttendant(f.db, a))
	if online {
		tx, err := f.db.Beginx()
		require.NoError(t, err)
		require.NoError(t, database.SetAttendantOnlineInTx(tx, id, true))
		require.NoError(t, tx.Commit())
	}
}

func (f *fixture) waitingTicket(t *testing.T, customer string) *model.Ticket {
	t.Helper()
	f.tick()
	tk := &model.Ticket{Channel: "whatsapp", CustomerName: customer, Status: model.StatusWaiting}
	tx, err := f.db.Beginx()
	require.NoError(t, err)
	require.NoError(t, database.CreateTicketInTx(tx, tk))
	require.NoError(t, tx.Commit())
	return tk
}

func TestRoundRobinRotatesAmongEqualLoad(t *testing.T) {
	f := newFixture(t, 5)
	f.attendant(t, "a1", "Ana", true)
	f.attendant(t, "a2", "Bruno", true)
	f.attendant(t, "a3", "Carla", false)

	var got []string
	for _, c := range []string{"c1", "c2", "c3", "c4"} {
		tk := f.waitingTicket(t, c)
		f.tick()
		assigned, err := f.svc.AssignNext(context.Background(), tk.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusInService, assigned.Status)
		got = append(got, assigned.AttendantID)
	}
	// 同数のときは未割り当て → 最終割り当てが古い順
	assert.Equal(t, []string{"a1", "a2", "a1", "a2"}, got)

	assert.Equal(t, []string{
		events.TypeTicketAssigned, events.TypeTicketAssigned,
		events.TypeTicketAssigned, events.TypeTicketAssigned,
	}, f.ring.Types())
}

func TestRoundRobinRotatesWithinSameSecond(t *testing.T) {
	f := newFixture(t, 5)
	f.attendant(t, "a1", "Ana", true)
	f.attendant(t, "a2", "Bruno", true)

	// 時計を止めたまま割り当て → 完了を繰り返しても交互に回る
	var got []string
	for _, c := range []string{"c1", "c2", "c3", "c4"} {
		tk := &model.Ticket{Channel: "whatsapp", CustomerName: c, Status: model.StatusWaiting}
		tx, err := f.db.Beginx()
		require.NoError(t, err)
		require.NoError(t, database.CreateTicketInTx(tx, tk))
		require.NoError(t, tx.Commit())

		assigned, err := f.svc.AssignNext(context.Background(), tk.ID)
		require.NoError(t, err)
		got = append(got, assigned.AttendantID)

		tx, err = f.db.Beginx()
		require.NoError(t, err)
		assigned.Status = model.StatusFinished
		assigned.FinishedAt = database.Now()
		require.NoError(t, database.UpdateTicketStateInTx(tx, assigned))
		require.NoError(t, tx.Commit())
	}
	assert.Equal(t, []string{"a1", "a2", "a1", "a2"}, got)
}

func TestPickPrefersFewestOpenTickets(t *testing.T) {
	f := newFixture(t, 5)
	f.attendant(t, "a1", "Ana", true)
	tk := f.waitingTicket(t, "c1")
	_, err := f.svc.AssignNext(context.Background(), tk.ID)
	require.NoError(t, err)

	// a2 は後から在席したが、対応中 0 件なので優先される
	f.attendant(t, "a2", "Bruno", true)
	tx, err := f.db.Beginx()
	require.NoError(t, err)
	defer tx.Rollback()
	picked, err := PickAttendant(tx, 5)
	require.NoError(t, err)
	assert.Equal(t, "a2", picked.ID)
}

func TestCapacityAndNoAttendant(t *testing.T) {
	f := newFixture(t, 1)
	f.attendant(t, "a1", "Ana", true)

	t1 := f.waitingTicket(t, "c1")
	t2 := f.waitingTicket(t, "c2")
	_, err := f.svc.AssignNext(context.Background(), t1.ID)
	require.NoError(t, err)

	_, err = f.svc.AssignNext(context.Background(), t2.ID)
	assert.ErrorIs(t, err, ErrNoAttendantAvailable)

	_, err = f.svc.AssignNext(context.Background(), t1.ID)
	assert.ErrorIs(t, err, ErrNotWaiting)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = f.svc.AssignNext(context.Background(), "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestDrainQueueAssignsOldestFirst(t *testing.T) {
	f := newFixture(t, 1)
	t1 := f.waitingTicket(t, "c1")
	t2 := f.waitingTicket(t, "c2")
	t3 := f.waitingTicket(t, "c3")

	n, err := f.svc.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.attendant(t, "a1", "Ana", true)
	f.attendant(t, "a2", "Bruno", true)
	n, err = f.svc.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{t1.ID, t2.ID} {
		tk, err := database.GetTicketByID(f.db, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusInService, tk.Status)
	}
	tk3, err := database.GetTicketByID(f.db, t3.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, tk3.Status)
}

func TestGoingOfflineRequeuesAndRedistributes(t *testing.T) {
	f := newFixture(t, 5)
	f.attendant(t, "a1", "Ana", true)
	tk := f.waitingTicket(t, "c1")
	_, err := f.svc.AssignNext(context.Background(), tk.ID)
	require.NoError(t, err)

	f.attendant(t, "a2", "Bruno", true)
	requeued, err := f.svc.SetOnline(context.Background(), "a1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{tk.ID}, requeued)

	got, err := database.GetTicketByID(f.db, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInService, got.Status)
	assert.Equal(t, "a2", got.AttendantID)

	evs, err := database.GetTicketEvents(f.db, tk.ID)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, "aguardando", evs[1].ToStatus)
	assert.Equal(t, "attendant went offline", evs[1].Note)

	assert.Contains(t, f.ring.Types(), events.TypeAttendantPresence)
}

func TestGoingOnlineDrainsQueue(t *testing.T) {
	f := newFixture(t, 5)
	f.attendant(t, "a1", "Ana", false)
	tk := f.waitingTicket(t, "c1")

	_, err := f.svc.SetOnline(context.Background(), "a1", true)
	require.NoError(t, err)

	got, err := database.GetTicketByID(f.db, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AttendantID)

	_, err = f.svc.SetOnline(context.Background(), "missing", true)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestAssignToRespectsActiveFlag(t *testing.T) {
	f := newFixture(t, 1)
	f.attendant(t, "a1", "Ana", false)
	tk := f.waitingTicket(t, "c1")

	got, err := f.svc.AssignTo(context.Background(), tk.ID, "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AttendantID)

	inactive := &model.Attendant{ID: "a9", Name: "Zeca", Email: "z@example.com", Active: false}
	require.NoError(t, database.CreateAttendant(f.db, inactive))
	tk2 := f.waitingTicket(t, "c2")
	_, err = f.svc.AssignTo(context.Background(), tk2.ID, "a9")
	assert.ErrorIs(t, err, ErrAttendantInactive)
}

func TestRemoveAttendantRequeues(t *testing.T) {
	f := newFixture(t, 5)
	f.attendant(t, "a1", "Ana", true)
	tk := f.waitingTicket(t, "c1")
	_, err := f.svc.AssignNext(context.Background(), tk.ID)
	require.NoError(t, err)

	requeued, err := f.svc.RemoveAttendant(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{tk.ID}, requeued)

	got, err := database.GetTicketByID(f.db, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, got.Status)
	assert.Empty(t, got.AttendantID)

	_, err = database.GetAttendantByID(f.db, "a1")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestSweepStaleMarksOffline(t *testing.T) {
	f := newFixture(t, 5)
	f.attendant(t, "a1", "Ana", true)
	f.now = f.now.Add(10 * time.Minute)
	f.attendant(t, "a2", "Bruno", true)

	n, err := f.svc.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a1, err := database.GetAttendantByID(f.db, "a1")
	require.NoError(t, err)
	assert.False(t, a1.Online)
	a2, err := database.GetAttendantByID(f.db, "a2")
	require.NoError(t, err)
	assert.True(t, a2.Online)
}

func TestSchedulerLifecycle(t *testing.T) {
	f := newFixture(t, 5)
	s, err := NewScheduler(f.svc, time.Hour)
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
