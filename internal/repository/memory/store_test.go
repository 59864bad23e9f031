package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

func newSlot(t *testing.T, repos Repositories, doctorID uuid.UUID, start, end string) *model.AvailabilitySlot {
	t.Helper()
	slot := &model.AvailabilitySlot{DoctorID: doctorID, Date: "2024-06-01", StartTime: start, EndTime: end}
	require.NoError(t, repos.Slots.Create(context.Background(), slot))
	return slot
}

func TestSlotRepository_CreateRejectsOverlap(t *testing.T) {
	repos := NewStore().Repositories()
	doctor := uuid.New()
	newSlot(t, repos, doctor, "10:00", "10:30")

	err := repos.Slots.Create(context.Background(), &model.AvailabilitySlot{
		DoctorID: doctor, Date: "2024-06-01", StartTime: "10:15", EndTime: "10:45",
	})
	assert.ErrorIs(t, err, repository.ErrSlotOverlap)

	// Adjacent and other-doctor slots are fine.
	newSlot(t, repos, doctor, "10:30", "11:00")
	newSlot(t, repos, uuid.New(), "10:00", "10:30")
}

func TestSlotRepository_ReserveIsExclusive(t *testing.T) {
	repos := NewStore().Repositories()
	doctor := uuid.New()
	slot := newSlot(t, repos, doctor, "10:00", "10:30")

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repos.Slots.Reserve(context.Background(), slot.ID, doctor)
			if err == nil {
				atomic.AddInt32(&wins, 1)
				return
			}
			assert.ErrorIs(t, err, repository.ErrSlotUnavailable)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	_, err := repos.Slots.Reserve(context.Background(), slot.ID, uuid.New())
	assert.ErrorIs(t, err, repository.ErrSlotUnavailable)
	_, err = repos.Slots.Reserve(context.Background(), uuid.New(), doctor)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSlotRepository_ReleaseIdempotent(t *testing.T) {
	repos := NewStore().Repositories()
	doctor := uuid.New()
	slot := newSlot(t, repos, doctor, "10:00", "10:30")

	_, err := repos.Slots.Reserve(context.Background(), slot.ID, doctor)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		got, err := repos.Slots.Release(context.Background(), slot.ID)
		require.NoError(t, err)
		assert.False(t, got.IsBooked)
	}

	_, err = repos.Slots.Release(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSlotRepository_DeleteNeverRemovesBooked(t *testing.T) {
	repos := NewStore().Repositories()
	doctor := uuid.New()
	slot := newSlot(t, repos, doctor, "10:00", "10:30")
	_, err := repos.Slots.Reserve(context.Background(), slot.ID, doctor)
	require.NoError(t, err)

	assert.ErrorIs(t, repos.Slots.Delete(context.Background(), slot.ID, doctor), repository.ErrSlotUnavailable)
	assert.ErrorIs(t, repos.Slots.Delete(context.Background(), slot.ID, uuid.New()), repository.ErrNotFound)

	free := newSlot(t, repos, doctor, "11:00", "11:30")
	require.NoError(t, repos.Slots.Delete(context.Background(), free.ID, doctor))
	_, err = repos.Slots.Get(context.Background(), free.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_WithinTxRollsBack(t *testing.T) {
	store := NewStore()
	repos := store.Repositories()
	doctor := uuid.New()
	slot := newSlot(t, repos, doctor, "10:00", "10:30")

	boom := errors.New("boom")
	committed := false
	err := store.WithinTx(context.Background(), func(ctx context.Context) error {
		if _, err := repos.Slots.Reserve(ctx, slot.ID, doctor); err != nil {
			return err
		}
		appt := &model.Appointment{PatientID: uuid.New(), DoctorID: doctor, SlotID: slot.ID,
			Status: model.AppointmentStatusPendingPayment}
		if err := repos.Appointments.Create(ctx, appt); err != nil {
			return err
		}
		repository.AfterCommit(ctx, func(context.Context) { committed = true })
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, committed)

	got, err := repos.Slots.Get(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBooked)

	list, err := repos.Appointments.List(context.Background(), model.AppointmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_WithinTxRunsHooksOnCommit(t *testing.T) {
	store := NewStore()
	var order []string
	err := store.WithinTx(context.Background(), func(ctx context.Context) error {
		return store.WithinTx(ctx, func(ctx context.Context) error {
			repository.AfterCommit(ctx, func(context.Context) { order = append(order, "inner") })
			order = append(order, "work")
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"work", "inner"}, order)
}

func TestStore_CommitHooksRunOutsideTx(t *testing.T) {
	store := NewStore()
	repos := store.Repositories()
	doctor := uuid.New()
	slot := &model.AvailabilitySlot{DoctorID: doctor, Date: "2024-06-01", StartTime: "10:00", EndTime: "10:30"}

	var nested bool
	err := store.WithinTx(context.Background(), func(ctx context.Context) error {
		repository.AfterCommit(ctx, func(ctx context.Context) {
			// A failing unit of work opened from a hook rolls back on its own.
			_ = store.WithinTx(ctx, func(ctx context.Context) error {
				require.NoError(t, repos.Slots.Create(ctx, slot))
				return repository.ErrStaleState
			})
			repository.AfterCommit(ctx, func(context.Context) { nested = true })
		})
		return nil
	})
	require.NoError(t, err)
	assert.True(t, nested)

	_, err = repos.Slots.Get(context.Background(), slot.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAppointmentRepository_TransitionGuards(t *testing.T) {
	repos := NewStore().Repositories()
	doctor := uuid.New()
	slot := newSlot(t, repos, doctor, "10:00", "10:30")
	appt := &model.Appointment{PatientID: uuid.New(), DoctorID: doctor, SlotID: slot.ID,
		Status: model.AppointmentStatusPendingPayment}
	require.NoError(t, repos.Appointments.Create(context.Background(), appt))

	// A second live appointment on the same slot is rejected.
	dup := &model.Appointment{PatientID: uuid.New(), DoctorID: doctor, SlotID: slot.ID,
		Status: model.AppointmentStatusPendingPayment}
	assert.ErrorIs(t, repos.Appointments.Create(context.Background(), dup), repository.ErrDuplicate)

	got, err := repos.Appointments.Transition(context.Background(), appt.ID, &model.AppointmentTransition{
		From: []model.AppointmentStatus{model.AppointmentStatusPendingPayment},
		To:   model.AppointmentStatusConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status)

	_, err = repos.Appointments.Transition(context.Background(), appt.ID, &model.AppointmentTransition{
		From: []model.AppointmentStatus{model.AppointmentStatusPendingPayment},
		To:   model.AppointmentStatusConfirmed,
	})
	assert.ErrorIs(t, err, repository.ErrStaleState)

	_, err = repos.Appointments.Transition(context.Background(), uuid.New(), &model.AppointmentTransition{
		From: model.ActiveStatuses,
		To:   model.AppointmentStatusCompleted,
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMessageRepository_AppendOrdered(t *testing.T) {
	store := NewStore()
	repos := store.Repositories()
	doctor := uuid.New()
	slot := newSlot(t, repos, doctor, "10:00", "10:30")
	appt := &model.Appointment{PatientID: uuid.New(), DoctorID: doctor, SlotID: slot.ID,
		Status: model.AppointmentStatusConfirmed}
	require.NoError(t, repos.Appointments.Create(context.Background(), appt))

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, repos.Messages.Append(context.Background(), &model.ChatMessage{
			AppointmentID: appt.ID, SenderID: doctor, Text: text,
		}))
	}

	msgs, err := repos.Messages.List(context.Background(), appt.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, msgs[i].Text)
		if i > 0 {
			assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
			assert.Greater(t, msgs[i].Seq, msgs[i-1].Seq)
		}
	}

	err = repos.Messages.Append(context.Background(), &model.ChatMessage{AppointmentID: uuid.New(), SenderID: doctor, Text: "x"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
