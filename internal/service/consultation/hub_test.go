package consultation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository/memory"
	"github.com/jwalitptl/consult-api/internal/service/appointment"
	"github.com/jwalitptl/consult-api/internal/service/chat"
	"github.com/jwalitptl/consult-api/internal/service/notification"
	"github.com/jwalitptl/consult-api/internal/service/slot"
	"github.com/jwalitptl/consult-api/pkg/cache"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

type fakeConn struct {
	caller model.Caller
	mu     sync.Mutex
	events []Event
	full   bool
}

func (c *fakeConn) Caller() model.Caller { return c.caller }

func (c *fakeConn) Deliver(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.events = append(c.events, ev)
	return true
}

func (c *fakeConn) named(name string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	appointments *appointment.Service
	chat         *chat.Service
	hub          *Hub
	appt         *model.Appointment
	doctor       model.Caller
	patient      model.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.Repositories()
	m := metrics.NewNop()
	slots := slot.NewService(repos.Slots, cache.NewNoop(), time.Minute, m, zerolog.Nop())
	appts := appointment.NewService(store, repos.Appointments, repos.Payments, repos.Users, slots, notification.NewNop(), m, zerolog.Nop())
	chatSvc := chat.NewService(repos.Messages, repos.Users, appts, zerolog.Nop())

	f := &fixture{
		appointments: appts,
		chat:         chatSvc,
		hub:          NewHub(appts, chatSvc, time.Minute, m, zerolog.Nop()),
		doctor:       model.Caller{ID: uuid.New(), Role: model.RoleDoctor},
		patient:      model.Caller{ID: uuid.New(), Role: model.RolePatient},
	}
	store.PutUser(model.User{ID: f.doctor.ID, Name: "Dr. Rahman", Email: "rahman@example.com", Role: model.RoleDoctor})
	store.PutUser(model.User{ID: f.patient.ID, Name: "Ayesha", Email: "ayesha@example.com", Role: model.RolePatient})

	s, err := slots.Create(ctx, f.doctor.ID, &model.CreateSlotRequest{Date: "2024-06-01", StartTime: "10:00", EndTime: "10:30"})
	require.NoError(t, err)
	f.appt, err = appts.Book(ctx, f.patient, &model.BookAppointmentRequest{DoctorID: f.doctor.ID, SlotID: s.ID})
	require.NoError(t, err)
	return f
}

func (f *fixture) confirm(t *testing.T) {
	t.Helper()
	_, err := f.appointments.MarkPaid(context.Background(), f.appt.ID)
	require.NoError(t, err)
}

func (f *fixture) join(t *testing.T, caller model.Caller) *fakeConn {
	t.Helper()
	c := &fakeConn{caller: caller}
	require.NoError(t, f.hub.Join(context.Background(), c, f.appt.ID))
	return c
}

func (f *fixture) text(s string) *model.SendMessageRequest {
	return &model.SendMessageRequest{AppointmentID: f.appt.ID, Text: s}
}

func TestJoin_OnlyParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stranger := &fakeConn{caller: model.Caller{ID: uuid.New(), Role: model.RolePatient}}
	err := f.hub.Join(ctx, stranger, f.appt.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrUnauthorized))

	err = f.hub.Join(ctx, stranger, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))

	// Joining does not depend on status.
	c := f.join(t, f.patient)
	require.Len(t, c.named(EventJoinedRoom), 1)
	assert.Equal(t, RoomPayload{AppointmentID: f.appt.ID}, c.named(EventJoinedRoom)[0].Data)
	assert.Equal(t, 1, f.hub.RoomSize(f.appt.ID))
}

func TestSend_RequiresJoinAndActiveStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	loose := &fakeConn{caller: f.patient}
	_, err := f.hub.Send(ctx, loose, f.text("hello"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	c := f.join(t, f.patient)
	_, err = f.hub.Send(ctx, c, f.text("hello"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidState))

	f.confirm(t)
	_, err = f.hub.Send(ctx, c, &model.SendMessageRequest{AppointmentID: f.appt.ID})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	view, err := f.hub.Send(ctx, c, f.text("hello"))
	require.NoError(t, err)
	assert.Equal(t, "Ayesha", view.Sender.Name)
	assert.Equal(t, model.RolePatient, view.Sender.Role)
}

func TestSend_BroadcastsToEveryMemberIncludingSender(t *testing.T) {
	f := newFixture(t)
	f.confirm(t)
	ctx := context.Background()

	patientPhone := f.join(t, f.patient)
	patientLaptop := f.join(t, f.patient)
	doctor := f.join(t, f.doctor)

	_, err := f.hub.Send(ctx, patientPhone, f.text("hi doctor"))
	require.NoError(t, err)

	for _, c := range []*fakeConn{patientPhone, patientLaptop, doctor} {
		got := c.named(EventReceiveMessage)
		require.Len(t, got, 1)
		view := got[0].Data.(*model.MessageView)
		assert.Equal(t, "hi doctor", view.Text)
		assert.Equal(t, f.patient.ID, view.SenderID)
	}
}

func TestSend_BroadcastOrderMatchesLog(t *testing.T) {
	f := newFixture(t)
	f.confirm(t)
	ctx := context.Background()

	patient := f.join(t, f.patient)
	doctor := f.join(t, f.doctor)
	observer := f.join(t, f.doctor)

	var wg sync.WaitGroup
	for i, c := range []*fakeConn{patient, doctor} {
		wg.Add(1)
		go func(i int, c *fakeConn) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := f.hub.Send(ctx, c, f.text(fmt.Sprintf("%d-%d", i, j)))
				assert.NoError(t, err)
			}
		}(i, c)
	}
	wg.Wait()

	history, err := f.chat.History(ctx, f.patient, f.appt.ID)
	require.NoError(t, err)
	received := observer.named(EventReceiveMessage)
	require.Len(t, received, len(history))
	require.Len(t, history, 40)

	lastBySender := map[uuid.UUID]int{}
	for i, msg := range history {
		view := received[i].Data.(*model.MessageView)
		assert.Equal(t, msg.ID, view.ID)
		assert.Equal(t, msg.Text, view.Text)
		if i > 0 {
			assert.False(t, msg.CreatedAt.Before(history[i-1].CreatedAt))
		}

		var sender, seq int
		_, err := fmt.Sscanf(msg.Text, "%d-%d", &sender, &seq)
		require.NoError(t, err)
		if prev, ok := lastBySender[msg.SenderID]; ok {
			assert.Greater(t, seq, prev)
		}
		lastBySender[msg.SenderID] = seq
	}
}

func TestTyping_SkipsSender(t *testing.T) {
	f := newFixture(t)
	patient := f.join(t, f.patient)
	patientOther := f.join(t, f.patient)
	doctor := f.join(t, f.doctor)

	require.NoError(t, f.hub.Typing(patient, f.appt.ID, true))
	require.NoError(t, f.hub.Typing(patient, f.appt.ID, false))

	assert.Empty(t, patient.named(EventUserTyping))
	assert.Empty(t, patientOther.named(EventUserTyping))
	require.Len(t, doctor.named(EventUserTyping), 1)
	require.Len(t, doctor.named(EventUserStopTyping), 1)
	assert.Equal(t, PresencePayload{AppointmentID: f.appt.ID, UserID: f.patient.ID}, doctor.named(EventUserTyping)[0].Data)

	loose := &fakeConn{caller: f.doctor}
	assert.Error(t, f.hub.Typing(loose, f.appt.ID, true))
}

func TestEndConsultation_ClosesRoomToSends(t *testing.T) {
	f := newFixture(t)
	f.confirm(t)
	ctx := context.Background()
	patient := f.join(t, f.patient)
	doctor := f.join(t, f.doctor)

	_, err := f.hub.Send(ctx, patient, f.text("before"))
	require.NoError(t, err)

	_, err = f.appointments.EndConsultation(ctx, f.doctor, f.appt.ID)
	require.NoError(t, err)
	f.hub.CloseRoom(f.appt.ID)

	assert.Len(t, patient.named(EventConsultationEnded), 1)
	assert.Len(t, doctor.named(EventConsultationEnded), 1)

	_, err = f.hub.Send(ctx, doctor, f.text("after"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidState))

	history, err := f.chat.History(ctx, f.doctor, f.appt.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "before", history[0].Text)
}

func TestDisconnect_RemovesMembership(t *testing.T) {
	f := newFixture(t)
	f.confirm(t)
	patient := f.join(t, f.patient)
	doctor := f.join(t, f.doctor)
	assert.Equal(t, 2, f.hub.RoomSize(f.appt.ID))

	f.hub.Disconnect(patient)
	assert.Equal(t, 1, f.hub.RoomSize(f.appt.ID))

	_, err := f.hub.Send(context.Background(), doctor, f.text("still here?"))
	require.NoError(t, err)
	assert.Empty(t, patient.named(EventReceiveMessage))

	f.hub.Leave(doctor, f.appt.ID)
	assert.Equal(t, 0, f.hub.RoomSize(f.appt.ID))
}

func TestSend_PersistsEvenWhenPeerIsSlow(t *testing.T) {
	f := newFixture(t)
	f.confirm(t)
	patient := f.join(t, f.patient)
	doctor := f.join(t, f.doctor)
	doctor.full = true

	_, err := f.hub.Send(context.Background(), patient, f.text("queued"))
	require.NoError(t, err)

	history, err := f.chat.History(context.Background(), f.doctor, f.appt.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHandle_ErrorsBecomeEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := &fakeConn{caller: f.patient}

	f.hub.Handle(ctx, c, "dance", json.RawMessage(`{}`))
	f.hub.Handle(ctx, c, EventJoinRoom, json.RawMessage(`{"appointment_id":`))
	f.hub.Handle(ctx, c, EventSendMessage, nil)

	errs := c.named(EventError)
	require.Len(t, errs, 3)
	for _, ev := range errs {
		assert.Equal(t, apperrors.ErrBadRequest.String(), ev.Data.(ErrorPayload).Code)
	}

	f.hub.Handle(ctx, c, EventJoinRoom, json.RawMessage(fmt.Sprintf(`{"appointment_id":%q}`, f.appt.ID)))
	assert.Len(t, c.named(EventJoinedRoom), 1)

	f.hub.Handle(ctx, c, EventSendMessage, json.RawMessage(fmt.Sprintf(`{"appointment_id":%q,"text":"hi"}`, f.appt.ID)))
	errs = c.named(EventError)
	require.Len(t, errs, 4)
	assert.Equal(t, apperrors.ErrInvalidState.String(), errs[3].Data.(ErrorPayload).Code)
}

func TestParticipantPairsExpire(t *testing.T) {
	f := newFixture(t)
	f.hub = NewHub(f.appointments, f.chat, 20*time.Millisecond, metrics.NewNop(), zerolog.Nop())

	f.join(t, f.patient)
	assert.Len(t, f.hub.participants.Items(), 1)

	require.Eventually(t, func() bool {
		return len(f.hub.participants.Items()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// An expired pair is reloaded on the next lookup.
	f.join(t, f.doctor)
	assert.Len(t, f.hub.participants.Items(), 1)
}
