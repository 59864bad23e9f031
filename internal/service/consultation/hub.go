// Package consultation runs the real-time rooms, one per appointment.
// Room membership lives in this process only.
package consultation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/service/appointment"
	"github.com/jwalitptl/consult-api/internal/service/chat"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

// Inbound event names.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
	EventStopTyping  = "stop-typing"
)

// Outbound event names.
const (
	EventJoinedRoom        = "joined-room"
	EventLeftRoom          = "left-room"
	EventReceiveMessage    = "receive-message"
	EventUserTyping        = "user-typing"
	EventUserStopTyping    = "user-stop-typing"
	EventConsultationEnded = "consultation-ended"
	EventError             = "error"
)

// Event is one frame on the wire.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data,omitempty"`
}

type RoomPayload struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
}

type PresencePayload struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	UserID        uuid.UUID `json:"user_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Event   string `json:"event,omitempty"`
}

// Conn is one authenticated client connection.
type Conn interface {
	Caller() model.Caller
	// Deliver queues ev without blocking. It returns false when the event
	// was dropped.
	Deliver(ev Event) bool
}

type participants struct {
	patientID uuid.UUID
	doctorID  uuid.UUID
}

func (p participants) has(id uuid.UUID) bool {
	return p.patientID == id || p.doctorID == id
}

type room struct {
	// sendMu orders persist-then-broadcast within the room.
	sendMu  sync.Mutex
	members map[Conn]struct{}
}

type Hub struct {
	appointments *appointment.Service
	chat         *chat.Service

	// Patient and doctor never change for an appointment, so participant
	// pairs outlive sender profiles by participantTTLFactor.
	participants *gocache.Cache
	senders      *gocache.Cache

	mu    sync.RWMutex
	rooms map[uuid.UUID]*room
	joins map[Conn]map[uuid.UUID]struct{}

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

const participantTTLFactor = 12

func NewHub(appointments *appointment.Service, chatSvc *chat.Service, senderTTL time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		appointments: appointments,
		chat:         chatSvc,
		participants: gocache.New(participantTTLFactor*senderTTL, 2*senderTTL),
		senders:      gocache.New(senderTTL, 2*senderTTL),
		rooms:        make(map[uuid.UUID]*room),
		joins:        make(map[Conn]map[uuid.UUID]struct{}),
		metrics:      m,
		logger:       logger.With().Str("component", "consultation").Logger(),
	}
}

// Handle routes one inbound frame. Failures go back to conn as an error
// event; the connection stays open.
func (h *Hub) Handle(ctx context.Context, conn Conn, name string, data json.RawMessage) {
	var err error
	switch name {
	case EventJoinRoom:
		var p RoomPayload
		if err = decode(data, &p); err == nil {
			err = h.Join(ctx, conn, p.AppointmentID)
		}
	case EventLeaveRoom:
		var p RoomPayload
		if err = decode(data, &p); err == nil {
			h.Leave(conn, p.AppointmentID)
			h.deliver(conn, Event{Name: EventLeftRoom, Data: p})
		}
	case EventSendMessage:
		var req model.SendMessageRequest
		if err = decode(data, &req); err == nil {
			_, err = h.Send(ctx, conn, &req)
		}
	case EventTyping, EventStopTyping:
		var p RoomPayload
		if err = decode(data, &p); err == nil {
			err = h.Typing(conn, p.AppointmentID, name == EventTyping)
		}
	default:
		err = apperrors.BadRequest("unknown event "+name, nil)
	}

	if err != nil {
		h.Fail(conn, name, err)
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return apperrors.BadRequest("missing event data", nil)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.BadRequest("malformed event data", err)
	}
	return nil
}

// Fail sends err to conn as an error event.
func (h *Hub) Fail(conn Conn, event string, err error) {
	payload := ErrorPayload{Message: "internal server error", Code: apperrors.ErrInternal.String(), Event: event}
	if appErr, ok := apperrors.As(err); ok {
		payload.Code = appErr.Code.String()
		if appErr.Code != apperrors.ErrInternal {
			payload.Message = appErr.Message
		}
	}
	if payload.Code == apperrors.ErrInternal.String() {
		h.logger.Error().Err(err).Str("event", event).Msg("consultation event failed")
	}
	h.deliver(conn, Event{Name: EventError, Data: payload})
}

func (h *Hub) lookupParticipants(ctx context.Context, appointmentID uuid.UUID) (participants, error) {
	key := appointmentID.String()
	if v, ok := h.participants.Get(key); ok {
		return v.(participants), nil
	}

	appt, err := h.appointments.Find(ctx, appointmentID)
	if err != nil {
		return participants{}, err
	}
	p := participants{patientID: appt.PatientID, doctorID: appt.DoctorID}
	h.participants.SetDefault(key, p)
	return p, nil
}

// Join subscribes conn to the appointment's room. Only the patient and the
// doctor may join; status is not checked here.
func (h *Hub) Join(ctx context.Context, conn Conn, appointmentID uuid.UUID) error {
	p, err := h.lookupParticipants(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !p.has(conn.Caller().ID) {
		return apperrors.Unauthorized("not a participant of this appointment")
	}

	h.mu.Lock()
	r, ok := h.rooms[appointmentID]
	if !ok {
		r = &room{members: make(map[Conn]struct{})}
		h.rooms[appointmentID] = r
	}
	r.members[conn] = struct{}{}
	if h.joins[conn] == nil {
		h.joins[conn] = make(map[uuid.UUID]struct{})
	}
	h.joins[conn][appointmentID] = struct{}{}
	h.mu.Unlock()

	h.deliver(conn, Event{Name: EventJoinedRoom, Data: RoomPayload{AppointmentID: appointmentID}})
	h.logger.Debug().
		Str("appointment_id", appointmentID.String()).
		Str("user_id", conn.Caller().ID.String()).
		Msg("joined room")
	return nil
}

func (h *Hub) joinedRoom(conn Conn, appointmentID uuid.UUID) (*room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.joins[conn][appointmentID]; !ok {
		return nil, false
	}
	r, ok := h.rooms[appointmentID]
	return r, ok
}

func (h *Hub) members(r *room, except uuid.UUID) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Conn, 0, len(r.members))
	for c := range r.members {
		if except != uuid.Nil && c.Caller().ID == except {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Send persists a message and then broadcasts it to every connection in
// the room, the sender's own included. Messages leave in the order they
// were stored.
func (h *Hub) Send(ctx context.Context, conn Conn, req *model.SendMessageRequest) (*model.MessageView, error) {
	r, ok := h.joinedRoom(conn, req.AppointmentID)
	if !ok {
		return nil, apperrors.Forbidden("join the room before sending")
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	caller := conn.Caller()
	appt, err := h.appointments.Find(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if !appointment.IsParticipant(appt, caller) {
		return nil, apperrors.Unauthorized("not a participant of this appointment")
	}
	if !appointment.CanSend(appt, caller) {
		return nil, apperrors.InvalidState("consultation is not active")
	}

	msg, err := h.chat.Append(ctx, caller.ID, req)
	if err != nil {
		return nil, err
	}

	view := &model.MessageView{ChatMessage: *msg, Sender: h.sender(ctx, caller.ID)}
	h.metrics.ChatMessages.Inc()
	h.broadcast(r, uuid.Nil, Event{Name: EventReceiveMessage, Data: view})
	return view, nil
}

func (h *Hub) sender(ctx context.Context, id uuid.UUID) model.Participant {
	key := id.String()
	if v, ok := h.senders.Get(key); ok {
		return v.(model.Participant)
	}
	p := h.chat.Sender(ctx, id)
	if p.Name != "" {
		h.senders.SetDefault(key, p)
	}
	return p
}

// Typing relays a presence signal to the other participant's connections.
func (h *Hub) Typing(conn Conn, appointmentID uuid.UUID, typing bool) error {
	r, ok := h.joinedRoom(conn, appointmentID)
	if !ok {
		return apperrors.Forbidden("join the room first")
	}

	name := EventUserStopTyping
	if typing {
		name = EventUserTyping
	}
	userID := conn.Caller().ID
	h.broadcast(r, userID, Event{Name: name, Data: PresencePayload{AppointmentID: appointmentID, UserID: userID}})
	return nil
}

// CloseRoom tells everyone in the room the consultation is over. Members
// stay joined; further sends fail the status check.
func (h *Hub) CloseRoom(appointmentID uuid.UUID) {
	h.mu.RLock()
	r, ok := h.rooms[appointmentID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.broadcast(r, uuid.Nil, Event{Name: EventConsultationEnded, Data: RoomPayload{AppointmentID: appointmentID}})
}

func (h *Hub) Leave(conn Conn, appointmentID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conn, appointmentID)
}

func (h *Hub) leaveLocked(conn Conn, appointmentID uuid.UUID) {
	if r, ok := h.rooms[appointmentID]; ok {
		delete(r.members, conn)
		if len(r.members) == 0 {
			delete(h.rooms, appointmentID)
		}
	}
	if rooms, ok := h.joins[conn]; ok {
		delete(rooms, appointmentID)
		if len(rooms) == 0 {
			delete(h.joins, conn)
		}
	}
}

// Disconnect drops conn from every room it joined.
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.joins[conn] {
		h.leaveLocked(conn, id)
	}
}

// RoomSize reports how many connections are joined to the room.
func (h *Hub) RoomSize(appointmentID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[appointmentID]; ok {
		return len(r.members)
	}
	return 0
}

func (h *Hub) broadcast(r *room, except uuid.UUID, ev Event) {
	for _, c := range h.members(r, except) {
		h.deliver(c, ev)
	}
}

func (h *Hub) deliver(conn Conn, ev Event) {
	if !conn.Deliver(ev) {
		h.metrics.ChatDroppedEvents.Inc()
	}
}
