// Package memory is an in-process implementation of the repository
// interfaces. It backs the "memory" database driver and the service tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

// Store holds every table. Single operations are atomic under mu.
// Transactions are serialised by txMu and rolled back through an undo
// journal.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	users        map[uuid.UUID]*model.User
	fees         map[uuid.UUID]int64
	slots        map[uuid.UUID]*model.AvailabilitySlot
	appointments map[uuid.UUID]*model.Appointment
	payments     map[uuid.UUID]*model.Payment
	messages     map[uuid.UUID][]*model.ChatMessage
	seq          int64

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:        make(map[uuid.UUID]*model.User),
		fees:         make(map[uuid.UUID]int64),
		slots:        make(map[uuid.UUID]*model.AvailabilitySlot),
		appointments: make(map[uuid.UUID]*model.Appointment),
		payments:     make(map[uuid.UUID]*model.Payment),
		messages:     make(map[uuid.UUID][]*model.ChatMessage),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// PutUser adds or replaces a directory entry.
func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

// SetFee records a doctor's consultation fee.
func (s *Store) SetFee(doctorID uuid.UUID, fee int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fees[doctorID] = fee
}

type journalKey struct{}

type journal struct {
	undo []func()
}

// record registers an undo step for the current transaction. Callers hold
// s.mu.
func (s *Store) record(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.undo = append(j.undo, undo)
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	j := &journal{}
	outer := ctx
	ctx, hooks := repository.WithCommitHooks(ctx)
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				s.rollback(j)
				s.txMu.Unlock()
				panic(p)
			}
		}()
		return fn(context.WithValue(ctx, journalKey{}, j))
	}()
	if err != nil {
		s.rollback(j)
		s.txMu.Unlock()
		return err
	}
	s.txMu.Unlock()

	hooks.Run(outer)
	return nil
}

func (s *Store) rollback(j *journal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
}

// Repositories returns every repository view over the store.
func (s *Store) Repositories() Repositories {
	return Repositories{
		Slots:        &slotRepository{s},
		Appointments: &appointmentRepository{s},
		Payments:     &paymentRepository{s},
		Messages:     &messageRepository{s},
		Users:        &userRepository{s},
		Doctors:      &userRepository{s},
	}
}

type Repositories struct {
	Slots        repository.SlotRepository
	Appointments repository.AppointmentRepository
	Payments     repository.PaymentRepository
	Messages     repository.MessageRepository
	Users        repository.UserRepository
	Doctors      repository.DoctorRepository
}
