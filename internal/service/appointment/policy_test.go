package appointment

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/consult-api/internal/model"
)

func TestPolicies(t *testing.T) {
	patient := model.Caller{ID: uuid.New(), Role: model.RolePatient}
	doctor := model.Caller{ID: uuid.New(), Role: model.RoleDoctor}
	admin := model.Caller{ID: uuid.New(), Role: model.RoleAdmin}
	stranger := model.Caller{ID: uuid.New(), Role: model.RolePatient}

	appt := &model.Appointment{PatientID: patient.ID, DoctorID: doctor.ID, Status: model.AppointmentStatusConfirmed}

	assert.True(t, CanView(appt, patient))
	assert.True(t, CanView(appt, doctor))
	assert.True(t, CanView(appt, admin))
	assert.False(t, CanView(appt, stranger))

	assert.True(t, CanCancel(appt, patient))
	assert.True(t, CanCancel(appt, doctor))
	assert.False(t, CanCancel(appt, admin))

	assert.True(t, CanReschedule(appt, patient))
	assert.False(t, CanReschedule(appt, doctor))

	assert.True(t, CanEndConsultation(appt, doctor))
	assert.False(t, CanEndConsultation(appt, patient))

	assert.True(t, CanPay(appt, patient))
	assert.False(t, CanPay(appt, stranger))

	assert.True(t, CanRefund(admin))
	assert.False(t, CanRefund(doctor))

	assert.True(t, CanJoin(appt, doctor))
	assert.False(t, CanJoin(appt, admin))

	for status, want := range map[model.AppointmentStatus]bool{
		model.AppointmentStatusPendingPayment: false,
		model.AppointmentStatusConfirmed:      true,
		model.AppointmentStatusRescheduled:    true,
		model.AppointmentStatusCompleted:      false,
		model.AppointmentStatusCancelled:      false,
	} {
		appt.Status = status
		assert.Equal(t, want, CanSend(appt, patient), status)
	}
	assert.False(t, CanSend(appt, stranger))
}
