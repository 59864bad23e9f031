package appointment

import "github.com/jwalitptl/consult-api/internal/model"

// Authorization predicates. Each operation asks exactly one of these; none
// of them look at the transport.

func IsParticipant(a *model.Appointment, c model.Caller) bool {
	return a.IsParticipant(c.ID)
}

// CanView covers reads of the appointment, its payment and its chat log.
func CanView(a *model.Appointment, c model.Caller) bool {
	return c.Is(model.RoleAdmin) || IsParticipant(a, c)
}

func CanCancel(a *model.Appointment, c model.Caller) bool {
	return IsParticipant(a, c)
}

func CanReschedule(a *model.Appointment, c model.Caller) bool {
	return c.Is(model.RolePatient) && a.PatientID == c.ID
}

func CanEndConsultation(a *model.Appointment, c model.Caller) bool {
	return c.Is(model.RoleDoctor) && a.DoctorID == c.ID
}

func CanPay(a *model.Appointment, c model.Caller) bool {
	return c.Is(model.RolePatient) && a.PatientID == c.ID
}

func CanRefund(c model.Caller) bool {
	return c.Is(model.RoleAdmin)
}

func CanJoin(a *model.Appointment, c model.Caller) bool {
	return IsParticipant(a, c)
}

// CanSend gates chat writes: only participants, only while the appointment
// is paid and not finished.
func CanSend(a *model.Appointment, c model.Caller) bool {
	return IsParticipant(a, c) && a.Status.IsActive()
}
