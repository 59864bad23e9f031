package router_test

import (
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/service/consultation"
)

func createSlot(t *testing.T, env *testEnv, doctor actor, date, start, end string) string {
	t.Helper()
	resp := env.makeRequest(t, http.MethodPost, "/doctor/me/slots", map[string]string{
		"date":       date,
		"start_time": start,
		"end_time":   end,
	}, doctor.token)
	require.Equal(t, http.StatusCreated, resp.StatusCode, resp.Message)
	return resp.GetString("id")
}

func book(t *testing.T, env *testEnv, patient, doctor actor, slotID string) TestResponse {
	t.Helper()
	return env.makeRequest(t, http.MethodPost, "/appointments", map[string]string{
		"doctor_id": doctor.id(),
		"slot_id":   slotID,
	}, patient.token)
}

func TestBookingPaymentAndConsultation(t *testing.T) {
	env := newTestEnv(t)
	doctor := env.newActor(t, "Dr Rahman", model.RoleDoctor)
	patient := env.newActor(t, "Ayesha Khan", model.RolePatient)
	other := env.newActor(t, "Imran Ali", model.RolePatient)

	slotID := createSlot(t, env, doctor, "2024-06-01", "10:00", "10:30")

	free := env.makeRequest(t, http.MethodGet, "/doctors/"+doctor.id()+"/slots?date=2024-06-01", nil, "")
	require.Equal(t, http.StatusOK, free.StatusCode)
	assert.Len(t, free.List(t), 1)

	// Book
	booked := book(t, env, patient, doctor, slotID)
	require.Equal(t, http.StatusCreated, booked.StatusCode, booked.Message)
	appointmentID := booked.GetString("id")
	assert.Equal(t, string(model.AppointmentStatusPendingPayment), booked.GetString("status"))

	free = env.makeRequest(t, http.MethodGet, "/doctors/"+doctor.id()+"/slots?date=2024-06-01", nil, "")
	assert.Empty(t, free.List(t))

	second := book(t, env, other, doctor, slotID)
	assert.Equal(t, http.StatusConflict, second.StatusCode)
	assert.Equal(t, "CONFLICT", second.Code)

	// Chat is closed until payment.
	patientWS := env.dial(t, patient.token)
	patientWS.join(appointmentID)
	patientWS.emit(consultation.EventSendMessage, map[string]string{"appointment_id": appointmentID, "text": "hello?"})
	errEvent := patientWS.expect(consultation.EventError)
	assert.Equal(t, "INVALID_STATE", errEvent["code"])

	// Pay
	intent := env.makeRequest(t, http.MethodPost, "/payments/init", map[string]string{"appointment_id": appointmentID}, patient.token)
	require.Equal(t, http.StatusCreated, intent.StatusCode, intent.Message)
	txnRef := intent.GetString("txn_ref")
	assert.True(t, strings.HasPrefix(txnRef, "TXN-"))
	assert.Equal(t, "BDT", intent.GetString("currency"))

	confirmed := env.makeRequest(t, http.MethodPost, "/payments/confirm", map[string]string{"txn_ref": txnRef}, patient.token)
	require.Equal(t, http.StatusOK, confirmed.StatusCode, confirmed.Message)
	assert.Equal(t, string(model.PaymentStatusSuccess), confirmed.GetString("status"))

	again := env.makeRequest(t, http.MethodPost, "/payments/confirm", map[string]string{"txn_ref": txnRef}, patient.token)
	assert.Equal(t, http.StatusConflict, again.StatusCode)
	assert.Equal(t, "ALREADY_CONFIRMED", again.Code)

	appt := env.makeRequest(t, http.MethodGet, "/appointments/"+appointmentID, nil, doctor.token)
	require.Equal(t, http.StatusOK, appt.StatusCode)
	assert.Equal(t, string(model.AppointmentStatusConfirmed), appt.GetString("status"))

	// Consult
	doctorWS := env.dial(t, doctor.token)
	doctorWS.join(appointmentID)

	patientWS.emit(consultation.EventTyping, map[string]string{"appointment_id": appointmentID})
	typing := doctorWS.expect(consultation.EventUserTyping)
	assert.Equal(t, patient.id(), typing["user_id"])

	patientWS.emit(consultation.EventSendMessage, map[string]string{"appointment_id": appointmentID, "text": "I have a headache"})
	received := doctorWS.expect(consultation.EventReceiveMessage)
	assert.Equal(t, "I have a headache", received["text"])
	sender := received["sender"].(map[string]interface{})
	assert.Equal(t, "Ayesha Khan", sender["name"])
	assert.Equal(t, string(model.RolePatient), sender["role"])

	// The sender gets its own copy.
	echo := patientWS.expect(consultation.EventReceiveMessage)
	assert.Equal(t, received["id"], echo["id"])

	history := env.makeRequest(t, http.MethodGet, "/chat/"+appointmentID+"/messages", nil, doctor.token)
	require.Equal(t, http.StatusOK, history.StatusCode)
	assert.Len(t, history.List(t), 1)

	outsider := env.makeRequest(t, http.MethodGet, "/chat/"+appointmentID+"/messages", nil, other.token)
	assert.Equal(t, http.StatusForbidden, outsider.StatusCode)

	// End
	notDoctor := env.makeRequest(t, http.MethodPost, "/chat/"+appointmentID+"/end", nil, patient.token)
	assert.Equal(t, http.StatusForbidden, notDoctor.StatusCode)

	ended := env.makeRequest(t, http.MethodPost, "/chat/"+appointmentID+"/end", nil, doctor.token)
	require.Equal(t, http.StatusOK, ended.StatusCode, ended.Message)
	assert.Equal(t, string(model.AppointmentStatusCompleted), ended.GetString("status"))

	assert.Equal(t, appointmentID, patientWS.expect(consultation.EventConsultationEnded)["appointment_id"])
	doctorWS.expect(consultation.EventConsultationEnded)

	patientWS.emit(consultation.EventSendMessage, map[string]string{"appointment_id": appointmentID, "text": "one more thing"})
	assert.Equal(t, "INVALID_STATE", patientWS.expect(consultation.EventError)["code"])
}

func TestCancelFreesSlot(t *testing.T) {
	env := newTestEnv(t)
	doctor := env.newActor(t, "Dr Rahman", model.RoleDoctor)
	first := env.newActor(t, "Ayesha Khan", model.RolePatient)
	second := env.newActor(t, "Imran Ali", model.RolePatient)

	slotID := createSlot(t, env, doctor, "2024-06-01", "11:00", "11:30")

	booked := book(t, env, first, doctor, slotID)
	require.Equal(t, http.StatusCreated, booked.StatusCode)
	appointmentID := booked.GetString("id")

	cancelled := env.makeRequest(t, http.MethodPatch, "/appointments/"+appointmentID+"/cancel",
		map[string]string{"reason": "feeling better"}, first.token)
	require.Equal(t, http.StatusOK, cancelled.StatusCode, cancelled.Message)
	assert.Equal(t, string(model.AppointmentStatusCancelled), cancelled.GetString("status"))

	free := env.makeRequest(t, http.MethodGet, "/doctors/"+doctor.id()+"/slots?date=2024-06-01", nil, "")
	assert.Len(t, free.List(t), 1)

	rebooked := book(t, env, second, doctor, slotID)
	assert.Equal(t, http.StatusCreated, rebooked.StatusCode)

	again := env.makeRequest(t, http.MethodPatch, "/appointments/"+appointmentID+"/cancel", nil, first.token)
	assert.Equal(t, http.StatusUnprocessableEntity, again.StatusCode)
}

func TestConcurrentBookingHTTP(t *testing.T) {
	env := newTestEnv(t)
	doctor := env.newActor(t, "Dr Rahman", model.RoleDoctor)
	slotID := createSlot(t, env, doctor, "2024-06-02", "09:00", "09:30")

	const n = 8
	patients := make([]actor, n)
	for i := range patients {
		patients[i] = env.newActor(t, "Patient "+string(rune('A'+i)), model.RolePatient)
	}

	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = book(t, env, patients[i], doctor, slotID).StatusCode
		}(i)
	}
	wg.Wait()

	created := 0
	for _, code := range codes {
		if code == http.StatusCreated {
			created++
		} else {
			assert.Equal(t, http.StatusConflict, code)
		}
	}
	assert.Equal(t, 1, created)
}

func TestRefundByAdmin(t *testing.T) {
	env := newTestEnv(t)
	doctor := env.newActor(t, "Dr Rahman", model.RoleDoctor)
	patient := env.newActor(t, "Ayesha Khan", model.RolePatient)
	admin := env.newActor(t, "Ops Admin", model.RoleAdmin)
	env.store.SetFee(doctor.user.ID, 800)

	slotID := createSlot(t, env, doctor, "2024-06-03", "15:00", "15:30")
	appointmentID := book(t, env, patient, doctor, slotID).GetString("id")

	intent := env.makeRequest(t, http.MethodPost, "/payments/init", map[string]string{"appointment_id": appointmentID}, patient.token)
	require.Equal(t, http.StatusCreated, intent.StatusCode)
	env.makeRequest(t, http.MethodPost, "/payments/confirm", map[string]string{"txn_ref": intent.GetString("txn_ref")}, patient.token)

	denied := env.makeRequest(t, http.MethodPost, "/payments/refund", map[string]string{"appointment_id": appointmentID}, patient.token)
	assert.Equal(t, http.StatusForbidden, denied.StatusCode)

	refunded := env.makeRequest(t, http.MethodPost, "/payments/refund", map[string]string{"appointment_id": appointmentID}, admin.token)
	require.Equal(t, http.StatusOK, refunded.StatusCode, refunded.Message)
	assert.Equal(t, string(model.PaymentStatusRefunded), refunded.GetString("status"))

	payment := env.makeRequest(t, http.MethodGet, "/payments/appointment/"+appointmentID, nil, patient.token)
	require.Equal(t, http.StatusOK, payment.StatusCode)
	assert.Equal(t, string(model.PaymentStatusRefunded), payment.GetString("status"))

	appt := env.makeRequest(t, http.MethodGet, "/appointments/"+appointmentID, nil, patient.token)
	assert.Equal(t, string(model.AppointmentStatusCancelled), appt.GetString("status"))

	free := env.makeRequest(t, http.MethodGet, "/doctors/"+doctor.id()+"/slots?date=2024-06-03", nil, "")
	assert.Len(t, free.List(t), 1)
}

func TestAuthAndValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	doctor := env.newActor(t, "Dr Rahman", model.RoleDoctor)
	patient := env.newActor(t, "Ayesha Khan", model.RolePatient)

	resp := env.makeRequest(t, http.MethodGet, "/appointments/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "error", resp.Status)

	resp = env.makeRequest(t, http.MethodPost, "/doctor/me/slots", map[string]string{
		"date": "2024-06-01", "start_time": "10:00", "end_time": "10:30",
	}, patient.token)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.makeRequest(t, http.MethodPost, "/doctor/me/slots", map[string]string{
		"date": "01/06/2024", "start_time": "10:00", "end_time": "10:30",
	}, doctor.token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)

	resp = env.makeRequest(t, http.MethodGet, "/appointments/not-a-uuid", nil, patient.token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	createSlot(t, env, doctor, "2024-06-01", "10:00", "10:30")
	resp = env.makeRequest(t, http.MethodPost, "/doctor/me/slots", map[string]string{
		"date": "2024-06-01", "start_time": "10:15", "end_time": "10:45",
	}, doctor.token)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWebSocketRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + apiPrefix + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.server.Client().Get(env.server.URL + apiPrefix + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = env.server.Client().Get(env.server.URL + apiPrefix + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = env.server.Client().Get(env.server.URL + apiPrefix + "/health/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
