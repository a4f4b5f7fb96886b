package scheduling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/portal/internal/platform/apperr"
	"github.com/ehr/portal/internal/platform/auth"
	"github.com/ehr/portal/internal/platform/validate"
)

type stubResolver struct {
	patientID int64
	err       error
	calls     int
}

func (s *stubResolver) ResolvePatientID(_ context.Context, _ int64) (int64, error) {
	s.calls++
	return s.patientID, s.err
}

type handlerFixture struct {
	e        *echo.Echo
	issuer   *auth.TokenIssuer
	appts    *mockAppointmentRepo
	resolver *stubResolver
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	svc, _, appts := newTestService()
	resolver := &stubResolver{patientID: testPatient}
	issuer := auth.NewTokenIssuer("handler-test-secret", time.Hour)

	e := echo.New()
	e.Validator = validate.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	NewHandler(svc, resolver).RegisterRoutes(e.Group("/api"), auth.JWTMiddleware(issuer))

	return &handlerFixture{e: e, issuer: issuer, appts: appts, resolver: resolver}
}

func (f *handlerFixture) do(t *testing.T, method, path, body string, patientID int64) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	token, err := f.issuer.Issue(testUser, "kamal", patientID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHandler_CreateAppointment(t *testing.T) {
	f := newHandlerFixture(t)
	body := `{"doctorId":10,"visitDate":"2024-06-03","scheduleNo":100}`

	rec := f.do(t, http.MethodPost, "/api/appointments/create", body, testPatient)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["message"] != "Appointment request submitted successfully" {
		t.Errorf("unexpected message %v", out["message"])
	}
	appt, ok := out["appointment"].(map[string]interface{})
	if !ok {
		t.Fatalf("appointment missing from %v", out)
	}
	if appt["serial_no"] != float64(1) {
		t.Errorf("expected serial 1, got %v", appt["serial_no"])
	}
	if appt["status"] != StatusRequested {
		t.Errorf("expected status requested, got %v", appt["status"])
	}
}

func TestHandler_CreateAppointment_StaffMethodScheduled(t *testing.T) {
	f := newHandlerFixture(t)
	body := `{"doctorId":10,"visitDate":"2024-06-03","scheduleNo":100,"creationMethod":"phone"}`

	rec := f.do(t, http.MethodPost, "/api/appointments/create", body, testPatient)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if msg := decode(t, rec)["message"]; msg != "Appointment created successfully" {
		t.Errorf("unexpected message %v", msg)
	}
}

func TestHandler_CreateAppointment_BadRequest(t *testing.T) {
	f := newHandlerFixture(t)
	cases := map[string]string{
		"missing fields": `{}`,
		"bad method":     `{"doctorId":10,"visitDate":"2024-06-03","scheduleNo":100,"creationMethod":"fax"}`,
		"bad date":       `{"doctorId":10,"visitDate":"03/06/2024","scheduleNo":100}`,
		"past date":      `{"doctorId":10,"visitDate":"2024-05-27","scheduleNo":100}`,
		"wrong weekday":  `{"doctorId":10,"visitDate":"2024-06-04","scheduleNo":100}`,
		"malformed json": `{"doctorId":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/appointments/create", body, testPatient)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if code := decode(t, rec)["code"]; code != apperr.CodeInvalidArgument {
				t.Errorf("expected %s, got %v", apperr.CodeInvalidArgument, code)
			}
		})
	}
	if f.appts.writes != 0 {
		t.Errorf("rejected requests wrote %d rows", f.appts.writes)
	}
}

func TestHandler_CreateAppointment_SlotFull(t *testing.T) {
	f := newHandlerFixture(t)
	body := `{"doctorId":10,"visitDate":"2024-06-03","scheduleNo":102}`

	if rec := f.do(t, http.MethodPost, "/api/appointments/create", body, testPatient); rec.Code != http.StatusCreated {
		t.Fatalf("first booking: expected 201, got %d", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/api/appointments/create", body, testPatient)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_CreateAppointment_ResolvesPatient(t *testing.T) {
	f := newHandlerFixture(t)
	body := `{"doctorId":10,"visitDate":"2024-06-03","scheduleNo":100}`

	rec := f.do(t, http.MethodPost, "/api/appointments/create", body, 0)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.resolver.calls != 1 {
		t.Errorf("expected resolver to be called once, got %d", f.resolver.calls)
	}
}

func TestHandler_ResolverFailure(t *testing.T) {
	f := newHandlerFixture(t)
	f.resolver.err = apperr.Unauthorized("User not found. Please log in again.")

	rec := f.do(t, http.MethodGet, "/api/appointments", "", 0)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_RequiresToken(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/appointments/doctors/all", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/appointments/doctors/all", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer not-a-token")
	rec = httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for an invalid token, got %d", rec.Code)
	}
}

func TestHandler_ListAppointments(t *testing.T) {
	f := newHandlerFixture(t)
	body := `{"doctorId":10,"visitDate":"2024-06-03","scheduleNo":100}`
	for i := 0; i < 2; i++ {
		if rec := f.do(t, http.MethodPost, "/api/appointments/create", body, testPatient); rec.Code != http.StatusCreated {
			t.Fatalf("create: expected 201, got %d", rec.Code)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/appointments", "", testPatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := decode(t, rec)
	if out["totalAppointments"] != float64(2) {
		t.Errorf("expected 2 appointments, got %v", out["totalAppointments"])
	}
	if items, _ := out["appointments"].([]interface{}); len(items) != 2 {
		t.Errorf("expected 2 items, got %v", out["appointments"])
	}
}

func TestHandler_CancelAppointment(t *testing.T) {
	f := newHandlerFixture(t)
	body := `{"doctorId":10,"visitDate":"2024-06-03","scheduleNo":100}`
	for i := 0; i < 3; i++ {
		f.do(t, http.MethodPost, "/api/appointments/create", body, testPatient)
	}

	rec := f.do(t, http.MethodPost, "/api/appointments/1/cancel", "", testPatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if msg := decode(t, rec)["message"]; msg != "Appointment cancelled successfully" {
		t.Errorf("unexpected message %v", msg)
	}
	if got := f.appts.appts[3].SerialNo; got != 2 {
		t.Errorf("expected later serial to shift to 2, got %d", got)
	}

	rec = f.do(t, http.MethodPost, "/api/appointments/1/cancel", "", testPatient)
	if rec.Code != http.StatusConflict {
		t.Errorf("second cancel: expected 409, got %d", rec.Code)
	}
}

func TestHandler_CancelAppointment_OtherPatient(t *testing.T) {
	f := newHandlerFixture(t)
	f.do(t, http.MethodPost, "/api/appointments/create", `{"doctorId":10,"visitDate":"2024-06-03","scheduleNo":100}`, testPatient)

	rec := f.do(t, http.MethodPost, "/api/appointments/1/cancel", "", testPatient+1)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_InvalidPathID(t *testing.T) {
	f := newHandlerFixture(t)
	for _, path := range []string{"/api/appointments/abc", "/api/appointments/doctors/0", "/api/appointments/prescription/-1"} {
		rec := f.do(t, http.MethodGet, path, "", testPatient)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestHandler_Doctors(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/appointments/doctors/all", "", testPatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	if doctors, _ := decode(t, rec)["doctors"].([]interface{}); len(doctors) != 1 {
		t.Errorf("expected 1 doctor, got %v", doctors)
	}

	rec = f.do(t, http.MethodGet, "/api/appointments/doctors/10", "", testPatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/appointments/doctors/999", "", testPatient)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown doctor: expected 404, got %d", rec.Code)
	}
}

func TestHandler_AvailabilityAndSerial(t *testing.T) {
	f := newHandlerFixture(t)
	f.do(t, http.MethodPost, "/api/appointments/create", `{"doctorId":10,"visitDate":"2024-06-03","scheduleNo":102}`, testPatient)

	rec := f.do(t, http.MethodGet, "/api/appointments/doctors/10/availability/2024-06-03", "", testPatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("availability: expected 200, got %d", rec.Code)
	}
	var slots []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 Monday slots, got %d", len(slots))
	}
	for _, s := range slots {
		if s["schedule_no"] == float64(cappedSlot) && s["is_available"] != false {
			t.Errorf("capped slot should be unavailable: %v", s)
		}
	}

	rec = f.do(t, http.MethodGet, "/api/appointments/doctors/10/serial/2024-06-03", "", testPatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("serial: expected 200, got %d", rec.Code)
	}
	if n := decode(t, rec)["next_serial"]; n != float64(2) {
		t.Errorf("expected next serial 2, got %v", n)
	}

	rec = f.do(t, http.MethodGet, "/api/appointments/doctors/10/serial/2024-6-3", "", testPatient)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", rec.Code)
	}
}

func TestHandler_GetAppointmentAndPrescription(t *testing.T) {
	f := newHandlerFixture(t)
	f.do(t, http.MethodPost, "/api/appointments/create", `{"doctorId":10,"visitDate":"2024-06-03","scheduleNo":100}`, testPatient)
	rxID := int64(900)
	f.appts.details[1] = &AppointmentDetail{AppointmentID: 1, VisitDate: testMonday, SerialNo: 1, Status: StatusRequested, PrescriptionID: &rxID}
	f.appts.prescriptions[rxID] = &Prescription{PrescriptionID: rxID, AppointmentID: 1, Diagnosis: "Hypertension",
		Items: []PrescriptionItem{{PrescriptionItemID: 1, DrugName: "Amlodipine", Dosage: "5mg"}}}

	rec := f.do(t, http.MethodGet, "/api/appointments/1", "", testPatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["appointment"] == nil || out["prescription"] == nil {
		t.Errorf("expected appointment and prescription, got %v", out)
	}

	rec = f.do(t, http.MethodGet, "/api/appointments/prescription/900", "", testPatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("prescription: expected 200, got %d", rec.Code)
	}
	rx, _ := decode(t, rec)["prescription"].(map[string]interface{})
	if rx["diagnosis"] != "Hypertension" {
		t.Errorf("unexpected prescription %v", rx)
	}

	rec = f.do(t, http.MethodGet, "/api/appointments/prescription/900", "", testPatient+1)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign prescription: expected 404, got %d", rec.Code)
	}
}
