package scheduling

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/portal/internal/platform/apperr"
	"github.com/ehr/portal/internal/platform/auth"
)

// PatientResolver looks up the patient linked to an account, for sessions
// whose token predates the patientId claim.
type PatientResolver interface {
	ResolvePatientID(ctx context.Context, userID int64) (int64, error)
}

type Handler struct {
	svc      *Service
	patients PatientResolver
}

func NewHandler(svc *Service, patients PatientResolver) *Handler {
	return &Handler{svc: svc, patients: patients}
}

func (h *Handler) RegisterRoutes(api *echo.Group, requireAuth echo.MiddlewareFunc) {
	g := api.Group("/appointments", requireAuth)
	g.GET("", h.ListAppointments)
	g.GET("/prescription/:prescriptionId", h.GetPrescription)
	g.GET("/doctors/all", h.ListDoctors)
	g.GET("/doctors/:doctorId", h.GetDoctor)
	g.GET("/doctors/:doctorId/availability/:visitDate", h.GetAvailability)
	g.GET("/doctors/:doctorId/serial/:visitDate", h.NextSerial)
	g.POST("/create", h.CreateAppointment)
	g.GET("/:appointmentId", h.GetAppointment)
	g.POST("/:appointmentId/cancel", h.CancelAppointment)
}

func paramID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidArgument("Invalid %s.", name)
	}
	return id, nil
}

// session returns the caller's user id and patient id.
func (h *Handler) session(c echo.Context) (userID, patientID int64, err error) {
	claims, err := auth.CurrentUser(c)
	if err != nil {
		return 0, 0, err
	}
	if claims.PatientID > 0 {
		return claims.UserID, claims.PatientID, nil
	}
	patientID, err = h.patients.ResolvePatientID(c.Request().Context(), claims.UserID)
	if err != nil {
		return 0, 0, err
	}
	return claims.UserID, patientID, nil
}

func (h *Handler) ListAppointments(c echo.Context) error {
	_, patientID, err := h.session(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListAppointments(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"appointments":      items,
		"totalAppointments": len(items),
	})
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := paramID(c, "appointmentId")
	if err != nil {
		return err
	}
	_, patientID, err := h.session(c)
	if err != nil {
		return err
	}
	appt, rx, err := h.svc.GetAppointment(c.Request().Context(), patientID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"appointment":  appt,
		"prescription": rx,
	})
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := paramID(c, "prescriptionId")
	if err != nil {
		return err
	}
	_, patientID, err := h.session(c)
	if err != nil {
		return err
	}
	rx, err := h.svc.GetPrescription(c.Request().Context(), patientID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"prescription": rx})
}

func (h *Handler) ListDoctors(c echo.Context) error {
	doctors, err := h.svc.ListDoctors(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"doctors": doctors})
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := paramID(c, "doctorId")
	if err != nil {
		return err
	}
	detail, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) GetAvailability(c echo.Context) error {
	id, err := paramID(c, "doctorId")
	if err != nil {
		return err
	}
	slots, err := h.svc.GetAvailability(c.Request().Context(), id, c.Param("visitDate"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, slots)
}

func (h *Handler) NextSerial(c echo.Context) error {
	id, err := paramID(c, "doctorId")
	if err != nil {
		return err
	}
	n, err := h.svc.NextSerial(c.Request().Context(), id, c.Param("visitDate"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"next_serial": n})
}

type createAppointmentRequest struct {
	DoctorID       int64  `json:"doctorId" validate:"required,gt=0"`
	VisitDate      string `json:"visitDate" validate:"required"`
	ScheduleNo     int64  `json:"scheduleNo" validate:"required,gt=0"`
	CreationMethod string `json:"creationMethod" validate:"omitempty,oneof=online phone walk_in referral"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req createAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.InvalidArgument("Invalid request body.")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	userID, patientID, err := h.session(c)
	if err != nil {
		return err
	}

	appt, err := h.svc.CreateAppointment(c.Request().Context(), CreateRequest{
		PatientID:      patientID,
		UserID:         userID,
		DoctorID:       req.DoctorID,
		VisitDate:      req.VisitDate,
		ScheduleNo:     req.ScheduleNo,
		CreationMethod: req.CreationMethod,
	})
	if err != nil {
		return err
	}

	msg := "Appointment created successfully"
	if appt.Status == StatusRequested {
		msg = "Appointment request submitted successfully"
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":     msg,
		"appointment": appt,
	})
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := paramID(c, "appointmentId")
	if err != nil {
		return err
	}
	userID, patientID, err := h.session(c)
	if err != nil {
		return err
	}
	appt, err := h.svc.CancelAppointment(c.Request().Context(), patientID, userID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     "Appointment cancelled successfully",
		"appointment": appt,
	})
}
