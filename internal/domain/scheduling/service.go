package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/portal/internal/platform/apperr"
	"github.com/ehr/portal/internal/platform/cache"
	"github.com/ehr/portal/internal/platform/events"
	"github.com/ehr/portal/internal/platform/metrics"
)

var tracer = otel.Tracer("portal/scheduling")

// DefaultMaxAttempts bounds booking retries after a serial conflict.
const DefaultMaxAttempts = 3

type Service struct {
	doctors     DoctorRepository
	appts       AppointmentRepository
	cache       *cache.Cache
	events      events.Publisher
	metrics     *metrics.BookingMetrics
	logger      zerolog.Logger
	maxAttempts int
	now         func() time.Time
	loc         *time.Location
}

type Option func(*Service)

func WithCache(c *cache.Cache) Option { return func(s *Service) { s.cache = c } }

func WithEvents(p events.Publisher) Option { return func(s *Service) { s.events = p } }

func WithMetrics(m *metrics.BookingMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClock overrides the clock used to reject past visit dates.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLocation sets the clinic time zone that decides which calendar day is
// today. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func NewService(doctors DoctorRepository, appts AppointmentRepository, opts ...Option) *Service {
	s := &Service{
		doctors:     doctors,
		appts:       appts,
		events:      events.NopPublisher{},
		logger:      zerolog.Nop(),
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		loc:         time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) parseDate(visitDate string) (time.Time, error) {
	t, err := ParseVisitDate(visitDate)
	if err != nil {
		return time.Time{}, apperr.InvalidArgument("Invalid date format. Use YYYY-MM-DD.")
	}
	return t, nil
}

func (s *Service) requireDoctor(ctx context.Context, doctorID int64) (*Doctor, error) {
	d, err := s.doctors.GetDoctor(ctx, doctorID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("Doctor not found.")
	}
	if err != nil {
		return nil, apperr.Storage("get doctor", err)
	}
	return d, nil
}

// ListDoctors returns the doctor directory.
func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	var doctors []Doctor
	if s.cache.GetJSON(ctx, "doctors", &doctors) {
		return doctors, nil
	}
	doctors, err := s.doctors.ListDoctors(ctx)
	if err != nil {
		return nil, apperr.Storage("list doctors", err)
	}
	s.cache.SetJSON(ctx, "doctors", doctors)
	return doctors, nil
}

func doctorKey(doctorID int64) string { return "doctor:" + strconv.FormatInt(doctorID, 10) }

// GetDoctor returns one doctor with every weekly schedule slot.
func (s *Service) GetDoctor(ctx context.Context, doctorID int64) (*DoctorDetail, error) {
	key := doctorKey(doctorID)
	var detail DoctorDetail
	if s.cache.GetJSON(ctx, key, &detail) {
		return &detail, nil
	}

	d, err := s.requireDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	slots, err := s.doctors.ListSchedules(ctx, doctorID)
	if err != nil {
		return nil, apperr.Storage("list schedules", err)
	}
	detail = DoctorDetail{Doctor: d, Schedules: slots}
	s.cache.SetJSON(ctx, key, detail)
	return &detail, nil
}

// GetAvailability lists the doctor's slots on the visit date's weekday with
// how many active bookings each holds. Slots without max_patients are always
// available.
func (s *Service) GetAvailability(ctx context.Context, doctorID int64, visitDate string) ([]SlotAvailability, error) {
	day, err := s.parseDate(visitDate)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	slots, err := s.doctors.SchedulesOnWeekday(ctx, doctorID, int(day.Weekday()))
	if err != nil {
		return nil, apperr.Storage("list schedules", err)
	}
	out := make([]SlotAvailability, 0, len(slots))
	if len(slots) == 0 {
		return out, nil
	}

	counts, err := s.appts.CountActiveBySlot(ctx, doctorID, visitDate)
	if err != nil {
		return nil, apperr.Storage("count slot bookings", err)
	}
	for _, slot := range slots {
		booked := counts[slot.ScheduleNo]
		out = append(out, SlotAvailability{
			ScheduleSlot: slot,
			BookedCount:  booked,
			IsAvailable:  slot.MaxPatients == nil || booked < *slot.MaxPatients,
		})
	}
	return out, nil
}

// NextSerial previews the serial the next booking would receive. It does not
// reserve anything; CreateAppointment recomputes under the partition lock.
func (s *Service) NextSerial(ctx context.Context, doctorID int64, visitDate string) (int, error) {
	if _, err := s.parseDate(visitDate); err != nil {
		return 0, err
	}
	n, err := s.appts.CountActive(ctx, doctorID, visitDate)
	if err != nil {
		return 0, apperr.Storage("count appointments", err)
	}
	return n + 1, nil
}

// CreateRequest is a patient's booking request.
type CreateRequest struct {
	PatientID      int64
	UserID         int64
	DoctorID       int64
	VisitDate      string
	ScheduleNo     int64
	CreationMethod string
}

// CreateAppointment validates the request and allocates the next serial for
// the doctor and date. Validation failures never reach the repository's write
// path.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.create_appointment", trace.WithAttributes(
		attribute.Int64("doctor.id", req.DoctorID),
		attribute.String("visit.date", req.VisitDate),
		attribute.Int64("schedule.no", req.ScheduleNo),
	))
	start := s.now()
	defer func() {
		outcome := "created"
		if err != nil {
			outcome = bookingOutcome(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetAttributes(attribute.Int("serial.no", appt.SerialNo))
		}
		s.metrics.ObserveBooking(req.CreationMethod, outcome, s.now().Sub(start).Seconds())
		span.End()
	}()

	booking, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	log := s.logger.With().
		Int64("doctor_id", booking.DoctorID).
		Str("visit_date", booking.VisitDate).
		Int64("schedule_no", booking.ScheduleNo).
		Logger()

	for attempt := 1; ; attempt++ {
		appt, err = s.appts.Book(ctx, booking)
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, ErrSlotFull):
			return nil, apperr.Conflict("This time slot is fully booked. Please choose another.")
		case isRetryable(err) && attempt < s.maxAttempts:
			s.metrics.ObserveSerialRetry()
			log.Warn().Int("attempt", attempt).Msg("serial conflict, retrying booking")
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, apperr.Storage("create appointment", ctxErr)
			}
			continue
		}
		log.Error().Err(err).Int("attempt", attempt).Msg("booking failed")
		return nil, apperr.Storage("create appointment", err)
	}

	log.Info().
		Int64("appointment_id", appt.AppointmentID).
		Int("serial_no", appt.SerialNo).
		Str("status", appt.Status).
		Msg("appointment created")
	s.publish(ctx, events.AppointmentCreated, appt)
	return appt, nil
}

func (s *Service) validate(ctx context.Context, req CreateRequest) (Booking, error) {
	if req.DoctorID <= 0 || req.ScheduleNo <= 0 || req.VisitDate == "" {
		return Booking{}, apperr.InvalidArgument("Doctor ID, visit date, and schedule number are required.")
	}
	day, err := s.parseDate(req.VisitDate)
	if err != nil {
		return Booking{}, err
	}
	method := req.CreationMethod
	if method == "" {
		method = MethodOnline
	}
	status, err := InitialStatus(method)
	if err != nil {
		return Booking{}, apperr.InvalidArgument("Invalid creation method.")
	}
	if req.VisitDate < s.now().In(s.loc).Format(DateLayout) {
		return Booking{}, apperr.InvalidArgument("Visit date cannot be in the past.")
	}

	if _, err := s.requireDoctor(ctx, req.DoctorID); err != nil {
		return Booking{}, err
	}
	ok, err := s.doctors.PatientExists(ctx, req.PatientID)
	if err != nil {
		return Booking{}, apperr.Storage("check patient", err)
	}
	if !ok {
		return Booking{}, apperr.NotFound("Patient not found.")
	}

	slot, err := s.doctors.GetSchedule(ctx, req.DoctorID, req.ScheduleNo)
	if errors.Is(err, ErrNotFound) {
		// The slot may have come from a cached doctor detail that predates a
		// schedule change.
		s.cache.Delete(ctx, doctorKey(req.DoctorID))
		return Booking{}, apperr.InvalidArgument("Invalid schedule selected.")
	}
	if err != nil {
		return Booking{}, apperr.Storage("get schedule", err)
	}
	if slot.WeekDay != int(day.Weekday()) {
		return Booking{}, apperr.InvalidArgument("Selected schedule is not available on %s.", day.Weekday())
	}

	return Booking{
		PatientID:      req.PatientID,
		DoctorID:       req.DoctorID,
		VisitDate:      req.VisitDate,
		ScheduleNo:     req.ScheduleNo,
		MaxPatients:    slot.MaxPatients,
		Status:         status,
		CreatedBy:      req.UserID,
		CreationMethod: method,
	}, nil
}

func bookingOutcome(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidArgument:
		return "invalid"
	case apperr.KindNotFound:
		return "not_found"
	case apperr.KindConflict:
		return "conflict"
	}
	return "error"
}

// CancelAppointment cancels one of the patient's appointments and closes the
// gap it leaves in the doctor's serial sequence for that date.
func (s *Service) CancelAppointment(ctx context.Context, patientID, userID, appointmentID int64) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.cancel_appointment", trace.WithAttributes(
		attribute.Int64("appointment.id", appointmentID),
	))
	defer span.End()

	appt, err := s.appts.Cancel(ctx, patientID, appointmentID, userID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		return nil, apperr.NotFound("Appointment not found.")
	case errors.Is(err, ErrNotCancellable):
		return nil, apperr.Conflict("Appointment cannot be cancelled.")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		s.logger.Error().Err(err).Int64("appointment_id", appointmentID).Msg("cancel failed")
		return nil, apperr.Storage("cancel appointment", err)
	}

	s.metrics.ObserveCancellation()
	s.logger.Info().
		Int64("appointment_id", appt.AppointmentID).
		Int64("doctor_id", appt.DoctorID).
		Str("visit_date", appt.VisitDate).
		Int("serial_no", appt.SerialNo).
		Msg("appointment cancelled")
	s.publish(ctx, events.AppointmentCancelled, appt)
	return appt, nil
}

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment) {
	evt := events.New(eventType, events.AppointmentData{
		AppointmentID: a.AppointmentID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		VisitDate:     a.VisitDate,
		ScheduleNo:    a.ScheduleNo,
		SerialNo:      a.SerialNo,
		Status:        a.Status,
	})
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Int64("appointment_id", a.AppointmentID).Msg("event publish failed")
	}
}

// ListAppointments returns every appointment the patient holds, newest visit
// first.
func (s *Service) ListAppointments(ctx context.Context, patientID int64) ([]AppointmentSummary, error) {
	items, err := s.appts.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, apperr.Storage("list appointments", err)
	}
	return items, nil
}

// GetAppointment returns the appointment and, when one exists, its
// prescription with items.
func (s *Service) GetAppointment(ctx context.Context, patientID, appointmentID int64) (*AppointmentDetail, *Prescription, error) {
	a, err := s.appts.GetForPatient(ctx, patientID, appointmentID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, apperr.NotFound("Appointment not found.")
	}
	if err != nil {
		return nil, nil, apperr.Storage("get appointment", err)
	}
	if a.PrescriptionID == nil {
		return a, nil, nil
	}
	p, err := s.appts.GetPrescription(ctx, patientID, *a.PrescriptionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, apperr.Storage("get prescription", err)
	}
	return a, p, nil
}

func (s *Service) GetPrescription(ctx context.Context, patientID, prescriptionID int64) (*Prescription, error) {
	p, err := s.appts.GetPrescription(ctx, patientID, prescriptionID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("Prescription not found.")
	}
	if err != nil {
		return nil, apperr.Storage(fmt.Sprintf("get prescription %d", prescriptionID), err)
	}
	return p, nil
}
