// Package events publishes appointment lifecycle events to a RabbitMQ topic
// exchange. Publishing happens after the booking transaction commits and is
// best-effort: a broker outage never fails a booking.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Routing keys.
const (
	AppointmentCreated   = "appointment.created"
	AppointmentCancelled = "appointment.cancelled"
	AccountRegistered    = "account.registered"
)

// Event is the envelope written to the exchange.
type Event struct {
	ID         string    `json:"eventId"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

func New(eventType string, data any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// AppointmentData is the payload for appointment events.
type AppointmentData struct {
	AppointmentID int64  `json:"appointmentId"`
	PatientID     int64  `json:"patientId"`
	DoctorID      int64  `json:"doctorId"`
	VisitDate     string `json:"visitDate"`
	ScheduleNo    int64  `json:"scheduleNo"`
	SerialNo      int    `json:"serialNo"`
	Status        string `json:"status"`
}

// Publisher sends events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher discards events; used when AMQP_URL is unset.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// AccountData is the payload for account events.
type AccountData struct {
	UserID    int64  `json:"userId"`
	PatientID int64  `json:"patientId"`
	Username  string `json:"username"`
}
