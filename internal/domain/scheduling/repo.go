package scheduling

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrSlotFull means the schedule slot reached max_patients for the date.
	ErrSlotFull = errors.New("schedule slot is full")
	// ErrSerialTaken is a unique violation on the active serial index. The
	// whole booking transaction may be retried.
	ErrSerialTaken = errors.New("serial number already taken")
	// ErrNotCancellable covers already cancelled and already seen appointments.
	ErrNotCancellable = errors.New("appointment cannot be cancelled")
)

// DoctorRepository reads the doctor directory and weekly schedules.
type DoctorRepository interface {
	ListDoctors(ctx context.Context) ([]Doctor, error)
	GetDoctor(ctx context.Context, doctorID int64) (*Doctor, error)
	ListSchedules(ctx context.Context, doctorID int64) ([]ScheduleSlot, error)
	SchedulesOnWeekday(ctx context.Context, doctorID int64, weekDay int) ([]ScheduleSlot, error)
	GetSchedule(ctx context.Context, doctorID, scheduleNo int64) (*ScheduleSlot, error)
	PatientExists(ctx context.Context, patientID int64) (bool, error)
}

// AppointmentRepository owns appointment rows. Book and Cancel each run in a
// single transaction holding the (doctor, visit date) partition lock.
type AppointmentRepository interface {
	CountActive(ctx context.Context, doctorID int64, visitDate string) (int, error)
	CountActiveBySlot(ctx context.Context, doctorID int64, visitDate string) (map[int64]int, error)
	Book(ctx context.Context, b Booking) (*Appointment, error)
	Cancel(ctx context.Context, patientID, appointmentID, userID int64) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID int64) ([]AppointmentSummary, error)
	GetForPatient(ctx context.Context, patientID, appointmentID int64) (*AppointmentDetail, error)
	GetPrescription(ctx context.Context, patientID, prescriptionID int64) (*Prescription, error)
}
