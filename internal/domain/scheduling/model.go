package scheduling

import (
	"fmt"
	"regexp"
	"time"
)

// Appointment statuses. The portal creates requested or scheduled rows;
// staff-side systems drive the rest.
const (
	StatusRequested = "requested"
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusVisited   = "visited"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Creation methods.
const (
	MethodOnline   = "online"
	MethodPhone    = "phone"
	MethodWalkIn   = "walk_in"
	MethodReferral = "referral"
)

// DateLayout is the only accepted visit date format.
const DateLayout = "2006-01-02"

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseVisitDate accepts exactly YYYY-MM-DD naming a real calendar day.
func ParseVisitDate(s string) (time.Time, error) {
	if !dateRe.MatchString(s) {
		return time.Time{}, fmt.Errorf("invalid date format, expected YYYY-MM-DD")
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid calendar date %q", s)
	}
	return t, nil
}

// InitialStatus returns the status a new appointment starts in. Online
// requests wait for receptionist confirmation; staff-entered bookings do not.
func InitialStatus(method string) (string, error) {
	switch method {
	case MethodOnline:
		return StatusRequested, nil
	case MethodPhone, MethodWalkIn, MethodReferral:
		return StatusScheduled, nil
	}
	return "", fmt.Errorf("invalid creation method %q", method)
}

type Doctor struct {
	DoctorID       int64   `json:"doctor_id"`
	DoctorName     string  `json:"doctor_name"`
	DoctorPhone    string  `json:"doctor_phone,omitempty"`
	DoctorEmail    string  `json:"doctor_email,omitempty"`
	DepartmentName string  `json:"department_name"`
	Qualifications string  `json:"qualifications"`
	VisitCharge    float64 `json:"visit_charge"`
	BranchName     string  `json:"branch_name"`
}

// ScheduleSlot is a recurring weekly window. WeekDay is 0 for Sunday.
type ScheduleSlot struct {
	ScheduleNo  int64  `json:"schedule_no"`
	DoctorID    int64  `json:"doctor_id"`
	WeekDay     int    `json:"week_day"`
	StartTime   string `json:"start_time"`
	FinishTime  string `json:"finish_time"`
	BranchID    int64  `json:"branch_id"`
	BranchName  string `json:"branch_name"`
	MaxPatients *int   `json:"max_patients"`
}

type DoctorDetail struct {
	Doctor    *Doctor        `json:"doctor"`
	Schedules []ScheduleSlot `json:"schedules"`
}

// SlotAvailability flattens the slot so clients read schedule_no, week_day
// and times at the top level.
type SlotAvailability struct {
	ScheduleSlot
	BookedCount int  `json:"booked_count"`
	IsAvailable bool `json:"is_available"`
}

type Appointment struct {
	AppointmentID  int64     `json:"appointment_id"`
	PatientID      int64     `json:"patient_id"`
	DoctorID       int64     `json:"doctor_id"`
	VisitDate      string    `json:"visit_date"`
	ScheduleNo     int64     `json:"schedule_no"`
	SerialNo       int       `json:"serial_no"`
	Status         string    `json:"status"`
	CreatedBy      int64     `json:"created_by"`
	CreationMethod string    `json:"creation_method"`
	BillID         *int64    `json:"bill_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// AppointmentSummary is one row of the patient's appointment list.
type AppointmentSummary struct {
	AppointmentID  int64     `json:"appointment_id"`
	VisitDate      string    `json:"visit_date"`
	ScheduleNo     int64     `json:"schedule_no"`
	SerialNo       int       `json:"serial_no"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	CreationMethod string    `json:"creation_method"`
	BillID         *int64    `json:"bill_id"`
	DoctorName     string    `json:"doctor_name"`
	Specialization string    `json:"specialization"`
	PrescriptionID *int64    `json:"prescription_id"`
}

type AppointmentDetail struct {
	AppointmentID  int64     `json:"appointment_id"`
	VisitDate      string    `json:"visit_date"`
	ScheduleNo     int64     `json:"schedule_no"`
	SerialNo       int       `json:"serial_no"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	CreationMethod string    `json:"creation_method"`
	StartTime      string    `json:"start_time"`
	FinishTime     string    `json:"finish_time"`
	BranchName     string    `json:"branch_name"`
	DoctorName     string    `json:"doctor_name"`
	Specialization string    `json:"specialization"`
	DoctorPhone    string    `json:"doctor_phone"`
	BillID         *int64    `json:"bill_id"`
	TotalAmount    *float64  `json:"total_amount"`
	PaymentStatus  *string   `json:"payment_status"`
	PrescriptionID *int64    `json:"prescription_id"`
}

type Prescription struct {
	PrescriptionID int64              `json:"prescription_id"`
	AppointmentID  int64              `json:"appointment_id"`
	Diagnosis      string             `json:"diagnosis"`
	NextVisitDate  *string            `json:"next_visit_date"`
	CreatedAt      time.Time          `json:"created_at"`
	Items          []PrescriptionItem `json:"items"`
}

type PrescriptionItem struct {
	PrescriptionItemID int64  `json:"prescription_item_id"`
	DrugName           string `json:"drug_name"`
	Dosage             string `json:"dosage"`
	Duration           string `json:"duration"`
	Instructions       string `json:"instructions"`
}

// Booking is a validated request handed to the repository for allocation.
type Booking struct {
	PatientID      int64
	DoctorID       int64
	VisitDate      string
	ScheduleNo     int64
	MaxPatients    *int
	Status         string
	CreatedBy      int64
	CreationMethod string
}

// Notification text written alongside a new booking.
const (
	NotificationTypeAppointment = "appointment"
	bookedTitle                 = "Appointment Request Submitted"
	bookedMessage               = "Your appointment request has been submitted. You will be notified once it is confirmed by the receptionist."
	scheduledTitle              = "Appointment Scheduled"
	scheduledMessage            = "Your appointment has been scheduled."
	cancelledTitle              = "Appointment Cancelled"
	cancelledMessage            = "Your appointment has been cancelled."
)

func bookingNotice(status string) (title, message string) {
	if status == StatusRequested {
		return bookedTitle, bookedMessage
	}
	return scheduledTitle, scheduledMessage
}
