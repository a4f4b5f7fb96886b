package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ehr/portal/internal/platform/db"
)

// serialIndex is the partial unique index on active serials.
const serialIndex = "appointment_serial_uniq"

// =========== Doctor Repository ===========

type doctorRepoPG struct{ conn db.DBTX }

func NewDoctorRepoPG(conn db.DBTX) DoctorRepository { return &doctorRepoPG{conn: conn} }

const doctorCols = `d.emp_id, e.emp_name, COALESCE(e.emp_phone, ''), COALESCE(e.emp_email, ''),
	COALESCE(dep.department_name, ''), COALESCE(d.qualifications, ''),
	COALESCE(d.visit_charge, 0)::float8, COALESCE(b.branch_name, '')`

const doctorFrom = `
	FROM doctor d
	JOIN employee e ON e.emp_id = d.emp_id
	LEFT JOIN department dep ON dep.department_id = d.department_id
	LEFT JOIN branch b ON b.branch_id = e.branch_id`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.DoctorID, &d.DoctorName, &d.DoctorPhone, &d.DoctorEmail,
		&d.DepartmentName, &d.Qualifications, &d.VisitCharge, &d.BranchName)
	return &d, err
}

func (r *doctorRepoPG) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+doctorCols+doctorFrom+` ORDER BY e.emp_name, d.emp_id`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	doctors := []Doctor{}
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		doctors = append(doctors, *d)
	}
	return doctors, rows.Err()
}

func (r *doctorRepoPG) GetDoctor(ctx context.Context, doctorID int64) (*Doctor, error) {
	d, err := scanDoctor(r.conn.QueryRow(ctx, `SELECT `+doctorCols+doctorFrom+` WHERE d.emp_id = $1`, doctorID))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return d, nil
}

const scheduleSelect = `
	SELECT s.schedule_no, s.doctor_id, s.week_day,
		to_char(s.start_time, 'HH24:MI:SS'), to_char(s.finish_time, 'HH24:MI:SS'),
		s.branch_id, COALESCE(b.branch_name, ''), s.max_patients
	FROM doctor_schedule s
	LEFT JOIN branch b ON b.branch_id = s.branch_id`

func scanSchedule(row pgx.Row) (*ScheduleSlot, error) {
	var s ScheduleSlot
	err := row.Scan(&s.ScheduleNo, &s.DoctorID, &s.WeekDay, &s.StartTime, &s.FinishTime,
		&s.BranchID, &s.BranchName, &s.MaxPatients)
	return &s, err
}

func (r *doctorRepoPG) querySchedules(ctx context.Context, sql string, args ...any) ([]ScheduleSlot, error) {
	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	slots := []ScheduleSlot{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		slots = append(slots, *s)
	}
	return slots, rows.Err()
}

func (r *doctorRepoPG) ListSchedules(ctx context.Context, doctorID int64) ([]ScheduleSlot, error) {
	return r.querySchedules(ctx, scheduleSelect+`
		WHERE s.doctor_id = $1
		ORDER BY s.week_day, s.start_time`, doctorID)
}

func (r *doctorRepoPG) SchedulesOnWeekday(ctx context.Context, doctorID int64, weekDay int) ([]ScheduleSlot, error) {
	return r.querySchedules(ctx, scheduleSelect+`
		WHERE s.doctor_id = $1 AND s.week_day = $2
		ORDER BY s.start_time`, doctorID, weekDay)
}

func (r *doctorRepoPG) GetSchedule(ctx context.Context, doctorID, scheduleNo int64) (*ScheduleSlot, error) {
	s, err := scanSchedule(r.conn.QueryRow(ctx, scheduleSelect+`
		WHERE s.doctor_id = $1 AND s.schedule_no = $2`, doctorID, scheduleNo))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return s, nil
}

func (r *doctorRepoPG) PatientExists(ctx context.Context, patientID int64) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patient WHERE patient_id = $1)`, patientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return exists, nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ conn db.DBTX }

func NewAppointmentRepoPG(conn db.DBTX) AppointmentRepository {
	return &appointmentRepoPG{conn: conn}
}

const countActiveSQL = `
	SELECT COUNT(*) FROM appointment
	WHERE doctor_id = $1 AND visit_date = $2::date AND status <> 'cancelled'`

func (r *appointmentRepoPG) CountActive(ctx context.Context, doctorID int64, visitDate string) (int, error) {
	var n int
	if err := r.conn.QueryRow(ctx, countActiveSQL, doctorID, visitDate).Scan(&n); err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}

func (r *appointmentRepoPG) CountActiveBySlot(ctx context.Context, doctorID int64, visitDate string) (map[int64]int, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT schedule_no, COUNT(*) FROM appointment
		WHERE doctor_id = $1 AND visit_date = $2::date AND status <> 'cancelled'
		GROUP BY schedule_no`, doctorID, visitDate)
	if err != nil {
		return nil, fmt.Errorf("count slot bookings: %w", err)
	}
	defer rows.Close()

	counts := map[int64]int{}
	for rows.Next() {
		var scheduleNo int64
		var n int
		if err := rows.Scan(&scheduleNo, &n); err != nil {
			return nil, fmt.Errorf("scan slot count: %w", err)
		}
		counts[scheduleNo] = n
	}
	return counts, rows.Err()
}

// lockPartition serializes writers on one (doctor, visit date) pair until the
// transaction ends.
func lockPartition(ctx context.Context, tx pgx.Tx, doctorID int64, visitDate string) error {
	key := fmt.Sprintf("appointment:%d:%s", doctorID, visitDate)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("lock partition: %w", err)
	}
	return nil
}

func insertNotification(ctx context.Context, tx pgx.Tx, userID int64, title, message string, relatedID int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO notification (external_user_id, notification_type, title, message, status, related_id)
		VALUES ($1, $2, $3, $4, 'unread', $5)`,
		userID, NotificationTypeAppointment, title, message, relatedID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// renumberActive rewrites the active serials of one (doctor, visit date) pair
// to 1..N, keeping their order. Callers must hold the partition lock. Rows
// only ever move down and are visited in ascending order, so no two active
// rows share a serial at any point.
func renumberActive(ctx context.Context, tx pgx.Tx, doctorID int64, visitDate string) error {
	rows, err := tx.Query(ctx, `
		SELECT appointment_id, serial_no FROM appointment
		WHERE doctor_id = $1 AND visit_date = $2::date AND status <> 'cancelled'
		ORDER BY serial_no, appointment_id`, doctorID, visitDate)
	if err != nil {
		return fmt.Errorf("list active serials: %w", err)
	}
	type entry struct {
		id     int64
		serial int
	}
	current, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entry, error) {
		var e entry
		err := row.Scan(&e.id, &e.serial)
		return e, err
	})
	if err != nil {
		return fmt.Errorf("scan active serials: %w", err)
	}
	for i, e := range current {
		if e.serial == i+1 {
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE appointment SET serial_no = $2 WHERE appointment_id = $1`, e.id, i+1); err != nil {
			return fmt.Errorf("renumber serial: %w", err)
		}
	}
	return nil
}

// Book allocates serial_no = active count + 1 under the partition lock and
// inserts the appointment with its patient notification. Gaps in the active
// serials are closed first.
func (r *appointmentRepoPG) Book(ctx context.Context, b Booking) (*Appointment, error) {
	var appt *Appointment
	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		if err := lockPartition(ctx, tx, b.DoctorID, b.VisitDate); err != nil {
			return err
		}

		if b.MaxPatients != nil {
			var inSlot int
			err := tx.QueryRow(ctx, `
				SELECT COUNT(*) FROM appointment
				WHERE doctor_id = $1 AND visit_date = $2::date AND schedule_no = $3 AND status <> 'cancelled'`,
				b.DoctorID, b.VisitDate, b.ScheduleNo).Scan(&inSlot)
			if err != nil {
				return fmt.Errorf("count slot bookings: %w", err)
			}
			if inSlot >= *b.MaxPatients {
				return ErrSlotFull
			}
		}

		var active, top int
		err := tx.QueryRow(ctx, `
			SELECT COUNT(*), COALESCE(MAX(serial_no), 0) FROM appointment
			WHERE doctor_id = $1 AND visit_date = $2::date AND status <> 'cancelled'`,
			b.DoctorID, b.VisitDate).Scan(&active, &top)
		if err != nil {
			return fmt.Errorf("count appointments: %w", err)
		}
		// Cancellations made outside this service leave holes; count + 1
		// would then collide with an existing serial.
		if top != active {
			if err := renumberActive(ctx, tx, b.DoctorID, b.VisitDate); err != nil {
				return err
			}
		}

		a := &Appointment{
			PatientID:      b.PatientID,
			DoctorID:       b.DoctorID,
			VisitDate:      b.VisitDate,
			ScheduleNo:     b.ScheduleNo,
			SerialNo:       active + 1,
			Status:         b.Status,
			CreatedBy:      b.CreatedBy,
			CreationMethod: b.CreationMethod,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO appointment (patient_id, doctor_id, visit_date, schedule_no,
				serial_no, status, created_by, creation_method)
			VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8)
			RETURNING appointment_id, created_at`,
			a.PatientID, a.DoctorID, a.VisitDate, a.ScheduleNo,
			a.SerialNo, a.Status, a.CreatedBy, a.CreationMethod).Scan(&a.AppointmentID, &a.CreatedAt)
		if err != nil {
			if db.IsUniqueViolation(err, serialIndex) {
				return ErrSerialTaken
			}
			return fmt.Errorf("insert appointment: %w", err)
		}

		if b.CreatedBy > 0 {
			title, message := bookingNotice(a.Status)
			if err := insertNotification(ctx, tx, b.CreatedBy, title, message, a.AppointmentID); err != nil {
				return err
			}
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// Cancel marks the appointment cancelled and renumbers the remaining active
// serials for its doctor and date to 1..N.
func (r *appointmentRepoPG) Cancel(ctx context.Context, patientID, appointmentID, userID int64) (*Appointment, error) {
	var appt *Appointment
	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		var doctorID int64
		var visitDate string
		err := tx.QueryRow(ctx, `
			SELECT doctor_id, to_char(visit_date, 'YYYY-MM-DD') FROM appointment
			WHERE appointment_id = $1 AND patient_id = $2`,
			appointmentID, patientID).Scan(&doctorID, &visitDate)
		if db.IsNoRows(err) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("find appointment: %w", err)
		}

		if err := lockPartition(ctx, tx, doctorID, visitDate); err != nil {
			return err
		}

		a := &Appointment{AppointmentID: appointmentID, PatientID: patientID, DoctorID: doctorID, VisitDate: visitDate}
		err = tx.QueryRow(ctx, `
			SELECT schedule_no, serial_no, status, created_by, creation_method, created_at
			FROM appointment WHERE appointment_id = $1 FOR UPDATE`, appointmentID).
			Scan(&a.ScheduleNo, &a.SerialNo, &a.Status, &a.CreatedBy, &a.CreationMethod, &a.CreatedAt)
		if err != nil {
			return fmt.Errorf("lock appointment: %w", err)
		}
		switch a.Status {
		case StatusCancelled, StatusVisited, StatusCompleted:
			return fmt.Errorf("%w: status is %s", ErrNotCancellable, a.Status)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE appointment SET status = 'cancelled' WHERE appointment_id = $1`, appointmentID); err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		a.Status = StatusCancelled

		if err := renumberActive(ctx, tx, doctorID, visitDate); err != nil {
			return err
		}

		if userID > 0 {
			if err := insertNotification(ctx, tx, userID, cancelledTitle, cancelledMessage, appointmentID); err != nil {
				return err
			}
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID int64) ([]AppointmentSummary, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT a.appointment_id, to_char(a.visit_date, 'YYYY-MM-DD'), a.schedule_no, a.serial_no,
			a.status, a.created_at, a.creation_method, a.bill_id,
			e.emp_name, COALESCE(d.qualifications, ''), p.prescription_id
		FROM appointment a
		JOIN doctor d ON d.emp_id = a.doctor_id
		JOIN employee e ON e.emp_id = d.emp_id
		LEFT JOIN prescription p ON p.appointment_id = a.appointment_id
		WHERE a.patient_id = $1
		ORDER BY a.visit_date DESC, a.schedule_no ASC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	items := []AppointmentSummary{}
	for rows.Next() {
		var s AppointmentSummary
		if err := rows.Scan(&s.AppointmentID, &s.VisitDate, &s.ScheduleNo, &s.SerialNo,
			&s.Status, &s.CreatedAt, &s.CreationMethod, &s.BillID,
			&s.DoctorName, &s.Specialization, &s.PrescriptionID); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) GetForPatient(ctx context.Context, patientID, appointmentID int64) (*AppointmentDetail, error) {
	var a AppointmentDetail
	err := r.conn.QueryRow(ctx, `
		SELECT a.appointment_id, to_char(a.visit_date, 'YYYY-MM-DD'), a.schedule_no, a.serial_no,
			a.status, a.created_at, a.creation_method,
			COALESCE(to_char(s.start_time, 'HH24:MI:SS'), ''), COALESCE(to_char(s.finish_time, 'HH24:MI:SS'), ''),
			COALESCE(br.branch_name, ''),
			e.emp_name, COALESCE(d.qualifications, ''), COALESCE(e.emp_phone, ''),
			b.bill_id, b.final_amount::float8, b.payment_method, p.prescription_id
		FROM appointment a
		JOIN doctor d ON d.emp_id = a.doctor_id
		JOIN employee e ON e.emp_id = d.emp_id
		LEFT JOIN doctor_schedule s ON s.schedule_no = a.schedule_no
		LEFT JOIN branch br ON br.branch_id = s.branch_id
		LEFT JOIN bill b ON b.bill_id = a.bill_id
		LEFT JOIN prescription p ON p.appointment_id = a.appointment_id
		WHERE a.appointment_id = $1 AND a.patient_id = $2`, appointmentID, patientID).
		Scan(&a.AppointmentID, &a.VisitDate, &a.ScheduleNo, &a.SerialNo,
			&a.Status, &a.CreatedAt, &a.CreationMethod,
			&a.StartTime, &a.FinishTime, &a.BranchName,
			&a.DoctorName, &a.Specialization, &a.DoctorPhone,
			&a.BillID, &a.TotalAmount, &a.PaymentStatus, &a.PrescriptionID)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return &a, nil
}

// GetPrescription returns the prescription with its items, scoped to the
// patient who owns the appointment.
func (r *appointmentRepoPG) GetPrescription(ctx context.Context, patientID, prescriptionID int64) (*Prescription, error) {
	var p Prescription
	err := r.conn.QueryRow(ctx, `
		SELECT p.prescription_id, p.appointment_id, COALESCE(p.diagnosis, ''),
			to_char(p.next_visit_date, 'YYYY-MM-DD'), p.created_at
		FROM prescription p
		JOIN appointment a ON a.appointment_id = p.appointment_id
		WHERE p.prescription_id = $1 AND a.patient_id = $2`, prescriptionID, patientID).
		Scan(&p.PrescriptionID, &p.AppointmentID, &p.Diagnosis, &p.NextVisitDate, &p.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}

	rows, err := r.conn.Query(ctx, `
		SELECT pi.prescription_item_id, dr.drug_name, COALESCE(pi.dosage, ''),
			COALESCE(pi.duration, ''), COALESCE(pi.instructions, '')
		FROM prescription_item pi
		JOIN drug dr ON dr.drug_id = pi.drug_id
		WHERE pi.prescription_id = $1
		ORDER BY pi.prescription_item_id`, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("list prescription items: %w", err)
	}
	p.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (PrescriptionItem, error) {
		var it PrescriptionItem
		err := row.Scan(&it.PrescriptionItemID, &it.DrugName, &it.Dosage, &it.Duration, &it.Instructions)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan prescription items: %w", err)
	}
	return &p, nil
}

// isRetryable reports whether a Book failure may succeed on a fresh attempt.
func isRetryable(err error) bool {
	return errors.Is(err, ErrSerialTaken)
}
