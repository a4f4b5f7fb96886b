package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ehr/portal/internal/platform/db"
)

const (
	usernameKey = "external_user_username_key"
	emailKey    = "external_user_email_key"
)

type accountRepoPG struct{ conn db.DBTX }

func NewAccountRepoPG(conn db.DBTX) AccountRepository { return &accountRepoPG{conn: conn} }

func (r *accountRepoPG) Create(ctx context.Context, reg Registration) (*Account, error) {
	a := &Account{Username: reg.Username, Email: reg.Email, PasswordHash: reg.PasswordHash}
	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO patient (patient_name, patient_phone, patient_dob, patient_sex, patient_blood_type)
			VALUES ($1, $2, $3::date, $4, $5)
			RETURNING patient_id`,
			reg.Name, reg.Phone, reg.DOB, reg.Sex, reg.BloodType).Scan(&a.PatientID)
		if err != nil {
			return fmt.Errorf("insert patient: %w", err)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO external_user (external_username, external_user_email, external_user_password_hash, patient_id)
			VALUES ($1, $2, $3, $4)
			RETURNING external_user_id`,
			reg.Username, reg.Email, reg.PasswordHash, a.PatientID).Scan(&a.UserID)
		switch {
		case db.IsUniqueViolation(err, usernameKey):
			return ErrUsernameTaken
		case db.IsUniqueViolation(err, emailKey):
			return ErrEmailTaken
		case err != nil:
			return fmt.Errorf("insert external user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *accountRepoPG) GetByEmail(ctx context.Context, email string) (*Account, error) {
	var a Account
	err := r.conn.QueryRow(ctx, `
		SELECT external_user_id, external_username, external_user_email,
			external_user_password_hash, patient_id
		FROM external_user WHERE external_user_email = $1`, email).
		Scan(&a.UserID, &a.Username, &a.Email, &a.PasswordHash, &a.PatientID)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return &a, nil
}

func (r *accountRepoPG) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	var p Profile
	err := r.conn.QueryRow(ctx, `
		SELECT eu.external_user_id, eu.external_username, eu.external_user_email,
			p.patient_id, p.patient_name, p.patient_phone,
			to_char(p.patient_dob, 'YYYY-MM-DD'), p.patient_sex, btrim(p.patient_blood_type)
		FROM external_user eu
		JOIN patient p ON p.patient_id = eu.patient_id
		WHERE eu.external_user_id = $1`, userID).
		Scan(&p.ID, &p.Username, &p.Email,
			&p.Patient.ID, &p.Patient.Name, &p.Patient.Phone,
			&p.Patient.DOB, &p.Patient.Sex, &p.Patient.BloodType)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (r *accountRepoPG) PatientID(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := r.conn.QueryRow(ctx,
		`SELECT patient_id FROM external_user WHERE external_user_id = $1`, userID).Scan(&id)
	if db.IsNoRows(err) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get patient id: %w", err)
	}
	return id, nil
}

// UpdateProfile keeps the stored value wherever the update field is NULL.
func (r *accountRepoPG) UpdateProfile(ctx context.Context, userID int64, u ProfileUpdate) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE patient p SET
			patient_name = COALESCE($2, p.patient_name),
			patient_phone = COALESCE($3, p.patient_phone),
			patient_dob = COALESCE($4::date, p.patient_dob),
			patient_sex = COALESCE($5, p.patient_sex),
			patient_blood_type = COALESCE($6, p.patient_blood_type)
		FROM external_user eu
		WHERE eu.external_user_id = $1 AND p.patient_id = eu.patient_id`,
		userID, u.Name, u.Phone, u.DOB, u.Sex, u.BloodType)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepoPG) Delete(ctx context.Context, userID int64) error {
	return db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM notification WHERE external_user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete notifications: %w", err)
		}
		tag, err := tx.Exec(ctx,
			`DELETE FROM external_user WHERE external_user_id = $1`, userID)
		if err != nil {
			return fmt.Errorf("delete external user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *accountRepoPG) ListNotifications(ctx context.Context, userID int64, limit, offset int) ([]Notification, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT notification_id, notification_type, title, message, status, created_at
		FROM notification
		WHERE external_user_id = $1
		ORDER BY created_at DESC, notification_id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Notification, error) {
		var n Notification
		err := row.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &n.Status, &n.Time)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan notifications: %w", err)
	}
	return items, nil
}
