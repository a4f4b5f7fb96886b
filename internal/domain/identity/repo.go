package identity

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("account not found")
	ErrUsernameTaken = errors.New("username already exists")
	ErrEmailTaken    = errors.New("email already registered")
)

type AccountRepository interface {
	// Create inserts the patient and its login in one transaction.
	Create(ctx context.Context, reg Registration) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetProfile(ctx context.Context, userID int64) (*Profile, error)
	PatientID(ctx context.Context, userID int64) (int64, error)
	UpdateProfile(ctx context.Context, userID int64, u ProfileUpdate) error
	// Delete removes the login and its notifications. The patient record
	// stays for the clinic's history.
	Delete(ctx context.Context, userID int64) error
	ListNotifications(ctx context.Context, userID int64, limit, offset int) ([]Notification, error)
}
