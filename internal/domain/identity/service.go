package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/portal/internal/platform/apperr"
	"github.com/ehr/portal/internal/platform/auth"
	"github.com/ehr/portal/internal/platform/events"
	"github.com/ehr/portal/internal/platform/validate"
)

type Service struct {
	accounts  AccountRepository
	tokens    *auth.TokenIssuer
	validator *validate.Validator
	events    events.Publisher
	logger    zerolog.Logger
}

type Option func(*Service)

func WithEvents(p events.Publisher) Option { return func(s *Service) { s.events = p } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(accounts AccountRepository, tokens *auth.TokenIssuer, opts ...Option) *Service {
	s := &Service{
		accounts:  accounts,
		tokens:    tokens,
		validator: validate.New(),
		events:    events.NopPublisher{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a patient record and its portal login.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	in.normalize()
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, apperr.InvalidArgument("Username, email, and password are required.")
	}
	if strings.Contains(in.Username, " ") {
		return nil, apperr.InvalidArgument("Username cannot contain spaces.")
	}
	if err := s.validator.Validate(&in); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Storage("hash password", err)
	}
	acct, err := s.accounts.Create(ctx, Registration{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Phone:        optional(in.Phone),
		Name:         optional(in.Name),
		DOB:          optional(in.DOB),
		Sex:          in.Sex,
		BloodType:    in.BloodType,
	})
	switch {
	case errors.Is(err, ErrUsernameTaken):
		return nil, apperr.InvalidArgument("Username already exists.")
	case errors.Is(err, ErrEmailTaken):
		return nil, apperr.InvalidArgument("Email already registered.")
	case err != nil:
		return nil, apperr.Storage("register account", err)
	}

	s.logger.Info().
		Int64("user_id", acct.UserID).
		Int64("patient_id", acct.PatientID).
		Msg("account registered")
	evt := events.New(events.AccountRegistered, events.AccountData{
		UserID:    acct.UserID,
		PatientID: acct.PatientID,
		Username:  acct.Username,
	})
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("event", evt.Type).Msg("publish event failed")
	}
	return acct, nil
}

// Login checks the credentials and returns a signed session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return "", nil, apperr.InvalidArgument("Email and password are required.")
	}

	acct, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return "", nil, apperr.Unauthorized("Invalid credentials.")
	}
	if err != nil {
		return "", nil, apperr.Storage("find account", err)
	}
	ok, err := auth.CheckPassword(acct.PasswordHash, password)
	if err != nil {
		return "", nil, apperr.Storage("check password", err)
	}
	if !ok {
		return "", nil, apperr.Unauthorized("Invalid credentials.")
	}

	token, err := s.tokens.Issue(acct.UserID, acct.Username, acct.PatientID)
	if err != nil {
		return "", nil, apperr.Storage("issue token", err)
	}
	return token, acct, nil
}

func (s *Service) Me(ctx context.Context, userID int64) (*Profile, error) {
	p, err := s.accounts.GetProfile(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("User not found.")
	}
	if err != nil {
		return nil, apperr.Storage("get profile", err)
	}
	return p, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID int64, u ProfileUpdate) error {
	u.normalize()
	if u.empty() {
		return apperr.InvalidArgument("No profile fields to update.")
	}
	if err := s.validator.Validate(&u); err != nil {
		return err
	}
	err := s.accounts.UpdateProfile(ctx, userID, u)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("User not found.")
	}
	if err != nil {
		return apperr.Storage("update profile", err)
	}
	return nil
}

// DeleteAccount removes the login and its notifications.
func (s *Service) DeleteAccount(ctx context.Context, userID int64) error {
	err := s.accounts.Delete(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("User not found.")
	}
	if err != nil {
		return apperr.Storage("delete account", err)
	}
	s.logger.Info().Int64("user_id", userID).Msg("account deleted")
	return nil
}

// Notifications returns a page of the user's notifications, newest first.
// UnreadCount covers the returned page.
func (s *Service) Notifications(ctx context.Context, userID int64, limit, offset int) (*NotificationList, error) {
	items, err := s.accounts.ListNotifications(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperr.Storage("list notifications", err)
	}
	out := &NotificationList{Notifications: items}
	if out.Notifications == nil {
		out.Notifications = []Notification{}
	}
	for _, n := range items {
		if n.Status == NotificationStatusUnread {
			out.UnreadCount++
		}
	}
	return out, nil
}

// ResolvePatientID looks up the patient for sessions whose token carries no
// patient id.
func (s *Service) ResolvePatientID(ctx context.Context, userID int64) (int64, error) {
	id, err := s.accounts.PatientID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return 0, apperr.Unauthorized("User not found. Please log in again.")
	}
	if err != nil {
		return 0, apperr.Storage("resolve patient", err)
	}
	return id, nil
}
