package identity

import (
	"strings"
	"time"
)

// Defaults applied when registration omits sex or blood type.
const (
	DefaultSex       = "U"
	DefaultBloodType = "UN"
)

// Account is a portal login linked to one patient record.
type Account struct {
	UserID       int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	PatientID    int64  `json:"patientId"`
}

type PatientProfile struct {
	ID        int64   `json:"id"`
	Name      *string `json:"name"`
	Phone     *string `json:"phone"`
	DOB       *string `json:"dob"`
	Sex       *string `json:"sex"`
	BloodType *string `json:"bloodType"`
}

// Profile is the account plus its patient demographics.
type Profile struct {
	ID       int64          `json:"id"`
	Username string         `json:"username"`
	Email    string         `json:"email"`
	Patient  PatientProfile `json:"patient"`
}

// RegisterInput is a sign-up request after trimming. Optional fields are
// empty when absent.
type RegisterInput struct {
	Username  string `json:"username" validate:"required,min=3,max=20,excludesall= "`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6"`
	Phone     string `json:"phone" validate:"omitempty,max=20"`
	Name      string `json:"name" validate:"omitempty,max=100"`
	DOB       string `json:"dob" validate:"omitempty,datetime=2006-01-02"`
	Sex       string `json:"sex" validate:"oneof=M F O U"`
	BloodType string `json:"bloodType" validate:"oneof=A+ A- B+ B- AB+ AB- O+ O- UN"`
}

func (in *RegisterInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Password = strings.TrimSpace(in.Password)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Name = strings.TrimSpace(in.Name)
	in.DOB = strings.TrimSpace(in.DOB)
	in.Sex = strings.TrimSpace(in.Sex)
	in.BloodType = strings.TrimSpace(in.BloodType)
	if in.Sex == "" {
		in.Sex = DefaultSex
	}
	if in.BloodType == "" {
		in.BloodType = DefaultBloodType
	}
}

// Registration is what the repository persists for a new account.
type Registration struct {
	Username     string
	Email        string
	PasswordHash string
	Phone        *string
	Name         *string
	DOB          *string
	Sex          string
	BloodType    string
}

// ProfileUpdate carries the demographics to change. Nil fields are left as
// they are.
type ProfileUpdate struct {
	Name      *string `json:"name" validate:"omitempty,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=20"`
	DOB       *string `json:"dob" validate:"omitempty,datetime=2006-01-02"`
	Sex       *string `json:"sex" validate:"omitempty,oneof=M F O U"`
	BloodType *string `json:"bloodType" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O- UN"`
}

// normalize trims each field and drops the ones left empty.
func (u *ProfileUpdate) normalize() {
	for _, f := range []**string{&u.Name, &u.Phone, &u.DOB, &u.Sex, &u.BloodType} {
		*f = trimmedOrNil(*f)
	}
}

func (u ProfileUpdate) empty() bool {
	return u.Name == nil && u.Phone == nil && u.DOB == nil && u.Sex == nil && u.BloodType == nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type Notification struct {
	ID      int64     `json:"id"`
	Type    string    `json:"type"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Status  string    `json:"status"`
	Time    time.Time `json:"time"`
}

// NotificationStatusUnread marks a notification the user has not opened.
const NotificationStatusUnread = "unread"

type NotificationList struct {
	UnreadCount   int            `json:"unreadCount"`
	Notifications []Notification `json:"notifications"`
}
