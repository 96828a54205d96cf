package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"korean-tutor-billing/internal/domain"
)

// User is the learner profile. Tier and SubscriptionStatus mirror the
// subscription slot and are updated in the same transaction as it.
type User struct {
	ID                 string
	Name               string
	Email              string
	Phone              string
	Tier               Tier
	SubscriptionStatus SubscriptionStatus
	PlanID             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewUser validates and constructs a free-tier profile.
func NewUser(id, name, email, phone string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" && strings.TrimSpace(phone) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &User{
		ID:                 id,
		Name:               strings.TrimSpace(name),
		Email:              email,
		Phone:              strings.TrimSpace(phone),
		Tier:               TierFree,
		SubscriptionStatus: SubscriptionStatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Contact returns the checkout prefill snapshot.
func (u *User) Contact() ContactSnapshot {
	return ContactSnapshot{Name: u.Name, Email: u.Email, Phone: u.Phone}
}
