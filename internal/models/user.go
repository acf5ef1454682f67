package models

import "time"

// User is the local account row keyed by the identity provider's subject id.
type User struct {
	ID               string    `json:"id"`
	Email            *string   `json:"email,omitempty"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UserProfile holds the user-editable public profile.
type UserProfile struct {
	ID          string    `json:"id"`
	FullName    *string   `json:"full_name"`
	DisplayName *string   `json:"display_name"`
	Bio         *string   `json:"bio"`
	Website     *string   `json:"website"`
	AvatarURL   *string   `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProfileUpdate carries the editable profile fields. Nil fields are written as NULL.
type ProfileUpdate struct {
	FullName    *string `json:"full_name" validate:"omitempty,max=100"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=50"`
	Bio         *string `json:"bio" validate:"omitempty,max=1000"`
	Website     *string `json:"website" validate:"omitempty,url"`
}
