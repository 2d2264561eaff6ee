package core

import "time"

type (
	// User is an authenticated identity. Subject is the stable id issued by
	// the upstream provider (e.g. "github:123") and is what board ownership
	// is keyed on.
	User struct {
		Subject   string    `json:"subject"`
		Login     string    `json:"login"`
		Email     string    `json:"email,omitempty"`
		AvatarURL string    `json:"avatarUrl,omitempty"`
		Name      string    `json:"name,omitempty"`
		CreatedAt time.Time `json:"createdAt,omitempty"`
	}
)
