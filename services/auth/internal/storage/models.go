package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/plantkeep/cmms/libs/auth"
)

// Channel is the out-of-band route a code travels on.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelPhone Channel = "PHONE"
)

// Purpose scopes a one-time code or reset token to the credential it unlocks.
type Purpose string

const (
	PurposeLogin    Purpose = "LOGIN"
	PurposePassword Purpose = "PASSWORD"
	PurposePin      Purpose = "PIN"
)

// User is the credential subset of the maintenance user record. Rows are
// provisioned elsewhere; this service only rewrites PasswordHash and PinHash.
type User struct {
	ID                 uuid.UUID
	Email              *string
	Phone              *string
	DisplayName        string
	Role               string
	PasswordHash       *string
	PinHash            *string
	GrantedPermissions []string
	RevokedPermissions []string
	CreatedAt          time.Time
}

func (u *User) EmailAddress() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

func (u *User) PhoneNumber() string {
	if u.Phone == nil {
		return ""
	}
	return *u.Phone
}

func (u *User) HasPin() bool {
	return u.PinHash != nil && *u.PinHash != ""
}

type OneTimeCode struct {
	ID         uuid.UUID
	UserID     *uuid.UUID
	Target     string
	Channel    Channel
	Purpose    Purpose
	CodeHash   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	Attempts   int
}

type ResetToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Purpose    Purpose
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// ChannelFor routes a contact: anything containing "@" is an email address.
func ChannelFor(contact string) Channel {
	if auth.IsEmailContact(contact) {
		return ChannelEmail
	}
	return ChannelPhone
}

// NormalizeContact is the spelling used for lookups and code targets.
func NormalizeContact(contact string) string {
	return auth.NormalizeContact(contact)
}
