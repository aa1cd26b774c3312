package auth

import "strings"

// IsEmailContact reports whether a sign-in contact is an email address.
// Anything else is a phone number.
func IsEmailContact(contact string) bool {
	return strings.Contains(contact, "@")
}

// NormalizeContact lower-cases emails and strips formatting from phone
// numbers. The server and devices both use it so a contact has one spelling.
func NormalizeContact(contact string) string {
	contact = strings.TrimSpace(contact)
	if IsEmailContact(contact) {
		return strings.ToLower(contact)
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, contact)
}
