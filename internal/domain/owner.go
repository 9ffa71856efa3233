package domain

import "regexp"

// Messaging-channel owners are identified by a phone-number-shaped id
// (E.164-ish: optional +, 7-15 digits). They get priority treatment at
// admission and result notifications on completion.
var messagingOwner = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

func IsMessagingOwner(ownerID string) bool {
	return messagingOwner.MatchString(ownerID)
}
