package protocol

import "strings"

// ParticipantType classifies a subscriber in the network directory.
type ParticipantType string

const (
	TypeBAP     ParticipantType = "BAP"
	TypeBPP     ParticipantType = "BPP"
	TypeGateway ParticipantType = "BG"
)

// ParticipantStatus is the registration lifecycle state reported by the directory.
type ParticipantStatus string

const (
	StatusInitiated         ParticipantStatus = "INITIATED"
	StatusUnderSubscription ParticipantStatus = "UNDER_SUBSCRIPTION"
	StatusSubscribed        ParticipantStatus = "SUBSCRIBED"
	StatusExpired           ParticipantStatus = "EXPIRED"
	StatusUnsubscribed      ParticipantStatus = "UNSUBSCRIBED"
	StatusInvalidSSL        ParticipantStatus = "INVALID_SSL"
)

// Participant is a network subscriber resolved from the directory.
type Participant struct {
	SubscriberID string
	BaseURL      string
	Type         ParticipantType
	Domain       string
	City         string
	Country      string
	Status       ParticipantStatus
	SigningKey   string
}

// Criteria filters a directory lookup.
type Criteria struct {
	SubscriberID string
	Type         ParticipantType
	Domain       string
	City         string
	Country      string
}

// NormalizeBaseURL trims whitespace and enforces a single trailing slash.
func NormalizeBaseURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return strings.TrimRight(trimmed, "/") + "/"
}
