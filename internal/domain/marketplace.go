package domain

import (
	"errors"
	"time"
)

// ErrProfileNotFound is returned when a profile lookup matches no document.
var ErrProfileNotFound = errors.New("domain: profile not found")

// Channel groups a set of member identities and an ordered message sequence.
type Channel struct {
	ID        string
	MemberIDs []string
}

// Message is one persisted chat message inside a channel.
type Message struct {
	ID          string
	ChannelID   string
	SenderID    string
	SenderTitle string
	Body        string
	Type        string
	ChannelType string
	Status      string
	ProfileID   string
	MemberIDs   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// Profile is a service-provider record. Location is nil when the provider has
// no stored geolocation.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	ServiceTag  string    `json:"serviceTag"`
	Location    *GeoPoint `json:"location,omitempty"`
}
