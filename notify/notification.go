// Package notify delivers zone event notifications to players' devices.
package notify

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Kind is the notification event type
type Kind string

const (
	KindZoneAttack   Kind = "zone_attack"
	KindZoneLost     Kind = "zone_lost"
	KindZoneDefended Kind = "zone_defended"
)

// Notification is a push message addressed to one device
type Notification struct {
	UserID    string            `json:"user_id"`
	PushToken string            `json:"push_token"`
	Kind      Kind              `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      datatypes.JSONMap `json:"data"`
	CreatedAt time.Time         `json:"created_at"`
}

// Sender delivers a single notification
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// ZoneEvent builds the notification for kind sent to the zone's owner
func ZoneEvent(kind Kind, userID, pushToken, zoneID, attacker string) Notification {
	n := Notification{
		UserID:    userID,
		PushToken: pushToken,
		Kind:      kind,
		Data: datatypes.JSONMap{
			"type":     string(kind),
			"zone_id":  zoneID,
			"attacker": attacker,
		},
		CreatedAt: time.Now().UTC(),
	}

	switch kind {
	case KindZoneAttack:
		n.Title = "Zone Under Attack!"
		n.Body = fmt.Sprintf("%s is attacking your zone %s", attacker, zoneID)
	case KindZoneLost:
		n.Title = "Zone Lost!"
		n.Body = fmt.Sprintf("Your zone %s was captured by %s", zoneID, attacker)
	case KindZoneDefended:
		n.Title = "Zone Defended!"
		n.Body = fmt.Sprintf("You successfully defended zone %s from %s", zoneID, attacker)
	}
	return n
}
