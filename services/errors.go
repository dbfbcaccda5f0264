package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies game errors for callers and transport mapping
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindInvalidOperation ErrorKind = "invalid_operation"
	KindOutOfRange       ErrorKind = "out_of_range"
	KindRateLimited      ErrorKind = "rate_limited"
	KindUnauthorized     ErrorKind = "unauthorized"
)

// GameError is a synchronous rule violation surfaced to the caller
type GameError struct {
	Kind             ErrorKind
	Code             string
	Message          string
	RemainingMinutes int
}

func (e *GameError) Error() string {
	return e.Message
}

// Is matches any GameError with the same code, so sentinels work with errors.Is
// even after a message or remaining time has been attached.
func (e *GameError) Is(target error) bool {
	t, ok := target.(*GameError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newGameError(kind ErrorKind, code, message string) *GameError {
	return &GameError{Kind: kind, Code: code, Message: message}
}

var (
	ErrZoneNotFound       = newGameError(KindNotFound, "zone_not_found", "zone not found")
	ErrPlayerNotFound     = newGameError(KindNotFound, "player_not_found", "player not found")
	ErrSelfAttack         = newGameError(KindInvalidOperation, "self_attack", "cannot attack your own zone")
	ErrZoneNotClaimed     = newGameError(KindInvalidOperation, "zone_not_claimed", "zone is not claimed, use claim instead")
	ErrZoneOwnedByOther   = newGameError(KindInvalidOperation, "zone_owned_by_other", "zone is already claimed by another player")
	ErrInvalidCoordinates = newGameError(KindInvalidOperation, "invalid_coordinates", "invalid coordinates")
	ErrInvalidCategory    = newGameError(KindInvalidOperation, "invalid_category", "invalid leaderboard category")
	ErrOutOfRange         = newGameError(KindOutOfRange, "out_of_range", "you must be within range of the zone")
	ErrOnCooldown         = newGameError(KindRateLimited, "on_cooldown", "attack is on cooldown")
	ErrUnauthorized       = newGameError(KindUnauthorized, "unauthorized", "user identity required")
)

// outOfRange reports the distance the claimant is away from the zone
func outOfRange(radiusMeters, distanceMeters float64) *GameError {
	return &GameError{
		Kind:    KindOutOfRange,
		Code:    ErrOutOfRange.Code,
		Message: fmt.Sprintf("you must be within %.0fm of the zone (currently %.0fm away)", radiusMeters, distanceMeters),
	}
}

func onCooldown(minutes int) *GameError {
	return &GameError{
		Kind:             KindRateLimited,
		Code:             ErrOnCooldown.Code,
		Message:          fmt.Sprintf("attack on cooldown, try again in %d minutes", minutes),
		RemainingMinutes: minutes,
	}
}

// AsGameError unwraps err into a *GameError when it carries one
func AsGameError(err error) (*GameError, bool) {
	var ge *GameError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
