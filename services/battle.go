package services

import (
	"math"
	"math/rand/v2"
	"sync"
)

// RandSource yields uniform values in [0, 1)
type RandSource interface {
	Float64() float64
}

// lockedRand makes a *rand.Rand safe for concurrent battles
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// NewSeededRand returns a deterministic, goroutine-safe RandSource
func NewSeededRand(seed uint64) RandSource {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// BattleOutcome is the result of one resolved battle
type BattleOutcome struct {
	Success       bool
	AttackerRoll  int64
	DefenderRoll  int64
	XPAwarded     int64
	AttackerPower int64
	DefenderPower int64
}

// BattleResolver rolls attacker against defender. It has no side effects.
type BattleResolver struct {
	Variance float64
	Rand     RandSource
}

// NewBattleResolver uses the process-wide generator when r is nil
func NewBattleResolver(variance float64, r RandSource) *BattleResolver {
	if r == nil {
		r = globalRand{}
	}
	return &BattleResolver{Variance: variance, Rand: r}
}

// multiplier maps a uniform draw onto [1-variance, 1+variance]
func (b *BattleResolver) multiplier() float64 {
	return 1 - b.Variance + b.Rand.Float64()*2*b.Variance
}

// Resolve decides a battle. Ties favour the defender.
func (b *BattleResolver) Resolve(attackerPower, defenderPower, baseXP int64) BattleOutcome {
	attackerRoll := float64(attackerPower) * b.multiplier()
	defenderRoll := float64(defenderPower) * b.multiplier()
	success := attackerRoll > defenderRoll

	return BattleOutcome{
		Success:       success,
		AttackerRoll:  int64(attackerRoll),
		DefenderRoll:  int64(defenderRoll),
		XPAwarded:     BattleXP(success, baseXP, defenderPower),
		AttackerPower: attackerPower,
		DefenderPower: defenderPower,
	}
}

// BattleXP is baseXP plus a tenth of the defence on success, a quarter of
// baseXP (at least 1) on failure.
func BattleXP(success bool, baseXP, defenderPower int64) int64 {
	if success {
		return baseXP + int64(math.Floor(float64(defenderPower)*0.1))
	}
	return max(1, baseXP/4)
}

// AttackPower derives a player's attack strength from level and owned zones
func AttackPower(level, zonesOwned int) int64 {
	return int64(level)*10 + int64(min(zonesOwned*5, 50))
}

// DefensePower is the owner's attack power plus the defender bonus
func DefensePower(ownerLevel, ownerZones int, bonus int64) int64 {
	return AttackPower(ownerLevel, ownerZones) + bonus
}
