package lifecycle

// Phase is a stage in a plant's growth lifecycle.
type Phase string

const (
	PhaseSeed   Phase = "seed"
	PhaseClone  Phase = "clone"
	PhaseVeg    Phase = "veg"
	PhaseFlower Phase = "flower"
	PhaseDrying Phase = "drying"
	PhaseCuring Phase = "curing"
)

// Phases lists every growth phase in lifecycle order. Seed and clone are
// alternative entry points; a plant passes through exactly one of them.
var Phases = []Phase{PhaseSeed, PhaseClone, PhaseVeg, PhaseFlower, PhaseDrying, PhaseCuring}

// Valid reports whether p is a recognized growth phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseSeed, PhaseClone, PhaseVeg, PhaseFlower, PhaseDrying, PhaseCuring:
		return true
	}
	return false
}

// isEntry reports whether a plant may start its lifecycle in p.
func isEntry(p Phase) bool {
	return p == PhaseSeed || p == PhaseClone
}

// successor returns the only phase reachable from p by a forward step.
// Both entry phases advance straight to veg. Curing has no successor; from
// there the plant can only finish.
func successor(p Phase) (Phase, bool) {
	switch p {
	case PhaseSeed, PhaseClone:
		return PhaseVeg, true
	case PhaseVeg:
		return PhaseFlower, true
	case PhaseFlower:
		return PhaseDrying, true
	case PhaseDrying:
		return PhaseCuring, true
	}
	return "", false
}

// canAdvance reports whether a plant currently in current (nil when no
// phase is active yet) may step into next.
func canAdvance(current *string, next Phase) bool {
	if current == nil {
		return isEntry(next)
	}
	succ, ok := successor(Phase(*current))
	return ok && succ == next
}
