package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// AutonomyLevel configures how cautious the gating policy is.
// Lower levels keep a human in the loop for more actions.
type AutonomyLevel int

const (
	LevelSupervised AutonomyLevel = 1
	LevelGuarded    AutonomyLevel = 2
	LevelTrusted    AutonomyLevel = 3
	LevelAutonomous AutonomyLevel = 4
)

// Valid reports whether l is within 1..4.
func (l AutonomyLevel) Valid() bool {
	return l >= LevelSupervised && l <= LevelAutonomous
}

// Clamp pulls an out-of-range level to the nearest valid one.
func (l AutonomyLevel) Clamp() AutonomyLevel {
	if l < LevelSupervised {
		return LevelSupervised
	}
	if l > LevelAutonomous {
		return LevelAutonomous
	}
	return l
}

func (l AutonomyLevel) String() string {
	switch l {
	case LevelSupervised:
		return "supervised"
	case LevelGuarded:
		return "guarded"
	case LevelTrusted:
		return "trusted"
	case LevelAutonomous:
		return "autonomous"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseAutonomyLevel accepts either the numeric form ("2") or the name ("guarded").
func ParseAutonomyLevel(s string) (AutonomyLevel, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, err := strconv.Atoi(s); err == nil {
		l := AutonomyLevel(n)
		if !l.Valid() {
			return 0, fmt.Errorf("autonomy level %d out of range 1-4", n)
		}
		return l, nil
	}
	for l := LevelSupervised; l <= LevelAutonomous; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown autonomy level %q", s)
}
