package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Direction is a level change direction.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

var transitionRe = regexp.MustCompile(`(?i)^\s*level\s+(\d+)\s+to\s+level\s+(\d+)\s+(up|down)\s*$`)

// Transition is a parsed inter-floor checkpoint name.
type Transition struct {
	From      int
	To        int
	Direction Direction
}

// ParseDirection accepts "up" or "down" in any case.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(raw))) {
	case Up:
		return Up, nil
	case Down:
		return Down, nil
	}
	return "", fmt.Errorf("invalid level direction: %q", raw)
}

// Delta returns +1 for up and -1 for down.
func (d Direction) Delta() int {
	if d == Up {
		return 1
	}
	return -1
}

// TransitionName builds the checkpoint name used for moving between levels,
// e.g. "Level 1 to Level 2 up".
func TransitionName(from, to int, dir Direction) string {
	return fmt.Sprintf("Level %d to Level %d %s", from, to, dir)
}

// ParseTransition parses a transition checkpoint name. The levels must be
// adjacent and agree with the direction.
func ParseTransition(name string) (Transition, error) {
	m := transitionRe.FindStringSubmatch(name)
	if m == nil {
		return Transition{}, fmt.Errorf("not a level transition checkpoint: %q", name)
	}
	from, _ := strconv.Atoi(m[1])
	to, _ := strconv.Atoi(m[2])
	dir := Direction(strings.ToLower(m[3]))

	if to-from != dir.Delta() {
		return Transition{}, fmt.Errorf("transition %q does not move one level %s", name, dir)
	}
	return Transition{From: from, To: to, Direction: dir}, nil
}

// IsTransition reports whether name looks like a level transition checkpoint.
func IsTransition(name string) bool {
	return transitionRe.MatchString(name)
}
