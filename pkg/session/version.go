package session

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ProtocolVersion is the signing protocol version this build speaks.
const ProtocolVersion = "1.0.0"

// DefaultConstraint accepts any compatible 1.x initiator.
const DefaultConstraint = "^1.0.0"

// Compatible reports whether version satisfies constraint.
func Compatible(version, constraint string) (bool, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid version %s: %w", version, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid constraint %s: %w", constraint, err)
	}
	return c.Check(v), nil
}
