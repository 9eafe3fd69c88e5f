package domain

import "fmt"

// RiskLevel is the categorical wallet risk rollup
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Value maps the level onto [0,1] for scoring: low=0, medium=0.5, high=1
func (r RiskLevel) Value() float64 {
	switch r {
	case RiskLow:
		return 0
	case RiskHigh:
		return 1
	default:
		return 0.5
	}
}

func (r RiskLevel) MarshalText() ([]byte, error) {
	if r < RiskLow || r > RiskHigh {
		return nil, fmt.Errorf("invalid risk level %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *RiskLevel) UnmarshalText(b []byte) error {
	switch string(b) {
	case "low":
		*r = RiskLow
	case "medium":
		*r = RiskMedium
	case "high":
		*r = RiskHigh
	default:
		return fmt.Errorf("unknown risk level %q", string(b))
	}
	return nil
}

// MEVType names the matched extraction pattern
type MEVType int

const (
	MEVNone MEVType = iota
	MEVSandwich
	// MEVMultiBlockSandwich is a sandwich whose legs span adjacent blocks
	MEVMultiBlockSandwich
)

func (m MEVType) String() string {
	switch m {
	case MEVNone:
		return "none"
	case MEVSandwich:
		return "sandwich"
	case MEVMultiBlockSandwich:
		return "multi_block_sandwich"
	default:
		return "unknown"
	}
}

func (m MEVType) MarshalText() ([]byte, error) {
	if m < MEVNone || m > MEVMultiBlockSandwich {
		return nil, fmt.Errorf("invalid mev type %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *MEVType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none":
		*m = MEVNone
	case "sandwich":
		*m = MEVSandwich
	case "multi_block_sandwich":
		*m = MEVMultiBlockSandwich
	default:
		return fmt.Errorf("unknown mev type %q", string(b))
	}
	return nil
}
