package enums

import "fmt"

// PlanType identifies the subscription plan a PIX charge pays for.
type PlanType string

const (
	PlanTypeMonthly   PlanType = "monthly"
	PlanTypeQuarterly PlanType = "quarterly"
	PlanTypeYearly    PlanType = "yearly"
)

var validPlanTypes = []PlanType{
	PlanTypeMonthly,
	PlanTypeQuarterly,
	PlanTypeYearly,
}

// IsValid reports whether the value matches the canonical plan type enum.
func (p PlanType) IsValid() bool {
	for _, candidate := range validPlanTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlanType converts the raw string to PlanType.
func ParsePlanType(value string) (PlanType, error) {
	for _, candidate := range validPlanTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan type %q", value)
}
