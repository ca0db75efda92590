package models

// UrgencyTier is the four-level classification derived from a request's priority.
type UrgencyTier string

const (
	UrgencyLow      UrgencyTier = "Low"
	UrgencyMedium   UrgencyTier = "Medium"
	UrgencyHigh     UrgencyTier = "High"
	UrgencyCritical UrgencyTier = "Critical"
)

const (
	MinPriority = 0
	MaxPriority = 100
)

// UrgencyFor maps a priority onto its tier: [0,25) Low, [25,50) Medium,
// [50,75) High, [75,100] Critical. Out of range values clamp to the nearest tier.
func UrgencyFor(priority int) UrgencyTier {
	switch {
	case priority >= 75:
		return UrgencyCritical
	case priority >= 50:
		return UrgencyHigh
	case priority >= 25:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// Color returns the display colour for the tier.
func (t UrgencyTier) Color() string {
	switch t {
	case UrgencyCritical:
		return "#DC2626"
	case UrgencyHigh:
		return "#F59E0B"
	case UrgencyMedium:
		return "#2563EB"
	default:
		return "#10B981"
	}
}

// Urgency returns the tier for the request's priority.
func (r DeliveryRequest) Urgency() UrgencyTier {
	return UrgencyFor(r.Priority)
}
