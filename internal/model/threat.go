package model

// ThreatType names a reusable concern.
type ThreatType string

const (
	UserControlledInput ThreatType = "UserControlledInput"
	PrivilegedOperation ThreatType = "PrivilegedOperation"
	ArithmeticOverflow  ThreatType = "ArithmeticOverflow"
	UnboundedStorage    ThreatType = "UnboundedStorage"
)

// SecurityCheck names the category of check that addresses a threat. The
// check itself happens downstream (symbolic execution, generated tests).
type SecurityCheck string

const (
	InputSanitization SecurityCheck = "InputSanitization"
	AccessControl     SecurityCheck = "AccessControl"
	CheckedArithmetic SecurityCheck = "CheckedArithmetic"
	BoundsCheck       SecurityCheck = "BoundsCheck"
)

// KnownThreatTypes lists every ThreatType in declaration order.
func KnownThreatTypes() []ThreatType {
	return []ThreatType{UserControlledInput, PrivilegedOperation, ArithmeticOverflow, UnboundedStorage}
}

// KnownSecurityChecks lists every SecurityCheck in declaration order.
func KnownSecurityChecks() []SecurityCheck {
	return []SecurityCheck{InputSanitization, AccessControl, CheckedArithmetic, BoundsCheck}
}

// DefaultCheck returns the check usually paired with a threat type.
func DefaultCheck(t ThreatType) SecurityCheck {
	switch t {
	case PrivilegedOperation:
		return AccessControl
	case ArithmeticOverflow:
		return CheckedArithmetic
	case UnboundedStorage:
		return BoundsCheck
	default:
		return InputSanitization
	}
}

// Threat answers "what needs to be checked and how". It is a reusable
// definition, unrelated to the per-run matching rules of the threat engine.
type Threat struct {
	Name       ThreatType    `json:"name"`
	HowToCheck SecurityCheck `json:"how_to_check"`
}
