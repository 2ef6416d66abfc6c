package isolation

import (
	"fmt"
	"time"
)

// Restriction is one independently evaluable constraint on an access policy.
// ALL restrictions on a policy must pass for the policy to grant access; the
// first failure names the deny reason.
//
// The variants form a closed set: TimeWindow, MaxSensitivity, UsageLimit.
type Restriction interface {
	// Evaluate checks the restriction against the operation context.
	// On failure the returned string describes the failing constraint.
	Evaluate(req AccessRequest) (bool, string)
}

// TimeWindow permits access only between Start and End. A zero Start or End
// leaves that side unbounded.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

func (t TimeWindow) Evaluate(req AccessRequest) (bool, string) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	if !t.Start.IsZero() && now.Before(t.Start) {
		return false, fmt.Sprintf("time window not open until %s", t.Start.Format(time.RFC3339))
	}
	if !t.End.IsZero() && now.After(t.End) {
		return false, fmt.Sprintf("time window closed at %s", t.End.Format(time.RFC3339))
	}
	return true, ""
}

// MaxSensitivity caps the sensitivity of data the operation may touch.
type MaxSensitivity struct {
	Level SensitivityLevel
}

func (m MaxSensitivity) Evaluate(req AccessRequest) (bool, string) {
	if req.Sensitivity > m.Level {
		return false, fmt.Sprintf("data sensitivity %s exceeds policy cap %s",
			req.Sensitivity, m.Level)
	}
	return true, ""
}

// UsageLimit caps how many times the policy may grant access. The isolator
// tracks the count per tenant and policy.
type UsageLimit struct {
	Max int
}

func (u UsageLimit) Evaluate(req AccessRequest) (bool, string) {
	if u.Max > 0 && req.usage >= u.Max {
		return false, fmt.Sprintf("usage limit reached (%d/%d)", req.usage, u.Max)
	}
	return true, ""
}
