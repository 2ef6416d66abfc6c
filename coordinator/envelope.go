package coordinator

import (
	"time"
)

// Performance carries timing and path metadata for one operation.
type Performance struct {
	Duration  time.Duration `json:"duration"`
	CacheHit  bool          `json:"cache_hit"`
	Offloaded bool          `json:"offloaded"`
}

// Result is the uniform envelope every coordinator operation returns.
// Callers must check Success; no operation can both fail and return usable
// Data.
type Result struct {
	Success     bool        `json:"success"`
	Data        any         `json:"data,omitempty"`
	Error       string      `json:"error,omitempty"`
	TenantID    string      `json:"tenant_id"`
	OperationID string      `json:"operation_id"`
	Performance Performance `json:"performance"`

	// Err is the sentinel error kind for errors.Is discrimination; nil on
	// success. Not serialized.
	Err error `json:"-"`
}

func succeed(operationID, tenantID string, start time.Time, data any, perf Performance) Result {
	perf.Duration = time.Since(start)
	return Result{
		Success:     true,
		Data:        data,
		TenantID:    tenantID,
		OperationID: operationID,
		Performance: perf,
	}
}

func fail(operationID, tenantID string, start time.Time, kind error, msg string) Result {
	return Result{
		Success:     false,
		Error:       msg,
		TenantID:    tenantID,
		OperationID: operationID,
		Performance: Performance{Duration: time.Since(start)},
		Err:         kind,
	}
}
