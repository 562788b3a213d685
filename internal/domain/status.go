package domain

import "strings"

// Canonical supply-order statuses (current API generation vocabulary).
const (
	StatusAccepted        = "ACCEPTED_AT_SUPPLY_WAREHOUSE"
	StatusInTransit       = "IN_TRANSIT"
	StatusStorageIntake   = "ACCEPTANCE_AT_STORAGE_WAREHOUSE"
	StatusReportsAwaiting = "REPORTS_CONFIRMATION_AWAITING"
	StatusCompleted       = "COMPLETED"
	StatusDataFilling     = "DATA_FILLING"
	StatusReadyToSupply   = "READY_TO_SUPPLY"
	StatusRejected        = "REJECTED_AT_SUPPLY_WAREHOUSE"
	StatusCancelled       = "CANCELLED"
	StatusOverdue         = "OVERDUE"
)

// statusAliases maps the legacy API generation's status names onto the
// canonical vocabulary.
var statusAliases = map[string]string{
	"ORDER_STATE_ACCEPTED_AT_SUPPLY_WAREHOUSE":    StatusAccepted,
	"ORDER_STATE_IN_TRANSIT":                      StatusInTransit,
	"ORDER_STATE_ACCEPTANCE_AT_STORAGE_WAREHOUSE": StatusStorageIntake,
	"ORDER_STATE_REPORTS_CONFIRMATION_AWAITING":   StatusReportsAwaiting,
	"ORDER_STATE_COMPLETED":                       StatusCompleted,
	"ORDER_STATE_DATA_FILLING":                    StatusDataFilling,
	"ORDER_STATE_READY_TO_SUPPLY":                 StatusReadyToSupply,
	"ORDER_STATE_REJECTED_AT_SUPPLY_WAREHOUSE":    StatusRejected,
	"ORDER_STATE_CANCELLED":                       StatusCancelled,
	"ORDER_STATE_OVERDUE":                         StatusOverdue,
}

// NormalizeStatus maps any known upstream status name onto the canonical
// vocabulary. Unrecognized names pass through uppercased rather than being
// dropped, so a new upstream status degrades gracefully instead of failing
// closed.
func NormalizeStatus(name string) string {
	up := strings.ToUpper(strings.TrimSpace(name))
	if canonical, ok := statusAliases[up]; ok {
		return canonical
	}
	return up
}

// TrackedStatuses returns the statuses the fetcher discovers orders in:
// the lifecycle start, transit, and every status that can resolve as a
// logical end.
func TrackedStatuses() []string {
	return []string{
		StatusAccepted,
		StatusInTransit,
		StatusStorageIntake,
		StatusReportsAwaiting,
		StatusCompleted,
	}
}

// IsEndStatus reports whether the canonical status can resolve a lifecycle's
// logical end.
func IsEndStatus(status string) bool {
	switch status {
	case StatusStorageIntake, StatusReportsAwaiting, StatusCompleted:
		return true
	}
	return false
}
