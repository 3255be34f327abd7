package config

import (
	"os"
	"strings"
)

// AuditOutboxEnabled controls whether SKU inventory log entries are also queued
// on the transactional outbox for async publishing. Disable in environments
// without Pub/Sub (local dev, CI).
//
// Set via env:
// - AUDIT_OUTBOX=true
func AuditOutboxEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("AUDIT_OUTBOX")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// ScheduledReconcileEnabled controls the in-process reconciliation loop.
// The reconciler is never required for steady-state correctness; the schedule
// only shortens time-to-detection for drift.
//
// Set via env:
// - RECONCILE_SCHEDULE=true
// - RECONCILE_INTERVAL_MINUTES (default 60)
func ScheduledReconcileEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("RECONCILE_SCHEDULE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
