package models

import "errors"

// MaterialCategory classifies a purchase lot and decides which quantity field
// is authoritative for it (see unitPolicy.go).
type MaterialCategory string

const (
	MaterialCategoryLooseBeads   MaterialCategory = "LOOSE_BEADS"
	MaterialCategoryBracelet     MaterialCategory = "BRACELET"
	MaterialCategoryAccessory    MaterialCategory = "ACCESSORY"
	MaterialCategoryFinishedGood MaterialCategory = "FINISHED_GOOD"
)

func (c MaterialCategory) Valid() bool {
	switch c {
	case MaterialCategoryLooseBeads, MaterialCategoryBracelet, MaterialCategoryAccessory, MaterialCategoryFinishedGood:
		return true
	}
	return false
}

// MeasureUnit is the counting unit a lot is tracked in. A lot's ledger entries
// are always in the lot's own unit; sub-unit and piece counts are never mixed.
type MeasureUnit string

const (
	MeasureUnitPieces MeasureUnit = "pieces"
	MeasureUnitBeads  MeasureUnit = "beads"
	MeasureUnitSlices MeasureUnit = "slices"
	MeasureUnitItems  MeasureUnit = "items"
)

type PurchaseStatus string

const (
	PurchaseStatusActive   PurchaseStatus = "Active"
	PurchaseStatusUsed     PurchaseStatus = "Used"
	PurchaseStatusArchived PurchaseStatus = "Archived"
)

type SkuStatus string

const (
	SkuStatusActive   SkuStatus = "Active"
	SkuStatusInactive SkuStatus = "Inactive"
)

// SkuLogAction labels entries of the SKU stock audit trail.
type SkuLogAction string

const (
	SkuLogActionCraft   SkuLogAction = "CRAFT"
	SkuLogActionSell    SkuLogAction = "SELL"
	SkuLogActionDestroy SkuLogAction = "DESTROY"
	SkuLogActionAdjust  SkuLogAction = "ADJUST"
)

func (a SkuLogAction) Valid() bool {
	switch a {
	case SkuLogActionCraft, SkuLogActionSell, SkuLogActionDestroy, SkuLogActionAdjust:
		return true
	}
	return false
}

// AuditReferenceType tags outbox records with the entity kind they describe.
type AuditReferenceType string

const (
	AuditReferenceTypeSkuInventoryLog AuditReferenceType = "SIL"
	AuditReferenceTypeReconciliation  AuditReferenceType = "REC"
)

type AuditMessageAction string

const (
	AuditMessageActionCreate AuditMessageAction = "C"
	AuditMessageActionUpdate AuditMessageAction = "U"
	AuditMessageActionDelete AuditMessageAction = "D"
)

// Outbox publish lifecycle (dispatcher side).
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)

var errInvalidCategory = errors.New("invalid material category")
