package models

import (
	"time"
)

// AlertKind represents the condition category of an alert.
type AlertKind string

const (
	AlertLowStock        AlertKind = "low_stock"
	AlertOutOfStock      AlertKind = "out_of_stock"
	AlertSystem          AlertKind = "system"
	AlertInventoryUpdate AlertKind = "inventory_update"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank defines the total order critical > high > medium > low.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the numeric position of the severity in the total order.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AlertSubject references the inventory entity an alert is about.
type AlertSubject struct {
	ItemID       string `json:"item_id,omitempty"`
	ItemName     string `json:"item_name,omitempty"`
	SKU          string `json:"sku,omitempty"`
	Location     string `json:"location,omitempty"`
	Category     string `json:"category,omitempty"`
	CurrentStock int    `json:"current_stock,omitempty"`
	MinStock     int    `json:"min_stock,omitempty"`
}

// Identity returns the stable identity of the subject for deduplication.
// Item ID wins over SKU; a subject-less alert keys on the empty string.
func (s AlertSubject) Identity() string {
	if s.ItemID != "" {
		return s.ItemID
	}
	return s.SKU
}

// Alert is a durable stock/system condition requiring attention. Alerts never
// auto-expire; they are acknowledged or removed.
type Alert struct {
	ID           string       `json:"id"`
	Kind         AlertKind    `json:"kind"`
	Severity     Severity     `json:"severity"`
	Title        string       `json:"title"`
	Message      string       `json:"message"`
	Subject      AlertSubject `json:"subject,omitempty"`
	Acknowledged bool         `json:"acknowledged"`
	Dismissible  bool         `json:"dismissible"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Key returns the (subject identity, kind) deduplication key. At most one
// alert may exist per key at any time.
func (a *Alert) Key() string {
	return a.Subject.Identity() + "|" + string(a.Kind)
}

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// ParseAlertKind converts a string to AlertKind.
func ParseAlertKind(s string) AlertKind {
	switch s {
	case "low_stock":
		return AlertLowStock
	case "out_of_stock":
		return AlertOutOfStock
	case "inventory_update":
		return AlertInventoryUpdate
	default:
		return AlertSystem
	}
}
