package store

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

type EventType string

const (
	EventView       EventType = "view"
	EventConversion EventType = "conversion"
)

type DurationType string

const (
	DurationNone      DurationType = "none"
	DurationFixedDays DurationType = "fixed_days"
	DurationEndDate   DurationType = "end_date"
)

type AutoEndCondition string

const (
	AutoEndNone           AutoEndCondition = "none"
	AutoEndMinConversions AutoEndCondition = "min_conversions"
	AutoEndMinViews       AutoEndCondition = "min_views"
)

const (
	ConsentMechanismNone      = "none"
	ConsentMechanismCookieKey = "cookie_key"
)

// DateLayout is the format of stat dates and explicit end dates.
const DateLayout = "2006-01-02"

type Variant struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Weight int    `json:"weight" yaml:"weight"`
}

type Goal struct {
	Type   string          `json:"type" yaml:"type"`
	Config json.RawMessage `json:"config,omitempty" yaml:"-"`
}

type LifecycleConfig struct {
	DurationType     DurationType     `json:"duration_type" yaml:"duration_type"`
	DurationDays     int              `json:"duration_days" yaml:"duration_days"`
	EndDate          string           `json:"end_date" yaml:"end_date"` // YYYY-MM-DD, deployment time zone
	AutoEndCondition AutoEndCondition `json:"auto_end_condition" yaml:"auto_end_condition"`
	AutoEndValue     int64            `json:"auto_end_value" yaml:"auto_end_value"`
}

type ConsentConfig struct {
	Required  bool   `json:"required" yaml:"required"`
	Mechanism string `json:"mechanism" yaml:"mechanism"`
	KeyName   string `json:"key_name" yaml:"key_name"`
	KeyValue  string `json:"key_value" yaml:"key_value"` // empty means presence is enough
}

type Experiment struct {
	ID          int64
	Name        string
	Status      Status
	Variants    []Variant // Stored order is the assignment walk order
	Goal        Goal
	Lifecycle   LifecycleConfig
	Consent     ConsentConfig
	ActivatedAt *time.Time // Set on the first transition to running
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasVariant reports whether id names one of the experiment's variants.
func (e *Experiment) HasVariant(id string) bool {
	for _, v := range e.Variants {
		if v.ID == id {
			return true
		}
	}
	return false
}

type RawEvent struct {
	ID           int64
	ExperimentID int64
	VariantID    string
	VisitorID    string
	SessionID    string // Optional, enables per-session dedup
	EventType    EventType
	PageContext  string
	GoalType     string
	GoalDetail   json.RawMessage
	Processed    bool
	CreatedAt    time.Time
}

// StatKey identifies one aggregated counter row.
type StatKey struct {
	ExperimentID int64
	VariantID    string
	Date         string // YYYY-MM-DD
}

type AggregatedStat struct {
	StatKey
	Impressions int64
	Conversions int64
}

type VariantTotals struct {
	VariantID   string
	Impressions int64
	Conversions int64
}
