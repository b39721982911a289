package entity

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two resolver instantiations.
type Kind string

const (
	KindPerson Kind = "person"
	KindVendor Kind = "vendor"
)

// Valid reports whether k is a known entity kind.
func (k Kind) Valid() bool {
	return k == KindPerson || k == KindVendor
}

// Status values for entity profiles. Only active profiles participate
// in fuzzy candidate scans.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Profile is the single canonical record for one real-world person or
// vendor. At most one active profile exists per (kind, canonical name).
type Profile struct {
	ID              uuid.UUID         `json:"id"`
	Kind            Kind              `json:"kind"`
	CanonicalName   string            `json:"canonical_name"`
	NameVariants    []string          `json:"name_variants"`
	Attributes      map[string]string `json:"attributes"`
	Category        string            `json:"category,omitempty"`
	FirstSeen       time.Time         `json:"first_seen"`
	LastSeen        time.Time         `json:"last_seen"`
	OccurrenceCount int64             `json:"occurrence_count"`
	TotalQuantity   float64           `json:"total_quantity"`
	Status          string            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// HasVariant reports whether the profile already carries the given
// name variant.
func (p *Profile) HasVariant(variant string) bool {
	for _, v := range p.NameVariants {
		if v == variant {
			return true
		}
	}
	return false
}

// Occurrence is one immutable history record linking a profile to the
// report that mentioned it. Keyed by (EntityID, OccurrenceID);
// never mutated or deleted.
type Occurrence struct {
	EntityID       uuid.UUID         `json:"entity_id"`
	OccurrenceID   string            `json:"occurrence_id"`
	ReportID       string            `json:"report_id"`
	OccurrenceDate time.Time         `json:"occurrence_date"`
	RawName        string            `json:"raw_name"`
	GoByName       string            `json:"go_by_name,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Quantity       float64           `json:"quantity"`
	Notes          string            `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Mention is one candidate mention produced by the upstream extraction
// step, ready for resolution.
type Mention struct {
	Kind           Kind              `json:"kind"`
	FullName       string            `json:"full_name"`
	GoByName       string            `json:"go_by_name,omitempty"`
	OccurrenceID   string            `json:"occurrence_id"`
	ReportID       string            `json:"report_id"`
	OccurrenceDate time.Time         `json:"occurrence_date"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Quantity       float64           `json:"quantity"`
	Notes          string            `json:"notes,omitempty"`
}

// Category returns the vendor category carried by the mention, if any.
func (m *Mention) Category() string {
	if m.Attributes == nil {
		return ""
	}
	return m.Attributes["category"]
}

// ResolutionPath records which branch of the resolver produced the
// entity ID.
type ResolutionPath string

const (
	PathExact   ResolutionPath = "exact"
	PathFuzzy   ResolutionPath = "fuzzy"
	PathCreated ResolutionPath = "created"
)

// Resolution is the outcome of resolving one mention.
type Resolution struct {
	EntityID      uuid.UUID      `json:"entity_id"`
	CanonicalName string         `json:"canonical_name"`
	Path          ResolutionPath `json:"path"`
	IsNew         bool           `json:"is_new"`
	MatchScore    float64        `json:"match_score,omitempty"`
}
