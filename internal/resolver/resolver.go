package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldledger/fieldledger/internal/config"
	"github.com/fieldledger/fieldledger/internal/entity"
	"github.com/fieldledger/fieldledger/internal/history"
	"github.com/fieldledger/fieldledger/internal/matching"
	"github.com/fieldledger/fieldledger/internal/metrics"
	"github.com/fieldledger/fieldledger/internal/normalize"
	"github.com/fieldledger/fieldledger/internal/store"
	"github.com/google/uuid"
)

// Store is the persistence surface the resolver requires. Implemented
// by store.Repository; tests substitute an in-memory double with the
// same conditional-write semantics.
type Store interface {
	CreateProfile(ctx context.Context, p *entity.Profile) error
	GetProfile(ctx context.Context, id uuid.UUID) (*entity.Profile, error)
	GetProfileByCanonicalName(ctx context.Context, kind entity.Kind, canonicalName string) (*entity.Profile, error)
	ListActiveProfiles(ctx context.Context, kind entity.Kind, category string) ([]*entity.Profile, error)
	ApplyOccurrence(ctx context.Context, id uuid.UUID, upd store.OccurrenceUpdate) error
	AppendOccurrence(ctx context.Context, o *entity.Occurrence) error
}

// EventPublisher publishes resolution outcomes downstream. Best-effort;
// a publish failure never fails the occurrence.
type EventPublisher interface {
	PublishResolved(ctx context.Context, m *entity.Mention, res *entity.Resolution) error
}

// GraphProjector mirrors resolutions into the graph store. Best-effort.
type GraphProjector interface {
	ProjectResolution(ctx context.Context, m *entity.Mention, res *entity.Resolution) error
}

// Resolver decides, for each candidate mention, whether it names an
// existing canonical entity or a new one, applies the corresponding
// mutation, and appends the occurrence to the history trail. It holds
// no per-occurrence state; concurrent occurrences are safe because
// creation is a conditional write and updates are atomic merges.
type Resolver struct {
	store     Store
	matcher   *matching.Engine
	recorder  *history.Recorder
	nameIndex *matching.NameIndex
	publisher EventPublisher
	projector GraphProjector
	collector *metrics.Collector
	config    config.MatchingConfig
	logger    *slog.Logger
}

// NewResolver creates a new entity resolver. publisher and projector
// may be nil when the corresponding collaborator is disabled.
func NewResolver(
	st Store,
	matcher *matching.Engine,
	recorder *history.Recorder,
	nameIndex *matching.NameIndex,
	publisher EventPublisher,
	projector GraphProjector,
	collector *metrics.Collector,
	cfg config.MatchingConfig,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		store:     st,
		matcher:   matcher,
		recorder:  recorder,
		nameIndex: nameIndex,
		publisher: publisher,
		projector: projector,
		collector: collector,
		config:    cfg,
		logger:    logger,
	}
}

// Resolve processes one candidate mention end to end: normalize, exact
// lookup, fuzzy lookup, create-or-update, history append. Returns the
// canonical entity ID. Any store failure aborts the occurrence; the
// caller may safely retry the whole mention since creation is
// conditional and the history append is idempotent.
func (r *Resolver) Resolve(ctx context.Context, m *entity.Mention) (*entity.Resolution, error) {
	start := time.Now()

	if err := validateMention(m); err != nil {
		return nil, err
	}

	fullKey := normalize.Name(m.FullName, m.Kind)
	if fullKey == "" {
		return nil, fmt.Errorf("full name %q normalizes to empty: %w", m.FullName, entity.ErrInvalidMention)
	}
	aliasKey := normalize.Name(m.GoByName, m.Kind)

	res, err := r.resolveProfile(ctx, m, fullKey, aliasKey)
	if err != nil {
		if r.collector != nil {
			r.collector.RecordResolutionError()
		}
		return nil, fmt.Errorf("resolve %s occurrence %s: %w", m.Kind, m.OccurrenceID, err)
	}

	occurrence := &entity.Occurrence{
		EntityID:       res.EntityID,
		OccurrenceID:   m.OccurrenceID,
		ReportID:       m.ReportID,
		OccurrenceDate: m.OccurrenceDate,
		RawName:        m.FullName,
		GoByName:       m.GoByName,
		Attributes:     m.Attributes,
		Quantity:       m.Quantity,
		Notes:          m.Notes,
		CreatedAt:      time.Now().UTC(),
	}

	if err := r.recorder.Append(ctx, occurrence); err != nil {
		if r.collector != nil {
			r.collector.RecordResolutionError()
		}
		return nil, fmt.Errorf("resolve %s occurrence %s: %w", m.Kind, m.OccurrenceID, err)
	}

	if r.collector != nil {
		r.collector.RecordResolved(string(res.Path), res.MatchScore, time.Since(start))
	}

	r.publishOutcome(ctx, m, res)

	r.logger.Info("mention resolved",
		"kind", m.Kind,
		"occurrence_id", m.OccurrenceID,
		"entity_id", res.EntityID,
		"path", res.Path,
		"duration_ms", time.Since(start).Milliseconds())

	return res, nil
}

// resolveProfile walks the match tiers and performs the profile
// mutation. Exact hit or fuzzy hit updates; a miss creates, and a lost
// creation race re-resolves against the winner.
func (r *Resolver) resolveProfile(ctx context.Context, m *entity.Mention, fullKey, aliasKey string) (*entity.Resolution, error) {
	// Exact lookup. A failed lookup aborts the occurrence; it is never
	// treated as "not found", which would silently route a transient
	// outage into duplicate creation.
	existing, err := r.store.GetProfileByCanonicalName(ctx, m.Kind, fullKey)
	switch {
	case err == nil:
		return r.updateExisting(ctx, existing, m, fullKey, entity.PathExact, 100)
	case errors.Is(err, entity.ErrNotFound):
		// fall through to fuzzy
	default:
		return nil, fmt.Errorf("exact lookup: %w", err)
	}

	// Fuzzy lookup over the active population. The scan may see a
	// slightly stale view; a false miss is safe because creation below
	// is conditional.
	category := ""
	if r.config.CategoryScoped && m.Kind == entity.KindVendor {
		category = m.Category()
	}

	candidates, err := r.store.ListActiveProfiles(ctx, m.Kind, category)
	if err != nil {
		return nil, fmt.Errorf("fuzzy scan: %w", err)
	}

	if match, ok := r.matcher.BestMatch(m.Kind, fullKey, aliasKey, candidates); ok {
		return r.updateExisting(ctx, match.Profile, m, fullKey, entity.PathFuzzy, match.Score)
	}

	return r.createNew(ctx, m, fullKey)
}

// createNew allocates a profile for a first-seen entity. The insert is
// conditional on the (kind, canonical name) key; losing the race means
// another worker created the entity between our lookup and our insert,
// so we re-read the winner and converge onto it.
func (r *Resolver) createNew(ctx context.Context, m *entity.Mention, fullKey string) (*entity.Resolution, error) {
	now := time.Now().UTC()
	p := &entity.Profile{
		ID:              uuid.New(),
		Kind:            m.Kind,
		CanonicalName:   fullKey,
		NameVariants:    seedVariants(m.FullName, m.GoByName, fullKey),
		Attributes:      m.Attributes,
		Category:        m.Category(),
		FirstSeen:       m.OccurrenceDate,
		LastSeen:        m.OccurrenceDate,
		OccurrenceCount: 1,
		TotalQuantity:   m.Quantity,
		Status:          entity.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := r.store.CreateProfile(ctx, p)
	switch {
	case err == nil:
		if r.nameIndex != nil {
			r.nameIndex.Insert(p.Kind, p.CanonicalName, p.ID)
		}
		return &entity.Resolution{
			EntityID:      p.ID,
			CanonicalName: p.CanonicalName,
			Path:          entity.PathCreated,
			IsNew:         true,
		}, nil

	case errors.Is(err, entity.ErrConflict):
		if r.collector != nil {
			r.collector.RecordConflictRetry()
		}
		r.logger.Info("lost creation race, converging on winner",
			"kind", m.Kind,
			"canonical_name", fullKey,
			"occurrence_id", m.OccurrenceID)

		winner, lookupErr := r.store.GetProfileByCanonicalName(ctx, m.Kind, fullKey)
		if lookupErr != nil {
			return nil, fmt.Errorf("conflict re-resolution: %w", lookupErr)
		}
		return r.updateExisting(ctx, winner, m, fullKey, entity.PathExact, 100)

	default:
		return nil, fmt.Errorf("create profile: %w", err)
	}
}

// updateExisting merges the occurrence into a matched profile. The
// merge is a single atomic store operation: counter increments and
// variant unions never lose concurrent updates; only the latest-value
// attributes are last-writer-wins.
func (r *Resolver) updateExisting(ctx context.Context, p *entity.Profile, m *entity.Mention, fullKey string, path entity.ResolutionPath, score float64) (*entity.Resolution, error) {
	upd := store.OccurrenceUpdate{
		Variants:   seedVariants(m.FullName, m.GoByName, fullKey),
		Attributes: m.Attributes,
		Category:   m.Category(),
		LastSeen:   m.OccurrenceDate,
		Quantity:   m.Quantity,
	}

	if err := r.store.ApplyOccurrence(ctx, p.ID, upd); err != nil {
		return nil, fmt.Errorf("apply occurrence: %w", err)
	}

	return &entity.Resolution{
		EntityID:      p.ID,
		CanonicalName: p.CanonicalName,
		Path:          path,
		MatchScore:    score,
	}, nil
}

// publishOutcome notifies the downstream collaborators. Both are
// best-effort: the profile and history are already committed.
func (r *Resolver) publishOutcome(ctx context.Context, m *entity.Mention, res *entity.Resolution) {
	if r.publisher != nil {
		if err := r.publisher.PublishResolved(ctx, m, res); err != nil {
			r.logger.Warn("failed to publish resolution event",
				"entity_id", res.EntityID,
				"occurrence_id", m.OccurrenceID,
				"error", err)
		}
	}

	if r.projector != nil {
		if err := r.projector.ProjectResolution(ctx, m, res); err != nil {
			r.logger.Warn("failed to project resolution to graph",
				"entity_id", res.EntityID,
				"occurrence_id", m.OccurrenceID,
				"error", err)
		}
	}
}

func validateMention(m *entity.Mention) error {
	if !m.Kind.Valid() {
		return fmt.Errorf("unknown entity kind %q: %w", m.Kind, entity.ErrInvalidMention)
	}
	if isBlank(m.FullName) {
		return fmt.Errorf("full name is blank: %w", entity.ErrInvalidMention)
	}
	if isBlank(m.OccurrenceID) {
		return fmt.Errorf("occurrence id is blank: %w", entity.ErrInvalidMention)
	}
	if m.OccurrenceDate.IsZero() {
		return fmt.Errorf("occurrence date is zero: %w", entity.ErrInvalidMention)
	}
	return nil
}

// seedVariants collects the distinct non-empty name forms observed in
// one mention: the raw full name, the go-by name, and the normalized
// full name.
func seedVariants(fullName, goByName, fullKey string) []string {
	var variants []string
	seen := map[string]bool{}
	for _, v := range []string{fullName, goByName, fullKey} {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		variants = append(variants, v)
	}
	return variants
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
