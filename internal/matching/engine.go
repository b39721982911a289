package matching

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/fieldledger/fieldledger/internal/config"
	"github.com/fieldledger/fieldledger/internal/entity"
	"github.com/fieldledger/fieldledger/internal/normalize"
)

// Engine applies the tiered fuzzy matching policy to a candidate
// population. It is stateless apart from its configuration; candidates
// are supplied by the caller per scan.
type Engine struct {
	config config.MatchingConfig
	logger *slog.Logger
}

// Match is one accepted candidate with the score that cleared its tier.
type Match struct {
	Profile *entity.Profile `json:"profile"`
	Score   float64         `json:"score"`
	Tier    string          `json:"tier"`
}

// Match tiers.
const (
	TierAlias    = "alias"
	TierFullName = "full_name"
)

// NewEngine creates a new matching engine
func NewEngine(cfg config.MatchingConfig, logger *slog.Logger) *Engine {
	return &Engine{
		config: cfg,
		logger: logger,
	}
}

// BestMatch scans candidates for the best match against the normalized
// full name and optional normalized alias. Two acceptance tiers:
//
//   - alias: any known name variant scores above the alias threshold
//     against the alias, cross-validated by the candidate's canonical
//     name clearing the lower cross-check threshold against the full
//     name;
//   - full name: the candidate's canonical name scores above the
//     full-name threshold against the incoming full name.
//
// Ties on score break deterministically: lexicographically smallest
// canonical name, then smallest entity ID.
func (e *Engine) BestMatch(kind entity.Kind, fullKey, aliasKey string, candidates []*entity.Profile) (*Match, bool) {
	matches := e.TopMatches(kind, fullKey, aliasKey, candidates)
	if len(matches) == 0 {
		return nil, false
	}

	best := matches[0]
	e.logger.Debug("fuzzy match accepted",
		"kind", kind,
		"entity_id", best.Profile.ID,
		"score", best.Score,
		"tier", best.Tier)

	return best, true
}

// TopMatches scores every candidate that survives blocking and returns
// the accepted matches ordered best-first, capped at MaxCandidates.
// The cap applies to the scored, sorted result, never to the unscored
// scan: a candidate's position in the input slice must not decide
// whether it can match.
func (e *Engine) TopMatches(kind entity.Kind, fullKey, aliasKey string, candidates []*entity.Profile) []*Match {
	if fullKey == "" || len(candidates) == 0 {
		return nil
	}

	if e.config.BlockingEnabled {
		candidates = e.applyBlocking(fullKey, candidates)
	}

	var matches []*Match
	for _, candidate := range candidates {
		m, ok := e.scoreCandidate(kind, fullKey, aliasKey, candidate)
		if !ok {
			continue
		}
		matches = append(matches, m)
	}

	sort.Slice(matches, func(i, j int) bool {
		return betterMatch(matches[i], matches[j])
	})

	if len(matches) > e.config.MaxCandidates {
		matches = matches[:e.config.MaxCandidates]
	}

	return matches
}

// scoreCandidate runs both acceptance tiers and keeps the higher
// passing score.
func (e *Engine) scoreCandidate(kind entity.Kind, fullKey, aliasKey string, candidate *entity.Profile) (*Match, bool) {
	var best *Match

	fullScore := Similarity(candidate.CanonicalName, fullKey)
	if fullScore > e.config.FullNameThreshold {
		best = &Match{Profile: candidate, Score: fullScore, Tier: TierFullName}
	}

	if aliasKey != "" && fullScore > e.config.AliasCrossThreshold {
		for _, variant := range candidate.NameVariants {
			variantKey := normalize.Name(variant, kind)
			if variantKey == "" {
				continue
			}
			score := Similarity(variantKey, aliasKey)
			if score > e.config.AliasThreshold && (best == nil || score > best.Score) {
				best = &Match{Profile: candidate, Score: score, Tier: TierAlias}
			}
		}
	}

	return best, best != nil
}

// betterMatch orders matches by score descending, then canonical name,
// then entity ID, so scan order never decides the winner.
func betterMatch(a, b *Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Profile.CanonicalName != b.Profile.CanonicalName {
		return a.Profile.CanonicalName < b.Profile.CanonicalName
	}
	return strings.Compare(a.Profile.ID.String(), b.Profile.ID.String()) < 0
}

// applyBlocking narrows the candidate set to entities whose canonical
// name shares a blocking key with the query. Blocking keys tolerate a
// single character mismatch; if blocking removes more than 90% of the
// population the original set is kept, since over-filtering risks
// false negatives.
func (e *Engine) applyBlocking(fullKey string, candidates []*entity.Profile) []*entity.Profile {
	queryKey := e.blockingKey(fullKey)
	if queryKey == "" {
		return candidates
	}

	filtered := make([]*entity.Profile, 0, len(candidates))
	for _, candidate := range candidates {
		candidateKey := e.blockingKey(candidate.CanonicalName)
		if candidateKey != "" && shareBlockingKey(queryKey, candidateKey) {
			filtered = append(filtered, candidate)
		}
	}

	if len(filtered) < len(candidates)/10 {
		return candidates
	}

	return filtered
}

func (e *Engine) blockingKey(normalized string) string {
	key := normalized
	if len(key) > e.config.BlockingKeySize {
		key = key[:e.config.BlockingKeySize]
	}
	return key
}

func shareBlockingKey(key1, key2 string) bool {
	if key1 == "" || key2 == "" {
		return false
	}

	if key1 == key2 {
		return true
	}

	// Allow one character of drift between equal-length keys.
	if len(key1) == len(key2) {
		differences := 0
		for i := 0; i < len(key1); i++ {
			if key1[i] != key2[i] {
				differences++
			}
		}
		return differences <= 1
	}

	return false
}
