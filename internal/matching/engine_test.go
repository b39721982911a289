package matching

import (
	"io"
	"log/slog"
	"testing"

	"github.com/fieldledger/fieldledger/internal/config"
	"github.com/fieldledger/fieldledger/internal/entity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMatchingConfig() config.MatchingConfig {
	return config.MatchingConfig{
		AliasThreshold:      80,
		AliasCrossThreshold: 60,
		FullNameThreshold:   85,
		BlockingEnabled:     true,
		BlockingKeySize:     3,
		MaxCandidates:       500,
	}
}

func testEngine(cfg config.MatchingConfig) *Engine {
	return NewEngine(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func profile(kind entity.Kind, canonicalName string, variants ...string) *entity.Profile {
	return &entity.Profile{
		ID:            uuid.New(),
		Kind:          kind,
		CanonicalName: canonicalName,
		NameVariants:  variants,
		Status:        entity.StatusActive,
	}
}

func TestBestMatch_FullNameTier(t *testing.T) {
	engine := testEngine(testMatchingConfig())

	t.Run("single edit accepted", func(t *testing.T) {
		candidates := []*entity.Profile{profile(entity.KindPerson, "john smith")}

		match, ok := engine.BestMatch(entity.KindPerson, "jon smith", "", candidates)
		require.True(t, ok)
		assert.Equal(t, "john smith", match.Profile.CanonicalName)
		assert.Equal(t, TierFullName, match.Tier)
		assert.InDelta(t, 90, match.Score, 0.001)
	})

	t.Run("two edits rejected", func(t *testing.T) {
		candidates := []*entity.Profile{profile(entity.KindPerson, "john smith")}

		_, ok := engine.BestMatch(entity.KindPerson, "jon smyth", "", candidates)
		assert.False(t, ok)
	})

	t.Run("score exactly at threshold rejected", func(t *testing.T) {
		cfg := testMatchingConfig()
		cfg.FullNameThreshold = 90
		engine := testEngine(cfg)

		candidates := []*entity.Profile{profile(entity.KindPerson, "john smith")}

		// "jon smith" scores exactly 90; acceptance requires strictly
		// above the threshold.
		_, ok := engine.BestMatch(entity.KindPerson, "jon smith", "", candidates)
		assert.False(t, ok)
	})
}

func TestBestMatch_AliasTier(t *testing.T) {
	engine := testEngine(testMatchingConfig())

	t.Run("variant hit with cross-check passing", func(t *testing.T) {
		candidates := []*entity.Profile{
			profile(entity.KindPerson, "william turner", "William Turner", "Billy"),
		}

		// "bill turner" vs "william turner" is below the full-name
		// threshold but above the cross-check; the alias "billy" matches
		// the stored variant exactly.
		match, ok := engine.BestMatch(entity.KindPerson, "bill turner", "billy", candidates)
		require.True(t, ok)
		assert.Equal(t, TierAlias, match.Tier)
		assert.Equal(t, float64(100), match.Score)
	})

	t.Run("variant hit without cross-check rejected", func(t *testing.T) {
		// The alias matches a variant, but the full names diverge too
		// far, so the cross-check blocks the alias tier.
		candidates := []*entity.Profile{
			profile(entity.KindPerson, "bill oswald marchetti", "Billy"),
		}

		_, ok := engine.BestMatch(entity.KindPerson, "bill turner", "billy", candidates)
		assert.False(t, ok)
	})

	t.Run("no alias skips the tier", func(t *testing.T) {
		candidates := []*entity.Profile{
			profile(entity.KindPerson, "william turner", "Billy"),
		}

		_, ok := engine.BestMatch(entity.KindPerson, "bill turner", "", candidates)
		assert.False(t, ok)
	})
}

func TestBestMatch_Deterministic(t *testing.T) {
	engine := testEngine(testMatchingConfig())

	a := profile(entity.KindPerson, "jon smith")
	b := profile(entity.KindPerson, "john smith")

	// Both candidates are within one edit of the query. The winner must
	// not depend on scan order.
	forward, ok := engine.BestMatch(entity.KindPerson, "john smith", "", []*entity.Profile{a, b})
	require.True(t, ok)
	reverse, ok := engine.BestMatch(entity.KindPerson, "john smith", "", []*entity.Profile{b, a})
	require.True(t, ok)

	assert.Equal(t, forward.Profile.ID, reverse.Profile.ID)
	assert.Equal(t, b.ID, forward.Profile.ID, "exact-scoring candidate wins on score")
}

func TestBestMatch_TieBreak(t *testing.T) {
	engine := testEngine(testMatchingConfig())

	// Equidistant candidates: both one edit from the query, same score.
	a := profile(entity.KindPerson, "jon smith")
	b := profile(entity.KindPerson, "joan smith")

	forward, ok := engine.BestMatch(entity.KindPerson, "john smith", "", []*entity.Profile{a, b})
	require.True(t, ok)
	reverse, ok := engine.BestMatch(entity.KindPerson, "john smith", "", []*entity.Profile{b, a})
	require.True(t, ok)

	assert.Equal(t, forward.Profile.ID, reverse.Profile.ID)
	assert.Equal(t, "joan smith", forward.Profile.CanonicalName,
		"score ties break on lexicographic canonical name")
}

func TestBestMatch_Blocking(t *testing.T) {
	t.Run("near-prefix candidates survive blocking", func(t *testing.T) {
		engine := testEngine(testMatchingConfig())

		// "jon..." and "joh..." differ in one key character.
		candidates := []*entity.Profile{
			profile(entity.KindPerson, "john smith"),
			profile(entity.KindPerson, "zachary taylor"),
		}

		match, ok := engine.BestMatch(entity.KindPerson, "jon smith", "", candidates)
		require.True(t, ok)
		assert.Equal(t, "john smith", match.Profile.CanonicalName)
	})

	t.Run("over-filtering falls back to the full set", func(t *testing.T) {
		engine := testEngine(testMatchingConfig())

		// A transposition in the first two characters defeats the
		// blocking key even though overall similarity stays high. With
		// every candidate filtered out of a ten-strong population, the
		// scan falls back to the full set and still finds the match.
		candidates := []*entity.Profile{
			profile(entity.KindPerson, "christopher andersen"),
		}
		for _, name := range []string{
			"zachary taylor", "quentin marsh", "victor delgado",
			"ulysses grant", "xavier holt", "yolanda reyes",
			"wendell price", "tobias mercer", "sylvia nakamura",
		} {
			candidates = append(candidates, profile(entity.KindPerson, name))
		}

		match, ok := engine.BestMatch(entity.KindPerson, "hcristopher andersen", "", candidates)
		require.True(t, ok)
		assert.Equal(t, "christopher andersen", match.Profile.CanonicalName)
	})

	t.Run("disabled blocking scans everything", func(t *testing.T) {
		cfg := testMatchingConfig()
		cfg.BlockingEnabled = false
		engine := testEngine(cfg)

		candidates := []*entity.Profile{profile(entity.KindPerson, "john smith")}

		_, ok := engine.BestMatch(entity.KindPerson, "jon smith", "", candidates)
		assert.True(t, ok)
	})
}

func TestBestMatch_CandidateCapAfterScoring(t *testing.T) {
	cfg := testMatchingConfig()
	cfg.BlockingEnabled = false
	cfg.MaxCandidates = 1
	engine := testEngine(cfg)

	// The exact-scoring candidate sits last in the slice. The candidate
	// cap bounds the scored result list, not the scan, so listing order
	// must never hide the best match.
	candidates := []*entity.Profile{
		profile(entity.KindPerson, "jon smith"),
		profile(entity.KindPerson, "joan smith"),
		profile(entity.KindPerson, "john smith"),
	}

	match, ok := engine.BestMatch(entity.KindPerson, "john smith", "", candidates)
	require.True(t, ok)
	assert.Equal(t, "john smith", match.Profile.CanonicalName)

	matches := engine.TopMatches(entity.KindPerson, "john smith", "", candidates)
	require.Len(t, matches, 1)
	assert.Equal(t, "john smith", matches[0].Profile.CanonicalName)
}

func TestBestMatch_EmptyInputs(t *testing.T) {
	engine := testEngine(testMatchingConfig())

	_, ok := engine.BestMatch(entity.KindPerson, "", "", []*entity.Profile{profile(entity.KindPerson, "john smith")})
	assert.False(t, ok)

	_, ok = engine.BestMatch(entity.KindPerson, "john smith", "", nil)
	assert.False(t, ok)
}
