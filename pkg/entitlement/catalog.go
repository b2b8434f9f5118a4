package entitlement

import "fmt"

// Catalog is the single authoritative table mapping (tier, feature) to a
// per-day limit. A limit of Unlimited (-1) means no quota enforcement and a
// limit of NoAccess (0) means the feature is not available on that tier.
//
// The catalog is immutable after construction and complete by construction:
// NewCatalog rejects any table missing a (tier, feature) pair, so LimitFor
// can only fail for tiers or features outside the supported enums.
type Catalog struct {
	limits map[Tier]map[Feature]int
}

// NewCatalog builds a catalog from a limits table, validating that every
// supported tier carries an entry for every supported feature and that no
// limit is below the Unlimited sentinel.
func NewCatalog(limits map[Tier]map[Feature]int) (*Catalog, error) {
	table := make(map[Tier]map[Feature]int, len(Tiers))
	for _, tier := range Tiers {
		perFeature, ok := limits[tier]
		if !ok {
			return nil, fmt.Errorf("catalog missing tier %q: %w", tier, ErrInvalidTier)
		}
		row := make(map[Feature]int, len(Features))
		for _, feature := range Features {
			limit, ok := perFeature[feature]
			if !ok {
				return nil, fmt.Errorf("catalog missing %q for tier %q: %w", feature, tier, ErrInvalidFeature)
			}
			if limit < Unlimited {
				return nil, fmt.Errorf("catalog limit %d for (%s, %s) below unlimited sentinel", limit, tier, feature)
			}
			row[feature] = limit
		}
		table[tier] = row
	}
	for tier := range limits {
		if !tier.Valid() {
			return nil, fmt.Errorf("catalog has unknown tier %q: %w", tier, ErrInvalidTier)
		}
	}
	return &Catalog{limits: table}, nil
}

// LimitFor returns the per-day limit for the (tier, feature) pair. An
// unrecognized tier or feature is an error, never a silent zero.
func (c *Catalog) LimitFor(tier Tier, feature Feature) (int, error) {
	row, ok := c.limits[tier]
	if !ok {
		return 0, fmt.Errorf("tier %q: %w", tier, ErrInvalidTier)
	}
	limit, ok := row[feature]
	if !ok {
		return 0, fmt.Errorf("feature %q: %w", feature, ErrInvalidFeature)
	}
	return limit, nil
}

// defaultCatalog is the production limits table. Longer-commitment plans get
// higher daily allowances; premium is unlimited across the board.
var defaultCatalog = mustCatalog(map[Tier]map[Feature]int{
	TierFree: {
		FeatureAIChat:         NoAccess,
		FeatureAIVisualLab:    NoAccess,
		FeatureAITutorSession: NoAccess,
		FeatureVisualPackage:  NoAccess,
		FeatureMockTest:       NoAccess,
	},
	TierFreeTrial: {
		FeatureAIChat:         10,
		FeatureAIVisualLab:    3,
		FeatureAITutorSession: 2,
		FeatureVisualPackage:  1,
		FeatureMockTest:       1,
	},
	TierBasic: {
		FeatureAIChat:         10,
		FeatureAIVisualLab:    5,
		FeatureAITutorSession: 3,
		FeatureVisualPackage:  2,
		FeatureMockTest:       2,
	},
	TierPro: {
		FeatureAIChat:         50,
		FeatureAIVisualLab:    20,
		FeatureAITutorSession: 10,
		FeatureVisualPackage:  10,
		FeatureMockTest:       10,
	},
	TierQuarterly: {
		FeatureAIChat:         100,
		FeatureAIVisualLab:    30,
		FeatureAITutorSession: 15,
		FeatureVisualPackage:  15,
		FeatureMockTest:       15,
	},
	TierHalfYearly: {
		FeatureAIChat:         150,
		FeatureAIVisualLab:    50,
		FeatureAITutorSession: 25,
		FeatureVisualPackage:  25,
		FeatureMockTest:       25,
	},
	TierYearly: {
		FeatureAIChat:         Unlimited,
		FeatureAIVisualLab:    100,
		FeatureAITutorSession: 50,
		FeatureVisualPackage:  50,
		FeatureMockTest:       50,
	},
	TierPremium: {
		FeatureAIChat:         Unlimited,
		FeatureAIVisualLab:    Unlimited,
		FeatureAITutorSession: Unlimited,
		FeatureVisualPackage:  Unlimited,
		FeatureMockTest:       Unlimited,
	},
})

// DefaultCatalog returns the built-in production limits table.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

func mustCatalog(limits map[Tier]map[Feature]int) *Catalog {
	c, err := NewCatalog(limits)
	if err != nil {
		panic(err)
	}
	return c
}
