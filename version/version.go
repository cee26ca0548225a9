// Package version implements the token version/diff engine: it computes the
// added/removed/modified token diff against a site's prior TokenSet and
// persists the new TokenSet/TokenVersion/TokenChange rows as a single
// atomic transaction.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/tokenforge/scanner/consensus"
	"github.com/tokenforge/scanner/store"
	"github.com/tokenforge/scanner/tokens"
)

// Change is one atomic token difference between two TokenSets.
type Change struct {
	Path       string
	ChangeType string // added | removed | modified
	OldValue   string
	NewValue   string
	Category   string
}

// Summary is the diff_summary persisted on a TokenVersion.
type Summary struct {
	Added    int
	Removed  int
	Modified int
}

// Diff computes per-token changes between prior and next under each
// category's equality rule. prior may be nil for a site's first scan, in
// which case every token in next is "added".
func Diff(prior, next *tokens.Set) ([]Change, Summary) {
	priorByPath := map[string]tokens.Token{}
	if prior != nil {
		for _, t := range prior.Tokens {
			priorByPath[t.Path] = t
		}
	}
	nextByPath := map[string]tokens.Token{}
	for _, t := range next.Tokens {
		nextByPath[t.Path] = t
	}

	var changes []Change
	var summary Summary

	for path, nt := range nextByPath {
		if pt, ok := priorByPath[path]; ok {
			if !valuesEqual(pt, nt) {
				changes = append(changes, Change{
					Path: path, ChangeType: "modified",
					OldValue: describeValue(pt), NewValue: describeValue(nt),
					Category: string(nt.Category),
				})
				summary.Modified++
			}
		} else {
			changes = append(changes, Change{
				Path: path, ChangeType: "added",
				NewValue: describeValue(nt), Category: string(nt.Category),
			})
			summary.Added++
		}
	}
	for path, pt := range priorByPath {
		if _, ok := nextByPath[path]; !ok {
			changes = append(changes, Change{
				Path: path, ChangeType: "removed",
				OldValue: describeValue(pt), Category: string(pt.Category),
			})
			summary.Removed++
		}
	}

	return changes, summary
}

func valuesEqual(a, b tokens.Token) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case tokens.KindColor:
		return colorDeltaE(*a.Color, *b.Color) < 1.0
	case tokens.KindDimension:
		return math.Abs(a.Dimension.Amount-b.Dimension.Amount) == 0 && a.Dimension.Unit == b.Dimension.Unit
	case tokens.KindTypography:
		return familiesEqual(a.Typography.Families, b.Typography.Families)
	case tokens.KindShadow:
		return shadowEqual(*a.Shadow, *b.Shadow)
	case tokens.KindMotion:
		return a.Motion.Duration.Amount == b.Motion.Duration.Amount &&
			a.Motion.Duration.Unit == b.Motion.Duration.Unit &&
			a.Motion.TimingFunction == b.Motion.TimingFunction
	default:
		return true
	}
}

func familiesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func shadowEqual(a, b tokens.ShadowValue) bool {
	if len(a.Layers) != len(b.Layers) {
		return false
	}
	for i := range a.Layers {
		la, lb := a.Layers[i], b.Layers[i]
		if la.Inset != lb.Inset {
			return false
		}
		if math.Abs(la.OffsetX.Amount-lb.OffsetX.Amount) > 0 ||
			math.Abs(la.OffsetY.Amount-lb.OffsetY.Amount) > 0 ||
			math.Abs(la.Blur.Amount-lb.Blur.Amount) > 0 ||
			math.Abs(la.Spread.Amount-lb.Spread.Amount) > 0 {
			return false
		}
		if colorDeltaE(la.Color, lb.Color) >= 1.0 {
			return false
		}
	}
	return true
}

func describeValue(t tokens.Token) string {
	switch t.Kind {
	case tokens.KindColor:
		return fmt.Sprintf("%s@%.2f", t.Color.Hex, t.Color.Alpha)
	case tokens.KindDimension:
		return fmt.Sprintf("%g%s", t.Dimension.Amount, t.Dimension.Unit)
	case tokens.KindTypography:
		return fmt.Sprintf("%v", t.Typography.Families)
	case tokens.KindShadow:
		return fmt.Sprintf("%d layers", len(t.Shadow.Layers))
	case tokens.KindMotion:
		return fmt.Sprintf("%g%s %s", t.Motion.Duration.Amount, t.Motion.Duration.Unit, t.Motion.TimingFunction)
	default:
		return ""
	}
}

// Commit computes the diff against the site's current latest TokenSet (if
// any) and atomically persists the new TokenSet/TokenVersion/TokenChange
// rows. It returns the new TokenSet id and version number.
//
// A no-op rescan (identical tokens_json) still writes a new TokenSet row
// with an incremented version_number and an empty TokenChange set — see
// DESIGN.md's "no-op rescan" decision.
func Commit(ctx context.Context, st *store.Store, siteID int64, scanID string, next *tokens.Set) (string, int64, error) {
	var prior *tokens.Set
	var prevVersionID string

	vPrev, err := st.LatestVersionNumber(ctx, siteID)
	if err != nil {
		return "", 0, fmt.Errorf("lookup latest version: %w", err)
	}
	if vPrev > 0 {
		priorSet, err := st.LatestTokenSet(ctx, siteID)
		if err != nil {
			return "", 0, fmt.Errorf("load prior token set: %w", err)
		}
		var decoded tokens.Set
		if err := json.Unmarshal([]byte(priorSet.TokensJSON), &decoded); err != nil {
			return "", 0, fmt.Errorf("decode prior tokens_json: %w", err)
		}
		prior = &decoded
		prevVersionID, err = st.TokenVersionIDForSiteVersion(ctx, siteID, vPrev)
		if err != nil {
			return "", 0, fmt.Errorf("lookup prior token_version: %w", err)
		}
	}

	changes, summary := Diff(prior, next)

	tokensJSON, err := json.Marshal(next)
	if err != nil {
		return "", 0, fmt.Errorf("encode tokens_json: %w", err)
	}

	changelogJSON, err := json.Marshal(changes)
	if err != nil {
		return "", 0, fmt.Errorf("encode changelog: %w", err)
	}

	tokenSetID := uuid.NewString()
	tv := store.TokenVersion{
		ID:                uuid.NewString(),
		PreviousVersionID: prevVersionID,
		DiffAdded:         summary.Added,
		DiffRemoved:       summary.Removed,
		DiffModified:      summary.Modified,
		ChangelogJSON:     string(changelogJSON),
	}

	storeChanges := make([]store.TokenChange, 0, len(changes))
	for _, c := range changes {
		storeChanges = append(storeChanges, store.TokenChange{
			TokenPath: c.Path, ChangeType: c.ChangeType,
			OldValue: c.OldValue, NewValue: c.NewValue, Category: c.Category,
		})
	}

	ts := store.TokenSet{
		SiteID:         siteID,
		ScanID:         scanID,
		VersionNumber:  vPrev + 1,
		TokensJSON:     string(tokensJSON),
		ConsensusScore: next.ConsensusScore,
		IsPublic:       true,
	}

	if err := st.WriteVersion(ctx, tokenSetID, ts, tv, storeChanges); err != nil {
		return "", 0, fmt.Errorf("write version: %w", err)
	}
	return tokenSetID, ts.VersionNumber, nil
}

func colorDeltaE(a, b tokens.ColorValue) float64 {
	if a.Hex == b.Hex {
		return 0
	}
	return consensus.ColorDistance(a.Hex, b.Hex)
}
