package extractor

import (
	"strings"

	"github.com/use-agent/casefinder/models"
)

var tierRank = map[models.MatchTier]int{
	models.TierNone:     0,
	models.TierContains: 1,
	models.TierPartial:  2,
	models.TierExact:    3,
}

// MatchName compares the requested driver name with each processed person
// and returns the best tier found.
//
//	EXACT    normalized names are equal
//	PARTIAL  the request has two or more tokens and all of them appear in one person's name
//	CONTAINS one normalized name is a substring of the other
//	NONE     otherwise
func MatchName(persons []string, requested string) models.MatchTier {
	want := NormalizeName(requested)
	if want == "" {
		return models.TierNone
	}

	best := models.TierNone
	for _, p := range persons {
		tier := matchOne(NormalizeName(p), want)
		if tierRank[tier] > tierRank[best] {
			best = tier
		}
		if best == models.TierExact {
			break
		}
	}
	return best
}

func matchOne(have, want string) models.MatchTier {
	if have == "" {
		return models.TierNone
	}
	if have == want {
		return models.TierExact
	}

	wantTokens := strings.Fields(want)
	if len(wantTokens) >= 2 {
		haveTokens := make(map[string]struct{})
		for _, tok := range strings.Fields(have) {
			haveTokens[tok] = struct{}{}
		}
		all := true
		for _, tok := range wantTokens {
			if _, ok := haveTokens[tok]; !ok {
				all = false
				break
			}
		}
		if all {
			return models.TierPartial
		}
	}

	if strings.Contains(have, want) || strings.Contains(want, have) {
		return models.TierContains
	}
	return models.TierNone
}

// BuildResult wraps record into the caller-facing MatchResult for req.
func BuildResult(record *models.CaseRecord, req models.SearchRequest) *models.MatchResult {
	tier := MatchName(record.Processed, req.DriverName)
	return &models.MatchResult{
		CaseRecord:       *record,
		MatchFound:       tier != models.TierNone,
		MatchTier:        tier,
		SearchSuccessful: true,
		SearchedPlate:    req.Plate,
		SearchedDriver:   req.DriverName,
	}
}
