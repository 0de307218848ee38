package incidents

import (
	"fmt"
	"strings"

	"serima/core/store"
)

type IdentifierInput struct {
	Company     *store.Company
	CompanyName string
	// BundleSectors are the sectors of the bundle, in catalog order.
	BundleSectors     []store.Sector
	SelectedSectorIDs []int64
	// Existing is how many incidents the company had before this one.
	Existing int
	Year     int
}

// GenerateIncidentID builds {company}_{sector}_{subsector}_{sequence}_{year}.
// Sector parts stay empty when no bundle sector was selected.
func GenerateIncidentID(in IdentifierInput) string {
	company := ""
	if in.Company != nil {
		company = in.Company.Identifier
	} else {
		company = firstRunes(in.CompanyName, 4)
	}
	selected := make(map[int64]bool, len(in.SelectedSectorIDs))
	for _, id := range in.SelectedSectorIDs {
		selected[id] = true
	}
	sector, subsector := "", ""
	for _, s := range in.BundleSectors {
		if !selected[s.ID] {
			continue
		}
		subsector = firstRunes(s.Acronym, 3)
		if s.ParentID != nil {
			sector = firstRunes(s.ParentAcronym, 3)
		}
		break
	}
	return fmt.Sprintf("%s_%s_%s_%04d_%d", company, sector, subsector, in.Existing+1, in.Year)
}

func firstRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
