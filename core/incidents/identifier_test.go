package incidents

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"serima/core/store"
)

func TestGenerateIncidentIDRegisteredCompany(t *testing.T) {
	parent := int64(1)
	got := GenerateIncidentID(IdentifierInput{
		Company:           &store.Company{ID: 5, Identifier: "ACME", Name: "Acme Power"},
		CompanyName:       "ignored",
		BundleSectors:     []store.Sector{{ID: 2, Acronym: "ELEC", ParentID: &parent, ParentAcronym: "ENERGY"}},
		SelectedSectorIDs: []int64{2},
		Existing:          4,
		Year:              2024,
	})
	assert.Equal(t, "ACME_ENE_ELE_0005_2024", got)
}

func TestGenerateIncidentIDUnregisteredShortName(t *testing.T) {
	got := GenerateIncidentID(IdentifierInput{
		CompanyName:       "Foo",
		BundleSectors:     []store.Sector{{ID: 3, Acronym: "TRA"}},
		SelectedSectorIDs: []int64{3},
		Year:              2025,
	})
	assert.Equal(t, "Foo__TRA_0001_2025", got)

	got = GenerateIncidentID(IdentifierInput{CompanyName: "Foobar Ltd", Existing: 11, Year: 2025})
	assert.Equal(t, "Foob___0012_2025", got)
}

func TestGenerateIncidentIDUsesFirstSelectedBundleSector(t *testing.T) {
	parent := int64(1)
	in := IdentifierInput{
		Company: &store.Company{Identifier: "ACME"},
		BundleSectors: []store.Sector{
			{ID: 2, Acronym: "ELC", ParentID: &parent, ParentAcronym: "ENE"},
			{ID: 3, Acronym: "GAS", ParentID: &parent, ParentAcronym: "ENE"},
		},
		SelectedSectorIDs: []int64{3, 9},
		Year:              2024,
	}
	assert.Equal(t, "ACME_ENE_GAS_0001_2024", GenerateIncidentID(in))
	assert.Equal(t, GenerateIncidentID(in), GenerateIncidentID(in))
}
