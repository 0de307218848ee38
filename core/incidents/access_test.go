package incidents

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"serima/core/store"
)

func TestViewerFilterScopes(t *testing.T) {
	company := int64(4)
	admin := Viewer{UserID: 1, Groups: []string{store.GroupRegulatorAdmin}}
	assert.Equal(t, store.IncidentFilter{Search: "x", Limit: 20}, admin.Filter("x", 20, 0))

	reg := Viewer{UserID: 2, Groups: []string{store.GroupRegulatorUser}, SectorIDs: []int64{7}}
	f := reg.Filter("", 20, 20)
	assert.True(t, f.SectorScoped)
	assert.Equal(t, []int64{7}, f.SectorIDs)
	assert.Equal(t, 20, f.Offset)

	op := Viewer{UserID: 3, Groups: []string{store.GroupOperatorAdmin}, ActiveCompanyID: &company}
	assert.Equal(t, company, op.Filter("", 0, 0).CompanyID)

	user := Viewer{UserID: 5, Groups: []string{store.GroupIncidentUser}}
	assert.Equal(t, int64(5), user.Filter("", 0, 0).ContactUserID)

	anonymous := Viewer{}
	assert.Equal(t, int64(-1), anonymous.Filter("", 0, 0).ContactUserID)
}

func TestViewerCanAccess(t *testing.T) {
	company := int64(4)
	other := int64(9)
	owner := int64(5)
	inc := &store.Incident{CompanyID: &company, ContactUserID: &owner, AffectedSectorIDs: []int64{7, 8}}

	assert.True(t, Viewer{Groups: []string{store.GroupPlatformAdmin}}.CanAccess(inc))
	assert.True(t, Viewer{Groups: []string{store.GroupRegulatorUser}, SectorIDs: []int64{8}}.CanAccess(inc))
	assert.False(t, Viewer{Groups: []string{store.GroupRegulatorUser}, SectorIDs: []int64{1}}.CanAccess(inc))
	assert.True(t, Viewer{Groups: []string{store.GroupOperatorAdmin}, ActiveCompanyID: &company}.CanAccess(inc))
	assert.False(t, Viewer{Groups: []string{store.GroupOperatorAdmin}, ActiveCompanyID: &other}.CanAccess(inc))
	assert.True(t, Viewer{UserID: 5}.CanAccess(inc))
	assert.False(t, Viewer{UserID: 6}.CanAccess(inc))
	assert.False(t, Viewer{UserID: 5}.CanAccess(nil))

	assert.False(t, Viewer{UserID: 5}.CanReview(inc))
	assert.True(t, Viewer{Groups: []string{store.GroupRegulatorAdmin}}.CanReview(inc))
}
