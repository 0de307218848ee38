package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"serima/core/store"
)

func TestDefaultRolesScopeReview(t *testing.T) {
	p := NewPolicy(DefaultRoles())
	assert.True(t, p.Allowed([]string{store.GroupRegulatorUser}, PermIncidentsReview))
	assert.False(t, p.Allowed([]string{store.GroupOperatorStaff}, PermIncidentsReview))
	assert.False(t, p.Allowed([]string{store.GroupRegulatorUser}, PermIncidentsCreate))
	assert.True(t, p.Allowed([]string{"unknown", store.GroupIncidentUser}, PermIncidentsCreate))
	assert.False(t, p.Allowed(nil, PermIncidentsView))
}

func TestWildcardAndCatalogManage(t *testing.T) {
	p := NewPolicy(DefaultRoles())
	assert.True(t, p.Allowed([]string{store.GroupPlatformAdmin}, PermCatalogManage))
	assert.True(t, p.Allowed([]string{store.GroupRegulatorAdmin}, PermCatalogManage))
	assert.False(t, p.Allowed([]string{store.GroupOperatorAdmin}, PermCatalogManage))
	assert.Len(t, p.Permissions([]string{store.GroupPlatformAdmin}), 8)
	assert.Equal(t, []Permission{PermIncidentsCreate, PermIncidentsExport, PermIncidentsImpacts, PermIncidentsView, PermIncidentsWorkflow}, p.Permissions([]string{store.GroupOperatorStaff}))
}

func TestGrantAddsPermission(t *testing.T) {
	p := NewPolicy(nil)
	assert.False(t, p.Allowed([]string{"auditor"}, PermIncidentsExport))
	p.Grant("auditor", PermIncidentsExport)
	assert.True(t, p.Allowed([]string{"auditor"}, PermIncidentsExport))
}
