package rbac

import (
	"sort"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"serima/core/store"
)

type Permission string

const (
	PermIncidentsView     Permission = "incidents.view"
	PermIncidentsCreate   Permission = "incidents.create"
	PermIncidentsWorkflow Permission = "incidents.workflow"
	PermWorkflowEdit      Permission = "incidents.workflow.edit"
	PermIncidentsImpacts  Permission = "incidents.impacts"
	PermIncidentsReview   Permission = "incidents.review"
	PermIncidentsExport   Permission = "incidents.export"
	PermCatalogManage     Permission = "catalog.manage"
)

// wildcard grants every permission.
const wildcard Permission = "*"

const modelText = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && (p.obj == "*" || r.obj == p.obj)
`

func DefaultRoles() map[string][]Permission {
	operator := []Permission{PermIncidentsView, PermIncidentsCreate, PermIncidentsWorkflow, PermIncidentsImpacts, PermIncidentsExport}
	regulator := []Permission{PermIncidentsView, PermWorkflowEdit, PermIncidentsImpacts, PermIncidentsReview, PermIncidentsExport}
	return map[string][]Permission{
		store.GroupPlatformAdmin:  {wildcard},
		store.GroupRegulatorAdmin: append(append([]Permission{}, regulator...), PermCatalogManage),
		store.GroupRegulatorUser:  regulator,
		store.GroupOperatorAdmin:  append(append([]Permission{}, operator...), PermWorkflowEdit),
		store.GroupOperatorStaff:  operator,
		store.GroupIncidentUser:   operator,
	}
}

// Policy answers whether any of a user's groups grants a permission.
type Policy struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

func NewPolicy(roles map[string][]Permission) *Policy {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		panic(err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		panic(err)
	}
	p := &Policy{enforcer: e}
	for role, perms := range roles {
		p.Grant(role, perms...)
	}
	return p
}

func (p *Policy) Grant(role string, perms ...Permission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, perm := range perms {
		_, _ = p.enforcer.AddPolicy(role, string(perm))
	}
}

func (p *Policy) Allowed(roles []string, perm Permission) bool {
	if p == nil || perm == "" {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, role := range roles {
		if ok, err := p.enforcer.Enforce(role, string(perm)); err == nil && ok {
			return true
		}
	}
	return false
}

// Permissions lists what the roles grant, sorted. A wildcard grant expands to
// every known permission.
func (p *Policy) Permissions(roles []string) []Permission {
	if p == nil {
		return nil
	}
	known := []Permission{PermIncidentsView, PermIncidentsCreate, PermIncidentsWorkflow, PermWorkflowEdit, PermIncidentsImpacts, PermIncidentsReview, PermIncidentsExport, PermCatalogManage}
	var out []Permission
	for _, perm := range known {
		if p.Allowed(roles, perm) {
			out = append(out, perm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
