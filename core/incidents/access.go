package incidents

import (
	"serima/core/store"
)

// Viewer is the user an incident list or page is rendered for.
type Viewer struct {
	UserID          int64
	Groups          []string
	SectorIDs       []int64
	ActiveCompanyID *int64
}

func ViewerFor(u *store.User, activeCompanyID *int64) Viewer {
	if u == nil {
		return Viewer{}
	}
	return Viewer{UserID: u.ID, Groups: u.Groups, SectorIDs: u.SectorIDs, ActiveCompanyID: activeCompanyID}
}

func (v Viewer) in(group string) bool {
	for _, g := range v.Groups {
		if g == group {
			return true
		}
	}
	return false
}

func (v Viewer) IsRegulator() bool {
	return v.in(store.GroupPlatformAdmin) || v.in(store.GroupRegulatorAdmin) || v.in(store.GroupRegulatorUser)
}

// Filter scopes an incident listing. Regulator administrators see everything,
// regulator users the incidents of their sectors, operator administrators
// the active company and everybody else only what they notified.
func (v Viewer) Filter(search string, limit, offset int) store.IncidentFilter {
	f := store.IncidentFilter{Search: search, Limit: limit, Offset: offset}
	switch {
	case v.in(store.GroupPlatformAdmin) || v.in(store.GroupRegulatorAdmin):
	case v.in(store.GroupRegulatorUser):
		f.SectorScoped = true
		f.SectorIDs = v.SectorIDs
	case v.in(store.GroupOperatorAdmin) && v.ActiveCompanyID != nil:
		f.CompanyID = *v.ActiveCompanyID
	default:
		f.ContactUserID = v.UserID
		if f.ContactUserID == 0 {
			f.ContactUserID = -1
		}
	}
	return f
}

// CanAccess applies the same scope to a single incident.
func (v Viewer) CanAccess(inc *store.Incident) bool {
	if inc == nil {
		return false
	}
	switch {
	case v.in(store.GroupPlatformAdmin) || v.in(store.GroupRegulatorAdmin):
		return true
	case v.in(store.GroupRegulatorUser):
		for _, want := range v.SectorIDs {
			for _, got := range inc.AffectedSectorIDs {
				if want == got {
					return true
				}
			}
		}
		return false
	case v.in(store.GroupOperatorAdmin) && v.ActiveCompanyID != nil:
		return inc.CompanyID != nil && *inc.CompanyID == *v.ActiveCompanyID
	}
	return inc.ContactUserID != nil && *inc.ContactUserID == v.UserID && v.UserID > 0
}

// CanReview is true for users allowed to edit regulator fields.
func (v Viewer) CanReview(inc *store.Incident) bool {
	return v.IsRegulator() && v.CanAccess(inc)
}
