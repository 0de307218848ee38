package regulatory

import (
	"context"
	"sort"

	"serima/core/store"
)

// Catalog is the read side of the regulatory catalog the resolver needs.
type Catalog interface {
	ListSectorRegulations(ctx context.Context) ([]store.SectorRegulation, error)
	ListRegulations(ctx context.Context) ([]store.Regulation, error)
	ListSectors(ctx context.Context) ([]store.Sector, error)
}

type Resolver struct {
	catalog Catalog
}

func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve returns the bundles that apply to a submission. Bundles bound to
// one of the selected sectors come first, then bundles of the same
// regulators and regulations that have no sector at all. The result is
// ordered by id without duplicates.
func (r *Resolver) Resolve(ctx context.Context, regulatorIDs, regulationIDs, sectorIDs []int64) ([]store.SectorRegulation, error) {
	bundles, err := r.catalog.ListSectorRegulations(ctx)
	if err != nil {
		return nil, err
	}
	return resolve(bundles, regulatorIDs, regulationIDs, sectorIDs), nil
}

func resolve(bundles []store.SectorRegulation, regulatorIDs, regulationIDs, sectorIDs []int64) []store.SectorRegulation {
	regulators := toSet(regulatorIDs)
	regulations := toSet(regulationIDs)
	sectors := toSet(sectorIDs)
	picked := map[int64]bool{}
	var res []store.SectorRegulation
	if len(sectors) > 0 {
		for _, b := range bundles {
			if !matches(b, regulators, regulations) {
				continue
			}
			for _, sec := range b.Sectors {
				if sectors[sec.ID] {
					picked[b.ID] = true
					res = append(res, b)
					break
				}
			}
		}
	}
	for _, b := range bundles {
		if picked[b.ID] || len(b.Sectors) > 0 || !matches(b, regulators, regulations) {
			continue
		}
		picked[b.ID] = true
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// HasSectorBound reports whether any bundle of the selection is restricted to
// sectors, which decides whether the sector step is asked at all.
func (r *Resolver) HasSectorBound(ctx context.Context, regulatorIDs, regulationIDs []int64) (bool, error) {
	bundles, err := r.catalog.ListSectorRegulations(ctx)
	if err != nil {
		return false, err
	}
	regulators := toSet(regulatorIDs)
	regulations := toSet(regulationIDs)
	for _, b := range bundles {
		if len(b.Sectors) > 0 && matches(b, regulators, regulations) {
			return true, nil
		}
	}
	return false, nil
}

// RegulationChoices lists the regulations used by a bundle of one of the
// selected regulators.
func (r *Resolver) RegulationChoices(ctx context.Context, regulatorIDs []int64) ([]store.Regulation, error) {
	bundles, err := r.catalog.ListSectorRegulations(ctx)
	if err != nil {
		return nil, err
	}
	regulators := toSet(regulatorIDs)
	used := map[int64]bool{}
	for _, b := range bundles {
		if regulators[b.RegulatorID] {
			used[b.RegulationID] = true
		}
	}
	all, err := r.catalog.ListRegulations(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]store.Regulation, 0, len(used))
	for _, reg := range all {
		if used[reg.ID] {
			res = append(res, reg)
		}
	}
	return res, nil
}

// SectorChoices lists every child sector grouped under its parent. Root
// sectors without children are offered on their own.
func (r *Resolver) SectorChoices(ctx context.Context) ([]SectorGroup, error) {
	sectors, err := r.catalog.ListSectors(ctx)
	if err != nil {
		return nil, err
	}
	return groupSectors(sectors), nil
}

// SectorGroup is a parent sector with the child sectors offered under it. A
// root sector offered on its own appears as a group with itself as option.
type SectorGroup struct {
	Parent  store.Sector   `json:"parent"`
	Options []store.Sector `json:"options"`
}

func groupSectors(sectors []store.Sector) []SectorGroup {
	hasChildren := map[int64]bool{}
	for _, s := range sectors {
		if s.ParentID != nil {
			hasChildren[*s.ParentID] = true
		}
	}
	var res []SectorGroup
	index := map[int64]int{}
	group := func(parent store.Sector) int {
		i, ok := index[parent.ID]
		if !ok {
			i = len(res)
			index[parent.ID] = i
			res = append(res, SectorGroup{Parent: parent})
		}
		return i
	}
	for _, s := range sectors {
		if s.ParentID == nil {
			i := group(s)
			if !hasChildren[s.ID] {
				res[i].Options = append(res[i].Options, s)
			}
			continue
		}
		parent := store.Sector{ID: *s.ParentID, Name: s.ParentName, Acronym: s.ParentAcronym}
		i := group(parent)
		res[i].Options = append(res[i].Options, s)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Parent.Name < res[j].Parent.Name })
	return res
}

// SectorIDs flattens the selectable options.
func SectorIDs(groups []SectorGroup) []int64 {
	var ids []int64
	for _, g := range groups {
		for _, o := range g.Options {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

func matches(b store.SectorRegulation, regulators, regulations map[int64]bool) bool {
	return regulators[b.RegulatorID] && regulations[b.RegulationID]
}

func toSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
