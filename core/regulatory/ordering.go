package regulatory

import (
	"sort"

	"serima/core/store"
)

// DuplicatePositions applies the position changes to the workflows of a
// bundle and returns the positions held by more than one workflow,
// ascending. Changes for items outside the bundle are ignored here.
func DuplicatePositions(items []store.SectorRegulationWorkflow, changes map[int64]int) []int {
	count := map[int]int{}
	for _, item := range items {
		pos := item.Position
		if p, ok := changes[item.ID]; ok {
			pos = p
		}
		count[pos]++
	}
	var dups []int
	for pos, n := range count {
		if n > 1 {
			dups = append(dups, pos)
		}
	}
	sort.Ints(dups)
	return dups
}
