/*
membership.go - Point-in-time membership intervals

PURPOSE:
  Entities move in and out of the tracked universe. A membership interval
  records one contiguous span of being "in scope". Coverage is only owed
  for the parts of a request window where the entity was a member, so the
  first step of every check is intersecting intervals with the window.

INVARIANTS:
  - Per entity, intervals are non-overlapping and sorted by start
  - Zero intervals in a window is a valid answer ("never in scope here")
  - An entity with no membership record AT ALL is an error, never an
    empty answer (see ErrNoMembershipData)

SEE ALSO:
  - store.go: MembershipStore interface
  - coverage.go: consumes OverlappingPeriods
*/
package reconcile

import (
	"sort"
)

// =============================================================================
// MEMBERSHIP INTERVAL
// =============================================================================

// MembershipInterval is one contiguous span during which an entity was in
// the tracked universe. Inclusive on both ends.
type MembershipInterval struct {
	Entity EntityID
	Start  Date
	End    Date
}

func (mi MembershipInterval) Period() Period {
	return Period{Start: mi.Start, End: mi.End}
}

// =============================================================================
// OVERLAP COMPUTATION
// =============================================================================

// OverlappingPeriods intersects each interval with [windowStart, windowEnd]
// and returns the non-empty intersections sorted ascending by start.
// An empty result is valid: the entity was never in scope during the window.
func OverlappingPeriods(intervals []MembershipInterval, windowStart, windowEnd Date) []Period {
	var out []Period
	window := Period{Start: windowStart, End: windowEnd}
	for _, iv := range intervals {
		if overlap, ok := iv.Period().Intersect(window); ok {
			out = append(out, overlap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
