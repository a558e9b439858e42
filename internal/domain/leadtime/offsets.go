// Package leadtime holds the lead-time offset list shared by the catalog,
// user preferences and items.
package leadtime

import (
	"fmt"
	"sort"
)

// Offsets is an ordered set of days-before-renewal at which reminders fire,
// largest lead time first.
type Offsets []int

// Validate checks that every offset is a positive integer and that the list
// is strictly descending (which also rules out duplicates).
func (o Offsets) Validate() error {
	for i, d := range o {
		if d <= 0 {
			return fmt.Errorf("offset %d at position %d must be a positive number of days", d, i)
		}
		if i > 0 && d >= o[i-1] {
			return fmt.Errorf("offsets must be strictly descending, got %d after %d", d, o[i-1])
		}
	}
	return nil
}

// Smallest returns the most urgent offset, or 0 for an empty list.
func (o Offsets) Smallest() int {
	if len(o) == 0 {
		return 0
	}
	min := o[0]
	for _, d := range o[1:] {
		if d < min {
			min = d
		}
	}
	return min
}

// Contains reports whether days is one of the offsets.
func (o Offsets) Contains(days int) bool {
	for _, d := range o {
		if d == days {
			return true
		}
	}
	return false
}

// Clone returns a copy that does not share the backing array.
func (o Offsets) Clone() Offsets {
	if o == nil {
		return nil
	}
	out := make(Offsets, len(o))
	copy(out, o)
	return out
}

// Union merges several offset lists into one descending set.
func Union(lists ...Offsets) Offsets {
	seen := make(map[int]struct{})
	out := Offsets{}
	for _, l := range lists {
		for _, d := range l {
			if d <= 0 {
				continue
			}
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}
