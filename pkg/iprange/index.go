// Package iprange stores sorted IP ranges per address family and answers
// membership and label lookups with a binary search.
//
// Lookup inspects exactly one candidate: the range with the rightmost start
// not greater than the queried address. That is only correct when the ranges
// of a family are disjoint. BuildMerged guarantees it; Build trusts its input
// and reports overlaps through Overlaps.
package iprange

import (
	"net/netip"
	"slices"
	"sort"
)

// Range is an inclusive address range with a label.
type Range[T any] struct {
	Start Uint128
	End   Uint128
	Label T
}

// Contains reports whether ip lies inside the range.
func (r Range[T]) Contains(ip Uint128) bool {
	return r.Start.Compare(ip) <= 0 && ip.Compare(r.End) <= 0
}

// FromPrefix returns the range covered by a CIDR prefix.
func FromPrefix(p netip.Prefix) (Family, Range[struct{}], bool) {
	if !p.IsValid() {
		return V4, Range[struct{}]{}, false
	}
	p = p.Masked()
	family, start, ok := FromAddr(p.Addr())
	if !ok {
		return V4, Range[struct{}]{}, false
	}

	hostBits := p.Addr().BitLen() - p.Bits()
	if family == V4 && hostBits > 32 {
		hostBits = 32
	}
	return family, Range[struct{}]{Start: start, End: orHostBits(start, hostBits)}, true
}

func orHostBits(u Uint128, hostBits int) Uint128 {
	switch {
	case hostBits <= 0:
		return u
	case hostBits >= 128:
		return maxUint128
	case hostBits >= 64:
		u.Lo = ^uint64(0)
		u.Hi |= (uint64(1) << (hostBits - 64)) - 1
	default:
		u.Lo |= (uint64(1) << hostBits) - 1
	}
	return u
}

type table[T any] struct {
	ranges []Range[T]
	starts []Uint128
}

func newTable[T any](ranges []Range[T]) table[T] {
	starts := make([]Uint128, len(ranges))
	for i, r := range ranges {
		starts[i] = r.Start
	}
	return table[T]{ranges: ranges, starts: starts}
}

func (t table[T]) lookup(ip Uint128) (T, bool) {
	var zero T
	idx := sort.Search(len(t.starts), func(i int) bool {
		return ip.Less(t.starts[i])
	}) - 1
	if idx < 0 {
		return zero, false
	}
	if candidate := t.ranges[idx]; candidate.Contains(ip) {
		return candidate.Label, true
	}
	return zero, false
}

// Index is an immutable pair of sorted range tables, one per family.
type Index[T any] struct {
	v4 table[T]
	v6 table[T]
}

// Build sorts the ranges of each family by start without merging.
func Build[T any](v4, v6 []Range[T]) *Index[T] {
	return &Index[T]{
		v4: newTable(sortRanges(v4)),
		v6: newTable(sortRanges(v6)),
	}
}

// BuildMerged sorts the ranges of each family and coalesces overlapping and
// adjacent ones, producing the minimal disjoint cover.
func BuildMerged(v4, v6 []Range[struct{}]) *Index[struct{}] {
	return &Index[struct{}]{
		v4: newTable(Merge(v4)),
		v6: newTable(Merge(v6)),
	}
}

// Merge returns a sorted copy of ranges where no two ranges overlap or touch.
func Merge(ranges []Range[struct{}]) []Range[struct{}] {
	sorted := sortRanges(ranges)
	if len(sorted) == 0 {
		return sorted
	}

	merged := sorted[:1]
	for _, next := range sorted[1:] {
		last := &merged[len(merged)-1]
		if next.Start.Compare(last.End.AddOne()) <= 0 {
			if last.End.Less(next.End) {
				last.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}
	return slices.Clip(merged)
}

func sortRanges[T any](ranges []Range[T]) []Range[T] {
	sorted := make([]Range[T], 0, len(ranges))
	for _, r := range ranges {
		if r.End.Less(r.Start) {
			continue
		}
		sorted = append(sorted, r)
	}
	slices.SortStableFunc(sorted, func(a, b Range[T]) int {
		return a.Start.Compare(b.Start)
	})
	return sorted
}

func (idx *Index[T]) tableFor(family Family) table[T] {
	if family == V4 {
		return idx.v4
	}
	return idx.v6
}

// Lookup returns the label of the range containing addr.
func (idx *Index[T]) Lookup(addr netip.Addr) (T, bool) {
	var zero T
	if idx == nil {
		return zero, false
	}
	family, ip, ok := FromAddr(addr)
	if !ok {
		return zero, false
	}
	return idx.tableFor(family).lookup(ip)
}

// LookupInt is Lookup for an address already in integer form.
func (idx *Index[T]) LookupInt(family Family, ip Uint128) (T, bool) {
	var zero T
	if idx == nil {
		return zero, false
	}
	return idx.tableFor(family).lookup(ip)
}

// Len returns the number of stored ranges of a family.
func (idx *Index[T]) Len(family Family) int {
	if idx == nil {
		return 0
	}
	return len(idx.tableFor(family).ranges)
}

// Ranges returns a copy of the stored ranges of a family.
func (idx *Index[T]) Ranges(family Family) []Range[T] {
	if idx == nil {
		return nil
	}
	return slices.Clone(idx.tableFor(family).ranges)
}

// Overlaps counts neighbouring ranges of a family that overlap. A non-zero
// result means Lookup may return the label of an earlier, wider range.
func (idx *Index[T]) Overlaps(family Family) int {
	if idx == nil {
		return 0
	}
	ranges := idx.tableFor(family).ranges
	count := 0
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Start.Compare(ranges[i-1].End) <= 0 {
			count++
		}
	}
	return count
}
