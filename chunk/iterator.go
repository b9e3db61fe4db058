package chunk

import "sort"

// sliceIterator walks a pre-decoded, ascending-order sample slice.
type sliceIterator struct {
	samples []Sample
	idx     int
}

func (it *sliceIterator) Next() bool {
	it.idx++
	return it.idx < len(it.samples)
}

func (it *sliceIterator) At() Sample { return it.samples[it.idx] }

// lowerBound returns the index of the first sample with TS >= from.
func lowerBound(samples []Sample, from int64) int {
	return sort.Search(len(samples), func(i int) bool { return samples[i].TS >= from })
}

// upperBoundInclusive returns the index one past the last sample with TS <= to.
func upperBoundInclusive(samples []Sample, to int64) int {
	return sort.Search(len(samples), func(i int) bool { return samples[i].TS > to })
}
