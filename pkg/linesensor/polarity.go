package linesensor

import "math"

// A raw reading's top four bits select one of HistogramSize buckets.
const histogramShift = 4

func (a *Array) addToHistogram(raw uint8) {
	idx := raw >> histogramShift
	if a.hist[idx] == math.MaxUint16 {
		// Halving every bucket keeps the distribution and makes room.
		for i := range a.hist {
			a.hist[i] >>= 1
		}
	}
	a.hist[idx]++
}

// DetectPolarity finds the median bucket of the calibration histogram and
// sets the polarity: true (the line reads higher than the floor) when the
// median lies in the lower half of the value range. The median is the first
// bucket at which the running count reaches half of the total, so an even
// split between a low and a high bucket resolves to the low one. An empty
// histogram gives true.
func (a *Array) DetectPolarity() bool {
	var total uint32
	for _, n := range a.hist {
		total += uint32(n)
	}
	var count uint32
	center := 0
	for ; center < HistogramSize; center++ {
		count += uint32(a.hist[center])
		if 2*count >= total {
			break
		}
	}
	a.polarity = center < HistogramSize/2
	return a.polarity
}

// Polarity is true when the line reads higher than the floor.
func (a *Array) Polarity() bool {
	return a.polarity
}

// SetPolarity overrides the detected polarity.
func (a *Array) SetPolarity(p bool) {
	a.polarity = p
}

func (a *Array) Histogram() [HistogramSize]uint16 {
	return a.hist
}
