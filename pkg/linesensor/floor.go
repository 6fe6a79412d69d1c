package linesensor

// FloorPredicate decides from the last readings whether the array is still
// close to the floor. Builds disagree on the right test, so it is pluggable.
type FloorPredicate func(a *Array) bool

// AnyInactive reports on-floor when at least one channel reads at or below
// its calibrated mid threshold. A lifted robot sees no reflection, which
// drives every channel high.
func AnyInactive(a *Array) bool {
	for c := 0; c < NumChannels; c++ {
		if !a.digital[c] {
			return true
		}
	}
	return false
}

// AnyBelow reports on-floor when at least one raw reading is below threshold.
func AnyBelow(threshold uint8) FloorPredicate {
	return func(a *Array) bool {
		for c := 0; c < NumChannels; c++ {
			if a.raw[c] < threshold {
				return true
			}
		}
		return false
	}
}
