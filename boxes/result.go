package boxes

// SplitByClass groups detections into per-class lists. numClasses counts
// the background class, so the result has numClasses-1 entries indexed by
// label-1. Classes with no detections get an empty (non-nil) slice, which
// is also the shape of a zero-detection result.
func SplitByClass(detections []Detection, numClasses int) [][]Detection {
	out := make([][]Detection, numClasses-1)
	for i := range out {
		out[i] = []Detection{}
	}
	for _, d := range detections {
		if d.Label < 1 || d.Label >= numClasses {
			continue
		}
		out[d.Label-1] = append(out[d.Label-1], d)
	}
	return out
}
