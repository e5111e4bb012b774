package boxes

// RoI is a region of interest tagged with the index of the image it was
// pooled from. The image index is the shared key that keeps box features,
// mask features and targets positionally aligned when regions from several
// images are concatenated into one tensor.
type RoI struct {
	ImageIndex int
	Box        Box
}

// ToRoIs concatenates per-image box lists into a single RoI list, tagging
// each region with its image index. Image order is preserved: downstream
// target assembly assumes region blocks appear in the same order as the
// per-image inputs.
func ToRoIs(perImage [][]Box) []RoI {
	total := 0
	for _, bs := range perImage {
		total += len(bs)
	}
	rois := make([]RoI, 0, total)
	for img, bs := range perImage {
		for _, b := range bs {
			rois = append(rois, RoI{ImageIndex: img, Box: b})
		}
	}
	return rois
}

// RoIBoxes strips the image tags, returning the boxes in RoI order.
func RoIBoxes(rois []RoI) []Box {
	out := make([]Box, len(rois))
	for i, r := range rois {
		out[i] = r.Box
	}
	return out
}
