package audio

// Crossfade writes len(dst) samples that blend from into to and returns the
// advanced read positions of both.
//
// The weight of to at output i is (pos+i)/span, so pos 0 is pure from and
// pos span is pure to. Read positions wrap at each sampler's length, which
// lets any combination of static and synthesized sources be blended.
func Crossfade[A, B Sampler](dst []float32, from A, fromVol float32, fromIdx int, to B, toVol float32, toIdx int, pos, span int) (int, int) {
	fromLen, toLen := from.Len(), to.Len()
	fspan := float32(span)
	for i := range dst {
		w := float32(pos+i) / fspan
		dst[i] = from.Sample(fromIdx)*fromVol*(1-w) + to.Sample(toIdx)*toVol*w
		if fromIdx++; fromIdx >= fromLen {
			fromIdx = 0
		}
		if toIdx++; toIdx >= toLen {
			toIdx = 0
		}
	}
	return fromIdx, toIdx
}

// Copy writes len(dst) samples of src scaled by vol and returns the advanced
// read position.
func Copy[A Sampler](dst []float32, src A, vol float32, idx int) int {
	n := src.Len()
	for i := range dst {
		dst[i] = src.Sample(idx) * vol
		if idx++; idx >= n {
			idx = 0
		}
	}
	return idx
}
