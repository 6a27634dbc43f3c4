package audio

// DurationInfinite marks a request that plays until another request is queued
// behind it.
const DurationInfinite = -1

// Request asks a channel to play Source at Volume for Duration frames.
// Requests are values and never change once built.
type Request struct {
	Source   Source
	Volume   float32
	Duration int
}

// Infinite reports whether r has no fixed duration.
func (r Request) Infinite() bool { return r.Duration == DurationInfinite }

// Silent reports whether r is known to produce no sound: zero volume, or a
// static source that is silence. Synthesized sources are never known to be
// silent in advance.
func (r Request) Silent() bool {
	if r.Volume == 0 {
		return true
	}
	return r.Source.IsStatic() && r.Source.IsSilence()
}

// Rest returns a silent request that only keeps time.
func Rest(frames int) Request {
	return Request{Duration: frames}
}
