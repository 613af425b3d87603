package probe

import (
	"math"
	"math/rand/v2"
)

// TagSource produces probe tags.
type TagSource interface {
	Next() uint32
}

// RandomTags draws tags uniformly from [0, 2^32-2]. It is not
// cryptographically secure; a collision only makes one attempt ambiguous
// until its timeout.
type RandomTags struct{}

// Next returns a fresh random tag.
func (RandomTags) Next() uint32 {
	return rand.Uint32N(math.MaxUint32)
}

// TagFunc adapts a function to TagSource.
type TagFunc func() uint32

// Next calls f.
func (f TagFunc) Next() uint32 {
	return f()
}
