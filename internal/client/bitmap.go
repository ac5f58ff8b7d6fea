package client

import (
	"iter"
	"math/bits"

	"github.com/q2demo/demorec/pkg/core"
)

// Bitmap tracks dirty config strings.
type Bitmap [(core.MaxConfigStrings + 31) / 32]uint32

func (b *Bitmap) Set(i int) { b[i>>5] |= 1 << (i & 31) }
func (b *Bitmap) IsSet(i int) bool { return b[i>>5]&(1<<(i&31)) != 0 }
func (b *Bitmap) ClearAll() { *b = Bitmap{} }

// Empty reports whether no bit is set.
func (b *Bitmap) Empty() bool {
	for _, w := range b {
		if w != 0 {
			return false
		}
	}
	return true
}

// Each calls fn for every set index in ascending order.
func (b *Bitmap) Each(fn func(i int)) {
	for i := range b.All() {
		fn(i)
	}
}

// All yields every set index in ascending order.
func (b *Bitmap) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for wi, w := range b {
			for w != 0 {
				bit := bits.TrailingZeros32(w)
				if !yield(wi<<5 + bit) {
					return
				}
				w &^= 1 << bit
			}
		}
	}
}
