// pkg/core/frame.go
package core

// EntityState is the replicated state of one entity. Number 0 is never a
// valid entity; it terminates entity lists on the wire.
type EntityState struct {
	Number      int
	Origin      [3]int32
	Angles      [3]int32
	OldOrigin   [3]int32
	ModelIndex  int32
	ModelIndex2 int32
	Frame       int32
	SkinNum     int32
	Effects     uint32
	RenderFx    uint32
	Solid       uint32
	Sound       int32
	Event       int32
}

// PlayerState is the state of the observed player.
type PlayerState struct {
	PMType     int32
	Origin     [3]int32
	Velocity   [3]int32
	ViewAngles [3]int16
	ViewOffset [3]int8
	GunIndex   int32
	GunFrame   int32
	FOV        uint8
	RDFlags    uint8
	Stats      [MaxStats]int16
}

// Frame is the full world state of one server frame.
type Frame struct {
	Valid    bool
	Number   int32
	Delta    int32
	AreaBits []byte
	PS       PlayerState
	Entities []EntityState // sorted by Number
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() Frame {
	c := *f
	if f.AreaBits != nil {
		c.AreaBits = append([]byte(nil), f.AreaBits...)
	}
	if f.Entities != nil {
		c.Entities = append([]EntityState(nil), f.Entities...)
	}
	return c
}
