// Package differ turns two simulation frames into the wire delta that
// transforms one into the other.
package differ

import (
	"github.com/q2demo/demorec/internal/msg"
	"github.com/q2demo/demorec/pkg/core"
)

// sentinel is larger than any real entity number and stands for an
// exhausted list during the merge.
const sentinel = 9999

// BaselineFunc returns the static baseline of an entity number.
type BaselineFunc func(num int) *core.EntityState

// Differ emits delta frames.
type Differ struct {
	Baseline   BaselineFunc
	MaxClients int
	// Flags are OR-ed into every entity write (long solid in the extended
	// format).
	Flags msg.EntityFlags
}

// EmitDeltaFrame writes the frame header, the player state delta and the
// entity list delta from "from" to "to". A nil from produces a self
// contained frame seeded from baselines.
func (d *Differ) EmitDeltaFrame(b *msg.Buffer, from, to *core.Frame, fromNum, toNum int32) {
	b.WriteUint8(msg.SvcFrame)
	b.WriteInt32(toNum)
	b.WriteInt32(fromNum)
	b.WriteUint8(0) // rate dropped packets

	b.WriteUint8(uint8(len(to.AreaBits)))
	b.WriteData(to.AreaBits)

	b.WriteUint8(msg.SvcPlayerInfo)
	if from != nil {
		msg.WriteDeltaPlayer(b, &from.PS, &to.PS)
	} else {
		msg.WriteDeltaPlayer(b, nil, &to.PS)
	}

	b.WriteUint8(msg.SvcPacketEntities)
	d.EmitPacketEntities(b, from, to)
}

// EmitPacketEntities merges the two id sorted entity lists and writes one
// delta per id, terminated by entity number 0.
func (d *Differ) EmitPacketEntities(b *msg.Buffer, from, to *core.Frame) {
	var fromEnts []core.EntityState
	if from != nil {
		fromEnts = from.Entities
	}
	toEnts := to.Entities

	oldIndex, newIndex := 0, 0
	for oldIndex < len(fromEnts) || newIndex < len(toEnts) {
		newNum, oldNum := sentinel, sentinel
		var newEnt, oldEnt *core.EntityState
		if newIndex < len(toEnts) {
			newEnt = &toEnts[newIndex]
			newNum = newEnt.Number
		}
		if oldIndex < len(fromEnts) {
			oldEnt = &fromEnts[oldIndex]
			oldNum = oldEnt.Number
		}

		switch {
		case newNum == oldNum:
			// Players are always sent as new entities so their old origin
			// is refreshed and packet loss does not make them warp.
			flags := d.Flags
			if newNum <= d.MaxClients {
				flags |= msg.ESNewEntity
			}
			msg.WriteDeltaEntity(b, oldEnt, newEnt, flags)
			oldIndex++
			newIndex++
		case newNum < oldNum:
			msg.WriteDeltaEntity(b, d.baseline(newNum), newEnt, d.Flags|msg.ESForce|msg.ESNewEntity)
			newIndex++
		default:
			msg.WriteDeltaEntity(b, oldEnt, nil, d.Flags|msg.ESForce)
			oldIndex++
		}
	}

	b.WriteUint16(0) // end of packetentities
}

func (d *Differ) baseline(num int) *core.EntityState {
	if d.Baseline != nil {
		if base := d.Baseline(num); base != nil {
			return base
		}
	}
	return &core.EntityState{Number: num}
}
