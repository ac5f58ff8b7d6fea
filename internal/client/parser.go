package client

import (
	"errors"
	"fmt"

	"github.com/q2demo/demorec/internal/msg"
	"github.com/q2demo/demorec/pkg/core"
)

// ErrDisconnect is returned when the server message contains a disconnect.
var ErrDisconnect = errors.New("server disconnected")

// Mode selects how transient effects are handled while parsing.
type Mode int

const (
	// ModeNormal applies every command.
	ModeNormal Mode = iota
	// ModeSeek suppresses effects and defers config string updates by
	// marking them dirty.
	ModeSeek
)

// Hooks receive parser notifications. Nil hooks are skipped.
type Hooks struct {
	ServerData   func(sd *core.ServerData)
	ConfigString func(index int)
	Frame        func(frame *core.Frame)
	StuffText    func(text string)
	Effect       func(cmd int, text string)
	// Passthrough receives the raw bytes of commands that a recording
	// copies verbatim. The slice is only valid during the call.
	Passthrough func(data []byte)
}

// Parser applies server messages to a State.
type Parser struct {
	state *State
	hooks Hooks
	r     msg.Reader
}

func NewParser(state *State, hooks Hooks) *Parser {
	return &Parser{state: state, hooks: hooks}
}

// SetHooks replaces the notification hooks.
func (p *Parser) SetHooks(h Hooks) { p.hooks = h }

// Parse applies every command in data.
func (p *Parser) Parse(data []byte, mode Mode) error {
	r := &p.r
	r.Reset(data)

	for !r.Done() {
		start := r.Offset()
		cmd := int(r.ReadUint8())

		var err error
		switch cmd {
		case msg.SvcNop:
		case msg.SvcDisconnect:
			return ErrDisconnect
		case msg.SvcServerData:
			err = p.parseServerData()
		case msg.SvcConfigString:
			err = p.parseConfigString(mode)
		case msg.SvcSpawnBaseline:
			err = p.parseBaseline()
		case msg.SvcStuffText:
			text := r.ReadString()
			if text == "precache\n" {
				if p.state.Conn == Connected {
					p.state.Conn = Active
				}
			} else if p.hooks.StuffText != nil {
				p.hooks.StuffText(text)
			}
		case msg.SvcLayout:
			p.state.Layout = r.ReadString()
		case msg.SvcPrint:
			r.ReadUint8()
			p.effect(mode, cmd, r.ReadString())
		case msg.SvcCenterPrint:
			p.effect(mode, cmd, r.ReadString())
		case msg.SvcSound:
			r.ReadInt16()
			r.ReadUint16()
			p.effect(mode, cmd, "")
		case msg.SvcFrame:
			err = p.parseFrame()
		default:
			return fmt.Errorf("illegal server message %d at offset %d", cmd, start)
		}
		if err != nil {
			return err
		}
		if r.Err() != nil {
			return fmt.Errorf("parsing command %d: %w", cmd, r.Err())
		}

		switch cmd {
		case msg.SvcConfigString, msg.SvcLayout, msg.SvcPrint, msg.SvcCenterPrint, msg.SvcSound:
			if p.hooks.Passthrough != nil {
				p.hooks.Passthrough(data[start:r.Offset()])
			}
		}
	}
	return nil
}

func (p *Parser) effect(mode Mode, cmd int, text string) {
	if mode == ModeSeek || p.hooks.Effect == nil {
		return
	}
	p.hooks.Effect(cmd, text)
}

func (p *Parser) parseServerData() error {
	sd, err := msg.ReadServerData(&p.r)
	if err != nil {
		return err
	}
	s := p.state
	s.Reset()
	s.Conn = Connected
	s.ServerData = sd
	s.ESFlags = msg.EntityFlagsFor(&sd)
	s.ConfigStrings[core.CSName] = sd.LevelName
	if p.hooks.ServerData != nil {
		p.hooks.ServerData(&s.ServerData)
	}
	return nil
}

func (p *Parser) parseConfigString(mode Mode) error {
	index := int(p.r.ReadInt16())
	value := p.r.ReadString()
	if p.r.Err() != nil {
		return p.r.Err()
	}
	if index < 0 || index >= core.MaxConfigStrings {
		return fmt.Errorf("bad config string index %d", index)
	}

	s := p.state
	s.ConfigStrings[index] = value
	if mode == ModeSeek {
		s.Dirty.Set(index)
		return nil
	}
	s.UpdateConfigString(index)
	if p.hooks.ConfigString != nil {
		p.hooks.ConfigString(index)
	}
	return nil
}

func (p *Parser) parseBaseline() error {
	num, bits := msg.ReadEntityHeader(&p.r)
	if p.r.Err() != nil {
		return p.r.Err()
	}
	if num < 1 || num >= core.MaxEdicts {
		return fmt.Errorf("bad baseline number %d", num)
	}
	var zero core.EntityState
	p.state.Baselines[num] = msg.ReadDeltaEntity(&p.r, &zero, num, bits, p.state.ESFlags)
	return nil
}

func (p *Parser) parseFrame() error {
	r := &p.r
	s := p.state

	var frame core.Frame
	frame.Number = r.ReadInt32()
	frame.Delta = r.ReadInt32()
	r.ReadUint8() // suppressed packets
	areaBytes := int(r.ReadUint8())
	if areaBytes > core.MaxAreaBytes {
		return fmt.Errorf("invalid areabits length %d", areaBytes)
	}
	frame.AreaBits = append([]byte(nil), r.ReadData(areaBytes)...)

	var old *core.Frame
	if frame.Delta <= 0 {
		frame.Valid = true
	} else if old = s.HistoryFrame(frame.Delta); old != nil {
		frame.Valid = true
	}

	if cmd := r.ReadUint8(); cmd != msg.SvcPlayerInfo {
		return fmt.Errorf("expected playerinfo, got %d", cmd)
	}
	if old != nil {
		frame.PS = msg.ReadDeltaPlayer(r, &old.PS)
	} else {
		frame.PS = msg.ReadDeltaPlayer(r, nil)
	}

	if cmd := r.ReadUint8(); cmd != msg.SvcPacketEntities {
		return fmt.Errorf("expected packetentities, got %d", cmd)
	}
	ents, err := p.parsePacketEntities(old)
	if err != nil {
		return err
	}
	frame.Entities = ents

	if r.Err() != nil {
		return fmt.Errorf("parsing frame %d: %w", frame.Number, r.Err())
	}

	if !frame.Valid {
		// delta from a frame that already left the ring
		s.Frame.Valid = false
		return nil
	}

	s.Frames[frame.Number&core.UpdateMask] = frame
	s.OldFrame = s.Frame
	s.Frame = frame
	if p.hooks.Frame != nil {
		p.hooks.Frame(&s.Frame)
	}
	return nil
}

func (p *Parser) parsePacketEntities(old *core.Frame) ([]core.EntityState, error) {
	r := &p.r
	s := p.state

	var oldEnts []core.EntityState
	if old != nil {
		oldEnts = old.Entities
	}
	ents := make([]core.EntityState, 0, len(oldEnts))

	oldIndex := 0
	oldNum := func() int {
		if oldIndex < len(oldEnts) {
			return oldEnts[oldIndex].Number
		}
		return core.MaxEdicts
	}

	for {
		num, bits := msg.ReadEntityHeader(r)
		if r.Err() != nil {
			return nil, r.Err()
		}
		if num == 0 {
			break
		}
		if num >= core.MaxEdicts {
			return nil, fmt.Errorf("bad entity number %d", num)
		}

		for oldNum() < num {
			ents = append(ents, oldEnts[oldIndex])
			oldIndex++
		}

		if msg.IsRemove(bits) {
			if oldNum() == num {
				oldIndex++
			}
			continue
		}

		if oldNum() == num {
			ents = append(ents, msg.ReadDeltaEntity(r, &oldEnts[oldIndex], num, bits, s.ESFlags))
			oldIndex++
			continue
		}

		ents = append(ents, msg.ReadDeltaEntity(r, &s.Baselines[num], num, bits, s.ESFlags))
	}

	ents = append(ents, oldEnts[oldIndex:]...)
	return ents, nil
}
