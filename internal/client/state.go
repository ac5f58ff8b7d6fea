// Package client holds the simulation state the demo subsystem reads from
// and the parser that updates it from server messages.
package client

import (
	"strconv"

	"github.com/q2demo/demorec/internal/msg"
	"github.com/q2demo/demorec/pkg/core"
)

// ConnState is the connection stage of the client.
type ConnState int

const (
	Disconnected ConnState = iota
	// Connected means the server data was received but the level has not
	// been entered yet.
	Connected
	// Active means precaching finished and frames are being delivered.
	Active
)

// State is the replicated world state of one client.
type State struct {
	Conn       ConnState
	ServerData core.ServerData
	MaxClients int
	ESFlags    msg.EntityFlags

	Frames   [core.UpdateBackup]core.Frame
	Frame    core.Frame
	OldFrame core.Frame

	Baselines         [core.MaxEdicts]core.EntityState
	ConfigStrings     [core.MaxConfigStrings]string
	BaseConfigStrings [core.MaxConfigStrings]string
	Dirty             Bitmap
	Layout            string

	ServerDelta int32
	ServerTime  int
	Time        int

	Cmd       core.UserCmd
	CmdNumber uint32
	Cmds      [core.CmdBackup]core.UserCmd
	// History maps outgoing sequence numbers to input sample ids.
	History [core.CmdBackup]uint32
	// IncomingAcknowledged is the outgoing sequence the server acknowledged.
	IncomingAcknowledged int

	// Scratch is the shared message building buffer. Whoever writes to it
	// clears it before returning.
	Scratch *msg.Buffer
}

// NewState creates an empty, disconnected state.
func NewState() *State {
	return &State{
		MaxClients: core.MaxClients,
		Scratch:    msg.NewBuffer(core.MaxMessageLen),
	}
}

// Reset clears everything received from the server.
func (s *State) Reset() {
	scratch := s.Scratch
	*s = State{
		MaxClients: core.MaxClients,
		Scratch:    scratch,
	}
	s.Scratch.Clear()
}

// HistoryFrame returns the ring frame with the given number if it is still
// held and valid.
func (s *State) HistoryFrame(num int32) *core.Frame {
	f := &s.Frames[num&core.UpdateMask]
	if f.Number != num || !f.Valid {
		return nil
	}
	return f
}

// Baseline returns the baseline of an entity number.
func (s *State) Baseline(num int) *core.EntityState {
	if num < 0 || num >= core.MaxEdicts {
		return nil
	}
	return &s.Baselines[num]
}

// AcknowledgedSample returns the id of the last input sample the server
// acknowledged.
func (s *State) AcknowledgedSample() uint32 {
	return s.History[s.IncomingAcknowledged&core.CmdMask]
}

// SaveBaseConfigStrings remembers the current config strings as the
// reference for snapshots and seeking.
func (s *State) SaveBaseConfigStrings() {
	s.BaseConfigStrings = s.ConfigStrings
}

// UpdateConfigString refreshes state derived from a config string.
func (s *State) UpdateConfigString(index int) {
	if index == core.CSMaxClients {
		n, err := strconv.Atoi(s.ConfigStrings[index])
		if err != nil || n < 1 || n > core.MaxClients {
			n = core.MaxClients
		}
		s.MaxClients = n
	}
}

// DeltaFrame fires the current frame: the server time follows the frame
// number.
func (s *State) DeltaFrame() {
	s.ServerTime = int(s.Frame.Number-s.ServerDelta) * core.FrameTime
}

// FirstFrame anchors the server time on the first valid frame.
func (s *State) FirstFrame() {
	s.ServerDelta = s.Frame.Number
}
