// Package snapshot keeps the periodic playback snapshots that make
// seeking possible. A snapshot is a synthetic server message which, parsed
// on top of the demo header state, reconstructs the delta ring, the
// changed config strings and the layout at one point of the demo.
package snapshot

import (
	"sort"

	"github.com/q2demo/demorec/internal/client"
	"github.com/q2demo/demorec/internal/differ"
	"github.com/q2demo/demorec/internal/msg"
	"github.com/q2demo/demorec/pkg/core"
)

// Entry is one captured snapshot.
type Entry struct {
	// Frame is the playback frame counter at capture time.
	Frame int
	// Offset is the file position right after the captured record.
	Offset int64
	Data   []byte
}

// Index is the ordered list of snapshots of one playback.
type Index struct {
	entries []Entry
	size    int
}

// Append adds e. Entries are kept sorted by frame; an entry for an already
// captured frame replaces it.
func (x *Index) Append(e Entry) {
	n := len(x.entries)
	if n == 0 || x.entries[n-1].Frame < e.Frame {
		x.entries = append(x.entries, e)
		x.size += len(e.Data)
		return
	}

	i := sort.Search(n, func(i int) bool { return x.entries[i].Frame >= e.Frame })
	if x.entries[i].Frame == e.Frame {
		x.size += len(e.Data) - len(x.entries[i].Data)
		x.entries[i] = e
		return
	}
	x.entries = append(x.entries, Entry{})
	copy(x.entries[i+1:], x.entries[i:])
	x.entries[i] = e
	x.size += len(e.Data)
}

// Floor returns the latest snapshot at or before frame. When every
// snapshot lies after frame the first one is returned. ok is false only
// for an empty index.
func (x *Index) Floor(frame int) (e Entry, ok bool) {
	if len(x.entries) == 0 {
		return Entry{}, false
	}
	i := sort.Search(len(x.entries), func(i int) bool { return x.entries[i].Frame > frame })
	if i == 0 {
		return x.entries[0], true
	}
	return x.entries[i-1], true
}

// Last returns the most recent snapshot.
func (x *Index) Last() (Entry, bool) {
	if len(x.entries) == 0 {
		return Entry{}, false
	}
	return x.entries[len(x.entries)-1], true
}

// Len returns the number of snapshots.
func (x *Index) Len() int { return len(x.entries) }

// Size returns the total payload size in bytes.
func (x *Index) Size() int { return x.size }

// Reset drops every snapshot.
func (x *Index) Reset() {
	x.entries = nil
	x.size = 0
}

// Build encodes the current state of st as a snapshot payload. The frames
// still held in the delta ring are written as a chain of deltas so any
// later record can delta from them. b is used as scratch space and is
// cleared before returning; the result is an independent copy. nil is
// returned when the snapshot does not fit into b.
func Build(b *msg.Buffer, st *client.State) []byte {
	defer b.Clear()

	d := differ.Differ{
		Baseline:   st.Baseline,
		MaxClients: st.MaxClients,
		Flags:      st.ESFlags & msg.ESLongSolid,
	}

	var last *core.Frame
	lastNum := int32(-1)
	for i := int32(0); i < core.UpdateBackup; i++ {
		num := st.Frame.Number - (core.UpdateBackup - 1) + i
		f := st.HistoryFrame(num)
		if f == nil {
			continue
		}
		d.EmitDeltaFrame(b, last, f, lastNum, num)
		last, lastNum = f, num
	}

	for i := range st.ConfigStrings {
		if st.ConfigStrings[i] == st.BaseConfigStrings[i] {
			continue
		}
		msg.WriteConfigString(b, i, st.ConfigStrings[i])
	}

	b.WriteUint8(msg.SvcLayout)
	b.WriteString(st.Layout)

	if b.Overflowed() {
		return nil
	}
	return append([]byte(nil), b.Bytes()...)
}
