package demofile

import (
	"fmt"
	"io"
	"strings"

	"github.com/q2demo/demorec/internal/msg"
	"github.com/q2demo/demorec/pkg/core"
)

// ReadInfo extracts the map and point of view from a demo header without
// playing it back. MVD demos only report the MVD flag.
func ReadInfo(rs io.ReadSeeker) (core.DemoInfo, error) {
	var info core.DemoInfo

	dr, first, err := NewReader(rs)
	if err != nil {
		return info, err
	}
	if dr.Format() == FormatMVD {
		info.MVD = true
		return info, nil
	}

	r := msg.NewReader(first)
	if r.ReadUint8() != msg.SvcServerData {
		return info, ErrInvalidFormat
	}
	sd, err := msg.ReadServerData(r)
	if err != nil {
		return info, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if dr.Format() == FormatVanilla && sd.Protocol != core.ProtocolDefault {
		// vanilla demos are always written with the default protocol
		return info, ErrInvalidFormat
	}

	for {
		if r.Done() {
			rec, err := dr.Next()
			if err != nil {
				return info, err
			}
			switch rec.Type {
			case RecordEnd:
				return info, nil
			case RecordInputSample:
				continue
			}
			r.Reset(rec.Data)
			continue
		}

		if r.ReadUint8() != msg.SvcConfigString {
			break
		}
		index := int(r.ReadInt16())
		value := r.ReadString()
		if r.Err() != nil {
			return info, ErrInvalidFormat
		}
		applyInfoString(&info, int(sd.ClientNum), index, value)
	}
	return info, nil
}

func applyInfoString(info *core.DemoInfo, clientNum, index int, value string) {
	switch {
	case index == core.CSModels+1:
		// "maps/<name>.bsp"
		if len(value) > len("maps/")+len(".bsp") {
			info.Map = strings.TrimSuffix(strings.TrimPrefix(value, "maps/"), ".bsp")
		}
	case index >= core.CSPlayerSkins && index < core.CSPlayerSkins+core.MaxClients:
		if index-core.CSPlayerSkins != clientNum {
			return
		}
		if i := strings.IndexByte(value, '\\'); i >= 0 {
			value = value[:i]
		}
		info.POV = value
	}
}
