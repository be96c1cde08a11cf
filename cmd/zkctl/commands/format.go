package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lbrennan-zk/zkcore/internal/zk"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// statView is the stable JSON shape for a zk.Stat, independent of its
// wire field order. The table format prints the Stat fields directly and
// omits pzxid.
type statView struct {
	Czxid          int64 `json:"czxid"`
	Mzxid          int64 `json:"mzxid"`
	Ctime          int64 `json:"ctime"`
	Mtime          int64 `json:"mtime"`
	Version        int32 `json:"version"`
	Cversion       int32 `json:"cversion"`
	Aversion       int32 `json:"aversion"`
	EphemeralOwner int64 `json:"ephemeralOwner"`
	DataLength     int32 `json:"dataLength"`
	NumChildren    int32 `json:"numChildren"`
	Pzxid          int64 `json:"pzxid"`
}

func toStatView(st zk.Stat) statView {
	return statView{
		Czxid:          st.Czxid,
		Mzxid:          st.Mzxid,
		Ctime:          st.Ctime,
		Mtime:          st.Mtime,
		Version:        st.Version,
		Cversion:       st.Cversion,
		Aversion:       st.Aversion,
		EphemeralOwner: st.EphemeralOwner,
		DataLength:     st.DataLength,
		NumChildren:    st.NumChildren,
		Pzxid:          st.Pzxid,
	}
}

func printStat(st zk.Stat, format string) error {
	switch format {
	case formatJSON:
		b, err := json.MarshalIndent(toStatView(st), "", "  ")
		if err != nil {
			return fmt.Errorf("marshal stat: %w", err)
		}
		fmt.Println(string(b))
		return nil
	case formatTable:
		fmt.Printf("czxid:           %d\n", st.Czxid)
		fmt.Printf("mzxid:           %d\n", st.Mzxid)
		fmt.Printf("ctime:           %s\n", zxidTime(st.Ctime))
		fmt.Printf("mtime:           %s\n", zxidTime(st.Mtime))
		fmt.Printf("version:         %d\n", st.Version)
		fmt.Printf("cversion:        %d\n", st.Cversion)
		fmt.Printf("aversion:        %d\n", st.Aversion)
		fmt.Printf("ephemeralOwner:  %d\n", st.EphemeralOwner)
		fmt.Printf("dataLength:      %d\n", st.DataLength)
		fmt.Printf("numChildren:     %d\n", st.NumChildren)
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// zxidTime renders a Stat millisecond timestamp as RFC 3339.
func zxidTime(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(time.RFC3339)
}

func printChildren(children []string, format string) error {
	switch format {
	case formatJSON:
		b, err := json.MarshalIndent(children, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal children: %w", err)
		}
		fmt.Println(string(b))
		return nil
	case formatTable:
		for _, c := range children {
			fmt.Println(c)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}
