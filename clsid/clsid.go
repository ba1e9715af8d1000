// Package clsid maps the well-known CLSIDs storages carry (§3, the 16-byte
// field every directory entry has room for) to a friendly application name,
// on a best-effort basis.
package clsid

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

type record struct {
	CLSID string `csv:"clsid"`
	Name  string `csv:"name"`
}

//go:embed wellknown.csv
var wellKnownCSV string

var byCLSID map[string]string

func init() {
	byCLSID = make(map[string]string)
	reader := strings.NewReader(wellKnownCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row record) error {
		key := strings.ToUpper(row.CLSID)
		if _, exists := byCLSID[key]; exists {
			return fmt.Errorf("duplicate CLSID %q in well-known table", key)
		}
		byCLSID[key] = row.Name
		return nil
	})
	if err != nil {
		panic(err)
	}
}

// Format renders raw as the canonical XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX
// string. The first three fields are little-endian per §3; the last two are
// raw byte sequences.
func Format(raw [16]byte) string {
	return strings.ToUpper(fmt.Sprintf("%08x-%04x-%04x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		binary.LittleEndian.Uint32(raw[0:4]),
		binary.LittleEndian.Uint16(raw[4:6]),
		binary.LittleEndian.Uint16(raw[6:8]),
		raw[8], raw[9],
		raw[10], raw[11], raw[12], raw[13], raw[14], raw[15]))
}

// Name returns the friendly name of a well-known CLSID, or "" if raw is
// all-zero (the common case for plain streams and storages) or isn't in the
// table.
func Name(raw [16]byte) string {
	if raw == ([16]byte{}) {
		return ""
	}
	return byCLSID[Format(raw)]
}
