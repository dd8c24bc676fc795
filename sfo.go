package shadpkg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
)

var sfoMagic = [4]byte{0x00, 0x50, 0x53, 0x46}

const (
	sfoUTF8Special uint16 = 0x0004
	sfoUTF8        uint16 = 0x0204
	sfoInteger     uint16 = 0x0404
)

type sfoHeader struct {
	Magic             [4]byte
	Version           uint32
	KeyTableOffset    uint32
	DataTableOffset   uint32
	IndexTableEntries uint32
}

type sfoIndexEntry struct {
	KeyOffset      uint16
	ParamFormat    uint16
	ParamLength    uint32
	ParamMaxLength uint32
	DataOffset     uint32
}

// ParseSFO decodes a param.sfo payload into its key/value pairs. Integer
// parameters are rendered in decimal.
func ParseSFO(payload []byte) (map[string]string, error) {
	r := bytes.NewReader(payload)

	var header sfoHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("sfo: failed to read header: %w", err)
	}
	if header.Magic != sfoMagic {
		return nil, fmt.Errorf("sfo: magic not found")
	}

	index := make([]sfoIndexEntry, header.IndexTableEntries)
	if err := binary.Read(r, binary.LittleEndian, &index); err != nil {
		return nil, fmt.Errorf("sfo: failed to read index table: %w", err)
	}

	if int(header.KeyTableOffset) > len(payload) || int(header.DataTableOffset) > len(payload) {
		return nil, fmt.Errorf("sfo: table offsets outside payload")
	}
	keys := payload[header.KeyTableOffset:]
	values := payload[header.DataTableOffset:]

	entries := make(map[string]string, len(index))
	for _, entry := range index {
		if int(entry.KeyOffset) >= len(keys) {
			return nil, fmt.Errorf("sfo: key offset %#x outside key table", entry.KeyOffset)
		}
		end := bytes.IndexByte(keys[entry.KeyOffset:], 0)
		if end < 0 {
			return nil, fmt.Errorf("sfo: unterminated key at %#x", entry.KeyOffset)
		}
		key := string(keys[entry.KeyOffset : int(entry.KeyOffset)+end])

		if int(entry.DataOffset)+int(entry.ParamLength) > len(values) {
			return nil, fmt.Errorf("sfo: value of %q outside data table", key)
		}
		value := values[entry.DataOffset : entry.DataOffset+entry.ParamLength]

		switch entry.ParamFormat {
		case sfoUTF8Special:
			entries[key] = string(value)
		case sfoUTF8:
			entries[key] = string(bytes.TrimRight(value, "\x00"))
		case sfoInteger:
			if len(value) >= 4 {
				entries[key] = strconv.FormatUint(uint64(binary.LittleEndian.Uint32(value)), 10)
			}
		}
	}

	return entries, nil
}
