package shadpkg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/seregonwar/shadpkg/pkgutil"
)

const headerMagic = 0x7F434E54

// Sentinel parse failures, matchable with errors.Is.
var (
	ErrBadMagic        = fmt.Errorf("pkg: bad header magic")
	ErrSizeMismatch    = fmt.Errorf("pkg: declared size does not fit the file")
	ErrContentOverflow = fmt.Errorf("pkg: content exceeds declared size")
	ErrMissingKeys     = fmt.Errorf("pkg: required keys were not derived")
)

// Header is the fixed big-endian record at offset 0 of every PKG.
type Header struct {
	Magic            uint32
	Type             uint32
	Unknown0x8       uint32
	FileCount        uint32
	EntryCount       uint32
	SCEntryCount     uint16
	EntryCount2      uint16
	TableOffset      uint32
	EntryDataSize    uint32
	BodyOffset       uint64
	BodySize         uint64
	ContentOffset    uint64
	ContentSize      uint64
	ContentID        [36]byte
	_                [12]byte
	DRMType          uint32
	ContentType      uint32
	ContentFlags     uint32
	PromoteSize      uint32
	VersionDate      uint32
	VersionHash      uint32
	Unknown0x88      [4]uint32
	IROTag           uint32
	DRMTypeVersion   uint32
	_                [0x60]byte
	DigestEntries1   [32]byte
	DigestEntries2   [32]byte
	DigestTable      [32]byte
	DigestBody       [32]byte
	_                [0x280]byte
	Unknown0x400     uint32
	PFSImageCount    uint32
	PFSImageFlags    uint64
	PFSImageOffset   uint64
	PFSImageSize     uint64
	MountImageOffset uint64
	MountImageSize   uint64
	Size             uint64
	PFSSignedSize    uint32
	PFSCacheSize     uint32
	PFSImageDigest   [32]byte
	PFSSignedDigest  [32]byte
	PFSSplitSizeNth0 uint64
	PFSSplitSizeNth1 uint64
	_                [0xB50]byte
}

// ContentIDString returns the 36-character content id.
func (h *Header) ContentIDString() string {
	return string(h.ContentID[:])
}

// TitleID returns the 9-character title id embedded in the content id.
func (h *Header) TitleID() string {
	return string(h.ContentID[7:16])
}

var flagNames = []struct {
	flag uint32
	name string
}{
	{0x00100000, "FIRST_PATCH"},
	{0x00200000, "PATCH_GOES_OVER_DISC"},
	{0x00400000, "REMASTER"},
	{0x00800000, "PS_CLOUD"},
	{0x02000000, "GD_AC"},
	{0x04000000, "NON_GAME"},
	{0x08000000, "UNKNOWN_0x8000000"},
	{0x40000000, "SUBSEQUENT_PATCH"},
	{0x41000000, "DELTA_PATCH"},
	{0x60000000, "CUMULATIVE_PATCH"},
}

// FlagNames renders the known content flags as a comma-joined string.
func (h *Header) FlagNames() string {
	var names []string
	for _, f := range flagNames {
		if h.ContentFlags&f.flag == f.flag {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, ", ")
}

func parseHeader(r *pkgutil.Reader) (*Header, error) {
	if err := r.Seek(0); err != nil {
		return nil, fmt.Errorf("pkg: failed to seek to header: %w", err)
	}

	header := new(Header)
	buf := make([]byte, binary.Size(header))
	if err := r.ReadFull(buf); err != nil {
		return nil, fmt.Errorf("pkg: failed to read header: %w", err)
	}
	if err := binary.Read(bytes.NewReader(buf), binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("pkg: failed to decode header: %w", err)
	}

	if header.Magic != headerMagic {
		return nil, fmt.Errorf("%w: got %#08x", ErrBadMagic, header.Magic)
	}
	if header.Size == 0 || header.Size > uint64(r.Size()) {
		return nil, fmt.Errorf("%w: declared %d, file %d", ErrSizeMismatch, header.Size, r.Size())
	}
	if header.ContentOffset+header.ContentSize > header.Size {
		return nil, fmt.Errorf("%w: %#x+%#x > %#x", ErrContentOverflow,
			header.ContentOffset, header.ContentSize, header.Size)
	}

	return header, nil
}
