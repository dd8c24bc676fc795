package shadpkg

import (
	"encoding/binary"
	"fmt"

	"github.com/seregonwar/shadpkg/pkgutil"
)

// Well-known entry ids with special handling during the table walk.
const (
	EntryDigests        = 0x0001
	EntryKeys           = 0x0010
	EntryImageKey       = 0x0020
	EntryGeneralDigests = 0x0080
	EntryLicenseDat     = 0x0400
	EntryLicenseInfo    = 0x0401
	EntryNpTitle        = 0x0402
	EntryNpBind         = 0x0403
)

// Entry is one 32-byte record of the PKG entry table.
type Entry struct {
	ID             uint32
	FilenameOffset uint32
	Flags1         uint32
	Flags2         uint32
	Offset         uint32
	Size           uint32
	// followed by 8 reserved bytes on disk
}

// Name returns the well-known sce_sys filename for the entry id, or "".
func (e Entry) Name() string {
	return entryNameByID(e.ID)
}

// IsNP reports whether the entry is an encrypted NP license file.
func (e Entry) IsNP() bool {
	return e.ID >= EntryLicenseDat && e.ID <= EntryNpBind
}

// record reconstructs the 32-byte big-endian on-disk form of the entry.
// The key chain hashes this record together with DK3 to derive per-entry IVs.
func (e Entry) record() [32]byte {
	var rec [32]byte
	binary.BigEndian.PutUint32(rec[0:], e.ID)
	binary.BigEndian.PutUint32(rec[4:], e.FilenameOffset)
	binary.BigEndian.PutUint32(rec[8:], e.Flags1)
	binary.BigEndian.PutUint32(rec[12:], e.Flags2)
	binary.BigEndian.PutUint32(rec[16:], e.Offset)
	binary.BigEndian.PutUint32(rec[20:], e.Size)
	return rec
}

func readEntry(r *pkgutil.Reader) (Entry, error) {
	var e Entry
	var err error

	if e.ID, err = r.U32(); err != nil {
		return e, fmt.Errorf("pkg: failed to read entry id: %w", err)
	}
	if e.FilenameOffset, err = r.U32(); err != nil {
		return e, fmt.Errorf("pkg: failed to read entry filename offset: %w", err)
	}
	if e.Flags1, err = r.U32(); err != nil {
		return e, fmt.Errorf("pkg: failed to read entry flags1: %w", err)
	}
	if e.Flags2, err = r.U32(); err != nil {
		return e, fmt.Errorf("pkg: failed to read entry flags2: %w", err)
	}
	if e.Offset, err = r.U32(); err != nil {
		return e, fmt.Errorf("pkg: failed to read entry offset: %w", err)
	}
	if e.Size, err = r.U32(); err != nil {
		return e, fmt.Errorf("pkg: failed to read entry size: %w", err)
	}
	if err = r.Skip(8); err != nil {
		return e, fmt.Errorf("pkg: failed to skip entry padding: %w", err)
	}

	return e, nil
}
