package shadpkg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func writeTempPKG(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pkg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// buildPKG lays out a synthetic package: header at 0, entry table at
// tableOffset, payloads wherever the entries point.
func buildPKG(t *testing.T, header *Header, entries []Entry, payloads map[uint32][]byte, fileSize int) []byte {
	t.Helper()

	buf := make([]byte, fileSize)

	var hdr bytes.Buffer
	if err := binary.Write(&hdr, binary.BigEndian, header); err != nil {
		t.Fatal(err)
	}
	copy(buf, hdr.Bytes())

	cursor := int(header.TableOffset)
	for _, entry := range entries {
		record := entry.record() // 24 data bytes + 8 reserved
		copy(buf[cursor:], record[:])
		cursor += 32

		if payload, ok := payloads[entry.ID]; ok {
			copy(buf[entry.Offset:], payload)
		}
	}

	return buf
}

func TestOpenBadMagic(t *testing.T) {
	data := make([]byte, 0x2000)
	copy(data, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	_, err := Open(writeTempPKG(t, data))
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("Open() error = %v, want ErrBadMagic", err)
	}
}

func TestOpenZeroDeclaredSize(t *testing.T) {
	data := make([]byte, 0x2000)
	binary.BigEndian.PutUint32(data, headerMagic)

	_, err := Open(writeTempPKG(t, data))
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("Open() error = %v, want ErrSizeMismatch", err)
	}
}

func TestOpenDeclaredSizeBeyondFile(t *testing.T) {
	header := &Header{
		Magic: headerMagic,
		Size:  0x100000, // larger than the file on disk
	}
	data := buildPKG(t, header, nil, nil, 0x2000)

	_, err := Open(writeTempPKG(t, data))
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("Open() error = %v, want ErrSizeMismatch", err)
	}
}

func TestOpenContentOverflow(t *testing.T) {
	header := &Header{
		Magic:         headerMagic,
		Size:          0x2000,
		ContentOffset: 0x1000,
		ContentSize:   0x1800,
	}
	data := buildPKG(t, header, nil, nil, 0x2000)

	_, err := Open(writeTempPKG(t, data))
	if !errors.Is(err, ErrContentOverflow) {
		t.Fatalf("Open() error = %v, want ErrContentOverflow", err)
	}
}

func TestOpenEntryOutsideDeclaredSize(t *testing.T) {
	header := &Header{
		Magic:       headerMagic,
		Size:        0x2000,
		EntryCount:  1,
		TableOffset: 0x1000,
	}
	entries := []Entry{{ID: 0x1200, Offset: 0x1F00, Size: 0x400}}
	data := buildPKG(t, header, entries, nil, 0x2000)

	_, err := Open(writeTempPKG(t, data))
	if !errors.Is(err, ErrContentOverflow) {
		t.Fatalf("Open() error = %v, want ErrContentOverflow", err)
	}
}

func TestExtractEntries(t *testing.T) {
	header := &Header{
		Magic:       headerMagic,
		Size:        0x2000,
		EntryCount:  3,
		TableOffset: 0x100,
	}
	entries := []Entry{
		{ID: 0x1000, Offset: 0x400, Size: 12},
		{ID: 0x1200, Offset: 0x500, Size: 4},
		{ID: 0x9999, Offset: 0x600, Size: 2},
	}
	payloads := map[uint32][]byte{
		0x1000: []byte("SFOTESTDATA\n"),
		0x1200: []byte("PNG\x00"),
		0x9999: []byte("XX"),
	}
	data := buildPKG(t, header, entries, payloads, 0x2000)

	pkg, err := Open(writeTempPKG(t, data))
	if err != nil {
		t.Fatal(err)
	}
	if len(pkg.Entries) != 3 {
		t.Fatalf("len(Entries) = %d, want 3", len(pkg.Entries))
	}

	fsys := afero.NewMemMapFs()
	if err := pkg.ExtractEntries(fsys, "/out"); err != nil {
		t.Fatal(err)
	}

	for name, want := range map[string][]byte{
		"/out/sce_sys/param.sfo": []byte("SFOTESTDATA\n"),
		"/out/sce_sys/icon0.png": []byte("PNG\x00"),
		"/out/sce_sys/39321":     []byte("XX"),
	} {
		got, err := afero.ReadFile(fsys, filepath.FromSlash(name))
		if err != nil {
			t.Errorf("missing %s: %v", name, err)
			continue
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestExtractPFSWithoutKeys(t *testing.T) {
	header := &Header{
		Magic:       headerMagic,
		Size:        0x2000,
		EntryCount:  0,
		TableOffset: 0x100,
	}
	data := buildPKG(t, header, nil, nil, 0x2000)

	pkg, err := Open(writeTempPKG(t, data))
	if err != nil {
		t.Fatal(err)
	}

	fsys := afero.NewMemMapFs()
	if err := pkg.ExtractEntries(fsys, "/out"); err != nil {
		t.Fatal(err)
	}
	if err := pkg.ExtractPFS(fsys, "/out", 1); !errors.Is(err, ErrMissingKeys) {
		t.Fatalf("ExtractPFS() error = %v, want ErrMissingKeys", err)
	}
}

func TestEntryNameByID(t *testing.T) {
	tests := []struct {
		id   uint32
		want string
	}{
		{0x1000, "param.sfo"},
		{0x1200, "icon0.png"},
		{0x1220, "pic0.png"},
		{0x1201, "icon0_01.png"},
		{0x1241, "pic1_01.png"},
		{0x1401, "trophy/trophy01.trp"},
		{0x0400, "license.dat"},
		{0x9999, ""},
	}
	for _, tt := range tests {
		if got := entryNameByID(tt.id); got != tt.want {
			t.Errorf("entryNameByID(%#x) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestHeaderFlagNames(t *testing.T) {
	h := &Header{ContentFlags: 0x00400000 | 0x00800000}
	if got := h.FlagNames(); got != "REMASTER, PS_CLOUD" {
		t.Errorf("FlagNames() = %q", got)
	}
}

func TestHeaderTitleID(t *testing.T) {
	h := &Header{}
	copy(h.ContentID[:], "UP0000-CUSA00001_00-0000000000000000")
	if got := h.TitleID(); got != "CUSA00001" {
		t.Errorf("TitleID() = %q, want CUSA00001", got)
	}
}
