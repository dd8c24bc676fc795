package shadpkg

import (
	"bytes"
	"encoding/binary"
	"io/fs"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/spf13/afero"
)

func TestParsePFSC(t *testing.T) {
	pfsc := make([]byte, 0x100)
	binary.LittleEndian.PutUint32(pfsc[0x00:], pfscMagic)
	binary.LittleEndian.PutUint32(pfsc[0x0C:], 0x10000)  // BlockSize
	binary.LittleEndian.PutUint64(pfsc[0x10:], 0x10000)  // BlockSize2
	binary.LittleEndian.PutUint64(pfsc[0x18:], 0x60)     // BlockOffsets
	binary.LittleEndian.PutUint64(pfsc[0x20:], 0x1000)   // DataStart
	binary.LittleEndian.PutUint64(pfsc[0x28:], 0x30000)  // DataLength

	for i, offset := range []uint64{0x1000, 0x11000, 0x12000, 0x22000} {
		binary.LittleEndian.PutUint64(pfsc[0x60+i*8:], offset)
	}

	header, sectorMap, err := parsePFSC(pfsc)
	if err != nil {
		t.Fatal(err)
	}
	if got := int(header.DataLength / header.BlockSize2); got != 3 {
		t.Fatalf("num blocks = %d, want 3", got)
	}
	if len(sectorMap) != 4 {
		t.Fatalf("len(sectorMap) = %d, want 4", len(sectorMap))
	}

	wantSizes := []uint64{0x10000, 0x1000, 0x10000}
	for i, want := range wantSizes {
		got := sectorMap[i+1] - sectorMap[i]
		if got != want {
			t.Errorf("block %d size = %#x, want %#x", i, got, want)
		}
		compressed := got != 0x10000
		if compressed != (want != 0x10000) {
			t.Errorf("block %d compression classification wrong", i)
		}
	}
}

func TestParsePFSCBadMagic(t *testing.T) {
	pfsc := make([]byte, 0x100)
	if _, _, err := parsePFSC(pfsc); err == nil {
		t.Fatal("parsePFSC should reject a missing magic")
	}
}

func TestDecompressPFSCRoundTrip(t *testing.T) {
	plain := make([]byte, pfsBlockSize)
	for i := range plain {
		plain[i] = byte(i % 251)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(plain); err != nil {
		t.Fatal(err)
	}
	zw.Close()

	if compressed.Len() >= pfsBlockSize {
		t.Fatalf("fixture did not compress: %d bytes", compressed.Len())
	}

	out := make([]byte, pfsBlockSize)
	if err := decompressPFSC(compressed.Bytes(), out); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, plain) {
		t.Error("inflate round trip mismatch")
	}
}

// pfsFixture builds a complete synthetic PKG carrying an encrypted PFS image:
// a root with two files and a subdirectory, plus one malicious dirent.
type pfsFixture struct {
	path     string
	ekpfs    [32]byte
	aSize    int
	bContent []byte
}

const (
	fixtureImageOffset = 0x10000
	fixtureCacheSize   = 0x50000
	fixtureLength      = fixtureCacheSize * 2
	fixturePFSCOffset  = 0x20000
)

func putDirent(block []byte, off int, ino, typ uint32, name string, entsize uint32) int {
	binary.LittleEndian.PutUint32(block[off:], ino)
	binary.LittleEndian.PutUint32(block[off+4:], typ)
	binary.LittleEndian.PutUint32(block[off+8:], uint32(len(name)))
	binary.LittleEndian.PutUint32(block[off+12:], entsize)
	copy(block[off+0x10:], name)
	return off + int(entsize)
}

func putInode(table []byte, index int, mode uint16, size uint64, blocks, loc uint32) {
	base := index * inodeStride
	binary.LittleEndian.PutUint16(table[base:], mode)
	binary.LittleEndian.PutUint64(table[base+8:], size)
	binary.LittleEndian.PutUint32(table[base+0x60:], blocks)
	binary.LittleEndian.PutUint32(table[base+0x64:], loc)
}

func buildPFSFixture(t *testing.T) *pfsFixture {
	t.Helper()

	fixture := &pfsFixture{aSize: 0x12345}
	for i := range fixture.ekpfs {
		fixture.ekpfs[i] = byte(0xE0 + i)
	}

	bBlock := make([]byte, pfsBlockSize)
	for i := range bBlock {
		bBlock[i] = byte(i % 251)
	}
	fixture.bContent = bBlock[:0x100]

	var bCompressed bytes.Buffer
	zw := zlib.NewWriter(&bCompressed)
	zw.Write(bBlock)
	zw.Close()
	if bCompressed.Len() >= pfsBlockSize {
		t.Fatal("fixture block did not compress")
	}

	image := make([]byte, fixtureLength)

	// crypto seed
	for i := 0; i < 16; i++ {
		image[pfsSeedOff+i] = byte(0x30 + i)
	}

	pfsc := image[fixturePFSCOffset:]

	// PFSC header and sector map
	binary.LittleEndian.PutUint32(pfsc[0x00:], pfscMagic)
	binary.LittleEndian.PutUint32(pfsc[0x0C:], pfsBlockSize)
	binary.LittleEndian.PutUint64(pfsc[0x10:], pfsBlockSize)
	binary.LittleEndian.PutUint64(pfsc[0x18:], 0x60)
	binary.LittleEndian.PutUint64(pfsc[0x20:], 0x1000)
	binary.LittleEndian.PutUint64(pfsc[0x28:], 7*pfsBlockSize)

	sectorMap := []uint64{
		0x1000,  // superblock
		0x11000, // inode table
		0x21000, // uroot block
		0x31000, // root directory
		0x41000, // a.bin block 0
		0x51000, // a.bin block 1
		0x61000, // b.bin (compressed)
		0x61000 + uint64(bCompressed.Len()),
	}
	for i, offset := range sectorMap {
		binary.LittleEndian.PutUint64(pfsc[0x60+i*8:], offset)
	}

	// superblock: object count
	binary.LittleEndian.PutUint32(pfsc[0x1000+0x30:], 5)

	// inode table: flat_path_table, root, a.bin, b.bin, subdir
	inodes := pfsc[0x11000 : 0x11000+6*inodeStride]
	putInode(inodes, 0, 0x1FF, 0, 0, 0)
	putInode(inodes, 1, 0x1FF, 0, 0, 0)
	putInode(inodes, 2, 0x1FF, uint64(fixture.aSize), 2, 4)
	putInode(inodes, 3, 0x1FF, uint64(len(fixture.bContent)), 1, 6)
	putInode(inodes, 4, 0x1FF, 0, 0, 0)

	// uroot block: one entry then the terminator
	putDirent(pfsc[0x21000:], 0, 1, PFSFile, "flat_path_table", 0x28)

	// root directory block
	dir := pfsc[0x31000:]
	off := putDirent(dir, 0, 1, PFSCurrentDir, ".", 0x18)
	off = putDirent(dir, off, 1, PFSParentDir, "..", 0x18)
	off = putDirent(dir, off, 5, PFSFile, "../evil", 0x18)
	off = putDirent(dir, off, 2, PFSFile, "a.bin", 0x18)
	off = putDirent(dir, off, 3, PFSFile, "b.bin", 0x18)
	putDirent(dir, off, 4, PFSDir, "subdir", 0x18)

	// file payloads
	for i := 0x41000; i < 0x61000; i++ {
		pfsc[i] = 0xAA
	}
	copy(pfsc[0x61000:], bCompressed.Bytes())

	// encrypt the whole image from sector 0, then put the seed back in the
	// clear: the extractor reads it from the package before decrypting
	dataKey, tweakKey := pfsGenCryptoKey(fixture.ekpfs, [16]byte(image[pfsSeedOff:pfsSeedOff+16]))
	c, err := newPFSCipher(dataKey, tweakKey)
	if err != nil {
		t.Fatal(err)
	}
	encrypted := make([]byte, fixtureLength)
	pfsXtsEncrypt(c, encrypted, image, 0)
	copy(encrypted[pfsSeedOff:pfsSeedOff+16], image[pfsSeedOff:pfsSeedOff+16])

	header := &Header{
		Magic:          headerMagic,
		Size:           fixtureImageOffset + fixtureLength,
		TableOffset:    0x100,
		PFSImageOffset: fixtureImageOffset,
		PFSCacheSize:   fixtureCacheSize,
	}
	copy(header.ContentID[:], "UP0000-CUSA00001_00-0000000000000000")

	data := buildPKG(t, header, nil, nil, fixtureImageOffset+fixtureLength)
	copy(data[fixtureImageOffset:], encrypted)

	fixture.path = writeTempPKG(t, data)
	return fixture
}

func (f *pfsFixture) open(t *testing.T) *PKG {
	t.Helper()
	pkg, err := Open(f.path)
	if err != nil {
		t.Fatal(err)
	}
	pkg.session = &KeySession{EKPFS: f.ekpfs, haveEKPFS: true}
	return pkg
}

func TestExtractPFSTree(t *testing.T) {
	fixture := buildPFSFixture(t)
	pkg := fixture.open(t)

	fsys := afero.NewMemMapFs()
	if err := pkg.ExtractPFS(fsys, "/out/CUSA00001", 1); err != nil {
		t.Fatal(err)
	}

	// a.bin: truncated to the inode size, all 0xAA
	a, err := afero.ReadFile(fsys, "/out/CUSA00001/a.bin")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != fixture.aSize {
		t.Fatalf("a.bin size = %#x, want %#x", len(a), fixture.aSize)
	}
	for i, b := range a {
		if b != 0xAA {
			t.Fatalf("a.bin[%#x] = %#x, want 0xAA", i, b)
		}
	}

	// b.bin: inflated then truncated
	b, err := afero.ReadFile(fsys, "/out/CUSA00001/b.bin")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, fixture.bContent) {
		t.Error("b.bin content mismatch")
	}

	// subdir created eagerly during the walk
	info, err := fsys.Stat("/out/CUSA00001/subdir")
	if err != nil || !info.IsDir() {
		t.Errorf("subdir missing or not a directory: %v", err)
	}

	// the malicious dirent must not materialize anywhere
	afero.Walk(fsys, "/", func(path string, info fs.FileInfo, err error) error {
		if err == nil && strings.Contains(path, "evil") {
			t.Errorf("escaped path written: %s", path)
		}
		return nil
	})

	// traversal order recorded
	table := pkg.FSTable()
	if len(table) == 0 {
		t.Fatal("fs table is empty")
	}
	var files, dirs int
	for _, entry := range table {
		switch entry.Type {
		case PFSFile:
			files++
		case PFSDir:
			dirs++
		}
	}
	if dirs != 1 {
		t.Errorf("dirs = %d, want 1", dirs)
	}
}

func TestExtractPFSParallelDeterminism(t *testing.T) {
	fixture := buildPFSFixture(t)

	trees := make([]map[string][]byte, 2)
	for i, workers := range []int{1, 8} {
		pkg := fixture.open(t)
		fsys := afero.NewMemMapFs()
		if err := pkg.ExtractPFS(fsys, "/out/CUSA00001", workers); err != nil {
			t.Fatal(err)
		}

		tree := make(map[string][]byte)
		afero.Walk(fsys, "/", func(path string, info fs.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			data, err := afero.ReadFile(fsys, path)
			if err != nil {
				t.Fatal(err)
			}
			tree[path] = data
			return nil
		})
		trees[i] = tree
	}

	if len(trees[0]) != len(trees[1]) {
		t.Fatalf("tree sizes differ: %d vs %d", len(trees[0]), len(trees[1]))
	}
	for path, data := range trees[0] {
		other, ok := trees[1][path]
		if !ok {
			t.Errorf("missing %s in parallel tree", path)
			continue
		}
		if !bytes.Equal(data, other) {
			t.Errorf("content of %s differs between 1 and 8 workers", path)
		}
	}
}

func TestExtractPFSAnchorsOutsideTitleDir(t *testing.T) {
	fixture := buildPFSFixture(t)
	pkg := fixture.open(t)

	fsys := afero.NewMemMapFs()
	if err := pkg.ExtractPFS(fsys, "/out/games", 1); err != nil {
		t.Fatal(err)
	}

	// leaf differs from the title id, so the tree nests under the parent
	if _, err := afero.ReadFile(fsys, "/out/CUSA00001/a.bin"); err != nil {
		t.Errorf("a.bin not anchored under /out/CUSA00001: %v", err)
	}
}
