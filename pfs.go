package shadpkg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zlib"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/crypto/xts"

	"github.com/seregonwar/shadpkg/pkgutil"
)

const (
	pfscMagic    = 0x43534650 // "PFSC"
	pfsBlockSize = 0x10000
	inodeStride  = 0xA8
	pfsSeedOff   = 0x370
)

// PFS object types carried in dirents.
const (
	PFSFile       = 2
	PFSDir        = 3
	PFSCurrentDir = 4
	PFSParentDir  = 5
)

// Inode describes one PFS filesystem object. Only the fields the extractor
// acts on are decoded; the on-disk record stride is 0xA8 bytes.
type Inode struct {
	Mode   uint16
	Size   uint64
	Blocks uint32
	Loc    uint32
}

func parseInode(b []byte) Inode {
	return Inode{
		Mode:   binary.LittleEndian.Uint16(b[0:]),
		Size:   binary.LittleEndian.Uint64(b[8:]),
		Blocks: binary.LittleEndian.Uint32(b[0x60:]),
		Loc:    binary.LittleEndian.Uint32(b[0x64:]),
	}
}

// FSEntry is one name in the reconstructed PFS tree, in traversal order.
type FSEntry struct {
	Name  string
	Inode uint32
	Type  uint32
}

type pfscHeader struct {
	Magic        uint32
	Unknown04    uint32
	Unknown08    uint32
	BlockSize    uint32
	BlockSize2   uint64
	BlockOffsets uint64
	DataStart    uint64
	DataLength   uint64
}

// dirent is the variable-length directory record: four little-endian words
// followed by the name bytes.
type dirent struct {
	ino     uint32
	typ     uint32
	namelen uint32
	entsize uint32
	name    []byte
}

func parseDirent(b []byte) (dirent, bool) {
	if len(b) < 0x10 {
		return dirent{}, false
	}
	d := dirent{
		ino:     binary.LittleEndian.Uint32(b[0:]),
		typ:     binary.LittleEndian.Uint32(b[4:]),
		namelen: binary.LittleEndian.Uint32(b[8:]),
		entsize: binary.LittleEndian.Uint32(b[12:]),
	}
	if d.entsize == 0 || uint64(d.namelen)+0x10 > uint64(len(b)) {
		return d, d.ino == 0
	}
	d.name = b[0x10 : 0x10+d.namelen]
	return d, true
}

// pfsImage carries the state shared between the tree walk and the parallel
// file phase. Everything here is read-only once the walk is done.
type pfsImage struct {
	pkgPath     string
	imageOffset uint64
	pfscOffset  uint64
	cipher      *xts.Cipher
	pfsc        []byte
	sectorMap   []uint64
	inodes      []Inode
	fsTable     []FSEntry
	paths       map[uint32]string
	root        string
}

// ExtractPFS decrypts the PFS image and materializes its directory tree.
// ExtractEntries must have run first so the key session holds EKPFS.
func (p *PKG) ExtractPFS(fsys afero.Fs, outDir string, workers int) error {
	if p.session == nil || !p.session.HasEKPFS() {
		return fmt.Errorf("%w: EKPFS before PFS extraction", ErrMissingKeys)
	}

	r, err := pkgutil.Open(p.Path)
	if err != nil {
		return err
	}
	defer r.Close()

	img, err := p.openPFS(r)
	if err != nil {
		return err
	}
	if img == nil {
		zap.S().Infof("pfs: empty image, nothing to extract")
		return nil
	}

	if err := img.walkTree(fsys, outDir, p.TitleID()); err != nil {
		return err
	}
	p.fsTable = img.fsTable

	return img.extractFiles(fsys, workers)
}

// FSTable returns the reconstructed PFS tree, in traversal order, after
// ExtractPFS has run.
func (p *PKG) FSTable() []FSEntry {
	return p.fsTable
}

// openPFS runs phases A and B: decrypt the image head, locate the PFSC
// substream and load its sector map. Returns nil for a keyless, zero-size
// cache (packages without a PFS image).
func (p *PKG) openPFS(r *pkgutil.Reader) (*pfsImage, error) {
	length := p.Header.PFSCacheSize * 2
	if length == 0 {
		return nil, nil
	}

	var seed [16]byte
	if err := r.Seek(int64(p.Header.PFSImageOffset + pfsSeedOff)); err != nil {
		return nil, fmt.Errorf("pfs: failed to seek to crypto seed: %w", err)
	}
	if err := r.ReadFull(seed[:]); err != nil {
		return nil, fmt.Errorf("pfs: failed to read crypto seed: %w", err)
	}
	if err := p.session.derivePFSKeys(seed); err != nil {
		return nil, err
	}
	zap.S().Debugf("pfs: derived data/tweak keys")

	c, err := newPFSCipher(p.session.DataKey, p.session.TweakKey)
	if err != nil {
		return nil, err
	}

	encrypted := make([]byte, length)
	if err := r.Seek(int64(p.Header.PFSImageOffset)); err != nil {
		return nil, fmt.Errorf("pfs: failed to seek to image: %w", err)
	}
	if err := r.ReadFull(encrypted); err != nil {
		return nil, fmt.Errorf("pfs: failed to read image head: %w", err)
	}

	decrypted := make([]byte, length)
	pfsXtsDecrypt(c, decrypted, encrypted, 0)

	pfscOffset, err := findPFSC(decrypted)
	if err != nil {
		return nil, err
	}
	zap.S().Debugf("pfs: PFSC found at %#x", pfscOffset)

	pfsc := decrypted[pfscOffset:]

	_, sectorMap, err := parsePFSC(pfsc)
	if err != nil {
		return nil, err
	}

	return &pfsImage{
		pkgPath:     p.Path,
		imageOffset: p.Header.PFSImageOffset,
		pfscOffset:  pfscOffset,
		cipher:      c,
		pfsc:        pfsc,
		sectorMap:   sectorMap,
		paths:       make(map[uint32]string),
	}, nil
}

// parsePFSC decodes the PFSC header and loads the sector map: numBlocks+1
// little-endian offsets, the extra one closing the last block.
func parsePFSC(pfsc []byte) (pfscHeader, []uint64, error) {
	var header pfscHeader
	if err := binary.Read(bytes.NewReader(pfsc), binary.LittleEndian, &header); err != nil {
		return header, nil, fmt.Errorf("pfs: failed to read PFSC header: %w", err)
	}
	if header.Magic != pfscMagic {
		return header, nil, fmt.Errorf("pfs: bad PFSC magic %#08x", header.Magic)
	}
	if header.BlockSize2 == 0 {
		return header, nil, fmt.Errorf("pfs: PFSC block size is zero")
	}

	numBlocks := int(header.DataLength / header.BlockSize2)
	mapEnd := header.BlockOffsets + uint64(numBlocks+1)*8
	if mapEnd > uint64(len(pfsc)) {
		return header, nil, fmt.Errorf("pfs: sector map [%#x, %#x) outside PFSC buffer", header.BlockOffsets, mapEnd)
	}

	sectorMap := make([]uint64, numBlocks+1)
	for i := range sectorMap {
		sectorMap[i] = binary.LittleEndian.Uint64(pfsc[header.BlockOffsets+uint64(i)*8:])
	}
	return header, sectorMap, nil
}

// findPFSC scans the decrypted image on 64 KiB boundaries for the PFSC magic.
// The first two blocks hold the outer superblock and never the substream.
func findPFSC(image []byte) (uint64, error) {
	for off := uint64(0x20000); off+4 <= uint64(len(image)); off += pfsBlockSize {
		if binary.LittleEndian.Uint32(image[off:]) == pfscMagic {
			return off, nil
		}
	}
	return 0, fmt.Errorf("pfs: PFSC magic not found")
}

// readBlock decodes PFSC block i into dst (pfsBlockSize bytes): stored raw
// when the mapped size is a full block, zlib-deflated otherwise.
func (img *pfsImage) readBlock(i int, dst []byte) error {
	offset := img.sectorMap[i]
	size := img.sectorMap[i+1] - offset
	if offset+size > uint64(len(img.pfsc)) {
		return fmt.Errorf("pfs: block %d spans [%#x, %#x) outside PFSC buffer", i, offset, offset+size)
	}

	stored := img.pfsc[offset : offset+size]
	if size == pfsBlockSize {
		copy(dst, stored)
		return nil
	}
	return decompressPFSC(stored, dst)
}

// decompressPFSC inflates one stored block into dst. A short stream on the
// final block of a file is tolerated; the shortfall is logged and the rest of
// dst keeps its previous contents, matching how truncated tails behave in
// shipped packages.
func decompressPFSC(src, dst []byte) error {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("pfs: inflate init: %w", err)
	}
	defer zr.Close()

	n, err := io.ReadFull(zr, dst)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		zap.S().Debugf("pfs: short inflate: %d of %d bytes", n, len(dst))
		return nil
	}
	if err != nil {
		return fmt.Errorf("pfs: inflate: %w", err)
	}
	return nil
}

// walkTree runs phase C: collect inodes, resolve the tree anchor from the
// uroot block, then turn dirent blocks into the fs table, eagerly creating
// directories. Every emitted path is containment-checked against the anchor.
func (img *pfsImage) walkTree(fsys afero.Fs, outDir, titleID string) error {
	block := make([]byte, pfsBlockSize)

	var (
		ndinode       uint32
		ndinodeCount  int
		dinodeReached bool
		currentDir    string
	)

	numBlocks := len(img.sectorMap) - 1
	zap.S().Debugf("pfs: walking %d blocks", numBlocks)

	for i := 0; i < numBlocks; i++ {
		if err := img.readBlock(i, block); err != nil {
			return err
		}

		if i == 0 {
			ndinode = binary.LittleEndian.Uint32(block[0x30:])
			zap.S().Debugf("pfs: %d filesystem objects", ndinode)
			continue
		}

		occupied := int((ndinode*inodeStride + pfsBlockSize - 1) / pfsBlockSize)
		if i <= occupied {
			for p := 0; p+inodeStride <= pfsBlockSize; p += inodeStride {
				node := parseInode(block[p : p+inodeStride])
				if node.Mode == 0 {
					break
				}
				img.inodes = append(img.inodes, node)
			}
		}

		if string(block[0x10:0x1F]) == "flat_path_table" {
			// The uroot block fixes the anchor directory for the tree.
			ndinodeCount = img.scanURoot(block, ndinodeCount, outDir, titleID)
		}

		if block[0x10] == '.' && string(block[0x28:0x2A]) == ".." {
			dinodeReached = true
		}

		if dinodeReached {
			done, err := img.scanDirents(fsys, block, &ndinodeCount, int(ndinode), &currentDir)
			if err != nil {
				return err
			}
			if done {
				break
			}
		}
	}

	if got := len(img.fsTable); ndinode > 0 && got+1 != int(ndinode) {
		zap.S().Debugf("pfs: table holds %d entries for %d objects", got, ndinode)
	}

	return nil
}

// scanURoot walks the flat_path_table block. Dirents with a non-zero inode
// advance the running object counter; the terminator pins the anchor
// directory for the next object and ends the block.
func (img *pfsImage) scanURoot(block []byte, count int, outDir, titleID string) int {
	for off := 0; off+0x10 <= pfsBlockSize; {
		d, ok := parseDirent(block[off:])
		if !ok {
			break
		}
		if d.ino != 0 {
			count++
			off += int(d.entsize)
			continue
		}

		root := outDir
		base := filepath.Base(outDir)
		if base != titleID && !strings.HasSuffix(base, "-UPDATE") {
			// Game packages nest under <parent>/<title-id>; add-on and
			// update packages keep the caller's directory as-is.
			root = filepath.Join(filepath.Dir(outDir), titleID)
		}
		img.root = root
		img.paths[uint32(count)] = root
		zap.S().Debugf("pfs: tree anchored at %s", root)
		break
	}
	return count
}

// scanDirents walks one directory block, appending to the fs table and
// creating directories as they appear. Returns true once every filesystem
// object has been accounted for.
func (img *pfsImage) scanDirents(fsys afero.Fs, block []byte, count *int, ndinode int, currentDir *string) (bool, error) {
	for off := 0; off+0x10 <= pfsBlockSize; {
		d, ok := parseDirent(block[off:])
		if d.ino == 0 {
			break
		}
		if !ok {
			zap.S().Warnf("pfs: malformed dirent at block offset %#x", off)
			break
		}
		off += int(d.entsize)

		name := pkgutil.SanitizeName(d.name)
		img.fsTable = append(img.fsTable, FSEntry{Name: name, Inode: d.ino, Type: d.typ})

		switch d.typ {
		case PFSCurrentDir:
			*currentDir = img.paths[d.ino]
			img.paths[d.ino] = filepath.Join(*currentDir, ".")
		case PFSParentDir:
			parent := filepath.Dir(*currentDir)
			if pkgutil.Contains(img.root, parent) {
				img.paths[d.ino] = parent
			}
		case PFSFile, PFSDir:
			path, err := pkgutil.SecureJoin(img.root, *currentDir, name)
			if err != nil {
				zap.S().Errorf("pfs: rejecting %q: %v", name, err)
				continue
			}
			img.paths[d.ino] = path

			if d.typ == PFSDir {
				if err := fsys.MkdirAll(path, 0o755); err != nil {
					return false, fmt.Errorf("pfs: %w", err)
				}
			}

			*count++
			if *count+1 == ndinode { // plus the root itself
				return true, nil
			}
		}
	}
	return false, nil
}

// extractFiles runs phase D: the parallel per-file decrypt/inflate/write
// loop. Worker errors are logged, never fatal.
func (img *pfsImage) extractFiles(fsys afero.Fs, workers int) error {
	var files []FSEntry
	for _, entry := range img.fsTable {
		if entry.Type == PFSFile {
			files = append(files, entry)
		}
	}
	if len(files) == 0 {
		return nil
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > 8 {
		workers = 8
	}
	if workers > len(files) {
		workers = len(files)
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("extracting"),
		progressbar.OptionShowCount(),
	)

	var filesDone atomic.Int64
	var wg sync.WaitGroup

	batch := (len(files) + workers - 1) / workers
	for t := 0; t < workers; t++ {
		start := t * batch
		end := min(len(files), start+batch)
		if start >= end {
			break
		}

		wg.Add(1)
		go func(files []FSEntry) {
			defer wg.Done()

			r, err := pkgutil.Open(img.pkgPath)
			if err != nil {
				zap.S().Errorf("pfs: worker failed to open package: %v", err)
				return
			}
			defer r.Close()

			for _, entry := range files {
				if err := img.extractFile(fsys, r, entry); err != nil {
					zap.S().Errorf("pfs: %s: %v", entry.Name, err)
				}
				filesDone.Add(1)
				bar.Add(1)
			}
		}(files[start:end])
	}

	wg.Wait()
	bar.Finish()
	fmt.Println()
	zap.S().Infof("pfs: extracted %d files", filesDone.Load())
	return nil
}

// extractFile decrypts and inflates one file's sector run and writes it out,
// truncating the final block to the inode size.
func (img *pfsImage) extractFile(fsys afero.Fs, r *pkgutil.Reader, entry FSEntry) error {
	path, ok := img.paths[entry.Inode]
	if !ok {
		return fmt.Errorf("no path for inode %d", entry.Inode)
	}
	if int(entry.Inode) >= len(img.inodes) {
		return fmt.Errorf("inode %d outside inode table", entry.Inode)
	}
	inode := img.inodes[entry.Inode]

	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := fsys.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	// One extra XTS sector so the block never straddles the read's tail.
	encrypted := make([]byte, 0x11000)
	decrypted := make([]byte, 0x11000)
	block := make([]byte, pfsBlockSize)

	remaining := inode.Size
	for j := uint32(0); j < inode.Blocks; j++ {
		loc := int(inode.Loc + j)
		if loc+1 >= len(img.sectorMap) {
			return fmt.Errorf("block %d outside sector map", loc)
		}
		sectorOffset := img.sectorMap[loc]
		sectorSize := img.sectorMap[loc+1] - sectorOffset

		aligned := (img.pfscOffset + sectorOffset) &^ 0xFFF
		skew := img.pfscOffset + sectorOffset - aligned

		n, readErr := r.ReadAt(encrypted, int64(img.imageOffset+aligned))
		if readErr != nil && readErr != io.EOF {
			return readErr
		}
		if uint64(n) < skew+sectorSize {
			return fmt.Errorf("short image read: %d bytes at %#x", n, img.imageOffset+aligned)
		}

		pfsXtsDecrypt(img.cipher, decrypted[:n], encrypted[:n], aligned/pfsSectorSize)

		stored := decrypted[skew : skew+sectorSize]
		if sectorSize == pfsBlockSize {
			copy(block, stored)
		} else if err := decompressPFSC(stored, block); err != nil {
			zap.S().Warnf("pfs: %s block %d: %v", entry.Name, j, err)
		}

		writeSize := uint64(pfsBlockSize)
		if remaining < writeSize {
			writeSize = remaining // strip the zero padding after the tail
		}
		if _, err := out.Write(block[:writeSize]); err != nil {
			return err
		}
		remaining -= writeSize
	}

	return nil
}
