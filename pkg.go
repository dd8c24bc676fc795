package shadpkg

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/seregonwar/shadpkg/pkgutil"
)

// PKG is a parsed package: header, entry table and, once ExtractEntries has
// run, the derived key session the PFS phase consumes.
type PKG struct {
	Path    string
	Header  *Header
	Entries []Entry
	SFO     map[string]string

	session *KeySession
	fsTable []FSEntry
}

// Open parses the PKG header and entry table without extracting anything.
//
// The param.sfo payload, when present, is decoded so callers can show title
// metadata up front.
func Open(path string) (*PKG, error) {
	r, err := pkgutil.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	header, err := parseHeader(r)
	if err != nil {
		return nil, err
	}

	if err := r.Seek(int64(header.TableOffset)); err != nil {
		return nil, fmt.Errorf("pkg: failed to seek to entry table: %w", err)
	}

	entries := make([]Entry, 0, header.EntryCount)
	for i := uint32(0); i < header.EntryCount; i++ {
		entry, err := readEntry(r)
		if err != nil {
			return nil, err
		}
		if uint64(entry.Offset)+uint64(entry.Size) > header.Size {
			return nil, fmt.Errorf("%w: entry %#x spans [%#x, %#x)", ErrContentOverflow,
				entry.ID, entry.Offset, uint64(entry.Offset)+uint64(entry.Size))
		}
		entries = append(entries, entry)
	}

	pkg := &PKG{
		Path:    path,
		Header:  header,
		Entries: entries,
	}

	for _, entry := range entries {
		if entry.Name() != "param.sfo" {
			continue
		}
		if err := r.Seek(int64(entry.Offset)); err != nil {
			break
		}
		payload, err := r.Bytes(int(entry.Size))
		if err != nil {
			return nil, fmt.Errorf("pkg: failed to read param.sfo: %w", err)
		}
		if pkg.SFO, err = ParseSFO(payload); err != nil {
			zap.S().Warnf("pkg: ignoring malformed param.sfo: %v", err)
		}
		break
	}

	return pkg, nil
}

// TitleID of the package.
func (p *PKG) TitleID() string {
	return p.Header.TitleID()
}

// Keys returns the derived key session, or nil before ExtractEntries.
func (p *PKG) Keys() *KeySession {
	return p.session
}

// Extract materializes the whole package under outDir: the sce_sys metadata
// entries first (which also derives the key chain), then the PFS image tree.
// workers bounds the parallel file phase; zero picks the default.
func (p *PKG) Extract(fsys afero.Fs, outDir string, workers int) error {
	if err := p.ExtractEntries(fsys, outDir); err != nil {
		return err
	}
	return p.ExtractPFS(fsys, outDir, workers)
}

// ExtractEntries walks the entry table once, writing every entry under
// outDir/sce_sys and driving the key-derivation chain on the special ids.
// NP license entries are decrypted in place after the raw write.
func (p *PKG) ExtractEntries(fsys afero.Fs, outDir string) error {
	r, err := pkgutil.Open(p.Path)
	if err != nil {
		return err
	}
	defer r.Close()

	session := new(KeySession)

	for _, entry := range p.Entries {
		if err := r.Seek(int64(entry.Offset)); err != nil {
			return fmt.Errorf("pkg: failed to seek to entry %#x: %w", entry.ID, err)
		}
		payload, err := r.Bytes(int(entry.Size))
		if err != nil {
			return fmt.Errorf("pkg: failed to read entry %#x: %w", entry.ID, err)
		}

		switch entry.ID {
		case EntryKeys:
			if err := session.deriveDK3(payload); err != nil {
				zap.S().Warnf("pkg: entry keys: %v", err)
			} else {
				zap.S().Debugf("pkg: derived DK3")
			}
		case EntryImageKey:
			if len(payload) < 256 {
				zap.S().Warnf("pkg: image key entry too short: %d bytes", len(payload))
				break
			}
			var imgKeyData [256]byte
			copy(imgKeyData[:], payload)
			if err := session.deriveEKPFS(entry, imgKeyData); err != nil {
				if errors.Is(err, ErrMissingKeys) {
					return err
				}
				zap.S().Warnf("pkg: image key: %v", err)
			} else {
				zap.S().Debugf("pkg: derived EKPFS")
			}
		case EntryDigests, EntryGeneralDigests:
			// payload still written below
		}

		name := entry.Name()
		if name == "" {
			name = strconv.FormatUint(uint64(entry.ID), 10)
		}

		path := filepath.Join(outDir, "sce_sys", filepath.FromSlash(name))
		if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("pkg: %w", err)
		}
		if err := afero.WriteFile(fsys, path, payload, 0o644); err != nil {
			return fmt.Errorf("pkg: failed to write %s: %w", name, err)
		}

		if entry.IsNP() {
			decrypted, err := session.decryptNP(entry, payload)
			if err != nil {
				if errors.Is(err, ErrMissingKeys) {
					return err
				}
				zap.S().Warnf("pkg: np entry %s: %v", name, err)
				continue
			}
			if err := afero.WriteFile(fsys, path, decrypted, 0o644); err != nil {
				return fmt.Errorf("pkg: failed to rewrite %s: %w", name, err)
			}
		}
	}

	p.session = session
	return nil
}
