package shadpkg

import (
	"fmt"
)

// Sizes of the fixed regions inside the entry-keys blob (id 0x10).
const (
	seedDigestSize = 32
	digest1Count   = 7
	key1Count      = 7
	key1Size       = 256
)

// KeySession holds the key material derived while walking the entry table.
// It is built once per extraction; the PFS phase adds the data/tweak pair
// and otherwise only reads it.
type KeySession struct {
	DK3      [32]byte
	IVKey    [32]byte
	ImageKey [256]byte
	EKPFS    [32]byte
	DataKey  [16]byte
	TweakKey [16]byte

	haveDK3   bool
	haveEKPFS bool
	havePFS   bool
}

// HasDK3 reports whether step 1 of the chain has run.
func (s *KeySession) HasDK3() bool {
	return s.haveDK3
}

// HasEKPFS reports whether step 2 of the chain has run.
func (s *KeySession) HasEKPFS() bool {
	return s.haveEKPFS
}

// deriveDK3 runs step 1 of the chain on the entry-keys blob: seed digest,
// seven digests, seven 256-byte wrapped keys; DK3 is the RSA decryption of
// the fourth key.
func (s *KeySession) deriveDK3(blob []byte) error {
	want := seedDigestSize + digest1Count*32 + key1Count*key1Size
	if len(blob) < want {
		return fmt.Errorf("pkg: entry-keys blob too short: %d < %d", len(blob), want)
	}

	keysBase := seedDigestSize + digest1Count*32
	key3 := blob[keysBase+3*key1Size : keysBase+4*key1Size]

	dk3, err := rsa2048Decrypt(rsaKeyDK3, key3)
	if err != nil {
		return fmt.Errorf("pkg: DK3: %w", err)
	}

	s.DK3 = dk3
	s.haveDK3 = true
	return nil
}

// entryIV derives the per-entry ivKey: SHA-256 of the 32-byte entry record
// concatenated with DK3.
func (s *KeySession) entryIV(e Entry) ([32]byte, error) {
	if !s.haveDK3 {
		return [32]byte{}, fmt.Errorf("%w: DK3 before entry %#x", ErrMissingKeys, e.ID)
	}

	var concat [64]byte
	rec := e.record()
	copy(concat[:32], rec[:])
	copy(concat[32:], s.DK3[:])
	return ivKeyHash256(concat), nil
}

// deriveEKPFS runs step 2 of the chain on the image-key entry (id 0x20):
// ivKey from the entry record, image key by CBC decryption, EKPFS by RSA
// decryption of the image key.
func (s *KeySession) deriveEKPFS(e Entry, imgKeyData [256]byte) error {
	ivKey, err := s.entryIV(e)
	if err != nil {
		return err
	}
	s.IVKey = ivKey

	imageKey, err := aesCbcCfb128Decrypt(ivKey, imgKeyData)
	if err != nil {
		return fmt.Errorf("pkg: image key: %w", err)
	}
	s.ImageKey = imageKey

	ekpfs, err := rsa2048Decrypt(rsaKeyPKG, imageKey[:])
	if err != nil {
		return fmt.Errorf("pkg: EKPFS: %w", err)
	}

	s.EKPFS = ekpfs
	s.haveEKPFS = true
	return nil
}

// decryptNP decrypts one NP license payload (ids 0x400-0x403) under its
// per-entry ivKey.
func (s *KeySession) decryptNP(e Entry, payload []byte) ([]byte, error) {
	ivKey, err := s.entryIV(e)
	if err != nil {
		return nil, err
	}
	return aesCbcCfb128DecryptEntry(ivKey, payload)
}

// derivePFSKeys runs step 3: the XTS data/tweak pair from EKPFS and the seed
// read at pfs_image_offset+0x370.
func (s *KeySession) derivePFSKeys(seed [16]byte) error {
	if !s.haveEKPFS {
		return fmt.Errorf("%w: EKPFS before PFS key generation", ErrMissingKeys)
	}

	s.DataKey, s.TweakKey = pfsGenCryptoKey(s.EKPFS, seed)
	s.havePFS = true
	return nil
}
