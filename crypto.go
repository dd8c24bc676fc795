package shadpkg

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/connesc/cipherio"
	"golang.org/x/crypto/xts"
)

// The crypto kernel: pure helpers composing the primitives the key chain and
// the PFS image need. Keys are always passed in; nothing here keeps state.

// rsaKeySelector picks one of the two embedded RSA-2048 private keys.
type rsaKeySelector int

const (
	rsaKeyDK3 rsaKeySelector = iota // unwraps DK3 from the entry-keys blob
	rsaKeyPKG                       // unwraps EKPFS from the image key
)

// rsa2048Decrypt strips PKCS#1 v1.5 padding from the 256-byte blob and
// returns the first 32 bytes of the recovered plaintext.
func rsa2048Decrypt(selector rsaKeySelector, ciphertext []byte) ([32]byte, error) {
	var out [32]byte

	key := pkgDerivedKey3Keyset
	if selector == rsaKeyPKG {
		key = fakeKeyset
	}

	plain, err := rsa.DecryptPKCS1v15(rand.Reader, key, ciphertext)
	if err != nil {
		return out, fmt.Errorf("crypto: rsa2048 decrypt: %w", err)
	}
	if len(plain) < len(out) {
		return out, fmt.Errorf("crypto: rsa2048 plaintext too short: %d bytes", len(plain))
	}

	copy(out[:], plain)
	return out, nil
}

// ivKeyHash256 derives the 32-byte per-entry ivKey: SHA-256 over the 32-byte
// entry record concatenated with DK3.
func ivKeyHash256(concat [64]byte) [32]byte {
	return sha256.Sum256(concat[:])
}

// cbcCipher builds the AES-CBC decrypter used for the image key and the NP
// entries. The 32-byte ivKey splits into AES key (first half) and IV (second
// half).
func cbcCipher(ivKey [32]byte) (cipher.BlockMode, error) {
	block, err := aes.NewCipher(ivKey[:16])
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return cipher.NewCBCDecrypter(block, ivKey[16:]), nil
}

// aesCbcCfb128Decrypt recovers the 256-byte image key under ivKey.
func aesCbcCfb128Decrypt(ivKey [32]byte, ciphertext [256]byte) ([256]byte, error) {
	var out [256]byte

	mode, err := cbcCipher(ivKey)
	if err != nil {
		return out, err
	}
	mode.CryptBlocks(out[:], ciphertext[:])

	return out, nil
}

// aesCbcCfb128DecryptEntry decrypts an arbitrary-length NP entry payload
// under ivKey. A trailing partial cipher block, which some packages carry, is
// copied through unchanged.
func aesCbcCfb128DecryptEntry(ivKey [32]byte, payload []byte) ([]byte, error) {
	mode, err := cbcCipher(ivKey)
	if err != nil {
		return nil, err
	}

	aligned := len(payload) &^ (aes.BlockSize - 1)
	out := make([]byte, len(payload))

	blockReader := cipherio.NewBlockReader(bytes.NewReader(payload[:aligned]), mode)
	if _, err := io.ReadFull(blockReader, out[:aligned]); err != nil {
		return nil, fmt.Errorf("crypto: entry decrypt: %w", err)
	}
	copy(out[aligned:], payload[aligned:])

	return out, nil
}

// pfsGenCryptoKey derives the XTS key pair for the PFS image:
// HMAC-SHA256(EKPFS, index=1 LE ‖ seed), tweak key first half, data key second.
func pfsGenCryptoKey(ekpfs [32]byte, seed [16]byte) (dataKey, tweakKey [16]byte) {
	mac := hmac.New(sha256.New, ekpfs[:])

	var index [4]byte
	binary.LittleEndian.PutUint32(index[:], 1)
	mac.Write(index[:])
	mac.Write(seed[:])

	digest := mac.Sum(nil)
	copy(tweakKey[:], digest[:16])
	copy(dataKey[:], digest[16:])
	return
}

// pfsSectorSize is the AES-XTS sector length of the PFS image.
const pfsSectorSize = 0x1000

// newPFSCipher builds the XTS cipher over the derived data and tweak keys.
func newPFSCipher(dataKey, tweakKey [16]byte) (*xts.Cipher, error) {
	key := make([]byte, 0, 32)
	key = append(key, dataKey[:]...)
	key = append(key, tweakKey[:]...)

	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("crypto: xts: %w", err)
	}
	return c, nil
}

// pfsXtsDecrypt decrypts src into dst sector by sector. startSector is the
// XTS sector index of src[0] within the PFS image. A trailing fragment
// shorter than one sector is copied through untouched.
func pfsXtsDecrypt(c *xts.Cipher, dst, src []byte, startSector uint64) {
	sector := startSector
	for len(src) >= pfsSectorSize {
		c.Decrypt(dst[:pfsSectorSize], src[:pfsSectorSize], sector)
		dst = dst[pfsSectorSize:]
		src = src[pfsSectorSize:]
		sector++
	}
	copy(dst, src)
}

// pfsXtsEncrypt is the inverse of pfsXtsDecrypt. The extractor never needs
// it; tests use it to build round-trip fixtures.
func pfsXtsEncrypt(c *xts.Cipher, dst, src []byte, startSector uint64) {
	sector := startSector
	for len(src) >= pfsSectorSize {
		c.Encrypt(dst[:pfsSectorSize], src[:pfsSectorSize], sector)
		dst = dst[pfsSectorSize:]
		src = src[pfsSectorSize:]
		sector++
	}
	copy(dst, src)
}
