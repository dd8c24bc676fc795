// Package shadpkg extracts and decrypts PlayStation 4 package (PKG) files.
//
// A PKG is a big-endian container shipping games, patches and add-on content.
// Its metadata entries (param.sfo, icons, licenses) sit in a flat entry table,
// while the game filesystem itself is carried as a nested PFS image: AES-XTS
// encrypted and split into 64 KiB blocks, each either zlib-deflated or, when
// deflating would not shrink it, stored raw.
// Decrypting it requires unwrapping a key chain rooted in two RSA-2048 keys
// embedded in this package.
//
// This package comes with a CLI. You can install it like this:
//
//	go install github.com/seregonwar/shadpkg/cmd/shadpkg@latest
package shadpkg
