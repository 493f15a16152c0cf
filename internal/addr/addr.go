// Package addr derives entity addresses from stable key fields.
//
// An address is a pure function of a namespace tag plus the entity's key
// fields, so any client can locate the catalog root, a page, a manifest, or
// a chunk without a directory lookup. The same keys always produce the same
// address; the ledger's duplicate-entity rejection therefore doubles as the
// uniqueness check for cartridge ids and page indices.
package addr

import (
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/zeebo/blake3"
)

// Address locates one entity in the ledger.
type Address [32]byte

// Namespace tags. Changing any of these is a breaking layout change.
const (
	domainPrefix = "cartlake/v1"

	tagCatalogRoot = "catalog_root"
	tagCatalogPage = "catalog_page"
	tagManifest    = "manifest"
	tagChunk       = "chunk"
)

var errBadAddress = errors.New("addr: expected 64 hex characters")

// CatalogRoot returns the address of the catalog root singleton.
func CatalogRoot() Address {
	return derive(tagCatalogRoot, nil)
}

// CatalogPage returns the address of the page with the given index.
func CatalogPage(pageIndex uint32) Address {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], pageIndex)
	return derive(tagCatalogPage, key[:])
}

// Manifest returns the address of a cartridge manifest.
func Manifest(cartridgeID [32]byte) Address {
	return derive(tagManifest, cartridgeID[:])
}

// Chunk returns the address of one chunk of a cartridge.
func Chunk(cartridgeID [32]byte, chunkIndex uint32) Address {
	key := make([]byte, 0, 36)
	key = append(key, cartridgeID[:]...)
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], chunkIndex)
	key = append(key, idx[:]...)
	return derive(tagChunk, key)
}

func derive(tag string, key []byte) Address {
	h := blake3.New()
	_, _ = h.Write([]byte(domainPrefix))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(tag))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(key)
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// Parse decodes a 64-character hex string into an Address.
func Parse(s string) (Address, error) {
	var a Address
	if len(s) != hex.EncodedLen(len(a)) {
		return Address{}, errBadAddress
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return Address{}, errBadAddress
	}
	return a, nil
}

// String returns the hex form.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}
