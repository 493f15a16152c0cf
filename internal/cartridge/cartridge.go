// Package cartridge holds the per-blob records: the manifest, which carries a
// cartridge's declared size and hash and its finalize state, and the chunks,
// which each hold one fixed-position slice of the blob's bytes.
package cartridge

import "github.com/kk-code-lab/cartlake/internal/identity"

const (
	// MaxCartridgeSize caps the declared blob size (6 MiB).
	MaxCartridgeSize = 6 * 1024 * 1024
	// MaxMetadataLen caps the opaque metadata attached to a manifest.
	MaxMetadataLen = 256
)

// Manifest is the unit of cartridge identity. Everything except Finalized is
// immutable after creation; Finalized flips false→true exactly once.
type Manifest struct {
	CartridgeID [32]byte
	ZipSize     uint64
	ChunkSize   uint32
	NumChunks   uint32
	SHA256      [32]byte
	Finalized   bool
	CreatedAt   uint64
	Publisher   identity.Identity
	Metadata    []byte
}

// Chunk is the unit of partial upload. A chunk entity is created and written
// by a single call and never mutated afterwards.
type Chunk struct {
	CartridgeID [32]byte
	ChunkIndex  uint32
	DataLen     uint32
	Written     bool
	Data        []byte
}
