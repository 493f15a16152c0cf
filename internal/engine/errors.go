package engine

import "errors"

// The full rejection taxonomy. Every operation fails synchronously with one
// of these; no partial state is ever left behind, so callers retry only
// after correcting the input or re-reading current state.
var (
	// Authorization.
	ErrUnauthorized = errors.New("engine: caller is not the required identity")

	// Bounds and validation.
	ErrInvalidSize       = errors.New("engine: zip size must be positive")
	ErrCartridgeTooLarge = errors.New("engine: zip size exceeds cartridge limit")
	ErrInvalidChunkSize  = errors.New("engine: chunk size out of bounds")
	ErrInvalidChunkIndex = errors.New("engine: chunk index out of range")
	ErrMetadataTooLarge  = errors.New("engine: metadata exceeds limit")

	// State conflicts.
	ErrAlreadyInitialized  = errors.New("engine: catalog already initialized")
	ErrCartridgeExists     = errors.New("engine: cartridge id already reserved")
	ErrChunkAlreadyWritten = errors.New("engine: chunk already written")
	ErrCartridgeFinalized  = errors.New("engine: cartridge already finalized")
	ErrPageFull            = errors.New("engine: catalog page is full")

	// Sequencing.
	ErrInvalidPageIndex = errors.New("engine: page index does not match catalog state")

	// Lookups.
	ErrNotInitialized    = errors.New("engine: catalog not initialized")
	ErrCartridgeNotFound = errors.New("engine: cartridge not found")
	ErrPageNotFound      = errors.New("engine: catalog page not found")
	ErrChunkNotFound     = errors.New("engine: chunk not found")
	ErrChunkMissing      = errors.New("engine: finalized cartridge is missing a chunk")

	// ErrHashMismatch is reserved. Finalize deliberately does not verify the
	// written bytes against the declared sha256; nothing returns this yet.
	ErrHashMismatch = errors.New("engine: content hash mismatch")
)
