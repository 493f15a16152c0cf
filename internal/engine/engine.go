// Package engine implements the cartridge storage state machine: manifest
// creation, idempotent chunk writes, finalize, and catalog administration.
//
// Every operation executes as a single ledger transaction against the few
// entities it names. Calls touching disjoint entities need no coordination;
// calls racing on the same entity are serialized by the ledger, and the
// loser fails its precondition check against the winner's committed state.
// The one shared hot spot is the catalog root / active page pair: every
// finalize serializes through it, which is what buys the catalog its global
// chronological order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kk-code-lab/cartlake/internal/addr"
	"github.com/kk-code-lab/cartlake/internal/cartridge"
	"github.com/kk-code-lab/cartlake/internal/catalog"
	"github.com/kk-code-lab/cartlake/internal/identity"
	"github.com/kk-code-lab/cartlake/internal/ledger"
)

// Clock supplies logical timestamps for created_at fields.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures the engine.
type Options struct {
	Store   ledger.Store
	Profile cartridge.Profile
	Clock   Clock
}

// Engine owns the operation set.
type Engine struct {
	store   ledger.Store
	profile cartridge.Profile
	clock   Clock
}

// New creates an engine instance.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: ledger store required")
	}
	if opts.Profile.MaxChunkSize == 0 || opts.Profile.EntriesPerPage <= 0 {
		return nil, errors.New("engine: profile required")
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	return &Engine{
		store:   opts.Store,
		profile: opts.Profile,
		clock:   opts.Clock,
	}, nil
}

// Profile returns the deployment profile the engine was built with.
func (e *Engine) Profile() cartridge.Profile {
	return e.profile
}

// InitializeCatalog creates the catalog root singleton with the caller as
// owner. Callable once per deployment.
func (e *Engine) InitializeCatalog(ctx context.Context, caller identity.Identity) error {
	if caller.IsZero() {
		return ErrUnauthorized
	}
	return e.store.Update(ctx, func(tx ledger.Txn) error {
		root := &catalog.Root{Owner: caller}
		err := tx.Create(addr.CatalogRoot(), ledger.KindCatalogRoot, catalog.EncodeRoot(root))
		if errors.Is(err, ledger.ErrEntityExists) {
			return ErrAlreadyInitialized
		}
		return err
	})
}

// UpdateAdmin transfers catalog ownership. Owner only; the swap is
// unconditional and has no other side effects.
func (e *Engine) UpdateAdmin(ctx context.Context, caller, next identity.Identity) error {
	if next.IsZero() {
		return ErrUnauthorized
	}
	return e.store.Update(ctx, func(tx ledger.Txn) error {
		root, err := e.loadRoot(tx)
		if err != nil {
			return err
		}
		if root.Owner != caller {
			return ErrUnauthorized
		}
		root.Owner = next
		return tx.Put(addr.CatalogRoot(), ledger.KindCatalogRoot, catalog.EncodeRoot(root))
	})
}

// CreateCatalogPage allocates the next catalog page. Owner only. Pages are
// strictly sequential: pageIndex must equal the current page count, which
// rules out gaps, reordering, and double allocation (the addressing scheme
// would collide and the ledger rejects duplicate entities anyway).
func (e *Engine) CreateCatalogPage(ctx context.Context, caller identity.Identity, pageIndex uint32) error {
	return e.store.Update(ctx, func(tx ledger.Txn) error {
		root, err := e.loadRoot(tx)
		if err != nil {
			return err
		}
		if root.Owner != caller {
			return ErrUnauthorized
		}
		if pageIndex != root.PageCount {
			return ErrInvalidPageIndex
		}
		page := catalog.NewPage(pageIndex, e.profile.EntriesPerPage)
		if err := tx.Create(addr.CatalogPage(pageIndex), ledger.KindCatalogPage, catalog.EncodePage(page)); err != nil {
			if errors.Is(err, ledger.ErrEntityExists) {
				return ErrInvalidPageIndex
			}
			return err
		}
		root.PageCount++
		root.ActivePage = pageIndex
		return tx.Put(addr.CatalogRoot(), ledger.KindCatalogRoot, catalog.EncodeRoot(root))
	})
}

// CreateManifestParams carries the caller-declared cartridge description.
// CartridgeID is expected to be the content hash of the full blob, but the
// engine does not verify that; the id is simply the uniqueness key.
type CreateManifestParams struct {
	CartridgeID [32]byte
	ZipSize     uint64
	ChunkSize   uint32
	SHA256      [32]byte
	Metadata    []byte
}

// CreateManifest reserves a cartridge id and persists its manifest. Any
// caller may publish.
func (e *Engine) CreateManifest(ctx context.Context, caller identity.Identity, params CreateManifestParams) (*cartridge.Manifest, error) {
	if caller.IsZero() {
		return nil, ErrUnauthorized
	}
	if params.ZipSize == 0 {
		return nil, ErrInvalidSize
	}
	if params.ZipSize > cartridge.MaxCartridgeSize {
		return nil, ErrCartridgeTooLarge
	}
	if params.ChunkSize == 0 || params.ChunkSize > e.profile.MaxChunkSize {
		return nil, ErrInvalidChunkSize
	}
	if len(params.Metadata) > cartridge.MaxMetadataLen {
		return nil, ErrMetadataTooLarge
	}

	man := &cartridge.Manifest{
		CartridgeID: params.CartridgeID,
		ZipSize:     params.ZipSize,
		ChunkSize:   params.ChunkSize,
		NumChunks:   cartridge.NumChunks(params.ZipSize, params.ChunkSize),
		SHA256:      params.SHA256,
		CreatedAt:   uint64(e.clock.Now().Unix()),
		Publisher:   caller,
		Metadata:    params.Metadata,
	}
	encoded, err := cartridge.EncodeManifest(man)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	err = e.store.Update(ctx, func(tx ledger.Txn) error {
		err := tx.Create(addr.Manifest(params.CartridgeID), ledger.KindManifest, encoded)
		if errors.Is(err, ledger.ErrEntityExists) {
			return ErrCartridgeExists
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return man, nil
}

// WriteChunk stores one chunk of an unsealed cartridge. Publisher only.
// Chunks are write-once and may arrive in any order; each index is an
// independently addressed entity, so different indices commute.
func (e *Engine) WriteChunk(ctx context.Context, caller identity.Identity, cartridgeID [32]byte, chunkIndex uint32, data []byte) error {
	return e.store.Update(ctx, func(tx ledger.Txn) error {
		man, err := e.loadManifest(tx, cartridgeID)
		if err != nil {
			return err
		}
		if man.Publisher != caller {
			return ErrUnauthorized
		}
		if man.Finalized {
			return ErrCartridgeFinalized
		}
		if chunkIndex >= man.NumChunks {
			return ErrInvalidChunkIndex
		}
		if uint32(len(data)) != man.ExpectedChunkLenFor(chunkIndex) {
			return ErrInvalidChunkSize
		}
		chunk := &cartridge.Chunk{
			CartridgeID: cartridgeID,
			ChunkIndex:  chunkIndex,
			DataLen:     uint32(len(data)),
			Written:     true,
			Data:        data,
		}
		encoded, err := cartridge.EncodeChunk(chunk, e.profile.MaxChunkSize)
		if err != nil {
			return fmt.Errorf("encode chunk: %w", err)
		}
		err = tx.Create(addr.Chunk(cartridgeID, chunkIndex), ledger.KindChunk, encoded)
		if errors.Is(err, ledger.ErrEntityExists) {
			return ErrChunkAlreadyWritten
		}
		return err
	})
}

// FinalizeCartridge seals the manifest and publishes it into the catalog:
// one atomic step flips Finalized, appends the discovery entry to the active
// page, and bumps the root counter. Publisher only.
//
// Finalize is a caller assertion of completeness, not a proof: it does not
// check that every chunk was written, nor that the bytes hash to the
// declared sha256. Missing chunks surface at read time instead.
func (e *Engine) FinalizeCartridge(ctx context.Context, caller identity.Identity, cartridgeID [32]byte, pageIndex uint32) error {
	return e.store.Update(ctx, func(tx ledger.Txn) error {
		man, err := e.loadManifest(tx, cartridgeID)
		if err != nil {
			return err
		}
		if man.Publisher != caller {
			return ErrUnauthorized
		}
		if man.Finalized {
			return ErrCartridgeFinalized
		}
		root, err := e.loadRoot(tx)
		if err != nil {
			return err
		}
		if root.PageCount == 0 || pageIndex != root.ActivePage {
			return ErrInvalidPageIndex
		}
		page, err := e.loadPage(tx, pageIndex)
		if err != nil {
			return err
		}
		if page.Full() {
			return ErrPageFull
		}

		man.Finalized = true
		encodedMan, err := cartridge.EncodeManifest(man)
		if err != nil {
			return fmt.Errorf("encode manifest: %w", err)
		}
		if err := tx.Put(addr.Manifest(cartridgeID), ledger.KindManifest, encodedMan); err != nil {
			return err
		}

		page.Append(catalog.Entry{
			CartridgeID:  cartridgeID,
			ManifestAddr: addr.Manifest(cartridgeID),
			ZipSize:      man.ZipSize,
			SHA256:       man.SHA256,
			CreatedAt:    man.CreatedAt,
		})
		if err := tx.Put(addr.CatalogPage(pageIndex), ledger.KindCatalogPage, catalog.EncodePage(page)); err != nil {
			return err
		}

		root.TotalFinalized++
		return tx.Put(addr.CatalogRoot(), ledger.KindCatalogRoot, catalog.EncodeRoot(root))
	})
}

func (e *Engine) loadRoot(tx ledger.Txn) (*catalog.Root, error) {
	data, err := tx.Get(addr.CatalogRoot())
	if errors.Is(err, ledger.ErrEntityNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return catalog.DecodeRoot(data)
}

func (e *Engine) loadPage(tx ledger.Txn, pageIndex uint32) (*catalog.Page, error) {
	data, err := tx.Get(addr.CatalogPage(pageIndex))
	if errors.Is(err, ledger.ErrEntityNotFound) {
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, err
	}
	return catalog.DecodePage(data)
}

func (e *Engine) loadManifest(tx ledger.Txn, cartridgeID [32]byte) (*cartridge.Manifest, error) {
	data, err := tx.Get(addr.Manifest(cartridgeID))
	if errors.Is(err, ledger.ErrEntityNotFound) {
		return nil, ErrCartridgeNotFound
	}
	if err != nil {
		return nil, err
	}
	return cartridge.DecodeManifest(data)
}
