package engine

import (
	"context"
	"errors"

	"github.com/kk-code-lab/cartlake/internal/addr"
	"github.com/kk-code-lab/cartlake/internal/cartridge"
	"github.com/kk-code-lab/cartlake/internal/catalog"
	"github.com/kk-code-lab/cartlake/internal/ledger"
)

// CatalogRoot returns the root counters and owner.
func (e *Engine) CatalogRoot(ctx context.Context) (*catalog.Root, error) {
	var root *catalog.Root
	err := e.store.View(ctx, func(tx ledger.Txn) error {
		var err error
		root, err = e.loadRoot(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}

// CatalogPage returns one page, filled slots and all.
func (e *Engine) CatalogPage(ctx context.Context, pageIndex uint32) (*catalog.Page, error) {
	var page *catalog.Page
	err := e.store.View(ctx, func(tx ledger.Txn) error {
		var err error
		page, err = e.loadPage(tx, pageIndex)
		return err
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// ListCatalog returns the valid entries of one page, in finalize order.
func (e *Engine) ListCatalog(ctx context.Context, pageIndex uint32) ([]catalog.Entry, error) {
	page, err := e.CatalogPage(ctx, pageIndex)
	if err != nil {
		return nil, err
	}
	entries := make([]catalog.Entry, page.EntryCount)
	copy(entries, page.Entries[:page.EntryCount])
	return entries, nil
}

// Manifest returns a cartridge's manifest.
func (e *Engine) Manifest(ctx context.Context, cartridgeID [32]byte) (*cartridge.Manifest, error) {
	var man *cartridge.Manifest
	err := e.store.View(ctx, func(tx ledger.Txn) error {
		var err error
		man, err = e.loadManifest(tx, cartridgeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return man, nil
}

// Chunk returns one written chunk.
func (e *Engine) Chunk(ctx context.Context, cartridgeID [32]byte, chunkIndex uint32) (*cartridge.Chunk, error) {
	var chunk *cartridge.Chunk
	err := e.store.View(ctx, func(tx ledger.Txn) error {
		data, err := tx.Get(addr.Chunk(cartridgeID, chunkIndex))
		if errors.Is(err, ledger.ErrEntityNotFound) {
			return ErrChunkNotFound
		}
		if err != nil {
			return err
		}
		chunk, err = cartridge.DecodeChunk(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// ReadCartridge reassembles a finalized cartridge from its chunks in index
// order. Because finalize never proves completeness, a chunk the publisher
// skipped surfaces here as ErrChunkMissing.
func (e *Engine) ReadCartridge(ctx context.Context, cartridgeID [32]byte) ([]byte, error) {
	var blob []byte
	err := e.store.View(ctx, func(tx ledger.Txn) error {
		man, err := e.loadManifest(tx, cartridgeID)
		if err != nil {
			return err
		}
		if !man.Finalized {
			return ErrCartridgeNotFound
		}
		blob = make([]byte, 0, man.ZipSize)
		for i := uint32(0); i < man.NumChunks; i++ {
			data, err := tx.Get(addr.Chunk(cartridgeID, i))
			if errors.Is(err, ledger.ErrEntityNotFound) {
				return ErrChunkMissing
			}
			if err != nil {
				return err
			}
			chunk, err := cartridge.DecodeChunk(data)
			if err != nil {
				return err
			}
			if !chunk.Written || chunk.DataLen != man.ExpectedChunkLenFor(i) {
				return ErrChunkMissing
			}
			blob = append(blob, chunk.Data...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blob, nil
}
