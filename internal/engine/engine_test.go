package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kk-code-lab/cartlake/internal/cartridge"
	"github.com/kk-code-lab/cartlake/internal/identity"
	"github.com/kk-code-lab/cartlake/internal/ledger/badgerstore"
	"github.com/kk-code-lab/cartlake/internal/ledger/sqlitestore"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testIdentity(b byte) identity.Identity {
	var id identity.Identity
	for i := range id {
		id[i] = b
	}
	return id
}

func testCartridgeID(b byte) [32]byte {
	var id [32]byte
	id[0] = b
	id[31] = b ^ 0xff
	return id
}

var (
	admin     = testIdentity(0xad)
	publisher = testIdentity(0x01)
	stranger  = testIdentity(0x02)
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := badgerstore.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	eng, err := New(Options{
		Store:   store,
		Profile: cartridge.ProfileMicro,
		Clock:   fixedClock{t: time.Unix(1700000000, 0)},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

// setupCatalog initializes the root and creates page 0.
func setupCatalog(t *testing.T, eng *Engine) {
	t.Helper()
	ctx := context.Background()
	if err := eng.InitializeCatalog(ctx, admin); err != nil {
		t.Fatalf("InitializeCatalog: %v", err)
	}
	if err := eng.CreateCatalogPage(ctx, admin, 0); err != nil {
		t.Fatalf("CreateCatalogPage: %v", err)
	}
}

func createManifest(t *testing.T, eng *Engine, id [32]byte, zipSize uint64, chunkSize uint32) *cartridge.Manifest {
	t.Helper()
	man, err := eng.CreateManifest(context.Background(), publisher, CreateManifestParams{
		CartridgeID: id,
		ZipSize:     zipSize,
		ChunkSize:   chunkSize,
		SHA256:      testCartridgeID(0xaa),
	})
	if err != nil {
		t.Fatalf("CreateManifest: %v", err)
	}
	return man
}

func writeAllChunks(t *testing.T, eng *Engine, man *cartridge.Manifest, blob []byte) {
	t.Helper()
	ctx := context.Background()
	for i := uint32(0); i < man.NumChunks; i++ {
		start := uint64(i) * uint64(man.ChunkSize)
		end := start + uint64(man.ExpectedChunkLenFor(i))
		if err := eng.WriteChunk(ctx, publisher, man.CartridgeID, i, blob[start:end]); err != nil {
			t.Fatalf("WriteChunk %d: %v", i, err)
		}
	}
}

func TestInitializeCatalogOnce(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	if err := eng.InitializeCatalog(ctx, admin); err != nil {
		t.Fatalf("InitializeCatalog: %v", err)
	}
	err := eng.InitializeCatalog(ctx, stranger)
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	root, err := eng.CatalogRoot(ctx)
	if err != nil {
		t.Fatalf("CatalogRoot: %v", err)
	}
	if root.Owner != admin {
		t.Fatalf("owner mismatch")
	}
	if root.TotalFinalized != 0 || root.PageCount != 0 {
		t.Fatalf("counters not zero: %+v", root)
	}
}

func TestUpdateAdmin(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	if err := eng.InitializeCatalog(ctx, admin); err != nil {
		t.Fatalf("InitializeCatalog: %v", err)
	}
	if err := eng.UpdateAdmin(ctx, stranger, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := eng.UpdateAdmin(ctx, admin, stranger); err != nil {
		t.Fatalf("UpdateAdmin: %v", err)
	}
	// Old admin lost its rights with the swap.
	if err := eng.CreateCatalogPage(ctx, admin, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for old admin, got %v", err)
	}
	if err := eng.CreateCatalogPage(ctx, stranger, 0); err != nil {
		t.Fatalf("CreateCatalogPage as new admin: %v", err)
	}
}

func TestCreatePageSequencing(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	if err := eng.InitializeCatalog(ctx, admin); err != nil {
		t.Fatalf("InitializeCatalog: %v", err)
	}
	if err := eng.CreateCatalogPage(ctx, admin, 1); !errors.Is(err, ErrInvalidPageIndex) {
		t.Fatalf("expected ErrInvalidPageIndex for gap, got %v", err)
	}
	if err := eng.CreateCatalogPage(ctx, admin, 0); err != nil {
		t.Fatalf("CreateCatalogPage 0: %v", err)
	}
	if err := eng.CreateCatalogPage(ctx, admin, 0); !errors.Is(err, ErrInvalidPageIndex) {
		t.Fatalf("expected ErrInvalidPageIndex for repeat, got %v", err)
	}
	if err := eng.CreateCatalogPage(ctx, admin, 1); err != nil {
		t.Fatalf("CreateCatalogPage 1: %v", err)
	}
	root, err := eng.CatalogRoot(ctx)
	if err != nil {
		t.Fatalf("CatalogRoot: %v", err)
	}
	if root.PageCount != 2 || root.ActivePage != 1 {
		t.Fatalf("root state: %+v", root)
	}
	if err := eng.CreateCatalogPage(ctx, publisher, 2); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin, got %v", err)
	}
}

func TestCreateManifestValidation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	cases := []struct {
		name   string
		params CreateManifestParams
		want   error
	}{
		{"zero size", CreateManifestParams{CartridgeID: testCartridgeID(1), ZipSize: 0, ChunkSize: 800}, ErrInvalidSize},
		{"too large", CreateManifestParams{CartridgeID: testCartridgeID(2), ZipSize: cartridge.MaxCartridgeSize + 1, ChunkSize: 800}, ErrCartridgeTooLarge},
		{"zero chunk", CreateManifestParams{CartridgeID: testCartridgeID(3), ZipSize: 100, ChunkSize: 0}, ErrInvalidChunkSize},
		{"chunk above profile", CreateManifestParams{CartridgeID: testCartridgeID(4), ZipSize: 100, ChunkSize: cartridge.ProfileMicro.MaxChunkSize + 1}, ErrInvalidChunkSize},
		{"metadata too large", CreateManifestParams{CartridgeID: testCartridgeID(5), ZipSize: 100, ChunkSize: 100, Metadata: make([]byte, cartridge.MaxMetadataLen+1)}, ErrMetadataTooLarge},
	}
	for _, tc := range cases {
		if _, err := eng.CreateManifest(ctx, publisher, tc.params); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestCreateManifestDuplicateID(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	id := testCartridgeID(7)
	createManifest(t, eng, id, 2050, 800)
	_, err := eng.CreateManifest(ctx, stranger, CreateManifestParams{
		CartridgeID: id,
		ZipSize:     2050,
		ChunkSize:   800,
	})
	if !errors.Is(err, ErrCartridgeExists) {
		t.Fatalf("expected ErrCartridgeExists, got %v", err)
	}
}

func TestManifestChunkCount(t *testing.T) {
	eng := newTestEngine(t)
	man := createManifest(t, eng, testCartridgeID(8), 2050, 800)
	if man.NumChunks != 3 {
		t.Fatalf("num chunks: %d", man.NumChunks)
	}
	want := []uint32{800, 800, 450}
	for i, w := range want {
		if got := man.ExpectedChunkLenFor(uint32(i)); got != w {
			t.Fatalf("chunk %d expected len %d, got %d", i, w, got)
		}
	}
}

func TestWriteChunkRules(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	id := testCartridgeID(9)
	man := createManifest(t, eng, id, 2050, 800)

	// Out-of-range index.
	if err := eng.WriteChunk(ctx, publisher, id, man.NumChunks, make([]byte, 800)); !errors.Is(err, ErrInvalidChunkIndex) {
		t.Fatalf("expected ErrInvalidChunkIndex, got %v", err)
	}
	// Wrong length for a middle chunk.
	if err := eng.WriteChunk(ctx, publisher, id, 0, make([]byte, 799)); !errors.Is(err, ErrInvalidChunkSize) {
		t.Fatalf("expected ErrInvalidChunkSize, got %v", err)
	}
	// Wrong length for the last chunk.
	if err := eng.WriteChunk(ctx, publisher, id, 2, make([]byte, 800)); !errors.Is(err, ErrInvalidChunkSize) {
		t.Fatalf("expected ErrInvalidChunkSize for last chunk, got %v", err)
	}
	// Non-publisher.
	if err := eng.WriteChunk(ctx, stranger, id, 0, make([]byte, 800)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	// Out-of-order writes are fine.
	if err := eng.WriteChunk(ctx, publisher, id, 2, make([]byte, 450)); err != nil {
		t.Fatalf("WriteChunk 2: %v", err)
	}
	if err := eng.WriteChunk(ctx, publisher, id, 0, make([]byte, 800)); err != nil {
		t.Fatalf("WriteChunk 0: %v", err)
	}
	// Double write of the same index.
	if err := eng.WriteChunk(ctx, publisher, id, 0, make([]byte, 800)); !errors.Is(err, ErrChunkAlreadyWritten) {
		t.Fatalf("expected ErrChunkAlreadyWritten, got %v", err)
	}
	// Unknown cartridge.
	if err := eng.WriteChunk(ctx, publisher, testCartridgeID(0x77), 0, make([]byte, 800)); !errors.Is(err, ErrCartridgeNotFound) {
		t.Fatalf("expected ErrCartridgeNotFound, got %v", err)
	}
}

func TestFinalizeFlow(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	setupCatalog(t, eng)
	id := testCartridgeID(10)
	man := createManifest(t, eng, id, 1600, 800)
	if man.NumChunks != 2 {
		t.Fatalf("num chunks: %d", man.NumChunks)
	}
	// Exactly divisible total: final chunk is full-size.
	if got := man.ExpectedChunkLenFor(1); got != 800 {
		t.Fatalf("final chunk len: %d", got)
	}

	blob := bytes.Repeat([]byte{0xc4}, 1600)
	writeAllChunks(t, eng, man, blob)

	// Wrong caller and wrong page first.
	if err := eng.FinalizeCartridge(ctx, stranger, id, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := eng.FinalizeCartridge(ctx, publisher, id, 1); !errors.Is(err, ErrInvalidPageIndex) {
		t.Fatalf("expected ErrInvalidPageIndex, got %v", err)
	}

	if err := eng.FinalizeCartridge(ctx, publisher, id, 0); err != nil {
		t.Fatalf("FinalizeCartridge: %v", err)
	}

	// Terminal state: no second finalize, no more chunk writes.
	if err := eng.FinalizeCartridge(ctx, publisher, id, 0); !errors.Is(err, ErrCartridgeFinalized) {
		t.Fatalf("expected ErrCartridgeFinalized, got %v", err)
	}
	if err := eng.WriteChunk(ctx, publisher, id, 0, make([]byte, 800)); !errors.Is(err, ErrCartridgeFinalized) {
		t.Fatalf("expected ErrCartridgeFinalized on write, got %v", err)
	}

	root, err := eng.CatalogRoot(ctx)
	if err != nil {
		t.Fatalf("CatalogRoot: %v", err)
	}
	if root.TotalFinalized != 1 {
		t.Fatalf("total finalized: %d", root.TotalFinalized)
	}
	entries, err := eng.ListCatalog(ctx, 0)
	if err != nil {
		t.Fatalf("ListCatalog: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entry count: %d", len(entries))
	}
	if entries[0].CartridgeID != id || entries[0].ZipSize != 1600 {
		t.Fatalf("entry mismatch: %+v", entries[0])
	}

	got, err := eng.ReadCartridge(ctx, id)
	if err != nil {
		t.Fatalf("ReadCartridge: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("reassembled blob differs")
	}
}

func TestFinalizeWithoutChunks(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	setupCatalog(t, eng)
	id := testCartridgeID(11)
	createManifest(t, eng, id, 2050, 800)

	// Finalize never proves completeness; it succeeds with zero chunks
	// written and the gap surfaces at read time.
	if err := eng.FinalizeCartridge(ctx, publisher, id, 0); err != nil {
		t.Fatalf("FinalizeCartridge: %v", err)
	}
	if _, err := eng.ReadCartridge(ctx, id); !errors.Is(err, ErrChunkMissing) {
		t.Fatalf("expected ErrChunkMissing, got %v", err)
	}
}

func TestPageFullAndRollover(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	setupCatalog(t, eng)

	perPage := cartridge.ProfileMicro.EntriesPerPage
	for i := 0; i < perPage; i++ {
		id := testCartridgeID(byte(0x20 + i))
		man := createManifest(t, eng, id, 100, 100)
		writeAllChunks(t, eng, man, make([]byte, 100))
		if err := eng.FinalizeCartridge(ctx, publisher, id, 0); err != nil {
			t.Fatalf("finalize %d: %v", i, err)
		}
	}

	extra := testCartridgeID(0xf0)
	man := createManifest(t, eng, extra, 100, 100)
	writeAllChunks(t, eng, man, make([]byte, 100))
	if err := eng.FinalizeCartridge(ctx, publisher, extra, 0); !errors.Is(err, ErrPageFull) {
		t.Fatalf("expected ErrPageFull, got %v", err)
	}

	// Admin opens the next page; finalize retargets and succeeds.
	if err := eng.CreateCatalogPage(ctx, admin, 1); err != nil {
		t.Fatalf("CreateCatalogPage 1: %v", err)
	}
	if err := eng.FinalizeCartridge(ctx, publisher, extra, 0); !errors.Is(err, ErrInvalidPageIndex) {
		t.Fatalf("expected ErrInvalidPageIndex for stale page, got %v", err)
	}
	if err := eng.FinalizeCartridge(ctx, publisher, extra, 1); err != nil {
		t.Fatalf("finalize on new page: %v", err)
	}

	root, err := eng.CatalogRoot(ctx)
	if err != nil {
		t.Fatalf("CatalogRoot: %v", err)
	}
	if root.TotalFinalized != uint64(perPage)+1 {
		t.Fatalf("total finalized: %d", root.TotalFinalized)
	}
	entries, err := eng.ListCatalog(ctx, 1)
	if err != nil {
		t.Fatalf("ListCatalog 1: %v", err)
	}
	if len(entries) != 1 || entries[0].CartridgeID != extra {
		t.Fatalf("page 1 entries: %+v", entries)
	}
}

func TestFinalizeBeforeAnyPage(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	if err := eng.InitializeCatalog(ctx, admin); err != nil {
		t.Fatalf("InitializeCatalog: %v", err)
	}
	id := testCartridgeID(12)
	createManifest(t, eng, id, 100, 100)
	if err := eng.FinalizeCartridge(ctx, publisher, id, 0); !errors.Is(err, ErrInvalidPageIndex) {
		t.Fatalf("expected ErrInvalidPageIndex, got %v", err)
	}
}

// The same flow against the SQLite backend, to keep the two ledger
// implementations honest against each other.
func TestSQLiteBackendFlow(t *testing.T) {
	store, err := sqlitestore.Open(t.TempDir() + "/ledger.db")
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	defer store.Close()
	eng, err := New(Options{Store: store, Profile: cartridge.ProfileMicro})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	setupCatalog(t, eng)
	id := testCartridgeID(13)
	man := createManifest(t, eng, id, 2050, 800)
	blob := bytes.Repeat([]byte{0x5a}, 2050)
	writeAllChunks(t, eng, man, blob)
	if err := eng.WriteChunk(ctx, publisher, id, 1, blob[800:1600]); !errors.Is(err, ErrChunkAlreadyWritten) {
		t.Fatalf("expected ErrChunkAlreadyWritten, got %v", err)
	}
	if err := eng.FinalizeCartridge(ctx, publisher, id, 0); err != nil {
		t.Fatalf("FinalizeCartridge: %v", err)
	}
	got, err := eng.ReadCartridge(ctx, id)
	if err != nil {
		t.Fatalf("ReadCartridge: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("reassembled blob differs")
	}
}
