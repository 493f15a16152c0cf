// Package gateway exposes the engine over HTTP/JSON. The hosting runtime in
// front of this service is responsible for verifying that a caller controls
// the identity it claims; the gateway reads it from a header and passes it
// through.
package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kk-code-lab/cartlake/internal/engine"
	"github.com/kk-code-lab/cartlake/internal/identity"
)

// IdentityHeader names the caller identity header (64 hex characters).
const IdentityHeader = "X-Cartlake-Identity"

// Handler routes the cartridge storage API.
type Handler struct {
	Engine  *engine.Engine
	Limiter *RateLimiter
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Engine == nil {
		writeError(w, http.StatusInternalServerError, "InternalError", "engine not initialized")
		return
	}
	if !h.Limiter.Allow(r.RemoteAddr) {
		writeError(w, http.StatusTooManyRequests, "RateLimited", "too many requests")
		return
	}

	if r.URL.Path == "/healthz" {
		h.handleHealth(w, r)
		return
	}

	segs := splitPath(r.URL.Path)
	if len(segs) < 2 || segs[0] != "v1" {
		writeError(w, http.StatusNotFound, "NotFound", "unknown endpoint")
		return
	}
	switch segs[1] {
	case "catalog":
		h.routeCatalog(w, r, segs[2:])
	case "cartridges":
		h.routeCartridges(w, r, segs[2:])
	default:
		writeError(w, http.StatusNotFound, "NotFound", "unknown endpoint")
	}
}

func (h *Handler) routeCatalog(w http.ResponseWriter, r *http.Request, segs []string) {
	switch {
	case len(segs) == 0:
		switch r.Method {
		case http.MethodGet:
			h.handleGetCatalog(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
		}
	case len(segs) == 1 && segs[0] == "init" && r.Method == http.MethodPost:
		h.handleInitCatalog(w, r)
	case len(segs) == 1 && segs[0] == "admin" && r.Method == http.MethodPost:
		h.handleUpdateAdmin(w, r)
	case len(segs) == 1 && segs[0] == "pages" && r.Method == http.MethodPost:
		h.handleCreatePage(w, r)
	case len(segs) == 2 && segs[0] == "pages" && r.Method == http.MethodGet:
		h.handleGetPage(w, r, segs[1])
	default:
		writeError(w, http.StatusNotFound, "NotFound", "unknown endpoint")
	}
}

func (h *Handler) routeCartridges(w http.ResponseWriter, r *http.Request, segs []string) {
	switch {
	case len(segs) == 0 && r.Method == http.MethodPost:
		h.handleCreateManifest(w, r)
	case len(segs) == 1 && r.Method == http.MethodGet:
		h.handleGetManifest(w, r, segs[0])
	case len(segs) == 2 && segs[1] == "data" && r.Method == http.MethodGet:
		h.handleGetData(w, r, segs[0])
	case len(segs) == 2 && segs[1] == "finalize" && r.Method == http.MethodPost:
		h.handleFinalize(w, r, segs[0])
	case len(segs) == 3 && segs[1] == "chunks" && r.Method == http.MethodPut:
		h.handleWriteChunk(w, r, segs[0], segs[2])
	case len(segs) == 3 && segs[1] == "chunks" && r.Method == http.MethodGet:
		h.handleGetChunk(w, r, segs[0], segs[2])
	default:
		writeError(w, http.StatusNotFound, "NotFound", "unknown endpoint")
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleInitCatalog(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	if err := h.Engine.InitializeCatalog(r.Context(), caller); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"owner": caller.String()})
}

func (h *Handler) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	root, err := h.Engine.CatalogRoot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rootResponse{
		Owner:          root.Owner.String(),
		TotalFinalized: root.TotalFinalized,
		PageCount:      root.PageCount,
		ActivePage:     root.ActivePage,
	})
}

func (h *Handler) handleUpdateAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	var req struct {
		NewOwner string `json:"new_owner"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	next, err := identity.Parse(req.NewOwner)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "InvalidIdentity", "new_owner must be 64 hex characters")
		return
	}
	if err := h.Engine.UpdateAdmin(r.Context(), caller, next); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": next.String()})
}

func (h *Handler) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	var req struct {
		PageIndex uint32 `json:"page_index"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Engine.CreateCatalogPage(r.Context(), caller, req.PageIndex); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint32{"page_index": req.PageIndex})
}

func (h *Handler) handleGetPage(w http.ResponseWriter, r *http.Request, rawIndex string) {
	pageIndex, ok := parsePageIndex(w, rawIndex)
	if !ok {
		return
	}
	entries, err := h.Engine.ListCatalog(r.Context(), pageIndex)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := pageResponse{PageIndex: pageIndex, Entries: make([]entryResponse, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, entryResponse{
			CartridgeID:  hex.EncodeToString(e.CartridgeID[:]),
			ManifestAddr: hex.EncodeToString(e.ManifestAddr[:]),
			ZipSize:      e.ZipSize,
			SHA256:       hex.EncodeToString(e.SHA256[:]),
			CreatedAt:    e.CreatedAt,
			Flags:        e.Flags,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreateManifest(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	var req struct {
		CartridgeID string `json:"cartridge_id"`
		ZipSize     uint64 `json:"zip_size"`
		ChunkSize   uint32 `json:"chunk_size"`
		SHA256      string `json:"sha256"`
		Metadata    []byte `json:"metadata,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := parseHash(req.CartridgeID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "InvalidCartridgeID", "cartridge_id must be 64 hex characters")
		return
	}
	sha, err := parseHash(req.SHA256)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "InvalidSHA256", "sha256 must be 64 hex characters")
		return
	}
	man, err := h.Engine.CreateManifest(r.Context(), caller, engine.CreateManifestParams{
		CartridgeID: id,
		ZipSize:     req.ZipSize,
		ChunkSize:   req.ChunkSize,
		SHA256:      sha,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, manifestResponse{
		CartridgeID: hex.EncodeToString(man.CartridgeID[:]),
		ZipSize:     man.ZipSize,
		ChunkSize:   man.ChunkSize,
		NumChunks:   man.NumChunks,
		SHA256:      hex.EncodeToString(man.SHA256[:]),
		Finalized:   man.Finalized,
		CreatedAt:   man.CreatedAt,
		Publisher:   man.Publisher.String(),
		Metadata:    man.Metadata,
	})
}

func (h *Handler) handleGetManifest(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := parseHash(rawID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "InvalidCartridgeID", "cartridge id must be 64 hex characters")
		return
	}
	man, err := h.Engine.Manifest(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manifestResponse{
		CartridgeID: hex.EncodeToString(man.CartridgeID[:]),
		ZipSize:     man.ZipSize,
		ChunkSize:   man.ChunkSize,
		NumChunks:   man.NumChunks,
		SHA256:      hex.EncodeToString(man.SHA256[:]),
		Finalized:   man.Finalized,
		CreatedAt:   man.CreatedAt,
		Publisher:   man.Publisher.String(),
		Metadata:    man.Metadata,
	})
}

func (h *Handler) handleWriteChunk(w http.ResponseWriter, r *http.Request, rawID, rawIndex string) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	id, err := parseHash(rawID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "InvalidCartridgeID", "cartridge id must be 64 hex characters")
		return
	}
	index, ok := parseChunkIndex(w, rawIndex)
	if !ok {
		return
	}
	limit := int64(h.Engine.Profile().MaxChunkSize) + 1
	data, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "failed to read chunk body")
		return
	}
	if err := h.Engine.WriteChunk(r.Context(), caller, id, index, data); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"chunk_index": index, "data_len": len(data)})
}

func (h *Handler) handleGetChunk(w http.ResponseWriter, r *http.Request, rawID, rawIndex string) {
	id, err := parseHash(rawID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "InvalidCartridgeID", "cartridge id must be 64 hex characters")
		return
	}
	index, ok := parseChunkIndex(w, rawIndex)
	if !ok {
		return
	}
	chunk, err := h.Engine.Chunk(r.Context(), id, index)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(chunk.Data)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request, rawID string) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	id, err := parseHash(rawID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "InvalidCartridgeID", "cartridge id must be 64 hex characters")
		return
	}
	var req struct {
		PageIndex uint32 `json:"page_index"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Engine.FinalizeCartridge(r.Context(), caller, id, req.PageIndex); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cartridge_id": rawID, "page_index": req.PageIndex})
}

func (h *Handler) handleGetData(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := parseHash(rawID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "InvalidCartridgeID", "cartridge id must be 64 hex characters")
		return
	}
	blob, err := h.Engine.ReadCartridge(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

type rootResponse struct {
	Owner          string `json:"owner"`
	TotalFinalized uint64 `json:"total_finalized"`
	PageCount      uint32 `json:"page_count"`
	ActivePage     uint32 `json:"active_page"`
}

type manifestResponse struct {
	CartridgeID string `json:"cartridge_id"`
	ZipSize     uint64 `json:"zip_size"`
	ChunkSize   uint32 `json:"chunk_size"`
	NumChunks   uint32 `json:"num_chunks"`
	SHA256      string `json:"sha256"`
	Finalized   bool   `json:"finalized"`
	CreatedAt   uint64 `json:"created_at"`
	Publisher   string `json:"publisher"`
	Metadata    []byte `json:"metadata,omitempty"`
}

type pageResponse struct {
	PageIndex uint32          `json:"page_index"`
	Entries   []entryResponse `json:"entries"`
}

type entryResponse struct {
	CartridgeID  string `json:"cartridge_id"`
	ManifestAddr string `json:"manifest_addr"`
	ZipSize      uint64 `json:"zip_size"`
	SHA256       string `json:"sha256"`
	CreatedAt    uint64 `json:"created_at"`
	Flags        uint8  `json:"flags"`
}

func callerIdentity(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	id, err := identity.Parse(strings.TrimSpace(r.Header.Get(IdentityHeader)))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "missing or malformed "+IdentityHeader+" header")
		return identity.Zero, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid json body")
		return false
	}
	return true
}

func parseHash(s string) ([32]byte, error) {
	var h [32]byte
	if len(s) != hex.EncodedLen(len(h)) {
		return h, errors.New("gateway: expected 64 hex characters")
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, err
	}
	return h, nil
}

func parsePageIndex(w http.ResponseWriter, raw string) (uint32, bool) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "InvalidPageIndex", "page index must be an unsigned integer")
		return 0, false
	}
	return uint32(v), true
}

func parseChunkIndex(w http.ResponseWriter, raw string) (uint32, bool) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "InvalidChunkIndex", "chunk index must be an unsigned integer")
		return 0, false
	}
	return uint32(v), true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ http.Handler = (*Handler)(nil)
