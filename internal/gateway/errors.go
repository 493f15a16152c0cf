package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kk-code-lab/cartlake/internal/engine"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Code: code, Message: message})
}

// writeEngineError maps the engine's rejection taxonomy onto stable machine
// codes and HTTP statuses. Unknown errors become an opaque 500.
func writeEngineError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, engine.ErrInvalidSize):
		return http.StatusUnprocessableEntity, "InvalidSize"
	case errors.Is(err, engine.ErrCartridgeTooLarge):
		return http.StatusRequestEntityTooLarge, "CartridgeTooLarge"
	case errors.Is(err, engine.ErrInvalidChunkSize):
		return http.StatusUnprocessableEntity, "InvalidChunkSize"
	case errors.Is(err, engine.ErrInvalidChunkIndex):
		return http.StatusUnprocessableEntity, "InvalidChunkIndex"
	case errors.Is(err, engine.ErrMetadataTooLarge):
		return http.StatusRequestEntityTooLarge, "MetadataTooLarge"
	case errors.Is(err, engine.ErrAlreadyInitialized):
		return http.StatusConflict, "AlreadyInitialized"
	case errors.Is(err, engine.ErrCartridgeExists):
		return http.StatusConflict, "CartridgeExists"
	case errors.Is(err, engine.ErrChunkAlreadyWritten):
		return http.StatusConflict, "ChunkAlreadyWritten"
	case errors.Is(err, engine.ErrCartridgeFinalized):
		return http.StatusConflict, "CartridgeFinalized"
	case errors.Is(err, engine.ErrPageFull):
		return http.StatusConflict, "PageFull"
	case errors.Is(err, engine.ErrInvalidPageIndex):
		return http.StatusConflict, "InvalidPageIndex"
	case errors.Is(err, engine.ErrNotInitialized):
		return http.StatusNotFound, "NotInitialized"
	case errors.Is(err, engine.ErrCartridgeNotFound):
		return http.StatusNotFound, "CartridgeNotFound"
	case errors.Is(err, engine.ErrPageNotFound):
		return http.StatusNotFound, "PageNotFound"
	case errors.Is(err, engine.ErrChunkNotFound):
		return http.StatusNotFound, "ChunkNotFound"
	case errors.Is(err, engine.ErrChunkMissing):
		return http.StatusConflict, "ChunkMissing"
	case errors.Is(err, engine.ErrHashMismatch):
		return http.StatusConflict, "HashMismatch"
	}
	return http.StatusInternalServerError, "InternalError"
}
