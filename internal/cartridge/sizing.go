package cartridge

// NumChunks returns ceil(zipSize / chunkSize). Computed once at manifest
// creation and immutable afterwards.
func NumChunks(zipSize uint64, chunkSize uint32) uint32 {
	return uint32((zipSize + uint64(chunkSize) - 1) / uint64(chunkSize))
}

// ExpectedChunkLen returns the exact byte length the chunk at index must
// carry. Every chunk is full-size except possibly the last: an exactly
// divisible total yields a full-size final chunk, never a zero-length one.
// The sum over all indices equals zipSize exactly.
func ExpectedChunkLen(zipSize uint64, chunkSize, numChunks, index uint32) uint32 {
	if index == numChunks-1 {
		if rem := uint32(zipSize % uint64(chunkSize)); rem != 0 {
			return rem
		}
	}
	return chunkSize
}

// ExpectedChunkLenFor is ExpectedChunkLen keyed off a manifest.
func (m *Manifest) ExpectedChunkLenFor(index uint32) uint32 {
	return ExpectedChunkLen(m.ZipSize, m.ChunkSize, m.NumChunks, index)
}
