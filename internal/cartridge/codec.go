package cartridge

import (
	"encoding/binary"
	"errors"

	"github.com/zeebo/blake3"
)

// Same record framing as the catalog package: little-endian, 4-byte magic +
// 4-byte layout version, fixed-size body, trailing BLAKE3 checksum. Manifest
// bodies are always 392 bytes; chunk bodies are 48 bytes of header fields
// plus the profile's fixed chunk capacity, regardless of how many bytes the
// chunk actually carries.
const (
	manifestMagic = 0x464d4c43 // "CLMF"
	chunkMagic    = 0x48434c43 // "CLCH"

	layoutV1    = 1
	headerLen   = 4 + 4
	checksumLen = 32

	manifestBodyLen  = 32 + 8 + 4 + 4 + 32 + 1 + 7 + 8 + 32 + 2 + 6 + MaxMetadataLen
	chunkFixedLen    = 32 + 4 + 4 + 1 + 7
	metadataOffset   = 136
	createdAtOffset  = 88
	finalizedOffset  = 80
	publisherOffset  = 96
	metadataLenField = 128
)

var (
	errTruncated   = errors.New("cartridge: truncated record")
	errChecksum    = errors.New("cartridge: checksum mismatch")
	errBadMagic    = errors.New("cartridge: bad magic")
	errBadVersion  = errors.New("cartridge: unsupported layout version")
	errBadBodyLen  = errors.New("cartridge: unexpected body length")
	errMetaTooBig  = errors.New("cartridge: metadata exceeds fixed slot")
	errDataTooBig  = errors.New("cartridge: data exceeds chunk capacity")
	errBadDataLen  = errors.New("cartridge: data length field out of range")
	errBadMetaLen  = errors.New("cartridge: metadata length field out of range")
)

// EncodeManifest serializes a manifest into its fixed 392-byte body.
func EncodeManifest(m *Manifest) ([]byte, error) {
	if len(m.Metadata) > MaxMetadataLen {
		return nil, errMetaTooBig
	}
	body := make([]byte, manifestBodyLen)
	copy(body[0:32], m.CartridgeID[:])
	binary.LittleEndian.PutUint64(body[32:40], m.ZipSize)
	binary.LittleEndian.PutUint32(body[40:44], m.ChunkSize)
	binary.LittleEndian.PutUint32(body[44:48], m.NumChunks)
	copy(body[48:80], m.SHA256[:])
	if m.Finalized {
		body[finalizedOffset] = 1
	}
	binary.LittleEndian.PutUint64(body[createdAtOffset:createdAtOffset+8], m.CreatedAt)
	copy(body[publisherOffset:publisherOffset+32], m.Publisher[:])
	binary.LittleEndian.PutUint16(body[metadataLenField:metadataLenField+2], uint16(len(m.Metadata)))
	copy(body[metadataOffset:], m.Metadata)
	return frame(manifestMagic, body), nil
}

// DecodeManifest parses and validates a manifest record.
func DecodeManifest(data []byte) (*Manifest, error) {
	body, err := unframe(data, manifestMagic)
	if err != nil {
		return nil, err
	}
	if len(body) != manifestBodyLen {
		return nil, errBadBodyLen
	}
	var m Manifest
	copy(m.CartridgeID[:], body[0:32])
	m.ZipSize = binary.LittleEndian.Uint64(body[32:40])
	m.ChunkSize = binary.LittleEndian.Uint32(body[40:44])
	m.NumChunks = binary.LittleEndian.Uint32(body[44:48])
	copy(m.SHA256[:], body[48:80])
	m.Finalized = body[finalizedOffset] != 0
	m.CreatedAt = binary.LittleEndian.Uint64(body[createdAtOffset : createdAtOffset+8])
	copy(m.Publisher[:], body[publisherOffset:publisherOffset+32])
	metaLen := int(binary.LittleEndian.Uint16(body[metadataLenField : metadataLenField+2]))
	if metaLen > MaxMetadataLen {
		return nil, errBadMetaLen
	}
	if metaLen > 0 {
		m.Metadata = make([]byte, metaLen)
		copy(m.Metadata, body[metadataOffset:metadataOffset+metaLen])
	}
	return &m, nil
}

// EncodeChunk serializes a chunk into a fixed-capacity record.
func EncodeChunk(c *Chunk, capacity uint32) ([]byte, error) {
	if uint32(len(c.Data)) > capacity {
		return nil, errDataTooBig
	}
	body := make([]byte, chunkFixedLen+int(capacity))
	copy(body[0:32], c.CartridgeID[:])
	binary.LittleEndian.PutUint32(body[32:36], c.ChunkIndex)
	binary.LittleEndian.PutUint32(body[36:40], c.DataLen)
	if c.Written {
		body[40] = 1
	}
	copy(body[chunkFixedLen:], c.Data)
	return frame(chunkMagic, body), nil
}

// DecodeChunk parses and validates a chunk record. Capacity is recovered from
// the record length; Data holds only the DataLen valid bytes.
func DecodeChunk(data []byte) (*Chunk, error) {
	body, err := unframe(data, chunkMagic)
	if err != nil {
		return nil, err
	}
	if len(body) < chunkFixedLen {
		return nil, errBadBodyLen
	}
	var c Chunk
	copy(c.CartridgeID[:], body[0:32])
	c.ChunkIndex = binary.LittleEndian.Uint32(body[32:36])
	c.DataLen = binary.LittleEndian.Uint32(body[36:40])
	c.Written = body[40] != 0
	if int(c.DataLen) > len(body)-chunkFixedLen {
		return nil, errBadDataLen
	}
	if c.DataLen > 0 {
		c.Data = make([]byte, c.DataLen)
		copy(c.Data, body[chunkFixedLen:chunkFixedLen+int(c.DataLen)])
	}
	return &c, nil
}

func frame(magic uint32, body []byte) []byte {
	buf := make([]byte, 0, headerLen+len(body)+checksumLen)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], magic)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], layoutV1)
	buf = append(buf, tmp[:]...)
	buf = append(buf, body...)
	checksum := blake3.Sum256(body)
	return append(buf, checksum[:]...)
}

func unframe(data []byte, magic uint32) ([]byte, error) {
	if len(data) < headerLen+checksumLen {
		return nil, errTruncated
	}
	body := data[headerLen : len(data)-checksumLen]
	sum := blake3.Sum256(body)
	if !equalBytes(sum[:], data[len(data)-checksumLen:]) {
		return nil, errChecksum
	}
	if binary.LittleEndian.Uint32(data[0:4]) != magic {
		return nil, errBadMagic
	}
	if binary.LittleEndian.Uint32(data[4:8]) != layoutV1 {
		return nil, errBadVersion
	}
	return body, nil
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
