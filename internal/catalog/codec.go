package catalog

import (
	"encoding/binary"
	"errors"

	"github.com/zeebo/blake3"
)

// Records are encoded little-endian with explicit offsets: a 4-byte magic and
// 4-byte layout version, a fixed-size body, and a trailing BLAKE3 checksum of
// the body. Fixed layouts keep entity sizes predictable and let readers seek
// into a page without deserializing the whole record.
const (
	rootMagic = 0x54524c43 // "CLRT"
	pageMagic = 0x47504c43 // "CLPG"

	layoutV1    = 1
	headerLen   = 4 + 4
	checksumLen = 32

	rootBodyLen = 32 + 8 + 4 + 4
)

var (
	errTruncated     = errors.New("catalog: truncated record")
	errChecksum      = errors.New("catalog: checksum mismatch")
	errBadMagic      = errors.New("catalog: bad magic")
	errBadVersion    = errors.New("catalog: unsupported layout version")
	errBadBodyLen    = errors.New("catalog: unexpected body length")
	errEntryOverflow = errors.New("catalog: entry count exceeds capacity")
)

// EncodeRoot serializes the root record.
func EncodeRoot(r *Root) []byte {
	buf := make([]byte, 0, headerLen+rootBodyLen+checksumLen)
	buf = appendU32(buf, rootMagic)
	buf = appendU32(buf, layoutV1)
	buf = append(buf, r.Owner[:]...)
	buf = appendU64(buf, r.TotalFinalized)
	buf = appendU32(buf, r.PageCount)
	buf = appendU32(buf, r.ActivePage)
	return sealRecord(buf)
}

// DecodeRoot parses and validates a root record.
func DecodeRoot(data []byte) (*Root, error) {
	body, err := openRecord(data, rootMagic)
	if err != nil {
		return nil, err
	}
	if len(body) != rootBodyLen {
		return nil, errBadBodyLen
	}
	var r Root
	copy(r.Owner[:], body[0:32])
	r.TotalFinalized = binary.LittleEndian.Uint64(body[32:40])
	r.PageCount = binary.LittleEndian.Uint32(body[40:44])
	r.ActivePage = binary.LittleEndian.Uint32(body[44:48])
	return &r, nil
}

// EncodePage serializes a page record. The encoded size depends only on the
// page's fixed capacity, never on how many slots are filled.
func EncodePage(p *Page) []byte {
	bodyLen := 4 + 4 + len(p.Entries)*EntrySize
	buf := make([]byte, 0, headerLen+bodyLen+checksumLen)
	buf = appendU32(buf, pageMagic)
	buf = appendU32(buf, layoutV1)
	buf = appendU32(buf, p.PageIndex)
	buf = appendU32(buf, p.EntryCount)
	for i := range p.Entries {
		buf = appendEntry(buf, &p.Entries[i])
	}
	return sealRecord(buf)
}

// DecodePage parses and validates a page record. Capacity is recovered from
// the record length.
func DecodePage(data []byte) (*Page, error) {
	body, err := openRecord(data, pageMagic)
	if err != nil {
		return nil, err
	}
	if len(body) < 8 || (len(body)-8)%EntrySize != 0 {
		return nil, errBadBodyLen
	}
	capacity := (len(body) - 8) / EntrySize
	p := &Page{
		PageIndex:  binary.LittleEndian.Uint32(body[0:4]),
		EntryCount: binary.LittleEndian.Uint32(body[4:8]),
		Entries:    make([]Entry, capacity),
	}
	if int(p.EntryCount) > capacity {
		return nil, errEntryOverflow
	}
	offset := 8
	for i := 0; i < capacity; i++ {
		readEntry(body[offset:offset+EntrySize], &p.Entries[i])
		offset += EntrySize
	}
	return p, nil
}

func appendEntry(buf []byte, e *Entry) []byte {
	buf = append(buf, e.CartridgeID[:]...)
	buf = append(buf, e.ManifestAddr[:]...)
	buf = appendU64(buf, e.ZipSize)
	buf = append(buf, e.SHA256[:]...)
	buf = appendU64(buf, e.CreatedAt)
	buf = append(buf, e.Flags)
	var pad [7]byte
	return append(buf, pad[:]...)
}

func readEntry(data []byte, e *Entry) {
	copy(e.CartridgeID[:], data[0:32])
	copy(e.ManifestAddr[:], data[32:64])
	e.ZipSize = binary.LittleEndian.Uint64(data[64:72])
	copy(e.SHA256[:], data[72:104])
	e.CreatedAt = binary.LittleEndian.Uint64(data[104:112])
	e.Flags = data[112]
}

func sealRecord(buf []byte) []byte {
	checksum := blake3.Sum256(buf[headerLen:])
	return append(buf, checksum[:]...)
}

func openRecord(data []byte, magic uint32) ([]byte, error) {
	if len(data) < headerLen+checksumLen {
		return nil, errTruncated
	}
	body := data[:len(data)-checksumLen]
	sum := blake3.Sum256(body[headerLen:])
	if !equalBytes(sum[:], data[len(data)-checksumLen:]) {
		return nil, errChecksum
	}
	if binary.LittleEndian.Uint32(body[0:4]) != magic {
		return nil, errBadMagic
	}
	if binary.LittleEndian.Uint32(body[4:8]) != layoutV1 {
		return nil, errBadVersion
	}
	return body[headerLen:], nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
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
