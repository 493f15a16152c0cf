// Package catalog holds the discovery catalog records: a root singleton with
// global counters and the administrator identity, and fixed-capacity pages of
// write-once entries describing finalized cartridges.
package catalog

import "github.com/kk-code-lab/cartlake/internal/identity"

// EntrySize is the fixed stride of one catalog entry, padding included.
// Pages are sized as a flat array of these, so the stride must not drift.
const EntrySize = 32 + 32 + 8 + 32 + 8 + 1 + 7 // 120 bytes

// Root is the catalog singleton. Owner may create pages and transfer
// ownership; every finalize bumps TotalFinalized. ActivePage always equals
// PageCount-1 once the first page exists.
type Root struct {
	Owner          identity.Identity
	TotalFinalized uint64
	PageCount      uint32
	ActivePage     uint32
}

// Entry is one discovery record. Entries are write-once and appended in
// finalize order, so slot order within a page is chronological.
type Entry struct {
	CartridgeID  [32]byte
	ManifestAddr [32]byte
	ZipSize      uint64
	SHA256       [32]byte
	CreatedAt    uint64
	Flags        uint8 // bit 0 reserved for retire; nothing sets it yet
}

// Page is a fixed-capacity array of entries. Slots at or past EntryCount are
// zeroed and must not be treated as valid. A full page never accepts another
// append; the root's active pointer has to move to a new page first.
type Page struct {
	PageIndex  uint32
	EntryCount uint32
	Entries    []Entry // length == capacity, valid prefix is EntryCount
}

// NewPage returns an empty page with the given fixed capacity.
func NewPage(pageIndex uint32, capacity int) *Page {
	return &Page{
		PageIndex: pageIndex,
		Entries:   make([]Entry, capacity),
	}
}

// Full reports whether the page has no free slot left.
func (p *Page) Full() bool {
	return int(p.EntryCount) >= len(p.Entries)
}

// Append places the entry into the next free slot. The caller must have
// checked Full first.
func (p *Page) Append(e Entry) {
	p.Entries[p.EntryCount] = e
	p.EntryCount++
}
