package cartridge

import "fmt"

// Profile fixes the deployment-wide layout constants: how large a chunk
// entity may be and how many entries fit on one catalog page. A deployment
// never changes profile after the first entity is written, since both values
// are baked into persisted record sizes.
type Profile struct {
	Name           string
	MaxChunkSize   uint32
	EntriesPerPage int
}

var (
	// ProfileDefault suits transports that move ~128 KiB per call.
	ProfileDefault = Profile{Name: "default", MaxChunkSize: 128 * 1024, EntriesPerPage: 32}
	// ProfileMicro suits transports with a few-hundred-byte payload budget.
	ProfileMicro = Profile{Name: "micro", MaxChunkSize: 800, EntriesPerPage: 16}
)

// ProfileByName resolves a profile flag value.
func ProfileByName(name string) (Profile, error) {
	switch name {
	case "", "default":
		return ProfileDefault, nil
	case "micro":
		return ProfileMicro, nil
	}
	return Profile{}, fmt.Errorf("cartridge: unknown profile %q", name)
}
