package analysis

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// registryVersion is bumped when the snapshot layout changes.
const registryVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("analysis: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type subroutineWire struct {
	Start           uint32 `cbor:"1,keyasint"`
	End             uint32 `cbor:"2,keyasint"`
	StackAllocStart uint32 `cbor:"3,keyasint,omitempty"`
	StackAllocEnd   uint32 `cbor:"4,keyasint,omitempty"`
	StackSize       uint32 `cbor:"5,keyasint,omitempty"`
	ReturnAddrPos   uint32 `cbor:"6,keyasint,omitempty"`
}

type registrySnapshot struct {
	Version     int              `cbor:"1,keyasint"`
	Subroutines []subroutineWire `cbor:"2,keyasint"`
}

// MarshalRegistry serializes a registry to canonical CBOR bytes. Equal
// registries encode to identical bytes.
func MarshalRegistry(r *Registry) ([]byte, error) {
	snap := registrySnapshot{Version: registryVersion}
	for _, s := range r.Subroutines() {
		snap.Subroutines = append(snap.Subroutines, subroutineWire(s))
	}
	return cborEncMode.Marshal(&snap)
}

// UnmarshalRegistry deserializes a registry from CBOR bytes. Overlapping
// entries are reported as an error.
func UnmarshalRegistry(data []byte) (*Registry, error) {
	var snap registrySnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("analysis: unmarshal registry: %w", err)
	}
	if snap.Version != registryVersion {
		return nil, fmt.Errorf("analysis: unmarshal registry: unsupported version %d", snap.Version)
	}
	r := NewRegistry()
	for _, s := range snap.Subroutines {
		if err := r.insert(Subroutine(s)); err != nil {
			return nil, fmt.Errorf("analysis: unmarshal registry: %w", err)
		}
	}
	return r, nil
}
