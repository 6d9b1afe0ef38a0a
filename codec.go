package shmcache

// codec.go defines the reversible byte codec the facade uses to translate
// between the caller's structured value and the bytes stored in the page.
// Value serialisation of structured values is explicitly out of scope for
// the core (spec.md §1); the core only needs an Encode/Decode seam.

// Codec converts between a caller-facing value and its on-page byte
// encoding. Used only when Options.RawValues is false.
type Codec interface {
	Encode(v []byte) ([]byte, error)
	Decode(b []byte) ([]byte, error)
}

// RawCodec is the identity codec used when RawValues is true or no Codec is
// supplied: values are stored exactly as given.
type RawCodec struct{}

func (RawCodec) Encode(v []byte) ([]byte, error) { return v, nil }
func (RawCodec) Decode(b []byte) ([]byte, error) { return b, nil }
