package protocol

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/zkbarchive/zkb/internal/common/zkberrors"
)

// HashSize is the length in bytes of a killmail digest.
const HashSize = 20

// Hash is the digest that, together with the killmail id, addresses a killmail on ESI.
type Hash [HashSize]byte

// ParseHash converts the hexadecimal form of a digest. It fails with *zkberrors.ErrInvalidHash if s is
// not hexadecimal or does not decode to exactly HashSize bytes.
func ParseHash(s string) (Hash, error) {
	var h Hash
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return h, errors.WithStack(&zkberrors.ErrInvalidHash{Value: s, Reason: zkberrors.HashNotHex})
	}
	if len(decoded) != HashSize {
		return h, errors.WithStack(&zkberrors.ErrInvalidHash{Value: s, Reason: zkberrors.HashWrongLength})
	}
	copy(h[:], decoded)
	return h, nil
}

// MustParseHash is ParseHash for constants and tests; it panics on invalid input.
func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// HashFromBytes copies a digest read from storage.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, errors.WithStack(&zkberrors.ErrInvalidHash{Value: hex.EncodeToString(b), Reason: zkberrors.HashWrongLength})
	}
	copy(h[:], b)
	return h, nil
}

// String returns the lower-case hexadecimal form used in ESI urls.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// MarshalCBOR encodes the digest as a 20 byte CBOR byte string.
func (h Hash) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(h[:])
}

func (h *Hash) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return errors.WithStack(err)
	}
	parsed, err := HashFromBytes(b)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// IdHash is a killmail id paired with its digest.
type IdHash struct {
	Id   int64 `json:"id" cbor:"1,keyasint"`
	Hash Hash  `json:"hash" cbor:"2,keyasint"`
}

// NewIdHash validates hexHash and pairs it with id.
func NewIdHash(id int64, hexHash string) (IdHash, error) {
	h, err := ParseHash(hexHash)
	if err != nil {
		return IdHash{}, err
	}
	return IdHash{Id: id, Hash: h}, nil
}

func (ih IdHash) String() string {
	return fmt.Sprintf("%d/%s", ih.Id, ih.Hash)
}
