package medchain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// PurchaseID is the 32-byte identifier of a purchase request
type PurchaseID [32]byte

// identityArguments is the (string, uint256) tuple hashed into a PurchaseID
var identityArguments = abi.Arguments{
	{Type: mustType("string")},
	{Type: mustType("uint256")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("invalid abi type %q: %v", t, err))
	}
	return typ
}

// GeneratePurchaseID derives the identifier for a request on medicineID created at timestamp.
//
// The inputs are ABI-encoded as (string, uint256) before hashing with keccak256, so
// ("1", 23) and ("12", 3) produce different identifiers.
//
// timestamp must be non-negative and fit in 256 bits; GeneratePurchaseID panics
// otherwise. A nil timestamp is treated as zero.
func GeneratePurchaseID(medicineID string, timestamp *big.Int) PurchaseID {
	if timestamp == nil {
		timestamp = new(big.Int)
	}
	if timestamp.Sign() < 0 || timestamp.BitLen() > 256 {
		panic(fmt.Sprintf("purchase timestamp %s is not a uint256", timestamp))
	}
	encoded, err := identityArguments.Pack(medicineID, timestamp)
	if err != nil {
		panic(fmt.Sprintf("failed to encode purchase identity: %v", err))
	}
	return PurchaseID(crypto.Keccak256Hash(encoded))
}

// IdentityGenerator produces purchase identifiers from the current time
type IdentityGenerator struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Generate derives a PurchaseID for medicineID at the current Unix millisecond
func (g IdentityGenerator) Generate(medicineID string) PurchaseID {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return GeneratePurchaseID(medicineID, big.NewInt(now().UnixMilli()))
}

// NewPurchaseID derives a PurchaseID for medicineID using the wall clock
func NewPurchaseID(medicineID string) PurchaseID {
	return IdentityGenerator{}.Generate(medicineID)
}

// ParsePurchaseID parses a 0x-prefixed 32-byte hex string
func ParsePurchaseID(s string) (PurchaseID, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return PurchaseID{}, fmt.Errorf("invalid purchase id %q: %w", s, err)
	}
	if len(b) != len(PurchaseID{}) {
		return PurchaseID{}, fmt.Errorf("invalid purchase id %q: expected 32 bytes, got %d", s, len(b))
	}
	var id PurchaseID
	copy(id[:], b)
	return id, nil
}

// Hex returns the 0x-prefixed hex form
func (id PurchaseID) Hex() string {
	return hexutil.Encode(id[:])
}

func (id PurchaseID) String() string {
	return id.Hex()
}

// IsZero reports whether the identifier is unset
func (id PurchaseID) IsZero() bool {
	return id == PurchaseID{}
}

// Hash returns the identifier as a go-ethereum hash
func (id PurchaseID) Hash() common.Hash {
	return common.Hash(id)
}

// MarshalText implements encoding.TextMarshaler
func (id PurchaseID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (id *PurchaseID) UnmarshalText(text []byte) error {
	parsed, err := ParsePurchaseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
