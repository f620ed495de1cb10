// Package address derives deterministic storage addresses for payroll records.
//
// An address is the BLAKE3 keyed hash of a tag and an ordered tuple of
// identifying fields. The tuple is encoded with CBOR Core Deterministic
// Encoding so that field boundaries are unambiguous: ("ab", "c") and
// ("a", "bc") never hash the same input. Because addresses are pure functions
// of their seeds, a record store only needs create-if-absent semantics to
// reject duplicates.
package address

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
)

// Size is the byte length of an address or identity.
const Size = 32

// SchemeVersion identifies the derivation scheme. It is persisted with
// employee records so a future scheme change can be detected on read.
const SchemeVersion uint8 = 1

// Address is a 32-byte identifier. The same type carries record addresses,
// caller identities and opaque external references (wallets, confidential
// accounts, programs); all of them are fixed-width keys.
type Address [Size]byte

// Zero is the empty address.
var Zero Address

// IsZero reports whether a is the empty address.
func (a Address) IsZero() bool {
	return a == Zero
}

// String renders a as lowercase hex.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, a[:])
	return b
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Parse decodes a 64-character hex string, with or without a 0x prefix.
func Parse(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != Size*2 {
		return Zero, fmt.Errorf("address must be %d hex characters, got %d", Size*2, len(s))
	}
	var a Address
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return Zero, fmt.Errorf("address is not valid hex: %w", err)
	}
	return a, nil
}

// FromBytes copies b into an Address. b must be exactly Size bytes.
func FromBytes(b []byte) (Address, error) {
	if len(b) != Size {
		return Zero, fmt.Errorf("address must be %d bytes, got %d", Size, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// Tag separates the address spaces of the record kinds.
type Tag string

const (
	TagPayroll  Tag = "payroll"
	TagEmployee Tag = "employee"
	TagPayment  Tag = "payment"
)

// baseKey is the BLAKE3 key used when no namespace is configured: the ASCII
// string "paygate.address" zero-padded to 32 bytes.
var baseKey = [32]byte{
	'p', 'a', 'y', 'g', 'a', 't', 'e', '.', 'a', 'd', 'd', 'r', 'e', 's', 's', 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("address: CBOR encoder initialization failed: " + err.Error())
	}
}

// seed is the canonical hash input. toarray keeps the encoding positional.
type seed struct {
	_      struct{} `cbor:",toarray"`
	Tag    string
	Fields [][]byte
}

// Deriver computes addresses under one key. Deployments that share a record
// store must share a namespace.
type Deriver struct {
	key [32]byte
}

// Default returns a Deriver keyed with the base key.
func Default() *Deriver {
	return &Deriver{key: baseKey}
}

// NewDeriver expands namespace into a 32-byte BLAKE3 key with HKDF-SHA256.
// An empty namespace yields the default deriver.
func NewDeriver(namespace string) (*Deriver, error) {
	if namespace == "" {
		return Default(), nil
	}
	r := hkdf.New(sha256.New, []byte(namespace), baseKey[:], []byte("paygate address key v1"))
	d := &Deriver{}
	if _, err := io.ReadFull(r, d.key[:]); err != nil {
		return nil, fmt.Errorf("derive address key: %w", err)
	}
	return d, nil
}

// Derive hashes tag and fields into an address.
func (d *Deriver) Derive(tag Tag, fields ...[]byte) Address {
	input, err := encMode.Marshal(seed{Tag: string(tag), Fields: fields})
	if err != nil {
		// Only unsupported Go types can fail here; seed has none.
		panic("address: CBOR seed encoding failed: " + err.Error())
	}
	hasher, err := blake3.NewKeyed(d.key[:])
	if err != nil {
		panic("address: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(input)
	var out Address
	copy(out[:], hasher.Sum(nil))
	return out
}

// Payroll returns the address of the payroll owned by authority.
func (d *Deriver) Payroll(authority Address) Address {
	return d.Derive(TagPayroll, authority[:])
}

// Employee returns the address of employeeID under payroll.
func (d *Deriver) Employee(payroll Address, employeeID string) Address {
	return d.Derive(TagEmployee, payroll[:], []byte(employeeID))
}

// Payment returns the address of the payment made to employee at timestamp
// (unix seconds, encoded little-endian).
func (d *Deriver) Payment(employee Address, timestamp int64) Address {
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(timestamp))
	return d.Derive(TagPayment, employee[:], ts[:])
}
