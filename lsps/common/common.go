// Package common holds the wire-level primitive types shared by all LSPS
// protocol versions: satoshi amounts, strict ISO timestamps and node ids.
package common

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Amount represents satoshis, serialized as a decimal string in JSON.
// Amounts travel as strings because JSON numbers lose precision above 2^53.
type Amount uint64

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(a), 10))
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("amount must be a decimal string: %w", err)
	}
	val, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	*a = Amount(val)
	return nil
}

// ErrAmountOverflow is returned by CheckedAdd when the sum does not fit
// in a uint64.
var ErrAmountOverflow = errors.New("amount overflow")

// CheckedAdd adds two amounts, reporting overflow instead of wrapping.
func (a Amount) CheckedAdd(other Amount) (Amount, error) {
	sum := a + other
	if sum < a {
		return 0, ErrAmountOverflow
	}
	return sum, nil
}

func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10) + " sat"
}

// isoDatetimeFormat is the only accepted timestamp layout. The LSPS spec
// requires millisecond precision and a literal Z; some fields must later be
// echoed back byte-for-byte, so tolerant parsing would corrupt them.
const isoDatetimeFormat = "2006-01-02T15:04:05.000Z"

// IsoDatetime is a UTC timestamp with the strict LSPS wire format.
type IsoDatetime struct {
	time.Time
}

func IsoDatetimeNow() IsoDatetime {
	return IsoDatetime{time.Now().UTC().Truncate(time.Millisecond)}
}

func IsoDatetimeFromTime(t time.Time) IsoDatetime {
	return IsoDatetime{t.UTC().Truncate(time.Millisecond)}
}

func (d IsoDatetime) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.UTC().Format(isoDatetimeFormat))
}

func (d *IsoDatetime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse(isoDatetimeFormat, s)
	if err != nil {
		return fmt.Errorf("timestamp %q does not match %s: %w", s, isoDatetimeFormat, err)
	}
	d.Time = t.UTC()
	return nil
}

// NodeID is a 33-byte compressed secp256k1 public key identifying a peer,
// hex-encoded on the wire.
type NodeID string

// ParseNodeID validates that s is a hex-encoded compressed public key.
func ParseNodeID(s string) (NodeID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("node id is not valid hex: %w", err)
	}
	if len(raw) != 33 {
		return "", fmt.Errorf("node id must be 33 bytes, got %d", len(raw))
	}
	if _, err := btcec.ParsePubKey(raw); err != nil {
		return "", fmt.Errorf("node id is not a valid public key: %w", err)
	}
	return NodeID(s), nil
}

func (n NodeID) String() string {
	return string(n)
}

// Bytes returns the raw 33-byte key. The NodeID must have been produced by
// ParseNodeID.
func (n NodeID) Bytes() ([]byte, error) {
	return hex.DecodeString(string(n))
}
