// Package pdu implements the SNMP data model: object identifiers, variable
// bindings, PDUs (including ScopedPDU for v3), handles, and targets (§3).
package pdu

import (
	"fmt"
	"strconv"
	"strings"
)

// OID is an SNMP object identifier, e.g. 1.3.6.1.2.1.1.1.0.
type OID []uint32

// ParseOID parses a dotted-decimal string into an OID.
func ParseOID(s string) (OID, error) {
	s = strings.TrimPrefix(s, ".")
	parts := strings.Split(s, ".")
	out := make(OID, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("pdu: invalid OID component %q: %w", p, err)
		}
		out = append(out, uint32(n))
	}
	return out, nil
}

// MustParseOID panics on a malformed literal; used for the package's own
// well-known OID constants.
func MustParseOID(s string) OID {
	oid, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return oid
}

func (o OID) String() string {
	parts := make([]string, len(o))
	for i, n := range o {
		parts[i] = strconv.FormatUint(uint64(n), 10)
	}
	return strings.Join(parts, ".")
}

// Equal reports whether two OIDs have identical arcs.
func (o OID) Equal(other OID) bool {
	if len(o) != len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the OID, so callers can mutate it without
// aliasing the original's backing array.
func (o OID) Clone() OID {
	out := make(OID, len(o))
	copy(out, o)
	return out
}

// Well-known OIDs the engine itself inspects (§4.4, §6).
var (
	OIDSnmpEngineID             = MustParseOID("1.3.6.1.6.3.10.2.1.1.0")
	OIDUsmStatsUnsupportedSecLevels = MustParseOID("1.3.6.1.6.3.15.1.1.1.0")
	OIDUsmStatsNotInTimeWindows = MustParseOID("1.3.6.1.6.3.15.1.1.2.0")
	OIDUsmStatsUnknownUserNames = MustParseOID("1.3.6.1.6.3.15.1.1.3.0")
	OIDUsmStatsUnknownEngineIDs = MustParseOID("1.3.6.1.6.3.15.1.1.4.0")
	OIDUsmStatsWrongDigests     = MustParseOID("1.3.6.1.6.3.15.1.1.5.0")
	OIDUsmStatsDecryptionErrors = MustParseOID("1.3.6.1.6.3.15.1.1.6.0")
)
