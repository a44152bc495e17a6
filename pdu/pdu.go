package pdu

import "fmt"

// Type identifies an SNMP PDU's operation (§3).
type Type byte

const (
	TypeGet Type = iota
	TypeGetNext
	TypeGetBulk
	TypeSet
	TypeResponse
	TypeNotification // SNMPv2-Trap / Notification-PDU
	TypeInform
	TypeReport
	TypeV1Trap // legacy SNMPv1 Trap-PDU, distinct wire shape
)

func (t Type) String() string {
	switch t {
	case TypeGet:
		return "GET"
	case TypeGetNext:
		return "GETNEXT"
	case TypeGetBulk:
		return "GETBULK"
	case TypeSet:
		return "SET"
	case TypeResponse:
		return "RESPONSE"
	case TypeNotification:
		return "NOTIFICATION"
	case TypeInform:
		return "INFORM"
	case TypeReport:
		return "REPORT"
	case TypeV1Trap:
		return "V1TRAP"
	default:
		return fmt.Sprintf("Type(%d)", byte(t))
	}
}

// IsConfirmed reports whether a response is expected for this PDU type and
// a PendingRequest must therefore be tracked (§3 invariants, §4.3 step 5).
func (t Type) IsConfirmed() bool {
	switch t {
	case TypeGet, TypeGetNext, TypeGetBulk, TypeSet, TypeInform:
		return true
	default:
		return false
	}
}

// IsResponse reports whether this type is itself a reply, used to pick the
// registry lookup direction in §4.3 step 2 (receiver vs sender).
func (t Type) IsResponse() bool {
	return t == TypeResponse || t == TypeReport
}

// PDU is one SNMP request/response (§3). Request ID is only meaningful
// once assigned; see Handle in handle.go and the dispatcher's allocation
// rule (§4.3 step 5/6).
type PDU struct {
	Type         Type
	RequestID    int32
	ErrorStatus  int
	ErrorIndex   int
	VarBinds     []VarBind
	NonRepeaters int // GETBULK only
	MaxRepetitions int // GETBULK only

	// V1Trap-specific fields (legacy Trap-PDU wire shape, RFC 1157 §4.1.6).
	EnterpriseOID OID
	AgentAddr     [4]byte
	GenericTrap   int
	SpecificTrap  int
	Timestamp     uint32
}

// NewPDU builds a PDU of the given type with no variable bindings yet.
func NewPDU(t Type) *PDU {
	return &PDU{Type: t}
}

// Clone makes a deep-enough copy for the retry-clone / chained-discovery
// flows in engine.PendingRequest (§4.4): VarBinds backing array is copied so
// mutating one copy's bindings (e.g. injecting a discovered contextEngineID)
// never aliases the other.
func (p *PDU) Clone() *PDU {
	clone := *p
	clone.VarBinds = make([]VarBind, len(p.VarBinds))
	copy(clone.VarBinds, p.VarBinds)
	for i := range clone.VarBinds {
		clone.VarBinds[i].OID = p.VarBinds[i].OID.Clone()
		switch v := p.VarBinds[i].Value.(type) {
		case []byte:
			clone.VarBinds[i].Value = append([]byte(nil), v...)
		case OID:
			clone.VarBinds[i].Value = v.Clone()
		}
	}
	clone.EnterpriseOID = p.EnterpriseOID.Clone()
	return &clone
}

// ScopedPDU adds the SNMPv3 context wrapper (§3) around an inner PDU.
type ScopedPDU struct {
	ContextEngineID []byte
	ContextName     string
	PDU             *PDU
}

// NewScopedPDU wraps inner with an (initially empty) context, which the
// engine/session layer fills in via cache lookup or RFC 5343 discovery
// (§4.4 step 3).
func NewScopedPDU(inner *PDU) *ScopedPDU {
	return &ScopedPDU{PDU: inner}
}

// Clone deep-copies the ScopedPDU, including its inner PDU.
func (s *ScopedPDU) Clone() *ScopedPDU {
	clone := &ScopedPDU{
		ContextEngineID: append([]byte(nil), s.ContextEngineID...),
		ContextName:     s.ContextName,
		PDU:             s.PDU.Clone(),
	}
	return clone
}

// NewDiscoveryGetPDU builds the RFC 5343 contextEngineID-discovery GET: a
// GET on snmpEngineID.0 scoped to localEngineID, sent ahead of the real
// confirmed PDU when the target doesn't yet know the peer's context engine
// ID (§4.4 step 3).
func NewDiscoveryGetPDU(localEngineID []byte) *ScopedPDU {
	inner := NewPDU(TypeGet)
	inner.VarBinds = []VarBind{NewVarBind(OIDSnmpEngineID, nil)}
	return &ScopedPDU{ContextEngineID: append([]byte(nil), localEngineID...), PDU: inner}
}
