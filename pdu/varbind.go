package pdu

import "fmt"

// VarBind is one (OID, value) pair carried by a PDU. Value holds whatever
// the out-of-scope BER/SMI codec decoded: nil (for Null), int64, uint64,
// []byte (OctetString — also used for an encoded contextEngineID), string,
// OID (for oid-valued bindings), or one of the exception markers below.
type VarBind struct {
	OID   OID
	Value interface{}
}

// Exception markers a GETBULK/GETNEXT response may carry in place of a
// value (RFC 3416 §2.3).
type Exception int

const (
	ExceptionNoSuchObject Exception = iota
	ExceptionNoSuchInstance
	ExceptionEndOfMibView
)

func (e Exception) String() string {
	switch e {
	case ExceptionNoSuchObject:
		return "noSuchObject"
	case ExceptionNoSuchInstance:
		return "noSuchInstance"
	case ExceptionEndOfMibView:
		return "endOfMibView"
	default:
		return fmt.Sprintf("exception(%d)", int(e))
	}
}

// NewVarBind builds a VarBind, cloning the OID so the caller can't mutate
// it out from under the PDU after the call returns.
func NewVarBind(oid OID, value interface{}) VarBind {
	return VarBind{OID: oid.Clone(), Value: value}
}

// OctetStringValue returns v.Value as []byte, reporting ok=false if the
// binding doesn't carry an octet string. Used when extracting a discovered
// contextEngineID from a response's first binding (§4.4 "Response
// handling", step 3).
func (v VarBind) OctetStringValue() ([]byte, bool) {
	b, ok := v.Value.([]byte)
	return b, ok
}
