package mp

import (
	"errors"
	"fmt"

	"github.com/netmgmt/snmpcore/ber"
	"github.com/netmgmt/snmpcore/pdu"
)

// Context tags for the exception markers a GETNEXT/GETBULK response may
// carry instead of a value (RFC 3416 §2.3).
const (
	tagNoSuchObject   = 0x80
	tagNoSuchInstance = 0x81
	tagEndOfMibView   = 0x82
)

var pduTagByType = map[pdu.Type]byte{
	pdu.TypeGet:          ber.TagGetRequest,
	pdu.TypeGetNext:      ber.TagGetNextRequest,
	pdu.TypeGetBulk:      ber.TagGetBulkRequest,
	pdu.TypeSet:          ber.TagSetRequest,
	pdu.TypeResponse:     ber.TagGetResponse,
	pdu.TypeNotification: ber.TagSNMPv2Trap,
	pdu.TypeInform:       ber.TagInformRequest,
	pdu.TypeReport:       ber.TagReport,
	pdu.TypeV1Trap:       ber.TagV1Trap,
}

var pduTypeByTag = func() map[byte]pdu.Type {
	out := make(map[byte]pdu.Type, len(pduTagByType))
	for t, tag := range pduTagByType {
		out[tag] = t
	}
	return out
}()

// V1V2c implements the shared MPv1/MPv2c community-based message format
// (§4.2). The two versions differ only in the version INTEGER and a few
// error-handling conventions the dispatcher/engine layers apply on top; the
// wire shape itself is identical, so one Model handles both.
type V1V2c struct {
	modelID int // 1 for SNMPv1, 2 for SNMPv2c
	version int64
}

// NewV1 returns the MPv1 model (version 0 on the wire).
func NewV1() *V1V2c { return &V1V2c{modelID: 1, version: 0} }

// NewV2c returns the MPv2c model (version 1 on the wire).
func NewV2c() *V1V2c { return &V1V2c{modelID: 2, version: 1} }

func (m *V1V2c) ID() int { return m.modelID }

func (m *V1V2c) SupportsEngineIDDiscovery() bool { return true }

func (m *V1V2c) ReleaseStateReference(pdu.Handle) {}

func (m *V1V2c) PrepareOutgoingMessage(req *OutgoingRequest) (*OutgoingResult, Status, error) {
	wire, err := m.encodeMessage(req.SecurityName, req.PDU)
	if err != nil {
		return nil, StatusParseError, err
	}
	return &OutgoingResult{Wire: wire}, StatusOK, nil
}

func (m *V1V2c) PrepareResponseMessage(req *OutgoingRequest) (*OutgoingResult, Status, error) {
	return m.PrepareOutgoingMessage(req)
}

func (m *V1V2c) encodeMessage(community []byte, p *pdu.PDU) ([]byte, error) {
	tag, ok := pduTagByType[p.Type]
	if !ok {
		return nil, fmt.Errorf("mp: v1v2c cannot encode PDU type %s", p.Type)
	}

	var body []byte
	if p.Type == pdu.TypeV1Trap {
		enterprise, err := ber.EncodeOID(p.EnterpriseOID)
		if err != nil {
			return nil, err
		}
		body = append(body, enterprise...)
		body = append(body, ber.Encode(ber.TagOctetString, p.AgentAddr[:])...)
		body = append(body, ber.EncodeInteger(ber.TagInteger, int64(p.GenericTrap))...)
		body = append(body, ber.EncodeInteger(ber.TagInteger, int64(p.SpecificTrap))...)
		body = append(body, ber.EncodeInteger(ber.TagInteger, int64(p.Timestamp))...)
	} else {
		body = append(body, ber.EncodeInteger(ber.TagInteger, int64(p.RequestID))...)
		second, third := int64(p.ErrorStatus), int64(p.ErrorIndex)
		if p.Type == pdu.TypeGetBulk {
			second, third = int64(p.NonRepeaters), int64(p.MaxRepetitions)
		}
		body = append(body, ber.EncodeInteger(ber.TagInteger, second)...)
		body = append(body, ber.EncodeInteger(ber.TagInteger, third)...)
	}
	body = append(body, encodeVarBindList(p.VarBinds)...)
	pduWire := ber.Encode(tag, body)

	msg := ber.EncodeInteger(ber.TagInteger, m.version)
	msg = append(msg, ber.Encode(ber.TagOctetString, community)...)
	msg = append(msg, pduWire...)
	return ber.Encode(ber.TagSequence, msg), nil
}

func (m *V1V2c) PrepareDataElements(in *IncomingMessage) (*DecodedMessage, Status, error) {
	seqTag, seqVal, _, err := ber.ReadTLV(in.Buf)
	if err != nil {
		return nil, StatusParseError, err
	}
	if seqTag != ber.TagSequence {
		return nil, StatusParseError, fmt.Errorf("mp: expected SEQUENCE, got 0x%02x", seqTag)
	}

	_, verVal, consumed, err := ber.ReadTLV(seqVal)
	if err != nil {
		return nil, StatusParseError, err
	}
	version, err := ber.DecodeInteger(verVal)
	if err != nil {
		return nil, StatusParseError, err
	}
	rest := seqVal[consumed:]

	_, community, consumed, err := ber.ReadTLV(rest)
	if err != nil {
		return nil, StatusParseError, err
	}
	rest = rest[consumed:]

	pduTag, pduVal, _, err := ber.ReadTLV(rest)
	if err != nil {
		return nil, StatusParseError, err
	}
	pType, ok := pduTypeByTag[pduTag]
	if !ok {
		return nil, StatusParseError, fmt.Errorf("mp: unrecognized PDU tag 0x%02x", pduTag)
	}

	out := pdu.NewPDU(pType)
	if pType == pdu.TypeV1Trap {
		if err := decodeV1Trap(out, pduVal); err != nil {
			return nil, StatusParseError, err
		}
	} else {
		if err := decodeStandardPDU(out, pduVal); err != nil {
			return nil, StatusParseError, err
		}
	}

	return &DecodedMessage{
		MPModel:       m.modelID,
		SecurityModel: securityModelForVersion(int(version)),
		SecurityName:  append([]byte(nil), community...),
		SecurityLevel: pdu.SecurityLevelNoAuthNoPriv,
		PDU:           out,
		Handle:        pdu.Handle(out.RequestID),
	}, StatusOK, nil
}

func securityModelForVersion(version int) int {
	if version == 0 {
		return pdu.SecurityModelSNMPv1
	}
	return pdu.SecurityModelSNMPv2c
}

func decodeStandardPDU(out *pdu.PDU, val []byte) error {
	_, reqIDVal, consumed, err := ber.ReadTLV(val)
	if err != nil {
		return err
	}
	reqID, err := ber.DecodeInteger(reqIDVal)
	if err != nil {
		return err
	}
	out.RequestID = int32(reqID)
	val = val[consumed:]

	_, secondVal, consumed, err := ber.ReadTLV(val)
	if err != nil {
		return err
	}
	second, err := ber.DecodeInteger(secondVal)
	if err != nil {
		return err
	}
	val = val[consumed:]

	_, thirdVal, consumed, err := ber.ReadTLV(val)
	if err != nil {
		return err
	}
	third, err := ber.DecodeInteger(thirdVal)
	if err != nil {
		return err
	}
	val = val[consumed:]

	if out.Type == pdu.TypeGetBulk {
		out.NonRepeaters, out.MaxRepetitions = int(second), int(third)
	} else {
		out.ErrorStatus, out.ErrorIndex = int(second), int(third)
	}

	varbinds, err := decodeVarBindList(val)
	if err != nil {
		return err
	}
	out.VarBinds = varbinds
	return nil
}

func decodeV1Trap(out *pdu.PDU, val []byte) error {
	_, entVal, consumed, err := ber.ReadTLV(val)
	if err != nil {
		return err
	}
	enterprise, err := ber.DecodeOID(entVal)
	if err != nil {
		return err
	}
	out.EnterpriseOID = enterprise
	val = val[consumed:]

	_, addrVal, consumed, err := ber.ReadTLV(val)
	if err != nil {
		return err
	}
	if len(addrVal) != 4 {
		return errors.New("mp: v1 trap agent-addr must be 4 bytes")
	}
	copy(out.AgentAddr[:], addrVal)
	val = val[consumed:]

	_, genVal, consumed, err := ber.ReadTLV(val)
	if err != nil {
		return err
	}
	gen, err := ber.DecodeInteger(genVal)
	if err != nil {
		return err
	}
	out.GenericTrap = int(gen)
	val = val[consumed:]

	_, specVal, consumed, err := ber.ReadTLV(val)
	if err != nil {
		return err
	}
	spec, err := ber.DecodeInteger(specVal)
	if err != nil {
		return err
	}
	out.SpecificTrap = int(spec)
	val = val[consumed:]

	_, tsVal, consumed, err := ber.ReadTLV(val)
	if err != nil {
		return err
	}
	ts, err := ber.DecodeInteger(tsVal)
	if err != nil {
		return err
	}
	out.Timestamp = uint32(ts)
	val = val[consumed:]

	varbinds, err := decodeVarBindList(val)
	if err != nil {
		return err
	}
	out.VarBinds = varbinds
	return nil
}

func encodeVarBindList(binds []pdu.VarBind) []byte {
	var list []byte
	for _, vb := range binds {
		list = append(list, encodeVarBind(vb)...)
	}
	return ber.Encode(ber.TagSequence, list)
}

func encodeVarBind(vb pdu.VarBind) []byte {
	oidWire, err := ber.EncodeOID(vb.OID)
	if err != nil {
		oidWire = ber.Encode(ber.TagOID, nil)
	}
	valueWire := encodeValue(vb.Value)
	body := append(append([]byte{}, oidWire...), valueWire...)
	return ber.Encode(ber.TagSequence, body)
}

func encodeValue(v interface{}) []byte {
	switch val := v.(type) {
	case nil:
		return ber.Encode(ber.TagNull, nil)
	case []byte:
		return ber.Encode(ber.TagOctetString, val)
	case string:
		return ber.Encode(ber.TagOctetString, []byte(val))
	case int64:
		return ber.EncodeInteger(ber.TagInteger, val)
	case int:
		return ber.EncodeInteger(ber.TagInteger, int64(val))
	case pdu.OID:
		wire, err := ber.EncodeOID(val)
		if err != nil {
			return ber.Encode(ber.TagOID, nil)
		}
		return wire
	case pdu.Exception:
		switch val {
		case pdu.ExceptionNoSuchObject:
			return ber.Encode(tagNoSuchObject, nil)
		case pdu.ExceptionNoSuchInstance:
			return ber.Encode(tagNoSuchInstance, nil)
		default:
			return ber.Encode(tagEndOfMibView, nil)
		}
	default:
		return ber.Encode(ber.TagNull, nil)
	}
}

func decodeVarBindList(val []byte) ([]pdu.VarBind, error) {
	_, listVal, _, err := ber.ReadTLV(val)
	if err != nil {
		return nil, err
	}
	var out []pdu.VarBind
	for len(listVal) > 0 {
		_, entry, consumed, err := ber.ReadTLV(listVal)
		if err != nil {
			return nil, err
		}
		vb, err := decodeVarBind(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, vb)
		listVal = listVal[consumed:]
	}
	return out, nil
}

func decodeVarBind(entry []byte) (pdu.VarBind, error) {
	_, oidVal, consumed, err := ber.ReadTLV(entry)
	if err != nil {
		return pdu.VarBind{}, err
	}
	oid, err := ber.DecodeOID(oidVal)
	if err != nil {
		return pdu.VarBind{}, err
	}
	entry = entry[consumed:]

	valTag, valVal, _, err := ber.ReadTLV(entry)
	if err != nil {
		return pdu.VarBind{}, err
	}
	value, err := decodeValue(valTag, valVal)
	if err != nil {
		return pdu.VarBind{}, err
	}
	return pdu.VarBind{OID: pdu.OID(oid), Value: value}, nil
}

func decodeValue(tag byte, val []byte) (interface{}, error) {
	switch tag {
	case ber.TagNull:
		return nil, nil
	case ber.TagOctetString:
		return append([]byte(nil), val...), nil
	case ber.TagInteger:
		return ber.DecodeInteger(val)
	case ber.TagOID:
		arcs, err := ber.DecodeOID(val)
		if err != nil {
			return nil, err
		}
		return pdu.OID(arcs), nil
	case tagNoSuchObject:
		return pdu.ExceptionNoSuchObject, nil
	case tagNoSuchInstance:
		return pdu.ExceptionNoSuchInstance, nil
	case tagEndOfMibView:
		return pdu.ExceptionEndOfMibView, nil
	default:
		return append([]byte(nil), val...), nil
	}
}
