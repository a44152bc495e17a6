package mp

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/netmgmt/snmpcore/ber"
	"github.com/netmgmt/snmpcore/pdu"
	"github.com/netmgmt/snmpcore/usm"
)

// msgFlags bits (RFC 3414 §6.4).
const (
	flagAuth       = 0x01
	flagPriv       = 0x02
	flagReportable = 0x04
)

// V3 implements MPv3 (§4.2): the SNMPv3 header wrapper plus USM/TSM
// security processing, engine-ID/time caching, and discovery support.
type V3 struct {
	mu      sync.Mutex
	nextMsg int32

	Users  *usm.UserTable
	Cache  *usm.EngineCache
	// LocalEngineID is this engine's own authoritative engine ID, used when
	// we are the authoritative party responding to a discovery GET and as
	// the scopedPDU contextEngineID default (§4.4 step 3, RFC 5343).
	LocalEngineID []byte
	// LocalEngineBoots/LocalEngineTime are this engine's own boots/time
	// counters, stamped into authoritative outgoing messages (responses,
	// reports); a non-authoritative request leaves these fields zero and is
	// authenticated against the *peer's* cached boots/time instead.
	LocalEngineBoots int32
	LocalEngineTime  int32

	// securityModel lets a V3 instance be pinned to TSM (transport-provided
	// security, no USM crypto) instead of USM; spec §4.2 calls this out as
	// the one case where SupportsEngineIDDiscovery is false.
	securityModel int
}

// NewV3USM returns an MPv3 model backed by the User Security Model.
func NewV3USM(users *usm.UserTable, cache *usm.EngineCache, localEngineID []byte) *V3 {
	return &V3{
		nextMsg:       1,
		Users:         users,
		Cache:         cache,
		LocalEngineID: append([]byte(nil), localEngineID...),
		securityModel: pdu.SecurityModelUSM,
	}
}

// NewV3TSM returns an MPv3 model that relies entirely on the transport
// layer (TLS/DTLS) for authentication and privacy (RFC 6353); no USM keys
// are consulted and engine-ID discovery is never run on the caller's
// behalf, since TSM has no USM report exchange to drive it.
func NewV3TSM(localEngineID []byte) *V3 {
	return &V3{
		nextMsg:       1,
		LocalEngineID: append([]byte(nil), localEngineID...),
		securityModel: pdu.SecurityModelTSM,
	}
}

func (m *V3) ID() int { return 3 }

func (m *V3) SupportsEngineIDDiscovery() bool { return m.securityModel == pdu.SecurityModelUSM }

func (m *V3) ReleaseStateReference(pdu.Handle) {}

// RegisterEngineID seeds the peer->authoritative-engine-ID cache from a
// UserTarget the caller already knows out of band (§4.3 step 8), so the
// first request to that peer skips RFC 5343 discovery entirely. No-op for
// TSM models, which keep no USM engine cache.
func (m *V3) RegisterEngineID(peer string, engineID []byte) {
	if m.Cache == nil || len(engineID) == 0 {
		return
	}
	m.Cache.SetEngineID(peer, engineID)
}

// nextMessageID allocates the next msgID (RFC 3412 §6.3), a 31-bit value
// distinct from the dispatcher's request-ID handle space.
func (m *V3) nextMessageID() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextMsg
	m.nextMsg++
	if m.nextMsg <= 0 {
		m.nextMsg = 1
	}
	return id
}

func flagsFor(level pdu.SecurityLevel, reportable bool) byte {
	var f byte
	if level == pdu.SecurityLevelAuthNoPriv || level == pdu.SecurityLevelAuthPriv {
		f |= flagAuth
	}
	if level == pdu.SecurityLevelAuthPriv {
		f |= flagPriv
	}
	if reportable {
		f |= flagReportable
	}
	return f
}

func (m *V3) PrepareOutgoingMessage(req *OutgoingRequest) (*OutgoingResult, Status, error) {
	return m.prepare(req, req.PDU.Type.IsConfirmed())
}

func (m *V3) PrepareResponseMessage(req *OutgoingRequest) (*OutgoingResult, Status, error) {
	return m.prepare(req, false)
}

func (m *V3) prepare(req *OutgoingRequest, reportable bool) (*OutgoingResult, Status, error) {
	scoped := req.ScopedPDU
	if scoped == nil {
		scoped = pdu.NewScopedPDU(req.PDU)
	}
	if len(scoped.ContextEngineID) == 0 {
		scoped.ContextEngineID = append([]byte(nil), m.LocalEngineID...)
	}

	level := req.SecurityLevel
	msgID := m.nextMessageID()
	flags := flagsFor(level, reportable)

	global := ber.EncodeInteger(ber.TagInteger, int64(msgID))
	global = append(global, ber.EncodeInteger(ber.TagInteger, int64(req.MaxMessageSize))...)
	global = append(global, ber.Encode(ber.TagOctetString, []byte{flags})...)
	global = append(global, ber.EncodeInteger(ber.TagInteger, int64(req.SecurityModel))...)
	globalWire := ber.Encode(ber.TagSequence, global)

	var authEngineID []byte
	var engineBoots, engineTime int32
	if req.SecurityModel == pdu.SecurityModelUSM {
		authEngineID = m.LocalEngineID
		engineBoots, engineTime = m.LocalEngineBoots, m.LocalEngineTime
		if cached, ok := m.peerEngineID(req); ok {
			authEngineID = cached
		}
	}

	scopedWire, err := encodeScopedPDU(scoped)
	if err != nil {
		return nil, StatusParseError, err
	}

	var secParams []byte
	var payload []byte
	var authKey, privKey []byte

	if req.SecurityModel == pdu.SecurityModelUSM && (level == pdu.SecurityLevelAuthNoPriv || level == pdu.SecurityLevelAuthPriv) {
		if m.Users == nil {
			return nil, StatusUnsupportedSecurityLevel, errors.New("mp: v3 USM requested but no user table configured")
		}
		authKey, privKey, err = m.Users.LocalizedKeys(req.SecurityName, authEngineID)
		if err != nil {
			return nil, StatusUnknownSecurityName, err
		}
	}

	user, _ := userFor(m.Users, req.SecurityName)

	payload = scopedWire
	var privParams []byte
	if level == pdu.SecurityLevelAuthPriv {
		if user == nil || user.PrivProtocol == usm.PrivNone {
			return nil, StatusUnsupportedSecurityLevel, errors.New("mp: v3 authPriv requested but user has no privacy protocol")
		}
		iv := make([]byte, 16)
		if _, randErr := rand.Read(iv); randErr != nil {
			return nil, StatusDecryptionError, randErr
		}
		ciphertext, encErr := user.PrivProtocol.Encrypt(privKey, iv[:ivLenFor(user.PrivProtocol)], scopedWire)
		if encErr != nil {
			return nil, StatusDecryptionError, encErr
		}
		payload = ber.Encode(ber.TagOctetString, ciphertext)
		privParams = iv[:ivLenFor(user.PrivProtocol)]
	}

	placeholderAuth := make([]byte, authParamsLenFor(user, level))

	secParamsBody := ber.Encode(ber.TagOctetString, authEngineID)
	secParamsBody = append(secParamsBody, ber.EncodeInteger(ber.TagInteger, int64(engineBoots))...)
	secParamsBody = append(secParamsBody, ber.EncodeInteger(ber.TagInteger, int64(engineTime))...)
	secParamsBody = append(secParamsBody, ber.Encode(ber.TagOctetString, req.SecurityName)...)
	secParamsBody = append(secParamsBody, ber.Encode(ber.TagOctetString, placeholderAuth)...)
	secParamsBody = append(secParamsBody, ber.Encode(ber.TagOctetString, privParams)...)
	secParams = ber.Encode(ber.TagOctetString, ber.Encode(ber.TagSequence, secParamsBody))

	msg := ber.EncodeInteger(ber.TagInteger, 3)
	msg = append(msg, globalWire...)
	msg = append(msg, secParams...)
	msg = append(msg, payload...)
	wholeMessage := ber.Encode(ber.TagSequence, msg)

	if len(placeholderAuth) > 0 {
		digest, authErr := user.AuthProtocol.Authenticate(authKey, wholeMessage)
		if authErr != nil {
			return nil, StatusAuthenticationFailure, authErr
		}
		wholeMessage = patchAuthParams(wholeMessage, placeholderAuth, digest)
	}

	return &OutgoingResult{Wire: wholeMessage}, StatusOK, nil
}

func ivLenFor(p usm.PrivProtocol) int {
	if p == usm.PrivDES {
		return 8
	}
	return 16
}

func authParamsLenFor(user *usm.User, level pdu.SecurityLevel) int {
	if user == nil || level == pdu.SecurityLevelNoAuthNoPriv {
		return 0
	}
	n := user.AuthProtocol.DigestLength()
	switch user.AuthProtocol {
	case usm.AuthHMACMD5, usm.AuthHMACSHA1:
		return 12
	case usm.AuthHMACSHA224:
		return 16
	case usm.AuthHMACSHA256:
		return 24
	case usm.AuthHMACSHA384:
		return 32
	case usm.AuthHMACSHA512:
		return 48
	default:
		return n
	}
}

func userFor(table *usm.UserTable, securityName []byte) (*usm.User, bool) {
	if table == nil {
		return nil, false
	}
	return table.Lookup(securityName)
}

// patchAuthParams replaces the first occurrence of placeholder (a run of
// zero bytes the length of the digest) with the real digest. The
// authenticationParameters field is the only zero-run of that exact length
// we emit, so a direct search-and-replace is safe and avoids re-deriving
// the byte offset through a second encoding pass.
func patchAuthParams(wholeMessage, placeholder, digest []byte) []byte {
	if len(placeholder) == 0 {
		return wholeMessage
	}
	idx := bytes.Index(wholeMessage, placeholder)
	if idx < 0 {
		return wholeMessage
	}
	out := append([]byte(nil), wholeMessage...)
	copy(out[idx:idx+len(digest)], digest)
	return out
}

func (m *V3) peerEngineID(req *OutgoingRequest) ([]byte, bool) {
	if m.Cache == nil || req.Dest == nil {
		return nil, false
	}
	return m.Cache.EngineIDFor(req.Dest.String())
}

func encodeScopedPDU(s *pdu.ScopedPDU) ([]byte, error) {
	body := ber.Encode(ber.TagOctetString, s.ContextEngineID)
	body = append(body, ber.Encode(ber.TagOctetString, []byte(s.ContextName))...)

	tag, ok := pduTagByType[s.PDU.Type]
	if !ok {
		return nil, fmt.Errorf("mp: v3 cannot encode PDU type %s", s.PDU.Type)
	}
	var pduBody []byte
	pduBody = append(pduBody, ber.EncodeInteger(ber.TagInteger, int64(s.PDU.RequestID))...)
	second, third := int64(s.PDU.ErrorStatus), int64(s.PDU.ErrorIndex)
	if s.PDU.Type == pdu.TypeGetBulk {
		second, third = int64(s.PDU.NonRepeaters), int64(s.PDU.MaxRepetitions)
	}
	pduBody = append(pduBody, ber.EncodeInteger(ber.TagInteger, second)...)
	pduBody = append(pduBody, ber.EncodeInteger(ber.TagInteger, third)...)
	pduBody = append(pduBody, encodeVarBindList(s.PDU.VarBinds)...)
	body = append(body, ber.Encode(tag, pduBody)...)

	return ber.Encode(ber.TagSequence, body), nil
}

func decodeScopedPDU(val []byte) (*pdu.ScopedPDU, error) {
	_, val, _, err := ber.ReadTLV(val)
	if err != nil {
		return nil, err
	}

	_, ctxEngine, consumed, err := ber.ReadTLV(val)
	if err != nil {
		return nil, err
	}
	val = val[consumed:]

	_, ctxName, consumed, err := ber.ReadTLV(val)
	if err != nil {
		return nil, err
	}
	val = val[consumed:]

	pduTag, pduVal, _, err := ber.ReadTLV(val)
	if err != nil {
		return nil, err
	}
	pType, ok := pduTypeByTag[pduTag]
	if !ok {
		return nil, fmt.Errorf("mp: v3 unrecognized PDU tag 0x%02x", pduTag)
	}
	out := pdu.NewPDU(pType)
	if err := decodeStandardPDU(out, pduVal); err != nil {
		return nil, err
	}

	return &pdu.ScopedPDU{
		ContextEngineID: append([]byte(nil), ctxEngine...),
		ContextName:     string(ctxName),
		PDU:             out,
	}, nil
}

func (m *V3) PrepareDataElements(in *IncomingMessage) (*DecodedMessage, Status, error) {
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
	if _, err := ber.DecodeInteger(verVal); err != nil {
		return nil, StatusParseError, err
	}
	rest := seqVal[consumed:]

	_, globalVal, consumed, err := ber.ReadTLV(rest)
	if err != nil {
		return nil, StatusParseError, err
	}
	_, maxSize, flags, secModel, err := decodeGlobalData(globalVal)
	if err != nil {
		return nil, StatusParseError, err
	}
	rest = rest[consumed:]

	_, secParamsOuter, consumed, err := ber.ReadTLV(rest)
	if err != nil {
		return nil, StatusParseError, err
	}
	rest = rest[consumed:]

	authEngineID, engineBoots, engineTime, securityName, authParams, privParams, err := decodeSecurityParameters(secParamsOuter)
	if err != nil {
		return nil, StatusParseError, err
	}

	level := pdu.SecurityLevelNoAuthNoPriv
	if flags&flagAuth != 0 {
		level = pdu.SecurityLevelAuthNoPriv
	}
	if flags&flagPriv != 0 {
		level = pdu.SecurityLevelAuthPriv
	}

	var user *usm.User
	var authKey, privKey []byte
	if secModel == pdu.SecurityModelUSM && level != pdu.SecurityLevelNoAuthNoPriv {
		if m.Users == nil {
			return nil, StatusUnsupportedSecurityLevel, errors.New("mp: v3 USM message requires auth but no user table configured")
		}
		var ok bool
		user, ok = m.Users.Lookup(securityName)
		if !ok {
			return nil, StatusUnknownSecurityName, fmt.Errorf("mp: unknown security name %q", securityName)
		}
		authKey, privKey, err = m.Users.LocalizedKeys(securityName, authEngineID)
		if err != nil {
			return nil, StatusUnknownSecurityName, err
		}

		placeholder := make([]byte, len(authParams))
		zeroed := patchAuthParams(append([]byte(nil), in.Buf...), authParams, placeholder)
		ok, verErr := user.AuthProtocol.Verify(authKey, zeroed, authParams)
		if verErr != nil {
			return nil, StatusAuthenticationFailure, verErr
		}
		if !ok {
			return nil, StatusAuthenticationFailure, errors.New("mp: authentication digest mismatch")
		}

		if bytes.Equal(authEngineID, m.LocalEngineID) {
			// This engine is authoritative for the message: check it
			// against its own boots/time (RFC 3414 §3.2 step 7a).
			delta := engineTime - m.LocalEngineTime
			if delta < 0 {
				delta = -delta
			}
			if engineBoots != m.LocalEngineBoots || delta > 150 {
				return nil, StatusNotInTimeWindow, fmt.Errorf("mp: message for engine %x outside time window", authEngineID)
			}
		} else if m.Cache != nil {
			inWindow := m.Cache.InWindow(authEngineID, engineBoots, engineTime)
			m.Cache.UpdateTime(authEngineID, engineBoots, engineTime)
			if !inWindow {
				return nil, StatusNotInTimeWindow, fmt.Errorf("mp: message for engine %x outside time window", authEngineID)
			}
		}
	}

	payload := rest
	if level == pdu.SecurityLevelAuthPriv {
		if user == nil || user.PrivProtocol == usm.PrivNone {
			return nil, StatusDecryptionError, errors.New("mp: message marked private but user has no privacy protocol")
		}
		_, ciphertext, _, decErr := ber.ReadTLV(rest)
		if decErr != nil {
			return nil, StatusDecryptionError, decErr
		}
		iv := make([]byte, ivLenFor(user.PrivProtocol))
		copy(iv, privParams)
		plaintext, decErr := user.PrivProtocol.Decrypt(privKey, iv, ciphertext)
		if decErr != nil {
			return nil, StatusDecryptionError, decErr
		}
		payload = plaintext
	}

	scoped, err := decodeScopedPDU(payload)
	if err != nil {
		return nil, StatusParseError, err
	}

	if secModel == pdu.SecurityModelUSM && m.Cache != nil && in.Source != nil {
		m.Cache.SetEngineID(in.Source.String(), authEngineID)
	}

	return &DecodedMessage{
		MPModel:         3,
		SecurityModel:   secModel,
		SecurityName:    securityName,
		SecurityLevel:   level,
		PDU:             scoped.PDU,
		ScopedPDU:       scoped,
		Handle:          pdu.Handle(scoped.PDU.RequestID),
		MaxSizeResponse: int(maxSize),
		StateRef:        in.StateRef,
	}, StatusOK, nil
}

func decodeGlobalData(val []byte) (msgID int32, maxSize int32, flags byte, secModel int, err error) {
	_, idVal, consumed, err := ber.ReadTLV(val)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	id, err := ber.DecodeInteger(idVal)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	val = val[consumed:]

	_, sizeVal, consumed, err := ber.ReadTLV(val)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	size, err := ber.DecodeInteger(sizeVal)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	val = val[consumed:]

	_, flagVal, consumed, err := ber.ReadTLV(val)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if len(flagVal) != 1 {
		return 0, 0, 0, 0, errors.New("mp: msgFlags must be a single octet")
	}
	val = val[consumed:]

	_, modelVal, _, err := ber.ReadTLV(val)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	model, err := ber.DecodeInteger(modelVal)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	return int32(id), int32(size), flagVal[0], int(model), nil
}

func decodeSecurityParameters(outer []byte) (engineID []byte, boots, snmpTime int32, securityName, authParams, privParams []byte, err error) {
	_, inner, _, err := ber.ReadTLV(outer)
	if err != nil {
		return nil, 0, 0, nil, nil, nil, err
	}

	_, engineID, consumed, err := ber.ReadTLV(inner)
	if err != nil {
		return nil, 0, 0, nil, nil, nil, err
	}
	inner = inner[consumed:]

	_, bootsVal, consumed, err := ber.ReadTLV(inner)
	if err != nil {
		return nil, 0, 0, nil, nil, nil, err
	}
	bootsN, err := ber.DecodeInteger(bootsVal)
	if err != nil {
		return nil, 0, 0, nil, nil, nil, err
	}
	inner = inner[consumed:]

	_, timeVal, consumed, err := ber.ReadTLV(inner)
	if err != nil {
		return nil, 0, 0, nil, nil, nil, err
	}
	timeN, err := ber.DecodeInteger(timeVal)
	if err != nil {
		return nil, 0, 0, nil, nil, nil, err
	}
	inner = inner[consumed:]

	_, nameVal, consumed, err := ber.ReadTLV(inner)
	if err != nil {
		return nil, 0, 0, nil, nil, nil, err
	}
	inner = inner[consumed:]

	_, authVal, consumed, err := ber.ReadTLV(inner)
	if err != nil {
		return nil, 0, 0, nil, nil, nil, err
	}
	inner = inner[consumed:]

	_, privVal, _, err := ber.ReadTLV(inner)
	if err != nil {
		return nil, 0, 0, nil, nil, nil, err
	}

	return append([]byte(nil), engineID...), int32(bootsN), int32(timeN),
		append([]byte(nil), nameVal...), append([]byte(nil), authVal...), append([]byte(nil), privVal...), nil
}
