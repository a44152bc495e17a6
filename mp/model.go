// Package mp implements the Message Processing Models (§4.2): MPv1, MPv2c,
// and MPv3 (with the User Security Model). Each model encodes/decodes one
// SNMP version's wire message and, for v3, applies the configured security
// model.
package mp

import (
	"github.com/netmgmt/snmpcore/addr"
	"github.com/netmgmt/snmpcore/pdu"
	"github.com/netmgmt/snmpcore/txstate"
)

// Status is the outcome of an MP operation (§4.2, §7). Zero value is OK.
type Status int

const (
	StatusOK Status = iota
	StatusUnsupportedSecurityModel
	StatusUnsupportedSecurityLevel
	StatusNotInTimeWindow
	StatusUnknownSecurityName
	StatusUnknownEngineID
	StatusAuthenticationFailure
	StatusDecryptionError
	StatusUnsupportedMPModel
	StatusParseError
	StatusTooBig
	StatusTSMInadequateSecurity
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnsupportedSecurityModel:
		return "unsupportedSecurityModel"
	case StatusUnsupportedSecurityLevel:
		return "unsupportedSecurityLevel"
	case StatusNotInTimeWindow:
		return "notInTimeWindow"
	case StatusUnknownSecurityName:
		return "unknownSecurityName"
	case StatusUnknownEngineID:
		return "unknownEngineID"
	case StatusAuthenticationFailure:
		return "authenticationFailure"
	case StatusDecryptionError:
		return "decryptionError"
	case StatusUnsupportedMPModel:
		return "unsupportedMPModel"
	case StatusParseError:
		return "parseError"
	case StatusTooBig:
		return "tooBig"
	case StatusTSMInadequateSecurity:
		return "tsmInadequateSecurity"
	default:
		return "unknown"
	}
}

// Error wraps a non-OK Status as an error, so MP methods can return
// (nil, err) while callers that need the code can still recover it via
// errors.As.
type Error struct {
	Status Status
}

func (e *Error) Error() string { return "mp: " + e.Status.String() }

// OutgoingRequest is the input to PrepareOutgoingMessage (§4.2).
type OutgoingRequest struct {
	Dest            *addr.Address
	MaxMessageSize  int
	SecurityModel   int
	SecurityName    []byte
	SecurityLevel   pdu.SecurityLevel
	PDU             *pdu.PDU
	ScopedPDU       *pdu.ScopedPDU // set for v3; nil for v1/v2c
	ExpectResponse  bool
	Handle          pdu.Handle
	StateRef        *txstate.Reference
}

// OutgoingResult is the output of a successful PrepareOutgoingMessage.
type OutgoingResult struct {
	Wire []byte
}

// IncomingMessage is the input to PrepareDataElements (§4.2).
type IncomingMessage struct {
	Source   *addr.Address
	Buf      []byte
	StateRef *txstate.Reference
}

// DecodedMessage is the output of a successful PrepareDataElements.
type DecodedMessage struct {
	MPModel         int
	SecurityModel   int
	SecurityName    []byte
	SecurityLevel   pdu.SecurityLevel
	PDU             *pdu.PDU
	ScopedPDU       *pdu.ScopedPDU
	Handle          pdu.Handle
	MaxSizeResponse int
	StateRef        *txstate.Reference
}

// Model is one version-specific message processing model (§4.2).
type Model interface {
	// ID returns the MP model identifier (1, 2, or 3).
	ID() int

	// PrepareOutgoingMessage encodes req into a wire message.
	PrepareOutgoingMessage(req *OutgoingRequest) (*OutgoingResult, Status, error)

	// PrepareDataElements decodes an inbound wire message.
	PrepareDataElements(msg *IncomingMessage) (*DecodedMessage, Status, error)

	// PrepareResponseMessage encodes a RESPONSE or REPORT PDU being sent
	// back to the original requester, reusing the security/state context
	// the original request carried.
	PrepareResponseMessage(req *OutgoingRequest) (*OutgoingResult, Status, error)

	// ReleaseStateReference drops any per-handle state the model was
	// holding for an in-flight request (§4.2).
	ReleaseStateReference(handle pdu.Handle)

	// SupportsEngineIDDiscovery reports whether this model learns engine
	// IDs on its own (MPv3/USM through its Report exchange), so the engine
	// need not chain an RFC 5343 discovery GET ahead of a ScopedPDU whose
	// contextEngineID is empty. False only for MPv3 configured with TSM
	// (§4.2, §4.4 step 3).
	SupportsEngineIDDiscovery() bool
}

// Registry is the MP-model-by-id array from §4.2: "registered in an array
// indexed by model id... adding the same id twice is idempotent (keeps
// first)".
type Registry struct {
	models map[int]Model
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[int]Model)}
}

// Add registers model under its own ID, unless an id is already taken.
func (r *Registry) Add(model Model) {
	if _, exists := r.models[model.ID()]; exists {
		return
	}
	r.models[model.ID()] = model
}

// Get returns the model registered for id, or (nil, false) if out of range
// / unregistered.
func (r *Registry) Get(id int) (Model, bool) {
	m, ok := r.models[id]
	return m, ok
}
