// Package txstate defines the per-message Transport State Reference (§3)
// that binds SNMPv3/TLS-TM security context across the transport, MP model,
// and dispatcher layers. It is split out from package transport so that
// mp and transport can both depend on it without an import cycle (mp
// carries it on OutgoingRequest and DecodedMessage; transport needs it to
// construct one per received/sent message).
package txstate

import (
	"github.com/google/uuid"
	"github.com/netmgmt/snmpcore/addr"
	"github.com/netmgmt/snmpcore/pdu"
)

// Reference carries the per-message transport security context (§3
// "Transport State Reference", RFC 5590 §6.1).
type Reference struct {
	// Transport identifies which registered transport mapping owns this
	// message; stored as the mapping's primary class since the mapping
	// itself lives in package transport.
	TransportClass addr.Class
	PeerAddress    *addr.Address

	SecurityName            []byte
	RequestedSecurityLevel  pdu.SecurityLevel
	ActualSecurityLevel     pdu.SecurityLevel
	SameSecurity            bool

	// SessionID is a stable per-connection identifier, standing in for the
	// Java implementation's monotonic long session counter; a generated
	// UUID serves the same correlation purpose without a shared counter.
	SessionID uuid.UUID

	// TargetSnapshot is set when the reference was built for an outbound
	// send (§4.3 step 7); nil for references built from an inbound
	// message.
	TargetSnapshot interface{}
}

// New builds a Reference for an outbound send (§4.3 step 7).
func New(transportClass addr.Class, peer *addr.Address, securityName []byte, level pdu.SecurityLevel, target interface{}) *Reference {
	return &Reference{
		TransportClass:         transportClass,
		PeerAddress:            peer,
		SecurityName:           securityName,
		RequestedSecurityLevel: level,
		ActualSecurityLevel:    level,
		SameSecurity:           true,
		SessionID:              uuid.New(),
		TargetSnapshot:         target,
	}
}
