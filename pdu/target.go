package pdu

import (
	"time"

	"github.com/netmgmt/snmpcore/addr"
)

// SecurityLevel is the SNMPv3 authPriv/authNoPriv/noAuthNoPriv selector
// (RFC 3414 §3).
type SecurityLevel int

const (
	SecurityLevelNoAuthNoPriv SecurityLevel = iota
	SecurityLevelAuthNoPriv
	SecurityLevelAuthPriv
)

// Security model identifiers (RFC 3411 §5).
const (
	SecurityModelSNMPv1 = 1
	SecurityModelSNMPv2c = 2
	SecurityModelUSM    = 3
	SecurityModelTSM    = 4
)

// Target is the destination and delivery policy for an outbound PDU (§3).
// It is snapshotted (duplicated) into every PendingRequest at send time so
// retries see a stable view even if the caller mutates the original.
type Target struct {
	Address               *addr.Address
	Version               int // 1, 2 (v2c), or 3
	Retries               int
	Timeout               time.Duration
	MaxSizeRequestPDU     int
	SecurityModel         int
	SecurityName          []byte
	SecurityLevel         SecurityLevel
	PreferredTransports   []addr.Class
}

// Clone returns a deep-enough copy for PendingRequest's "target snapshot"
// field (§3 "PendingRequest").
func (t *Target) Clone() *Target {
	clone := *t
	clone.SecurityName = append([]byte(nil), t.SecurityName...)
	clone.PreferredTransports = append([]addr.Class(nil), t.PreferredTransports...)
	return &clone
}

// UserTarget extends Target with the authoritative SNMPv3 engine ID, used
// when it's already known out of band (§3).
type UserTarget struct {
	Target
	AuthoritativeEngineID []byte
}

// Clone deep-copies a UserTarget.
func (u *UserTarget) Clone() *UserTarget {
	base := u.Target.Clone()
	return &UserTarget{
		Target:                *base,
		AuthoritativeEngineID: append([]byte(nil), u.AuthoritativeEngineID...),
	}
}

// DirectUserTarget bypasses the USM user table: it carries already-localized
// authentication/privacy keys and their protocol identifiers directly (§3).
type DirectUserTarget struct {
	UserTarget
	AuthProtocolOID    OID
	LocalizedAuthKey   []byte
	PrivProtocolOID    OID
	LocalizedPrivKey   []byte
}

// Clone deep-copies a DirectUserTarget.
func (d *DirectUserTarget) Clone() *DirectUserTarget {
	base := d.UserTarget.Clone()
	return &DirectUserTarget{
		UserTarget:       *base,
		AuthProtocolOID:  d.AuthProtocolOID.Clone(),
		LocalizedAuthKey: append([]byte(nil), d.LocalizedAuthKey...),
		PrivProtocolOID:  d.PrivProtocolOID.Clone(),
		LocalizedPrivKey: append([]byte(nil), d.LocalizedPrivKey...),
	}
}
