// Package addr implements the tagged-variant transport address used to
// select message-processing models and transport mappings by destination
// address class (see §3 "Transport Address" and §4.1 "Address & Transport
// Registry").
//
// Java SNMP engines lean on class inheritance (UdpAddress -> IpAddress ->
// GenericAddress) to walk a compatibility hierarchy at transport lookup
// time. Go has no class hierarchy, so Class carries an explicit parent via
// Super(), and IsTransportCompatible walks it the same way transport.Registry
// walks Super() when it looks up a mapping for an address class.
package addr

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Class identifies the runtime type of an Address and doubles as the key
// used by the transport registry (§4.1).
type Class uint8

const (
	// ClassGeneric is the root of the hierarchy; every class walks up to it.
	ClassGeneric Class = iota
	ClassIP
	ClassUDP
	ClassTCP
	ClassTLS
	ClassDTLS
)

// Super returns the immediate parent class in the hierarchy walked by
// registry lookup (§4.1 step 2), or (ClassGeneric, false) once the root
// itself is reached.
func (c Class) Super() (Class, bool) {
	switch c {
	case ClassUDP, ClassTCP:
		return ClassIP, true
	case ClassTLS:
		return ClassTCP, true
	case ClassDTLS:
		return ClassUDP, true
	case ClassIP:
		return ClassGeneric, true
	default:
		return ClassGeneric, false
	}
}

func (c Class) String() string {
	switch c {
	case ClassGeneric:
		return "Generic"
	case ClassIP:
		return "IP"
	case ClassUDP:
		return "UDP"
	case ClassTCP:
		return "TCP"
	case ClassTLS:
		return "TLS"
	case ClassDTLS:
		return "DTLS"
	default:
		return fmt.Sprintf("Class(%d)", uint8(c))
	}
}

// Address is the tagged-variant transport address from §3. It carries
// enough information to be turned into a net.Addr for whichever transport
// mapping ends up handling it.
type Address struct {
	class Class
	ip    net.IP
	port  uint16
}

// NewUDP builds a UDP transport address over IPv4 or IPv6.
func NewUDP(ip net.IP, port uint16) *Address { return &Address{class: ClassUDP, ip: ip, port: port} }

// NewTCP builds a TCP transport address.
func NewTCP(ip net.IP, port uint16) *Address { return &Address{class: ClassTCP, ip: ip, port: port} }

// NewTLS builds a TLS-over-TCP transport address (RFC 6353).
func NewTLS(ip net.IP, port uint16) *Address { return &Address{class: ClassTLS, ip: ip, port: port} }

// NewDTLS builds a DTLS-over-UDP transport address (RFC 6353/7525).
func NewDTLS(ip net.IP, port uint16) *Address { return &Address{class: ClassDTLS, ip: ip, port: port} }

// Class returns the address's runtime class.
func (a *Address) Class() Class { return a.class }

// IP returns the address's IP component.
func (a *Address) IP() net.IP { return a.ip }

// Port returns the address's UDP/TCP port.
func (a *Address) Port() uint16 { return a.port }

// IsTransportCompatible reports whether a transport whose primary supported
// class is `candidate` may carry traffic for this address, per §3's
// is_transport_compatible predicate: true on an exact match, or if walking
// up this address's class hierarchy reaches candidate.
func (a *Address) IsTransportCompatible(candidate Class) bool {
	c := a.class
	for {
		if c == candidate {
			return true
		}
		next, ok := c.Super()
		if !ok {
			return false
		}
		c = next
	}
}

// String renders the address as class://host:port.
func (a *Address) String() string {
	host := "<nil>"
	if a.ip != nil {
		host = a.ip.String()
	}
	return fmt.Sprintf("%s://%s", a.class, net.JoinHostPort(host, strconv.Itoa(int(a.port))))
}

// ToNetAddr converts the Address into the stdlib net.Addr its transport
// mapping expects to dial or compare against.
func (a *Address) ToNetAddr() net.Addr {
	switch a.class {
	case ClassTCP, ClassTLS:
		return &net.TCPAddr{IP: a.ip, Port: int(a.port)}
	default:
		return &net.UDPAddr{IP: a.ip, Port: int(a.port)}
	}
}

// FromNetAddr classifies a net.Addr into an Address of the given class. The
// class must be supplied by the caller (a net.Addr alone can't tell UDP from
// DTLS — both ride net.UDPAddr) which mirrors how a TransportMapping in this
// library always knows its own class when it hands an address to the
// registry.
func FromNetAddr(network net.Addr, class Class) (*Address, error) {
	if network == nil {
		return nil, errors.New("addr: nil net.Addr")
	}
	switch a := network.(type) {
	case *net.UDPAddr:
		return &Address{class: class, ip: a.IP, port: uint16(a.Port)}, nil
	case *net.TCPAddr:
		return &Address{class: class, ip: a.IP, port: uint16(a.Port)}, nil
	default:
		host, portStr, err := net.SplitHostPort(network.String())
		if err != nil {
			return nil, fmt.Errorf("addr: cannot parse %q: %w", network.String(), err)
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("addr: invalid IP %q", host)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("addr: invalid port %q: %w", portStr, err)
		}
		return &Address{class: class, ip: ip, port: uint16(port)}, nil
	}
}
