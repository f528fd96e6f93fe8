// Package model holds the overlay's wire-agnostic data model: network
// contacts, node profiles, and the peer-database entry shape. None of
// these types know how to serialize themselves onto the wire; that is
// internal/wire's job.
package model

import (
	"fmt"
	"net"
	"time"

	"github.com/zeebo/errs"

	"github.com/BasicAcid/locnet/internal/spatial"
)

// ValidationErr maps to ERROR_INVALID_VALUE on the wire.
var ValidationErr = errs.Class("model validation")

// AddressType distinguishes packed IPv4 from IPv6 contacts.
type AddressType int

const (
	Ipv4 AddressType = iota
	Ipv6
)

func (t AddressType) String() string {
	if t == Ipv6 {
		return "ipv6"
	}
	return "ipv4"
}

// NetworkInterface is a reachable (address, port) pair for a node or service.
type NetworkInterface struct {
	AddressType AddressType
	Address     string // canonical textual form
	Port        uint16
}

// NewNetworkInterface validates and builds a NetworkInterface.
func NewNetworkInterface(addrType AddressType, address string, port int) (NetworkInterface, error) {
	if port < 1 || port > 65535 {
		return NetworkInterface{}, ValidationErr.New("port %d out of range [1, 65535]", port)
	}
	ip := net.ParseIP(address)
	if ip == nil {
		return NetworkInterface{}, ValidationErr.New("%q is not a valid IP address", address)
	}
	switch addrType {
	case Ipv4:
		if ip.To4() == nil {
			return NetworkInterface{}, ValidationErr.New("%q is not a valid IPv4 address", address)
		}
	case Ipv6:
		if ip.To4() != nil {
			// Reject anything with an IPv4 form under an Ipv6 tag: plain
			// dotted-quad and IPv4-mapped addresses alike.
			return NetworkInterface{}, ValidationErr.New("%q is not a valid IPv6 address", address)
		}
	default:
		return NetworkInterface{}, ValidationErr.New("unknown address type %v", addrType)
	}
	return NetworkInterface{AddressType: addrType, Address: ip.String(), Port: uint16(port)}, nil
}

// PackedBytes returns the 4-byte (IPv4) or 16-byte (IPv6) wire form.
func (n NetworkInterface) PackedBytes() ([]byte, error) {
	ip := net.ParseIP(n.Address)
	if ip == nil {
		return nil, ValidationErr.New("%q is not a valid IP address", n.Address)
	}
	switch n.AddressType {
	case Ipv4:
		v4 := ip.To4()
		if v4 == nil {
			return nil, ValidationErr.New("%q has no IPv4 representation", n.Address)
		}
		return []byte(v4), nil
	case Ipv6:
		v6 := ip.To16()
		if v6 == nil {
			return nil, ValidationErr.New("%q has no IPv6 representation", n.Address)
		}
		return []byte(v6), nil
	default:
		return nil, ValidationErr.New("unknown address type %v", n.AddressType)
	}
}

// NetworkInterfaceFromBytes reconstructs a NetworkInterface from its packed
// wire form. len(addr) must be 4 or 16.
func NetworkInterfaceFromBytes(addr []byte, port int) (NetworkInterface, error) {
	switch len(addr) {
	case net.IPv4len:
		return NewNetworkInterface(Ipv4, net.IP(addr).String(), port)
	case net.IPv6len:
		return NewNetworkInterface(Ipv6, net.IP(addr).String(), port)
	default:
		return NetworkInterface{}, ValidationErr.New("packed address must be 4 or 16 bytes, got %d", len(addr))
	}
}

func (n NetworkInterface) String() string {
	return fmt.Sprintf("%s:%d", n.Address, n.Port)
}

// NodeProfile identifies a node by id and its ordered set of contacts.
type NodeProfile struct {
	ID       string
	Contacts []NetworkInterface
}

// NewNodeProfile validates a non-empty id.
func NewNodeProfile(id string, contacts []NetworkInterface) (NodeProfile, error) {
	if id == "" {
		return NodeProfile{}, ValidationErr.New("node id must not be empty")
	}
	return NodeProfile{ID: id, Contacts: contacts}, nil
}

// Equal compares id and contact sequence element-wise.
func (p NodeProfile) Equal(o NodeProfile) bool {
	if p.ID != o.ID || len(p.Contacts) != len(o.Contacts) {
		return false
	}
	for i := range p.Contacts {
		if p.Contacts[i] != o.Contacts[i] {
			return false
		}
	}
	return true
}

// NodeInfo pairs a profile with its claimed geographic location.
type NodeInfo struct {
	Profile  NodeProfile
	Location spatial.GpsLocation
}

// NodeRelationType classifies why a peer is stored.
type NodeRelationType int

const (
	RelationColleague NodeRelationType = iota
	RelationNeighbour
	RelationSelf
)

func (r NodeRelationType) String() string {
	switch r {
	case RelationColleague:
		return "colleague"
	case RelationNeighbour:
		return "neighbour"
	case RelationSelf:
		return "self"
	default:
		return "unknown"
	}
}

// NodeContactRoleType records which side initiated the relationship.
type NodeContactRoleType int

const (
	RoleInitiator NodeContactRoleType = iota
	RoleAcceptor
)

func (r NodeContactRoleType) String() string {
	if r == RoleAcceptor {
		return "acceptor"
	}
	return "initiator"
}

// NodeDbEntry is a NodeInfo augmented with the peer database's bookkeeping.
type NodeDbEntry struct {
	NodeInfo
	RelationType NodeRelationType
	RoleType     NodeContactRoleType
	ExpiresAt    time.Time
}

// ServiceType enumerates the locally-attached service kinds a node can
// publish contact information for.
type ServiceType int

const (
	ServiceUnstructured ServiceType = iota
	ServiceContent
	ServiceLatency
	ServiceLocation
	ServiceToken
	ServiceProfileType
	ServiceProximity
	ServiceRelay
	ServiceReputation
	ServiceMinting
)

func (s ServiceType) String() string {
	names := [...]string{
		"Unstructured", "Content", "Latency", "Location", "Token",
		"Profile", "Proximity", "Relay", "Reputation", "Minting",
	}
	if int(s) < 0 || int(s) >= len(names) {
		return "Unknown"
	}
	return names[s]
}

// ServiceProfile describes how to reach a locally-attached service.
type ServiceProfile struct {
	ServiceID string
	Contacts  []NetworkInterface
}
