package wire

import (
	"math"

	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/spatial"
	"github.com/BasicAcid/locnet/internal/xerrors"
)

// coordScale is the spec.md §4.C / §6 wire scaling constant: latitude and
// longitude travel as signed 32-bit integers scaled by 1,000,000, which is
// lossy at about 0.1m and explicitly accepted as such.
const coordScale = 1_000_000.0

// WireLocation is the on-the-wire encoding of a GpsLocation.
type WireLocation struct {
	LatE6 int32
	LonE6 int32
}

// ToWireLocation scales a domain GpsLocation into its wire form.
func ToWireLocation(loc spatial.GpsLocation) WireLocation {
	return WireLocation{
		LatE6: int32(math.Round(loc.Lat * coordScale)),
		LonE6: int32(math.Round(loc.Lon * coordScale)),
	}
}

// FromWireLocation reconstructs a GpsLocation from its wire form. The
// round trip is exact to within 1e-6 degrees, per spec.md §8 property 7.
func FromWireLocation(w WireLocation) (spatial.GpsLocation, error) {
	loc, err := spatial.NewGpsLocation(float64(w.LatE6)/coordScale, float64(w.LonE6)/coordScale)
	if err != nil {
		return spatial.GpsLocation{}, xerrors.Validation.Wrap(err)
	}
	return loc, nil
}

// WireContact is the packed-address on-the-wire encoding of a
// NetworkInterface; textual IP form is never sent, only used in logs.
type WireContact struct {
	IsIpv6  bool
	Address []byte // 4 bytes for IPv4, 16 for IPv6
	Port    uint16
}

func ToWireContact(ni model.NetworkInterface) (WireContact, error) {
	packed, err := ni.PackedBytes()
	if err != nil {
		return WireContact{}, xerrors.Validation.Wrap(err)
	}
	return WireContact{IsIpv6: ni.AddressType == model.Ipv6, Address: packed, Port: ni.Port}, nil
}

func FromWireContact(w WireContact) (model.NetworkInterface, error) {
	ni, err := model.NetworkInterfaceFromBytes(w.Address, int(w.Port))
	if err != nil {
		return model.NetworkInterface{}, xerrors.Validation.Wrap(err)
	}
	return ni, nil
}

func toWireContacts(contacts []model.NetworkInterface) ([]WireContact, error) {
	out := make([]WireContact, len(contacts))
	for i, c := range contacts {
		w, err := ToWireContact(c)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func fromWireContacts(contacts []WireContact) ([]model.NetworkInterface, error) {
	out := make([]model.NetworkInterface, len(contacts))
	for i, c := range contacts {
		ni, err := FromWireContact(c)
		if err != nil {
			return nil, err
		}
		out[i] = ni
	}
	return out, nil
}

// WireNodeInfo is the on-the-wire encoding of a NodeInfo.
type WireNodeInfo struct {
	NodeID   string
	Contacts []WireContact
	Location WireLocation
}

func ToWireNodeInfo(info model.NodeInfo) (WireNodeInfo, error) {
	contacts, err := toWireContacts(info.Profile.Contacts)
	if err != nil {
		return WireNodeInfo{}, err
	}
	return WireNodeInfo{
		NodeID:   info.Profile.ID,
		Contacts: contacts,
		Location: ToWireLocation(info.Location),
	}, nil
}

func FromWireNodeInfo(w WireNodeInfo) (model.NodeInfo, error) {
	contacts, err := fromWireContacts(w.Contacts)
	if err != nil {
		return model.NodeInfo{}, err
	}
	profile, err := model.NewNodeProfile(w.NodeID, contacts)
	if err != nil {
		return model.NodeInfo{}, xerrors.Validation.Wrap(err)
	}
	loc, err := FromWireLocation(w.Location)
	if err != nil {
		return model.NodeInfo{}, err
	}
	return model.NodeInfo{Profile: profile, Location: loc}, nil
}

// WireServiceProfile is the on-the-wire encoding of a ServiceProfile.
type WireServiceProfile struct {
	ServiceID string
	Contacts  []WireContact
}

func ToWireServiceProfile(p model.ServiceProfile) (WireServiceProfile, error) {
	contacts, err := toWireContacts(p.Contacts)
	if err != nil {
		return WireServiceProfile{}, err
	}
	return WireServiceProfile{ServiceID: p.ServiceID, Contacts: contacts}, nil
}

func FromWireServiceProfile(w WireServiceProfile) (model.ServiceProfile, error) {
	contacts, err := fromWireContacts(w.Contacts)
	if err != nil {
		return model.ServiceProfile{}, err
	}
	return model.ServiceProfile{ServiceID: w.ServiceID, Contacts: contacts}, nil
}

// WireNodeSummary is the entry shape returned by node-list style
// responses (GetRandomNodes, GetClosestNodesByDistance,
// GetNeighbourNodes): just enough to reconstruct a model.NodeDbEntry's
// visible fields, without leaking internal expiry bookkeeping.
type WireNodeSummary struct {
	Info         WireNodeInfo
	RelationType int32
}
