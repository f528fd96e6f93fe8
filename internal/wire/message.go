package wire

import "github.com/BasicAcid/locnet/internal/xerrors"

// Version is the 3-byte protocol version triple of spec.md §4.C. Major
// must equal 1; minor/patch are carried but not currently checked.
type Version struct {
	Major byte
	Minor byte
	Patch byte
}

// CurrentVersion is the version this implementation speaks and expects.
var CurrentVersion = Version{Major: 1, Minor: 0, Patch: 0}

// ValidateVersion enforces the spec.md §4.C major-version check.
func ValidateVersion(v Version) error {
	if v.Major != 1 {
		return xerrors.Protocol.New("unsupported protocol major version %d", v.Major)
	}
	return nil
}

// Request is a tagged union of every request kind spec.md §4.C defines,
// grouped by interface. Exactly one field is populated per message; gob
// omits nil pointer fields so this costs nothing extra on the wire.
type Request struct {
	// LocalService interface
	RegisterService      *RegisterServiceReq
	DeregisterService    *DeregisterServiceReq
	GetNeighbourNodesLS  *GetNeighbourNodesReq
	NeighbourhoodChanged *NeighbourhoodChangedReq

	// RemoteNode (node-to-node) interface
	AcceptColleague           *AcceptColleagueReq
	RenewColleague            *RenewColleagueReq
	AcceptNeighbour           *AcceptNeighbourReq
	RenewNeighbour            *RenewNeighbourReq
	GetNodeInfo               *GetNodeInfoReq
	GetNodeCount              *GetNodeCountReq
	GetRandomNodesRN          *GetRandomNodesReq
	GetClosestNodesByDistance *GetClosestNodesByDistanceReq

	// Client interface
	GetServices          *GetServicesReq
	GetNeighbourNodesC   *GetNeighbourNodesReq
	GetClosestNodesByDistanceC *GetClosestNodesByDistanceReq
}

// Variant names the populated field, for logging/metrics — never used for
// dispatch (dispatch switches on the field directly).
func (r *Request) Variant() string {
	switch {
	case r.RegisterService != nil:
		return "RegisterService"
	case r.DeregisterService != nil:
		return "DeregisterService"
	case r.GetNeighbourNodesLS != nil:
		return "GetNeighbourNodes(local)"
	case r.NeighbourhoodChanged != nil:
		return "NeighbourhoodChanged"
	case r.AcceptColleague != nil:
		return "AcceptColleague"
	case r.RenewColleague != nil:
		return "RenewColleague"
	case r.AcceptNeighbour != nil:
		return "AcceptNeighbour"
	case r.RenewNeighbour != nil:
		return "RenewNeighbour"
	case r.GetNodeInfo != nil:
		return "GetNodeInfo"
	case r.GetNodeCount != nil:
		return "GetNodeCount"
	case r.GetRandomNodesRN != nil:
		return "GetRandomNodes"
	case r.GetClosestNodesByDistance != nil:
		return "GetClosestNodesByDistance(node)"
	case r.GetServices != nil:
		return "GetServices"
	case r.GetNeighbourNodesC != nil:
		return "GetNeighbourNodes(client)"
	case r.GetClosestNodesByDistanceC != nil:
		return "GetClosestNodesByDistance(client)"
	default:
		return "unknown"
	}
}

// Response mirrors the variant of the Request it answers, plus the
// status/details pair of spec.md §4.C.
type Response struct {
	Status  xerrors.Status
	Details string

	RegisterService      *EmptyResult
	DeregisterService     *EmptyResult
	GetNeighbourNodesLS   *NodeListResult
	NeighbourhoodChanged  *EmptyResult // ack

	AcceptColleague           *AcceptResult
	RenewColleague            *AcceptResult
	AcceptNeighbour           *AcceptResult
	RenewNeighbour            *AcceptResult
	GetNodeInfo               *NodeInfoResult
	GetNodeCount              *CountResult
	GetRandomNodesRN          *NodeListResult
	GetClosestNodesByDistance *NodeListResult

	GetServices                *ServicesResult
	GetNeighbourNodesC         *NodeListResult
	GetClosestNodesByDistanceC *NodeListResult
}

// Message is one framed protocol message: an id for request/response
// correlation, the version triple, and exactly one of Request/Response.
type Message struct {
	ID      uint32
	Version Version
	Req     *Request
	Resp    *Response
}

// IsResponse reports whether this message carries a Response body.
func (m *Message) IsResponse() bool { return m.Resp != nil }

// --- request payloads ---

type RegisterServiceReq struct {
	Type    int32
	Profile WireServiceProfile
}

type DeregisterServiceReq struct {
	Type int32
}

type GetNeighbourNodesReq struct {
	KeepAlive bool
}

type NeighbourhoodChangedReq struct {
	EventType int32 // matches peerdb.ChangeEventType
	Entry     WireNodeSummary
}

type AcceptColleagueReq struct {
	Requestor WireNodeInfo
}

type RenewColleagueReq struct {
	Requestor WireNodeInfo
}

type AcceptNeighbourReq struct {
	Requestor WireNodeInfo
}

type RenewNeighbourReq struct {
	Requestor WireNodeInfo
}

type GetNodeInfoReq struct{}

type GetNodeCountReq struct{}

type GetRandomNodesReq struct {
	MaxCount          int32
	IncludeNeighbours bool
}

type GetClosestNodesByDistanceReq struct {
	Location          WireLocation
	MaxRadiusKm       float64
	MaxCount          int32
	IncludeNeighbours bool
}

type GetServicesReq struct{}

// --- response payloads ---

type EmptyResult struct{}

type AcceptResult struct {
	Accepted     bool
	AcceptorInfo WireNodeInfo
	RemoteIP     []byte // populated on egress for Accept*/Renew* exchanges
}

type NodeInfoResult struct {
	Info WireNodeInfo
}

type CountResult struct {
	Count int32
}

type NodeListResult struct {
	Nodes []WireNodeSummary
}

type ServicesResult struct {
	Services map[int32]WireServiceProfile
}
