package overlay

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/peerdb"
	"github.com/BasicAcid/locnet/internal/session"
	"github.com/BasicAcid/locnet/internal/spatial"
	"github.com/BasicAcid/locnet/internal/wire"
	"github.com/BasicAcid/locnet/internal/xerrors"
)

// RemoteNode is the Remote-Node Proxy of spec.md §4.E: it presents
// another node's node-to-node interface as ordinary Go method calls,
// tunneled over a session.Correlator. A bootstrap or maintenance task
// calling these methods never sees the wire format.
type RemoteNode interface {
	GetNodeInfo(ctx context.Context) (model.NodeInfo, error)
	GetNodeCount(ctx context.Context) (int, error)
	GetRandomNodes(ctx context.Context, maxCount int, filter peerdb.NeighbourFilter) ([]model.NodeDbEntry, error)
	GetClosestNodesByDistance(ctx context.Context, loc spatial.GpsLocation, maxRadiusKm float64, maxCount int, filter peerdb.NeighbourFilter) ([]model.NodeDbEntry, error)
	AcceptColleague(ctx context.Context, self model.NodeInfo) (bool, model.NodeInfo, error)
	RenewColleague(ctx context.Context, self model.NodeInfo) (bool, model.NodeInfo, error)
	AcceptNeighbour(ctx context.Context, self model.NodeInfo) (bool, model.NodeInfo, error)
	RenewNeighbour(ctx context.Context, self model.NodeInfo) (bool, model.NodeInfo, error)
	Close() error
}

// DetectedIPCallback is invoked with the remote-observed IP carried by
// every Accept*/Renew* response, whether or not it was seen before;
// Engine.DetectedExternalAddress records only addresses it does not
// already have.
type DetectedIPCallback func(model.NetworkInterface)

// proxy is the concrete RemoteNode, owning the outbound Correlator.
type proxy struct {
	corr       *session.Correlator
	detectedIP DetectedIPCallback
	selfPort   uint16
	log        *zap.Logger
}

// NewProxy wraps an already-dialed node-to-node connection in a RemoteNode.
// selfPort is the listening port this node advertises, used to translate a
// stamped remote IP back into a NetworkInterface for detectedIP.
func NewProxy(conn net.Conn, selfPort uint16, detectedIP DetectedIPCallback, log *zap.Logger) RemoteNode {
	sess := session.New(conn, log)
	return &proxy{
		corr:       session.NewCorrelator(sess, log),
		detectedIP: detectedIP,
		selfPort:   selfPort,
		log:        log,
	}
}

func (p *proxy) request(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	resp, err := p.corr.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != xerrors.StatusOK {
		return resp, xerrors.FromStatus(resp.Status, resp.Details)
	}
	return resp, nil
}

func (p *proxy) noteRemoteIP(raw []byte) {
	if p.detectedIP == nil || len(raw) == 0 {
		return
	}
	ni, err := model.NetworkInterfaceFromBytes(raw, int(p.selfPort))
	if err != nil {
		return
	}
	p.detectedIP(ni)
}

func (p *proxy) GetNodeInfo(ctx context.Context) (model.NodeInfo, error) {
	resp, err := p.request(ctx, &wire.Request{GetNodeInfo: &wire.GetNodeInfoReq{}})
	if err != nil {
		return model.NodeInfo{}, err
	}
	return wire.FromWireNodeInfo(resp.GetNodeInfo.Info)
}

func (p *proxy) GetNodeCount(ctx context.Context) (int, error) {
	resp, err := p.request(ctx, &wire.Request{GetNodeCount: &wire.GetNodeCountReq{}})
	if err != nil {
		return 0, err
	}
	return int(resp.GetNodeCount.Count), nil
}

func (p *proxy) GetRandomNodes(ctx context.Context, maxCount int, filter peerdb.NeighbourFilter) ([]model.NodeDbEntry, error) {
	resp, err := p.request(ctx, &wire.Request{GetRandomNodesRN: &wire.GetRandomNodesReq{
		MaxCount:          int32(maxCount),
		IncludeNeighbours: filter == peerdb.Included,
	}})
	if err != nil {
		return nil, err
	}
	return summariesToEntries(resp.GetRandomNodesRN.Nodes)
}

func (p *proxy) GetClosestNodesByDistance(ctx context.Context, loc spatial.GpsLocation, maxRadiusKm float64, maxCount int, filter peerdb.NeighbourFilter) ([]model.NodeDbEntry, error) {
	resp, err := p.request(ctx, &wire.Request{GetClosestNodesByDistance: &wire.GetClosestNodesByDistanceReq{
		Location:          wire.ToWireLocation(loc),
		MaxRadiusKm:       maxRadiusKm,
		MaxCount:          int32(maxCount),
		IncludeNeighbours: filter == peerdb.Included,
	}})
	if err != nil {
		return nil, err
	}
	return summariesToEntries(resp.GetClosestNodesByDistance.Nodes)
}

func (p *proxy) AcceptColleague(ctx context.Context, self model.NodeInfo) (bool, model.NodeInfo, error) {
	return p.acceptLike(ctx, self, func(w wire.WireNodeInfo) *wire.Request {
		return &wire.Request{AcceptColleague: &wire.AcceptColleagueReq{Requestor: w}}
	}, func(r *wire.Response) *wire.AcceptResult { return r.AcceptColleague })
}

func (p *proxy) RenewColleague(ctx context.Context, self model.NodeInfo) (bool, model.NodeInfo, error) {
	return p.acceptLike(ctx, self, func(w wire.WireNodeInfo) *wire.Request {
		return &wire.Request{RenewColleague: &wire.RenewColleagueReq{Requestor: w}}
	}, func(r *wire.Response) *wire.AcceptResult { return r.RenewColleague })
}

func (p *proxy) AcceptNeighbour(ctx context.Context, self model.NodeInfo) (bool, model.NodeInfo, error) {
	return p.acceptLike(ctx, self, func(w wire.WireNodeInfo) *wire.Request {
		return &wire.Request{AcceptNeighbour: &wire.AcceptNeighbourReq{Requestor: w}}
	}, func(r *wire.Response) *wire.AcceptResult { return r.AcceptNeighbour })
}

func (p *proxy) RenewNeighbour(ctx context.Context, self model.NodeInfo) (bool, model.NodeInfo, error) {
	return p.acceptLike(ctx, self, func(w wire.WireNodeInfo) *wire.Request {
		return &wire.Request{RenewNeighbour: &wire.RenewNeighbourReq{Requestor: w}}
	}, func(r *wire.Response) *wire.AcceptResult { return r.RenewNeighbour })
}

func (p *proxy) acceptLike(ctx context.Context, self model.NodeInfo, build func(wire.WireNodeInfo) *wire.Request, pick func(*wire.Response) *wire.AcceptResult) (bool, model.NodeInfo, error) {
	wi, err := wire.ToWireNodeInfo(self)
	if err != nil {
		return false, model.NodeInfo{}, err
	}
	resp, err := p.request(ctx, build(wi))
	if err != nil {
		return false, model.NodeInfo{}, err
	}
	result := pick(resp)
	p.noteRemoteIP(result.RemoteIP)
	if !result.Accepted {
		return false, model.NodeInfo{}, nil
	}
	acceptor, err := wire.FromWireNodeInfo(result.AcceptorInfo)
	if err != nil {
		return false, model.NodeInfo{}, err
	}
	return true, acceptor, nil
}

func (p *proxy) Close() error {
	return p.corr.Stop()
}

func summariesToEntries(nodes []wire.WireNodeSummary) ([]model.NodeDbEntry, error) {
	out := make([]model.NodeDbEntry, len(nodes))
	for i, n := range nodes {
		info, err := wire.FromWireNodeInfo(n.Info)
		if err != nil {
			return nil, err
		}
		out[i] = model.NodeDbEntry{NodeInfo: info, RelationType: model.NodeRelationType(n.RelationType)}
	}
	return out, nil
}
