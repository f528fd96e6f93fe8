package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/peerdb"
	"github.com/BasicAcid/locnet/internal/spatial"
	"github.com/BasicAcid/locnet/internal/wire"
)

type stubClientHandler struct {
	services map[model.ServiceType]model.ServiceProfile
}

func (s *stubClientHandler) GetServices() map[model.ServiceType]model.ServiceProfile {
	return s.services
}
func (s *stubClientHandler) GetNeighbourNodesByDistance() []model.NodeDbEntry { return nil }
func (s *stubClientHandler) GetClosestNodesByDistance(spatial.GpsLocation, float64, int, peerdb.NeighbourFilter) []model.NodeDbEntry {
	return nil
}

func TestRunLoop_ClientGetServices(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	handler := &stubClientHandler{services: map[model.ServiceType]model.ServiceProfile{
		model.ServiceContent: {ServiceID: "svc-1"},
	}}
	sess := New(serverConn, nil)
	done := make(chan struct{})
	go func() {
		RunLoop(sess, &ClientDispatcher{Handler: handler}, nil)
		close(done)
	}()

	require.NoError(t, wire.WriteMessage(clientConn, &wire.Message{
		ID:      7,
		Version: wire.CurrentVersion,
		Req:     &wire.Request{GetServices: &wire.GetServicesReq{}},
	}))

	reply, err := wire.ReadMessage(clientConn)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), reply.ID)
	require.NotNil(t, reply.Resp)
	require.NotNil(t, reply.Resp.GetServices)
	assert.Equal(t, "svc-1", reply.Resp.GetServices.Services[int32(model.ServiceContent)].ServiceID)

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunLoop did not exit after connection closed")
	}
}

type stubNodeHandler struct {
	self model.NodeInfo
}

func (s *stubNodeHandler) Self() model.NodeInfo { return s.self }
func (s *stubNodeHandler) GetNodeCount() int     { return 3 }
func (s *stubNodeHandler) GetRandomNodes(int, peerdb.NeighbourFilter) []model.NodeDbEntry {
	return nil
}
func (s *stubNodeHandler) GetClosestNodesByDistance(spatial.GpsLocation, float64, int, peerdb.NeighbourFilter) []model.NodeDbEntry {
	return nil
}
func (s *stubNodeHandler) AcceptColleague(requestor model.NodeInfo) (bool, model.NodeInfo) {
	return true, s.self
}
func (s *stubNodeHandler) RenewColleague(model.NodeInfo) (bool, model.NodeInfo)  { return true, s.self }
func (s *stubNodeHandler) AcceptNeighbour(model.NodeInfo) (bool, model.NodeInfo) { return true, s.self }
func (s *stubNodeHandler) RenewNeighbour(model.NodeInfo) (bool, model.NodeInfo)  { return true, s.self }

func mustNodeInfo(t *testing.T, id string, lat, lon float64) model.NodeInfo {
	t.Helper()
	loc, err := spatial.NewGpsLocation(lat, lon)
	require.NoError(t, err)
	ni, err := model.NewNetworkInterface(model.Ipv4, "127.0.0.1", 16980)
	require.NoError(t, err)
	profile, err := model.NewNodeProfile(id, []model.NetworkInterface{ni})
	require.NoError(t, err)
	return model.NodeInfo{Profile: profile, Location: loc}
}

// Exercises the Correlator's outbound request/response path and the
// NodeDispatcher's remote-address rewrite end to end. A real loopback TCP
// connection is used (rather than net.Pipe) so RemoteAddr() yields an
// actual IP for the rewrite/stamp logic to work with.
func TestCorrelator_AcceptColleague_RoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptor := mustNodeInfo(t, "acceptor", 47.4979, 19.0402)
	done := make(chan struct{})
	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			close(done)
			return
		}
		serverSess := New(conn, nil)
		RunLoop(serverSess, &NodeDispatcher{Handler: &stubNodeHandler{self: acceptor}}, nil)
		conn.Close()
		close(done)
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	clientSess := New(clientConn, nil)
	corr := NewCorrelator(clientSess, nil)
	defer corr.Stop()

	requestor := mustNodeInfo(t, "requestor", 47.1625, 19.5033)
	wireInfo, err := wire.ToWireNodeInfo(requestor)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := corr.Request(ctx, &wire.Request{AcceptColleague: &wire.AcceptColleagueReq{Requestor: wireInfo}})
	require.NoError(t, err)
	require.NotNil(t, resp.AcceptColleague)
	assert.True(t, resp.AcceptColleague.Accepted)
	assert.Equal(t, "acceptor", resp.AcceptColleague.AcceptorInfo.NodeID)
	assert.NotEmpty(t, resp.AcceptColleague.RemoteIP)

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunLoop did not exit after connection closed")
	}
}
