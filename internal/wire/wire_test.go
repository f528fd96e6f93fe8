package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/spatial"
	"github.com/BasicAcid/locnet/internal/xerrors"
)

// S6 / property 7 — coordinate wire round trip within 1e-6 degrees.
func TestLocation_WireRoundTrip(t *testing.T) {
	loc, err := spatial.NewGpsLocation(1.23456, -7.89012)
	require.NoError(t, err)

	wl := ToWireLocation(loc)
	back, err := FromWireLocation(wl)
	require.NoError(t, err)

	assert.InDelta(t, loc.Lat, back.Lat, 1e-6)
	assert.InDelta(t, loc.Lon, back.Lon, 1e-6)
}

func contact(t *testing.T, addrType model.AddressType, addr string, port int) model.NetworkInterface {
	t.Helper()
	ni, err := model.NewNetworkInterface(addrType, addr, port)
	require.NoError(t, err)
	return ni
}

// property 6 — packed address round trip for IPv4 and IPv6.
func TestContact_WireRoundTrip(t *testing.T) {
	v4 := contact(t, model.Ipv4, "198.51.100.23", 12345)
	v6 := contact(t, model.Ipv6, "2001:db8::dead:beef", 443)

	for _, ni := range []model.NetworkInterface{v4, v6} {
		w, err := ToWireContact(ni)
		require.NoError(t, err)
		back, err := FromWireContact(w)
		require.NoError(t, err)
		assert.Equal(t, ni, back)
	}
}

// S6 — full AcceptColleague request encode/decode round trip.
func TestMessage_AcceptColleague_RoundTrip(t *testing.T) {
	loc, err := spatial.NewGpsLocation(1.23456, -7.89012)
	require.NoError(t, err)

	requestor := model.NodeInfo{
		Profile: model.NodeProfile{
			ID:       "requestor-1",
			Contacts: []model.NetworkInterface{contact(t, model.Ipv4, "203.0.113.9", 16980)},
		},
		Location: loc,
	}
	wireInfo, err := ToWireNodeInfo(requestor)
	require.NoError(t, err)

	msg := &Message{
		ID:      1,
		Version: CurrentVersion,
		Req: &Request{
			AcceptColleague: &AcceptColleagueReq{Requestor: wireInfo},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, msg))

	decoded, err := ReadMessage(&buf)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), decoded.ID)
	require.NotNil(t, decoded.Req)
	require.NotNil(t, decoded.Req.AcceptColleague)

	back, err := FromWireNodeInfo(decoded.Req.AcceptColleague.Requestor)
	require.NoError(t, err)
	assert.Equal(t, requestor.Profile.ID, back.Profile.ID)
	assert.InDelta(t, requestor.Location.Lat, back.Location.Lat, 1e-6)
	assert.InDelta(t, requestor.Location.Lon, back.Location.Lon, 1e-6)
}

func TestReadFrame_RejectsBadMarker(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x02, 0, 0, 0, 0})
	_, err := ReadFrame(buf)
	require.Error(t, err)
	assert.True(t, xerrors.Protocol.Has(err))
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	header := make([]byte, 5)
	header[0] = ProtocolMarker
	header[1] = 0xff
	header[2] = 0xff
	header[3] = 0xff
	header[4] = 0xff
	buf := bytes.NewBuffer(header)
	_, err := ReadFrame(buf)
	require.Error(t, err)
	assert.True(t, xerrors.Protocol.Has(err))
}

func TestValidateVersion_RejectsOtherMajor(t *testing.T) {
	err := ValidateVersion(Version{Major: 2})
	require.Error(t, err)
	assert.True(t, xerrors.Protocol.Has(err))
}

func TestWriteFrame_RejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxBodyLen+1))
	require.Error(t, err)
}
