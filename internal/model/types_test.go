package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkInterface_PackedRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		addr    string
		addrTyp AddressType
	}{
		{"ipv4", "203.0.113.7", Ipv4},
		{"ipv6", "2001:db8::1", Ipv6},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ni, err := NewNetworkInterface(c.addrTyp, c.addr, 9999)
			require.NoError(t, err)

			packed, err := ni.PackedBytes()
			require.NoError(t, err)

			back, err := NetworkInterfaceFromBytes(packed, 9999)
			require.NoError(t, err)
			assert.Equal(t, ni, back)
		})
	}
}

func TestNetworkInterface_InvalidPort(t *testing.T) {
	_, err := NewNetworkInterface(Ipv4, "10.0.0.1", 0)
	require.Error(t, err)

	_, err = NewNetworkInterface(Ipv4, "10.0.0.1", 70000)
	require.Error(t, err)
}

func TestNodeProfile_Equality(t *testing.T) {
	a, err := NewNetworkInterface(Ipv4, "10.0.0.1", 100)
	require.NoError(t, err)
	b, err := NewNetworkInterface(Ipv4, "10.0.0.2", 200)
	require.NoError(t, err)

	p1, err := NewNodeProfile("node-1", []NetworkInterface{a, b})
	require.NoError(t, err)
	p2, err := NewNodeProfile("node-1", []NetworkInterface{a, b})
	require.NoError(t, err)
	p3, err := NewNodeProfile("node-1", []NetworkInterface{b, a})
	require.NoError(t, err)

	assert.True(t, p1.Equal(p2))
	assert.False(t, p1.Equal(p3))
}

func TestNewNodeProfile_RequiresID(t *testing.T) {
	_, err := NewNodeProfile("", nil)
	require.Error(t, err)
}
