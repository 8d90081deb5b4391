package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

func subnetCIDRs(subnets []*Subnet) []string {
	out := make([]string, len(subnets))
	for i, s := range subnets {
		out[i] = s.CidrBlock
	}
	return out
}

func TestNetworkDefaults(t *testing.T) {
	t.Parallel()
	st := newTestStack(t)
	n, err := NewNetwork(st, "Vpc", NetworkProps{})
	require.NoError(t, err)

	assert.Equal(t, DefaultVPCCidr, n.CidrBlock())
	assert.Equal(t, 2, n.AvailabilityZones())
	assert.Equal(t, 2, n.NatGatewayCount())
	assert.Equal(t, []string{"10.0.0.0/18", "10.0.64.0/18"}, subnetCIDRs(n.PublicSubnets()))
	assert.Equal(t, []string{"10.0.128.0/18", "10.0.192.0/18"}, subnetCIDRs(n.PrivateSubnets()))

	assert.Len(t, st.ResourcesOfType(TypeVPC), 1)
	assert.Len(t, st.ResourcesOfType(TypeSubnet), 4)
	assert.Len(t, st.ResourcesOfType(TypeInternetGateway), 1)
	assert.Len(t, st.ResourcesOfType(TypeEIP), 2)
	assert.Len(t, st.ResourcesOfType(TypeRoute), 4)

	for i, sn := range n.PublicSubnets() {
		assert.Equal(t, Select{Index: i, List: GetAZs{}}, sn.AvailabilityZone)
		props := sn.Resource().Properties.(*CfnSubnet)
		assert.True(t, props.MapPublicIPOnLaunch)

		route := sn.DefaultRoute().Properties.(*CfnRoute)
		assert.Equal(t, "0.0.0.0/0", route.DestinationCidrBlock)
		assert.NotNil(t, route.GatewayID)
		assert.Nil(t, route.NatGatewayID)
		assert.Len(t, sn.DefaultRoute().DependsOn(), 1)
	}

	nats := st.ResourcesOfType(TypeNatGateway)
	require.Len(t, nats, 2)
	for i, sn := range n.PrivateSubnets() {
		assert.False(t, sn.Resource().Properties.(*CfnSubnet).MapPublicIPOnLaunch)
		route := sn.DefaultRoute().Properties.(*CfnRoute)
		assert.Nil(t, route.GatewayID)
		assert.Equal(t, nats[i].Ref(), route.NatGatewayID)
	}

	first := n.PublicSubnets()[0].Resource()
	assert.Equal(t, []Tag{
		{Key: "Name", Value: "dev/Vpc/PublicSubnet1"},
		{Key: "subnet-type", Value: "Public"},
	}, first.Tags())
}

func TestNetworkSharedNat(t *testing.T) {
	t.Parallel()
	st := newTestStack(t)
	one := 1
	n, err := NewNetwork(st, "Vpc", NetworkProps{NatGateways: &one})
	require.NoError(t, err)
	assert.Equal(t, 1, n.NatGatewayCount())

	nat := st.ResourcesOfType(TypeNatGateway)[0]
	for _, sn := range n.PrivateSubnets() {
		assert.Equal(t, nat.Ref(), sn.DefaultRoute().Properties.(*CfnRoute).NatGatewayID)
	}
}

func TestNetworkWithoutNat(t *testing.T) {
	t.Parallel()
	st := newTestStack(t)
	zero := 0
	n, err := NewNetwork(st, "Vpc", NetworkProps{NatGateways: &zero})
	require.NoError(t, err)
	assert.Zero(t, n.NatGatewayCount())
	for _, sn := range n.PrivateSubnets() {
		assert.Nil(t, sn.DefaultRoute())
	}
}

func TestNetworkThreeZones(t *testing.T) {
	t.Parallel()
	st := newTestStack(t)
	n, err := NewNetwork(st, "Vpc", NetworkProps{MaxAZs: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/19", "10.0.32.0/19", "10.0.64.0/19"}, subnetCIDRs(n.PublicSubnets()))
	assert.Equal(t, []string{"10.0.96.0/19", "10.0.128.0/19", "10.0.160.0/19"}, subnetCIDRs(n.PrivateSubnets()))
}

func TestNetworkValidation(t *testing.T) {
	t.Parallel()
	three := 3
	cases := []struct {
		name  string
		props NetworkProps
	}{
		{"single zone", NetworkProps{MaxAZs: 1}},
		{"too many nats", NetworkProps{NatGateways: &three}},
		{"bad cidr", NetworkProps{CidrBlock: "ten.zero"}},
		{"range too small", NetworkProps{CidrBlock: "10.0.0.0/31"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewNetwork(newTestStack(t), "Vpc", tc.props)
			require.Error(t, err)
			assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
		})
	}
}

func TestCidrSubnet(t *testing.T) {
	t.Parallel()
	got, err := cidrSubnet("10.0.0.0/16", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "10.0.192.0/18", got)

	_, err = cidrSubnet("10.0.0.0/16", 2, 4)
	assert.Error(t, err)
	_, err = cidrSubnet("fd00::/8", 8, 0)
	assert.Error(t, err)

	assert.Equal(t, 0, bitsFor(1))
	assert.Equal(t, 2, bitsFor(4))
	assert.Equal(t, 3, bitsFor(6))
}
