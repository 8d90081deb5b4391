package stack

import (
	"fmt"
	"net/netip"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

const (
	DefaultVPCCidr = "10.0.0.0/16"
	DefaultMaxAZs  = 2
)

// SubnetType is the routing tier of a subnet.
type SubnetType string

const (
	SubnetTypePublic  SubnetType = "Public"
	SubnetTypePrivate SubnetType = "Private"
)

// NetworkProps configures a Network.
type NetworkProps struct {
	// CidrBlock defaults to DefaultVPCCidr.
	CidrBlock string
	// MaxAZs defaults to DefaultMaxAZs and must be at least 2.
	MaxAZs int
	// NatGateways defaults to one per zone. Zero leaves private subnets
	// without a default route.
	NatGateways *int
}

// Subnet is one subnet with its route table.
type Subnet struct {
	Construct
	Type             SubnetType
	Index            int
	CidrBlock        string
	AvailabilityZone any
	resource         *Resource
	routeTable       *Resource
	defaultRoute     *Resource
	association      *Resource
}

// SubnetID references the subnet.
func (s *Subnet) SubnetID() Ref { return s.resource.Ref() }

// Resource returns the underlying subnet resource.
func (s *Subnet) Resource() *Resource { return s.resource }

// RouteTable returns the subnet's route table resource.
func (s *Subnet) RouteTable() *Resource { return s.routeTable }

// DefaultRoute returns the 0.0.0.0/0 route, or nil when the subnet has none.
func (s *Subnet) DefaultRoute() *Resource { return s.defaultRoute }

// Network is a VPC spread over several zones with a public and a private
// subnet in each.
type Network struct {
	Construct
	props       NetworkProps
	vpc         *Resource
	igw         *Resource
	attachment  *Resource
	natGateways []*Resource
	public      []*Subnet
	private     []*Subnet
}

// NewNetwork declares the VPC, its subnets, gateways, and routes.
func NewNetwork(scope Scope, id string, props NetworkProps) (*Network, error) {
	if props.CidrBlock == "" {
		props.CidrBlock = DefaultVPCCidr
	}
	if props.MaxAZs == 0 {
		props.MaxAZs = DefaultMaxAZs
	}
	if props.MaxAZs < 2 {
		return nil, appErr.Newf(appErr.CodeInvalid, "network %s: at least 2 availability zones are required, got %d", id, props.MaxAZs)
	}
	if _, err := netip.ParsePrefix(props.CidrBlock); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "network cidr")
	}
	nats := props.MaxAZs
	if props.NatGateways != nil {
		nats = *props.NatGateways
	}
	if nats < 0 || nats > props.MaxAZs {
		return nil, appErr.Newf(appErr.CodeInvalid, "network %s: nat gateways must be between 0 and %d, got %d", id, props.MaxAZs, nats)
	}
	props.NatGateways = &nats

	n := &Network{props: props}
	if err := attach(&n.Construct, scope, id); err != nil {
		return nil, err
	}
	st := n.node.stack

	var err error
	n.vpc, err = NewResource(n, "Resource", TypeVPC, &CfnVPC{
		CidrBlock:          props.CidrBlock,
		EnableDNSHostnames: true,
		EnableDNSSupport:   true,
		InstanceTenancy:    "default",
	})
	if err != nil {
		return nil, err
	}
	n.vpc.node.AddTag("Name", st.name+"/"+n.node.Path())

	newbits := bitsFor(2 * props.MaxAZs)
	for i := 0; i < props.MaxAZs; i++ {
		cidr, err := cidrSubnet(props.CidrBlock, newbits, i)
		if err != nil {
			return nil, appErr.Wrap(err, appErr.CodeInvalid, "carve public subnet")
		}
		sn, err := n.addSubnet(SubnetTypePublic, i, cidr)
		if err != nil {
			return nil, err
		}
		n.public = append(n.public, sn)
	}
	for i := 0; i < props.MaxAZs; i++ {
		cidr, err := cidrSubnet(props.CidrBlock, newbits, props.MaxAZs+i)
		if err != nil {
			return nil, appErr.Wrap(err, appErr.CodeInvalid, "carve private subnet")
		}
		sn, err := n.addSubnet(SubnetTypePrivate, i, cidr)
		if err != nil {
			return nil, err
		}
		n.private = append(n.private, sn)
	}

	n.igw, err = NewResource(n, "IGW", TypeInternetGateway, &CfnInternetGateway{})
	if err != nil {
		return nil, err
	}
	n.igw.node.AddTag("Name", st.name+"/"+n.node.Path())
	n.attachment, err = NewResource(n, "VPCGW", TypeVPCGatewayAttachment, &CfnVPCGatewayAttachment{
		VpcID:             n.vpc.Ref(),
		InternetGatewayID: n.igw.Ref(),
	})
	if err != nil {
		return nil, err
	}

	for _, sn := range n.public {
		route, err := NewResource(sn, "DefaultRoute", TypeRoute, &CfnRoute{
			RouteTableID:         sn.routeTable.Ref(),
			DestinationCidrBlock: "0.0.0.0/0",
			GatewayID:            n.igw.Ref(),
		})
		if err != nil {
			return nil, err
		}
		route.AddDependency(n.attachment)
		sn.defaultRoute = route

		if sn.Index >= nats {
			continue
		}
		eip, err := NewResource(sn, "EIP", TypeEIP, &CfnEIP{Domain: "vpc"})
		if err != nil {
			return nil, err
		}
		nat, err := NewResource(sn, "NATGateway", TypeNatGateway, &CfnNatGateway{
			SubnetID:     sn.SubnetID(),
			AllocationID: eip.GetAtt("AllocationId"),
		})
		if err != nil {
			return nil, err
		}
		nat.AddDependency(route)
		nat.AddDependency(sn.association)
		n.natGateways = append(n.natGateways, nat)
	}

	for _, sn := range n.private {
		if nats == 0 {
			continue
		}
		nat := n.natGateways[min(sn.Index, nats-1)]
		route, err := NewResource(sn, "DefaultRoute", TypeRoute, &CfnRoute{
			RouteTableID:         sn.routeTable.Ref(),
			DestinationCidrBlock: "0.0.0.0/0",
			NatGatewayID:         nat.Ref(),
		})
		if err != nil {
			return nil, err
		}
		sn.defaultRoute = route
	}
	return n, nil
}

func (n *Network) addSubnet(typ SubnetType, index int, cidr string) (*Subnet, error) {
	sn := &Subnet{
		Type:             typ,
		Index:            index,
		CidrBlock:        cidr,
		AvailabilityZone: Select{Index: index, List: GetAZs{}},
	}
	if err := attach(&sn.Construct, n, fmt.Sprintf("%sSubnet%d", typ, index+1)); err != nil {
		return nil, err
	}
	st := n.node.stack
	sn.node.AddTag("Name", st.name+"/"+sn.node.Path())
	sn.node.AddTag("subnet-type", string(typ))

	var err error
	sn.resource, err = NewResource(sn, "Subnet", TypeSubnet, &CfnSubnet{
		VpcID:               n.vpc.Ref(),
		CidrBlock:           cidr,
		AvailabilityZone:    sn.AvailabilityZone,
		MapPublicIPOnLaunch: typ == SubnetTypePublic,
	})
	if err != nil {
		return nil, err
	}
	sn.routeTable, err = NewResource(sn, "RouteTable", TypeRouteTable, &CfnRouteTable{VpcID: n.vpc.Ref()})
	if err != nil {
		return nil, err
	}
	sn.association, err = NewResource(sn, "RouteTableAssociation", TypeSubnetRouteTableAssociation, &CfnSubnetRouteTableAssociation{
		SubnetID:     sn.resource.Ref(),
		RouteTableID: sn.routeTable.Ref(),
	})
	if err != nil {
		return nil, err
	}
	return sn, nil
}

// VpcID references the VPC.
func (n *Network) VpcID() Ref { return n.vpc.Ref() }

// CidrBlock returns the VPC address range.
func (n *Network) CidrBlock() string { return n.props.CidrBlock }

// AvailabilityZones returns the number of zones the network spans.
func (n *Network) AvailabilityZones() int { return n.props.MaxAZs }

// NatGatewayCount returns the number of NAT gateways.
func (n *Network) NatGatewayCount() int { return len(n.natGateways) }

// PublicSubnets returns the public subnets in zone order.
func (n *Network) PublicSubnets() []*Subnet { return append([]*Subnet(nil), n.public...) }

// PrivateSubnets returns the private subnets in zone order.
func (n *Network) PrivateSubnets() []*Subnet { return append([]*Subnet(nil), n.private...) }

// Subnets returns the subnets of one tier.
func (n *Network) Subnets(typ SubnetType) []*Subnet {
	if typ == SubnetTypePublic {
		return n.PublicSubnets()
	}
	return n.PrivateSubnets()
}

// VPC returns the VPC resource.
func (n *Network) VPC() *Resource { return n.vpc }
