package stack

import (
	"fmt"
	"net/netip"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

// Port is a protocol and port range.
type Port struct {
	Protocol string
	From     int
	To       int
}

// TCP returns a single TCP port.
func TCP(port int) Port { return Port{Protocol: "tcp", From: port, To: port} }

func (p Port) String() string {
	if p.From == p.To {
		return fmt.Sprintf("%s:%d", p.Protocol, p.From)
	}
	return fmt.Sprintf("%s:%d-%d", p.Protocol, p.From, p.To)
}

func (p Port) validate() error {
	switch p.Protocol {
	case "tcp", "udp":
	default:
		return appErr.Newf(appErr.CodeInvalid, "unsupported protocol %q", p.Protocol)
	}
	if p.From < 0 || p.To > 65535 || p.From > p.To {
		return appErr.Newf(appErr.CodeInvalid, "invalid port range %d-%d", p.From, p.To)
	}
	return nil
}

// Peer is the source of an ingress rule.
type Peer interface {
	peerDescription() string
}

// CidrPeer is an IPv4 address range.
type CidrPeer struct {
	Cidr string
}

func (c CidrPeer) peerDescription() string { return c.Cidr }

// AnyIPv4 matches every IPv4 address.
func AnyIPv4() Peer { return CidrPeer{Cidr: "0.0.0.0/0"} }

// IPv4 matches one address range.
func IPv4(cidr string) Peer { return CidrPeer{Cidr: cidr} }

// SecurityGroupPeer matches traffic from whatever sg is attached to.
func SecurityGroupPeer(sg *SecurityGroup) Peer { return sg }

// SecurityGroupProps configures a SecurityGroup.
type SecurityGroupProps struct {
	Network          *Network
	Description      string
	AllowAllOutbound bool
}

// SecurityGroup is an allow-list of traffic. A SecurityGroup is itself a
// Peer: rules sourced from it admit traffic from whatever it is attached to.
type SecurityGroup struct {
	Construct
	resource      *Resource
	props         *CfnSecurityGroup
	peerIngresses []*Resource
}

// NewSecurityGroup declares a security group in the network.
func NewSecurityGroup(scope Scope, id string, props SecurityGroupProps) (*SecurityGroup, error) {
	if props.Network == nil {
		return nil, appErr.Newf(appErr.CodeInvalid, "security group %s: network is required", id)
	}
	sg := &SecurityGroup{}
	if err := attach(&sg.Construct, scope, id); err != nil {
		return nil, err
	}
	desc := props.Description
	if desc == "" {
		desc = sg.node.stack.name + "/" + sg.node.Path()
	}
	sg.props = &CfnSecurityGroup{
		GroupDescription: desc,
		VpcID:            props.Network.VpcID(),
	}
	if props.AllowAllOutbound {
		sg.props.SecurityGroupEgress = []SecurityGroupRule{{
			CidrIP:      "0.0.0.0/0",
			IPProtocol:  "-1",
			Description: "Allow all outbound traffic by default",
		}}
	} else {
		// matches nothing; removes the provider's implicit allow-all egress
		sg.props.SecurityGroupEgress = []SecurityGroupRule{{
			CidrIP:      "255.255.255.255/32",
			IPProtocol:  "icmp",
			FromPort:    252,
			ToPort:      86,
			Description: "Disallow all traffic",
		}}
	}
	var err error
	sg.resource, err = NewResource(sg, "Resource", TypeSecurityGroup, sg.props)
	if err != nil {
		return nil, err
	}
	return sg, nil
}

func (sg *SecurityGroup) peerDescription() string { return sg.node.Path() }

// GroupID references the security group id.
func (sg *SecurityGroup) GroupID() GetAtt { return sg.resource.GetAtt("GroupId") }

// Resource returns the underlying security group resource.
func (sg *SecurityGroup) Resource() *Resource { return sg.resource }

// IngressRules returns the inline (CIDR-sourced) ingress rules.
func (sg *SecurityGroup) IngressRules() []SecurityGroupRule {
	return append([]SecurityGroupRule(nil), sg.props.SecurityGroupIngress...)
}

// PeerIngressRules returns the standalone ingress resources sourced from
// other security groups.
func (sg *SecurityGroup) PeerIngressRules() []*Resource {
	return append([]*Resource(nil), sg.peerIngresses...)
}

// AddIngressRule admits traffic from peer on port. Rules are only ever
// appended.
func (sg *SecurityGroup) AddIngressRule(peer Peer, port Port, description string) error {
	if err := port.validate(); err != nil {
		return err
	}
	switch p := peer.(type) {
	case CidrPeer:
		prefix, err := netip.ParsePrefix(p.Cidr)
		if err != nil || !prefix.Addr().Is4() {
			return appErr.Newf(appErr.CodeInvalid, "invalid IPv4 cidr %q", p.Cidr)
		}
		if description == "" {
			description = fmt.Sprintf("from %s:%s", p.Cidr, port)
		}
		sg.props.SecurityGroupIngress = append(sg.props.SecurityGroupIngress, SecurityGroupRule{
			CidrIP:      prefix.Masked().String(),
			IPProtocol:  port.Protocol,
			FromPort:    port.From,
			ToPort:      port.To,
			Description: description,
		})
		return nil
	case *SecurityGroup:
		if p == nil {
			return appErr.New(appErr.CodeInvalid, "nil security group peer")
		}
		if description == "" {
			description = fmt.Sprintf("from %s:%s", p.node.Path(), port)
		}
		id := fmt.Sprintf("from %s:%s", nonAlnum.ReplaceAllString(p.node.Path(), ""), port)
		ing, err := NewResource(sg, id, TypeSecurityGroupIngress, &CfnSecurityGroupIngress{
			GroupID:               sg.GroupID(),
			SourceSecurityGroupID: p.GroupID(),
			IPProtocol:            port.Protocol,
			FromPort:              port.From,
			ToPort:                port.To,
			Description:           description,
		})
		if err != nil {
			return err
		}
		sg.peerIngresses = append(sg.peerIngresses, ing)
		return nil
	default:
		return appErr.Newf(appErr.CodeInvalid, "unsupported peer %T", peer)
	}
}
