package stack

import (
	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

// AmazonLinux2ParameterPath is the public SSM parameter tracking the
// current Amazon Linux 2 image.
const AmazonLinux2ParameterPath = "/aws/service/ami-amazon-linux-latest/amzn2-ami-hvm-x86_64-gp2"

// MachineImage resolves to an image id in a stack.
type MachineImage interface {
	ImageID(st *Stack) (any, error)
}

type ssmImage struct {
	path string
}

// LatestAmazonLinux2 resolves the image through its SSM parameter at deploy
// time.
func LatestAmazonLinux2() MachineImage { return ssmImage{path: AmazonLinux2ParameterPath} }

// SSMImage resolves an image id from an SSM parameter path.
func SSMImage(path string) MachineImage { return ssmImage{path: path} }

func (i ssmImage) ImageID(st *Stack) (any, error) {
	p, err := st.AddParameter("SsmParameterValue"+i.path+"Parameter", Parameter{
		Type:    "AWS::SSM::Parameter::Value<AWS::EC2::Image::Id>",
		Default: i.path,
	})
	if err != nil {
		return nil, err
	}
	return p.Ref(), nil
}

// GenericImage is a fixed image id.
type GenericImage string

func (g GenericImage) ImageID(*Stack) (any, error) {
	if g == "" {
		return nil, appErr.New(appErr.CodeInvalid, "empty image id")
	}
	return string(g), nil
}

// InstanceProps configures an Instance.
type InstanceProps struct {
	Network       *Network
	SecurityGroup *SecurityGroup
	InstanceType  string
	MachineImage  MachineImage
	// SubnetType defaults to private.
	SubnetType SubnetType
	// Name sets the Name tag.
	Name string
}

// Instance is a virtual machine with an instance role.
type Instance struct {
	Construct
	resource *Resource
	role     *Role
	profile  *Resource
	subnet   *Subnet
}

// NewInstance declares an instance in the first subnet of the selected tier.
func NewInstance(scope Scope, id string, props InstanceProps) (*Instance, error) {
	if props.Network == nil || props.SecurityGroup == nil {
		return nil, appErr.Newf(appErr.CodeInvalid, "instance %s: network and security group are required", id)
	}
	if props.InstanceType == "" {
		return nil, appErr.Newf(appErr.CodeInvalid, "instance %s: instance type is required", id)
	}
	if props.MachineImage == nil {
		props.MachineImage = LatestAmazonLinux2()
	}
	if props.SubnetType == "" {
		props.SubnetType = SubnetTypePrivate
	}
	subnets := props.Network.Subnets(props.SubnetType)
	if len(subnets) == 0 {
		return nil, appErr.Newf(appErr.CodeInvalid, "instance %s: network has no %s subnets", id, props.SubnetType)
	}

	in := &Instance{subnet: subnets[0]}
	if err := attach(&in.Construct, scope, id); err != nil {
		return nil, err
	}
	st := in.node.stack
	if props.Name != "" {
		in.node.AddTag("Name", props.Name)
	} else {
		in.node.AddTag("Name", st.name+"/"+in.node.Path())
	}

	imageID, err := props.MachineImage.ImageID(st)
	if err != nil {
		return nil, err
	}

	in.role, err = NewRole(in, "InstanceRole", RoleProps{AssumedBy: ServicePrincipal("ec2.amazonaws.com")})
	if err != nil {
		return nil, err
	}
	in.profile, err = NewResource(in, "InstanceProfile", TypeInstanceProfile, &CfnInstanceProfile{
		Roles: []any{in.role.RoleName()},
	})
	if err != nil {
		return nil, err
	}
	in.resource, err = NewResource(in, "Resource", TypeInstance, &CfnInstance{
		ImageID:            imageID,
		InstanceType:       props.InstanceType,
		SubnetID:           in.subnet.SubnetID(),
		AvailabilityZone:   in.subnet.AvailabilityZone,
		SecurityGroupIDs:   []any{props.SecurityGroup.GroupID()},
		IamInstanceProfile: in.profile.Ref(),
	})
	if err != nil {
		return nil, err
	}
	in.resource.AddDependency(in.role.Resource())
	if route := in.subnet.DefaultRoute(); route != nil {
		in.resource.AddDependency(route)
	}
	return in, nil
}

// PrivateIP references the instance's private address.
func (in *Instance) PrivateIP() GetAtt { return in.resource.GetAtt("PrivateIp") }

// InstanceID references the instance id.
func (in *Instance) InstanceID() Ref { return in.resource.Ref() }

// Resource returns the instance resource.
func (in *Instance) Resource() *Resource { return in.resource }

// Role returns the instance role.
func (in *Instance) Role() *Role { return in.role }

// Subnet returns the subnet the instance is placed in.
func (in *Instance) Subnet() *Subnet { return in.subnet }
