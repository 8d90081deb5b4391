package stack

import (
	"fmt"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

// DevDatabaseStackProps configures NewDevDatabaseStack. Start from
// DefaultDevDatabaseStackProps; empty strings and zero numbers fall back to
// the defaults, booleans are taken as given.
type DevDatabaseStackProps struct {
	Description string
	Tags        map[string]string

	CidrBlock   string
	MaxAZs      int
	NatGateways *int

	// SSHIngressCIDR admits TCP 22 to the compute instance. Empty adds no
	// rule.
	SSHIngressCIDR           string
	ComputeAllowAllOutbound  bool
	DatabaseAllowAllOutbound bool

	InstanceType          string
	InstanceName          string
	DatabaseInstanceClass string
	DatabaseName          string
	EngineVersion         string
	AllocatedStorage      int

	StopSchedule  string
	StartSchedule string
}

// DefaultDevDatabaseStackProps returns the development defaults.
func DefaultDevDatabaseStackProps() DevDatabaseStackProps {
	return DevDatabaseStackProps{
		Description:             "Development MySQL database with a bastion instance and office-hours start/stop schedules",
		CidrBlock:               DefaultVPCCidr,
		MaxAZs:                  DefaultMaxAZs,
		ComputeAllowAllOutbound: true,
		InstanceType:            "t3.micro",
		DatabaseInstanceClass:   "db.t3.micro",
		EngineVersion:           MySQLVersion8043,
		AllocatedStorage:        20,
		StopSchedule:            DefaultStopSchedule,
		StartSchedule:           DefaultStartSchedule,
	}
}

func (p *DevDatabaseStackProps) applyDefaults(name string) {
	d := DefaultDevDatabaseStackProps()
	if p.Description == "" {
		p.Description = d.Description
	}
	if p.CidrBlock == "" {
		p.CidrBlock = d.CidrBlock
	}
	if p.MaxAZs == 0 {
		p.MaxAZs = d.MaxAZs
	}
	if p.InstanceType == "" {
		p.InstanceType = d.InstanceType
	}
	if p.InstanceName == "" {
		p.InstanceName = name + "-ec2-instance"
	}
	if p.DatabaseInstanceClass == "" {
		p.DatabaseInstanceClass = d.DatabaseInstanceClass
	}
	if p.DatabaseName == "" {
		p.DatabaseName = name + "-rds-instance"
	}
	if p.EngineVersion == "" {
		p.EngineVersion = d.EngineVersion
	}
	if p.AllocatedStorage == 0 {
		p.AllocatedStorage = d.AllocatedStorage
	}
	if p.StopSchedule == "" {
		p.StopSchedule = d.StopSchedule
	}
	if p.StartSchedule == "" {
		p.StartSchedule = d.StartSchedule
	}
}

// DevDatabaseStack is the composed development database stack.
type DevDatabaseStack struct {
	*Stack
	Network               *Network
	ComputeSecurityGroup  *SecurityGroup
	DatabaseSecurityGroup *SecurityGroup
	Instance              *Instance
	Database              *DatabaseInstance
	SchedulerRole         *Role
	StopSchedule          *Schedule
	StartSchedule         *Schedule
	EndpointOutput        *Output
	PrivateIPOutput       *Output
}

// NewDevDatabaseStack declares the stack in dependency order: network,
// traffic policies, compute and database, scheduler identity, schedules,
// outputs.
func NewDevDatabaseStack(app *App, name string, props DevDatabaseStackProps) (*DevDatabaseStack, error) {
	props.applyDefaults(name)
	st, err := NewStack(app, name, StackProps{Description: props.Description, Tags: props.Tags})
	if err != nil {
		return nil, err
	}
	d := &DevDatabaseStack{Stack: st}

	d.Network, err = NewNetwork(st, "Vpc", NetworkProps{
		CidrBlock:   props.CidrBlock,
		MaxAZs:      props.MaxAZs,
		NatGateways: props.NatGateways,
	})
	if err != nil {
		return nil, err
	}

	d.ComputeSecurityGroup, err = NewSecurityGroup(st, "InstanceSecurityGroup", SecurityGroupProps{
		Network:          d.Network,
		Description:      "Allow SSH access",
		AllowAllOutbound: props.ComputeAllowAllOutbound,
	})
	if err != nil {
		return nil, err
	}
	if props.SSHIngressCIDR != "" {
		if err := d.ComputeSecurityGroup.AddIngressRule(IPv4(props.SSHIngressCIDR), TCP(22), "allow SSH"); err != nil {
			return nil, err
		}
	}
	d.DatabaseSecurityGroup, err = NewSecurityGroup(st, "RdsSecurityGroup", SecurityGroupProps{
		Network:          d.Network,
		Description:      "Allow database access",
		AllowAllOutbound: props.DatabaseAllowAllOutbound,
	})
	if err != nil {
		return nil, err
	}

	d.Instance, err = NewInstance(st, "Ec2Instance", InstanceProps{
		Network:       d.Network,
		SecurityGroup: d.ComputeSecurityGroup,
		InstanceType:  props.InstanceType,
		MachineImage:  LatestAmazonLinux2(),
		Name:          props.InstanceName,
	})
	if err != nil {
		return nil, err
	}

	engine := MySQL(props.EngineVersion)
	d.Database, err = NewDatabaseInstance(st, "RdsInstance", DatabaseInstanceProps{
		Network:            d.Network,
		SecurityGroups:     []*SecurityGroup{d.DatabaseSecurityGroup},
		Engine:             engine,
		InstanceClass:      props.DatabaseInstanceClass,
		MultiAZ:            false,
		AllocatedStorage:   props.AllocatedStorage,
		StorageType:        StorageTypeGP2,
		DeletionProtection: false,
		RemovalPolicy:      RemovalPolicyDestroy,
		Name:               props.DatabaseName,
	})
	if err != nil {
		return nil, err
	}
	if err := d.allowDatabaseFrom(d.ComputeSecurityGroup, engine.Port); err != nil {
		return nil, err
	}

	d.SchedulerRole, err = NewRole(st, "SchedulerRole", RoleProps{
		AssumedBy: ServicePrincipal("scheduler.amazonaws.com"),
	})
	if err != nil {
		return nil, err
	}
	err = d.SchedulerRole.AddToPolicy(PolicyStatement{
		Actions:   []string{ActionStartDBInstance.IAMAction(), ActionStopDBInstance.IAMAction()},
		Resources: []any{d.Database.InstanceArn()},
	})
	if err != nil {
		return nil, err
	}

	payload := DBInstancePayload{DbInstanceIdentifier: st.AsString(d.Database.InstanceIdentifier())}
	d.StopSchedule, err = NewSchedule(st, "StopRdsSchedule", ScheduleProps{
		Expression: props.StopSchedule,
		Action:     ActionStopDBInstance,
		Role:       d.SchedulerRole,
		Payload:    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("stop schedule: %w", err)
	}
	d.StartSchedule, err = NewSchedule(st, "StartRdsSchedule", ScheduleProps{
		Expression: props.StartSchedule,
		Action:     ActionStartDBInstance,
		Role:       d.SchedulerRole,
		Payload:    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("start schedule: %w", err)
	}

	d.EndpointOutput, err = st.AddOutput(OutputDBEndpoint, Output{
		Value:       d.Database.EndpointAddress(),
		Description: "Database endpoint address",
	})
	if err != nil {
		return nil, err
	}
	d.PrivateIPOutput, err = st.AddOutput(OutputEC2InstancePrivateIP, Output{
		Value:       d.Instance.PrivateIP(),
		Description: "Private address of the compute instance",
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// allowDatabaseFrom admits the database port from a security group. Address
// ranges are never accepted as sources for the database policy.
func (d *DevDatabaseStack) allowDatabaseFrom(peer Peer, port int) error {
	sg, ok := peer.(*SecurityGroup)
	if !ok {
		return appErr.Newf(appErr.CodeInvalid, "database policy only admits security group peers, got %T", peer)
	}
	return d.DatabaseSecurityGroup.AddIngressRule(sg, TCP(port), "Allow MySQL access from EC2 instance")
}
