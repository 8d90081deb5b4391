package stack

// Provider resource types declared by this package.
const (
	TypeVPC                         = "AWS::EC2::VPC"
	TypeSubnet                      = "AWS::EC2::Subnet"
	TypeInternetGateway             = "AWS::EC2::InternetGateway"
	TypeVPCGatewayAttachment        = "AWS::EC2::VPCGatewayAttachment"
	TypeEIP                         = "AWS::EC2::EIP"
	TypeNatGateway                  = "AWS::EC2::NatGateway"
	TypeRouteTable                  = "AWS::EC2::RouteTable"
	TypeRoute                       = "AWS::EC2::Route"
	TypeSubnetRouteTableAssociation = "AWS::EC2::SubnetRouteTableAssociation"
	TypeSecurityGroup               = "AWS::EC2::SecurityGroup"
	TypeSecurityGroupIngress        = "AWS::EC2::SecurityGroupIngress"
	TypeInstance                    = "AWS::EC2::Instance"
	TypeRole                        = "AWS::IAM::Role"
	TypePolicy                      = "AWS::IAM::Policy"
	TypeInstanceProfile             = "AWS::IAM::InstanceProfile"
	TypeDBSubnetGroup               = "AWS::RDS::DBSubnetGroup"
	TypeDBInstance                  = "AWS::RDS::DBInstance"
	TypeSecret                      = "AWS::SecretsManager::Secret"
	TypeSecretTargetAttachment      = "AWS::SecretsManager::SecretTargetAttachment"
	TypeSchedule                    = "AWS::Scheduler::Schedule"
)

// Fields typed any accept either a literal or an Intrinsic.

type CfnVPC struct {
	CidrBlock          string
	EnableDNSHostnames bool
	EnableDNSSupport   bool
	InstanceTenancy    string
}

type CfnSubnet struct {
	VpcID               any
	CidrBlock           string
	AvailabilityZone    any
	MapPublicIPOnLaunch bool
}

type CfnInternetGateway struct{}

type CfnVPCGatewayAttachment struct {
	VpcID             any
	InternetGatewayID any
}

type CfnEIP struct {
	Domain string
}

type CfnNatGateway struct {
	SubnetID     any
	AllocationID any
}

type CfnRouteTable struct {
	VpcID any
}

// CfnRoute sets exactly one of GatewayID and NatGatewayID.
type CfnRoute struct {
	RouteTableID         any
	DestinationCidrBlock string
	GatewayID            any
	NatGatewayID         any
}

type CfnSubnetRouteTableAssociation struct {
	SubnetID     any
	RouteTableID any
}

// SecurityGroupRule is an inline ingress or egress rule.
type SecurityGroupRule struct {
	CidrIP      string
	IPProtocol  string
	FromPort    int
	ToPort      int
	Description string
}

type CfnSecurityGroup struct {
	GroupDescription     string
	VpcID                any
	SecurityGroupIngress []SecurityGroupRule
	SecurityGroupEgress  []SecurityGroupRule
}

// CfnSecurityGroupIngress is a standalone ingress rule whose source is
// another security group.
type CfnSecurityGroupIngress struct {
	GroupID               any
	SourceSecurityGroupID any
	IPProtocol            string
	FromPort              int
	ToPort                int
	Description           string
}

type CfnInstance struct {
	ImageID            any
	InstanceType       string
	SubnetID           any
	AvailabilityZone   any
	SecurityGroupIDs   []any
	IamInstanceProfile any
}

// PolicyDocument is an IAM policy document.
type PolicyDocument struct {
	Statements []PolicyStatement
}

// PolicyStatement is one IAM statement. Effect defaults to Allow.
type PolicyStatement struct {
	Effect     string
	Actions    []string
	Resources  []any
	Principals []Principal
}

type CfnRole struct {
	AssumeRolePolicyDocument PolicyDocument
	Description              string
}

type CfnPolicy struct {
	PolicyName     string
	PolicyDocument *PolicyDocument
	Roles          []any
}

type CfnInstanceProfile struct {
	Roles []any
}

type CfnDBSubnetGroup struct {
	DBSubnetGroupDescription string
	SubnetIDs                []any
}

type CfnDBInstance struct {
	Engine               string
	EngineVersion        string
	DBInstanceClass      string
	AllocatedStorage     int
	StorageType          string
	MultiAZ              bool
	DeletionProtection   bool
	PubliclyAccessible   bool
	CopyTagsToSnapshot   bool
	DBSubnetGroupName    any
	VPCSecurityGroups    []any
	MasterUsername       any
	MasterUserPassword   any
	DBInstanceIdentifier string
}

// GenerateSecretString asks the provider to generate the secret value.
type GenerateSecretString struct {
	SecretStringTemplate string
	GenerateStringKey    string
	PasswordLength       int
	ExcludeCharacters    string
}

type CfnSecret struct {
	Description          string
	GenerateSecretString GenerateSecretString
}

type CfnSecretTargetAttachment struct {
	SecretID   any
	TargetID   any
	TargetType string
}

// ScheduleTarget is the API action a schedule invokes.
type ScheduleTarget struct {
	Arn     string
	RoleArn any
	Input   any
}

type CfnSchedule struct {
	Description                string
	ScheduleExpression         string
	ScheduleExpressionTimezone string
	FlexibleTimeWindowMode     string
	State                      string
	Target                     ScheduleTarget
}
