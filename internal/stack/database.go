package stack

import (
	"fmt"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

// Engine is a database engine and version.
type Engine struct {
	Name    string
	Version string
	Port    int
}

// MySQL returns the MySQL engine at version.
func MySQL(version string) Engine { return Engine{Name: "mysql", Version: version, Port: 3306} }

const (
	MySQLVersion8043   = "8.0.43"
	StorageTypeGP2     = "gp2"
	DefaultMasterUser  = "admin"
	secretExcludeChars = " \"@/\\"
)

// DatabaseInstanceProps configures a DatabaseInstance.
type DatabaseInstanceProps struct {
	Network            *Network
	SecurityGroups     []*SecurityGroup
	Engine             Engine
	InstanceClass      string
	MultiAZ            bool
	AllocatedStorage   int
	StorageType        string
	DeletionProtection bool
	// RemovalPolicy defaults to RemovalPolicySnapshot.
	RemovalPolicy  RemovalPolicy
	MasterUsername string
	// Name sets the Name tag.
	Name string
}

// DatabaseInstance is a managed relational database in the private subnets.
type DatabaseInstance struct {
	Construct
	resource    *Resource
	subnetGroup *Resource
	secret      *Resource
	attachment  *Resource
	engine      Engine
}

// NewDatabaseInstance declares the instance, its subnet group, and a
// generated master credential secret.
func NewDatabaseInstance(scope Scope, id string, props DatabaseInstanceProps) (*DatabaseInstance, error) {
	if props.Network == nil {
		return nil, appErr.Newf(appErr.CodeInvalid, "database %s: network is required", id)
	}
	if props.Engine.Name == "" || props.Engine.Version == "" {
		return nil, appErr.Newf(appErr.CodeInvalid, "database %s: engine and version are required", id)
	}
	if props.InstanceClass == "" {
		return nil, appErr.Newf(appErr.CodeInvalid, "database %s: instance class is required", id)
	}
	if props.AllocatedStorage < 20 || props.AllocatedStorage > 65536 {
		return nil, appErr.Newf(appErr.CodeInvalid, "database %s: allocated storage must be 20-65536 GiB, got %d", id, props.AllocatedStorage)
	}
	if props.StorageType == "" {
		props.StorageType = StorageTypeGP2
	}
	if props.RemovalPolicy == "" {
		props.RemovalPolicy = RemovalPolicySnapshot
	}
	if props.MasterUsername == "" {
		props.MasterUsername = DefaultMasterUser
	}
	private := props.Network.PrivateSubnets()
	if len(private) < 2 {
		return nil, appErr.Newf(appErr.CodeInvalid, "database %s: subnet group needs subnets in two zones", id)
	}

	db := &DatabaseInstance{engine: props.Engine}
	if err := attach(&db.Construct, scope, id); err != nil {
		return nil, err
	}
	st := db.node.stack
	if props.Name != "" {
		db.node.AddTag("Name", props.Name)
	}

	subnetIDs := make([]any, len(private))
	for i, sn := range private {
		subnetIDs[i] = sn.SubnetID()
	}
	var err error
	db.subnetGroup, err = NewResource(db, "SubnetGroup", TypeDBSubnetGroup, &CfnDBSubnetGroup{
		DBSubnetGroupDescription: fmt.Sprintf("Subnet group for %s database", id),
		SubnetIDs:                subnetIDs,
	})
	if err != nil {
		return nil, err
	}
	db.subnetGroup.RemovalPolicy = RemovalPolicyDestroy

	db.secret, err = NewResource(db, "Secret", TypeSecret, &CfnSecret{
		Description: fmt.Sprintf("Generated by %s for %s", st.name, db.node.Path()),
		GenerateSecretString: GenerateSecretString{
			SecretStringTemplate: fmt.Sprintf(`{"username":%q}`, props.MasterUsername),
			GenerateStringKey:    "password",
			PasswordLength:       32,
			ExcludeCharacters:    secretExcludeChars,
		},
	})
	if err != nil {
		return nil, err
	}
	db.secret.RemovalPolicy = RemovalPolicyDestroy

	sgIDs := make([]any, 0, len(props.SecurityGroups))
	for _, sg := range props.SecurityGroups {
		sgIDs = append(sgIDs, sg.GroupID())
	}
	secretRef := st.AsString(db.secret.Ref())
	db.resource, err = NewResource(db, "Resource", TypeDBInstance, &CfnDBInstance{
		Engine:             props.Engine.Name,
		EngineVersion:      props.Engine.Version,
		DBInstanceClass:    props.InstanceClass,
		AllocatedStorage:   props.AllocatedStorage,
		StorageType:        props.StorageType,
		MultiAZ:            props.MultiAZ,
		DeletionProtection: props.DeletionProtection,
		CopyTagsToSnapshot: true,
		DBSubnetGroupName:  db.subnetGroup.Ref(),
		VPCSecurityGroups:  sgIDs,
		MasterUsername:     "{{resolve:secretsmanager:" + secretRef + ":SecretString:username::}}",
		MasterUserPassword: "{{resolve:secretsmanager:" + secretRef + ":SecretString:password::}}",
	})
	if err != nil {
		return nil, err
	}
	db.resource.RemovalPolicy = props.RemovalPolicy

	db.attachment, err = NewResource(db.secret, "Attachment", TypeSecretTargetAttachment, &CfnSecretTargetAttachment{
		SecretID:   db.secret.Ref(),
		TargetID:   db.resource.Ref(),
		TargetType: "AWS::RDS::DBInstance",
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// InstanceIdentifier references the database identifier. It is available
// structurally before the instance exists.
func (db *DatabaseInstance) InstanceIdentifier() Ref { return db.resource.Ref() }

// InstanceArn references the database ARN.
func (db *DatabaseInstance) InstanceArn() GetAtt { return db.resource.GetAtt("DBInstanceArn") }

// EndpointAddress references the connection endpoint host name.
func (db *DatabaseInstance) EndpointAddress() GetAtt { return db.resource.GetAtt("Endpoint.Address") }

// EndpointPort references the connection endpoint port.
func (db *DatabaseInstance) EndpointPort() GetAtt { return db.resource.GetAtt("Endpoint.Port") }

// Engine returns the configured engine.
func (db *DatabaseInstance) Engine() Engine { return db.engine }

// Resource returns the database instance resource.
func (db *DatabaseInstance) Resource() *Resource { return db.resource }

// Secret returns the generated credential secret resource.
func (db *DatabaseInstance) Secret() *Resource { return db.secret }

// SubnetGroup returns the subnet group resource.
func (db *DatabaseInstance) SubnetGroup() *Resource { return db.subnetGroup }
