package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

func newDevStack(t *testing.T, mutate func(*DevDatabaseStackProps)) *DevDatabaseStack {
	t.Helper()
	props := DefaultDevDatabaseStackProps()
	if mutate != nil {
		mutate(&props)
	}
	d, err := NewDevDatabaseStack(NewApp(), "dev-db", props)
	require.NoError(t, err)
	return d
}

func TestDevStackTrafficPolicies(t *testing.T) {
	t.Parallel()
	d := newDevStack(t, nil)

	assert.Empty(t, d.ComputeSecurityGroup.IngressRules(), "no SSH rule unless a source is configured")
	assert.Equal(t, "-1", d.ComputeSecurityGroup.Resource().Properties.(*CfnSecurityGroup).SecurityGroupEgress[0].IPProtocol)
	assert.Equal(t, "255.255.255.255/32", d.DatabaseSecurityGroup.Resource().Properties.(*CfnSecurityGroup).SecurityGroupEgress[0].CidrIP)

	assert.Empty(t, d.DatabaseSecurityGroup.IngressRules())
	peers := d.DatabaseSecurityGroup.PeerIngressRules()
	require.Len(t, peers, 1)
	ing := peers[0].Properties.(*CfnSecurityGroupIngress)
	assert.Equal(t, d.ComputeSecurityGroup.GroupID(), ing.SourceSecurityGroupID)
	assert.Equal(t, 3306, ing.FromPort)
	assert.Equal(t, "Allow MySQL access from EC2 instance", ing.Description)
}

func TestDevStackSSHOptIn(t *testing.T) {
	t.Parallel()
	d := newDevStack(t, func(p *DevDatabaseStackProps) { p.SSHIngressCIDR = "0.0.0.0/0" })
	assert.Equal(t, []SecurityGroupRule{
		{CidrIP: "0.0.0.0/0", IPProtocol: "tcp", FromPort: 22, ToPort: 22, Description: "allow SSH"},
	}, d.ComputeSecurityGroup.IngressRules())
}

func TestDevStackDatabasePolicyRejectsAddressRanges(t *testing.T) {
	t.Parallel()
	d := newDevStack(t, nil)
	err := d.allowDatabaseFrom(IPv4(d.Network.CidrBlock()), 3306)
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
	assert.Empty(t, d.DatabaseSecurityGroup.IngressRules())
}

func TestDevStackComputeAndDatabase(t *testing.T) {
	t.Parallel()
	d := newDevStack(t, nil)

	in := d.Instance.Resource().Properties.(*CfnInstance)
	assert.Equal(t, "t3.micro", in.InstanceType)
	assert.Equal(t, d.Network.PrivateSubnets()[0].SubnetID(), in.SubnetID)
	assert.Equal(t, []any{d.ComputeSecurityGroup.GroupID()}, in.SecurityGroupIDs)
	require.Len(t, d.Parameters(), 1)
	assert.Equal(t, "AWS::SSM::Parameter::Value<AWS::EC2::Image::Id>", d.Parameters()[0].Type)
	assert.Equal(t, AmazonLinux2ParameterPath, d.Parameters()[0].Default)
	assert.Equal(t, d.Parameters()[0].Ref(), in.ImageID)
	assert.Contains(t, d.Instance.Resource().Tags(), Tag{Key: "Name", Value: "dev-db-ec2-instance"})

	db := d.Database.Resource()
	props := db.Properties.(*CfnDBInstance)
	assert.Equal(t, "mysql", props.Engine)
	assert.Equal(t, "8.0.43", props.EngineVersion)
	assert.Equal(t, "db.t3.micro", props.DBInstanceClass)
	assert.Equal(t, 20, props.AllocatedStorage)
	assert.Equal(t, "gp2", props.StorageType)
	assert.False(t, props.MultiAZ)
	assert.False(t, props.DeletionProtection)
	assert.Equal(t, RemovalPolicyDestroy, db.RemovalPolicy)
	assert.Equal(t, []any{d.DatabaseSecurityGroup.GroupID()}, props.VPCSecurityGroups)
	assert.Equal(t, d.Database.SubnetGroup().Ref(), props.DBSubnetGroupName)
	assert.Contains(t, db.Tags(), Tag{Key: "Name", Value: "dev-db-rds-instance"})

	secret := d.Database.Secret().Properties.(*CfnSecret)
	assert.Equal(t, 32, secret.GenerateSecretString.PasswordLength)
	assert.Equal(t, `{"username":"admin"}`, secret.GenerateSecretString.SecretStringTemplate)
	user, err := d.SplitTokens(props.MasterUsername.(string))
	require.NoError(t, err)
	assert.Equal(t, []any{"{{resolve:secretsmanager:", d.Database.Secret().Ref(), ":SecretString:username::}}"}, user)

	group := d.Database.SubnetGroup().Properties.(*CfnDBSubnetGroup)
	assert.Equal(t, []any{d.Network.PrivateSubnets()[0].SubnetID(), d.Network.PrivateSubnets()[1].SubnetID()}, group.SubnetIDs)
}

func TestDevStackSchedulerIdentity(t *testing.T) {
	t.Parallel()
	d := newDevStack(t, nil)

	role := d.SchedulerRole.Resource().Properties.(*CfnRole)
	trust := role.AssumeRolePolicyDocument.Statements
	require.Len(t, trust, 1)
	assert.Equal(t, []Principal{ServicePrincipal("scheduler.amazonaws.com")}, trust[0].Principals)

	stmts := d.SchedulerRole.Statements()
	require.Len(t, stmts, 1)
	assert.Equal(t, []string{"rds:StartDBInstance", "rds:StopDBInstance"}, stmts[0].Actions)
	assert.Equal(t, []any{d.Database.InstanceArn()}, stmts[0].Resources)
	assert.Equal(t, "Allow", stmts[0].Effect)

	pol := d.SchedulerRole.Policy().Properties.(*CfnPolicy)
	assert.Equal(t, []any{d.SchedulerRole.RoleName()}, pol.Roles)
	assert.Equal(t, d.SchedulerRole.Policy().LogicalID(), pol.PolicyName)
}

func TestDevStackSchedules(t *testing.T) {
	t.Parallel()
	d := newDevStack(t, nil)

	stop := d.StopSchedule.Resource()
	start := d.StartSchedule.Resource()
	assert.Equal(t, "StopRdsSchedule", stop.LogicalID())
	assert.Equal(t, "StartRdsSchedule", start.LogicalID())

	stopProps := stop.Properties.(*CfnSchedule)
	assert.Equal(t, "cron(30 6 * * ? *)", stopProps.ScheduleExpression)
	assert.Equal(t, "UTC", stopProps.ScheduleExpressionTimezone)
	assert.Equal(t, "OFF", stopProps.FlexibleTimeWindowMode)
	assert.Equal(t, "arn:aws:scheduler:::aws-sdk:rds:stopDBInstance", stopProps.Target.Arn)
	assert.Equal(t, d.SchedulerRole.RoleArn(), stopProps.Target.RoleArn)
	assert.Equal(t, "Stops the database at 06:30 UTC every day", stopProps.Description)

	startProps := start.Properties.(*CfnSchedule)
	assert.Equal(t, "cron(30 22 ? * MON-FRI *)", startProps.ScheduleExpression)
	assert.Equal(t, "arn:aws:scheduler:::aws-sdk:rds:startDBInstance", startProps.Target.Arn)
	assert.Equal(t, "Starts the database at 22:30 UTC on MON-FRI", startProps.Description)

	assert.Equal(t, d.StopSchedule.Input(), d.StartSchedule.Input())
	parts, err := d.SplitTokens(d.StopSchedule.Input())
	require.NoError(t, err)
	assert.Equal(t, []any{`{"DbInstanceIdentifier":"`, d.Database.InstanceIdentifier(), `"}`}, parts)

	assert.Equal(t, []string{d.SchedulerRole.Policy().LogicalID()}, stop.DependsOn())
}

func TestDevStackScheduleOverrides(t *testing.T) {
	t.Parallel()
	d := newDevStack(t, func(p *DevDatabaseStackProps) { p.StopSchedule = "cron(0 18 * * ? *)" })
	props := d.StopSchedule.Resource().Properties.(*CfnSchedule)
	assert.Equal(t, "Stops the database at 18:00 UTC every day", props.Description)

	_, err := NewDevDatabaseStack(NewApp(), "dev-db", DevDatabaseStackProps{StartSchedule: "cron(30 22 * * MON-FRI *)"})
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

func TestDevStackOutputs(t *testing.T) {
	t.Parallel()
	d := newDevStack(t, nil)
	outs := d.Outputs()
	require.Len(t, outs, 2)
	assert.Equal(t, "DBEndpoint", outs[0].LogicalID())
	assert.Equal(t, d.Database.EndpointAddress(), outs[0].Value)
	assert.Equal(t, "EC2InstancePrivateIP", outs[1].LogicalID())
	assert.Equal(t, d.Instance.PrivateIP(), outs[1].Value)
}

func TestScheduleActionNames(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "rds:StopDBInstance", ActionStopDBInstance.IAMAction())
	assert.Equal(t, "rds:StartDBInstance", ActionStartDBInstance.IAMAction())
}
