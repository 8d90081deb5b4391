package synth

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iac-studio/dbstack/internal/schedule"
	"github.com/iac-studio/dbstack/internal/stack"
	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

func synthDev(t *testing.T, mutate func(*stack.DevDatabaseStackProps)) (*stack.DevDatabaseStack, *Template) {
	t.Helper()
	props := stack.DefaultDevDatabaseStackProps()
	if mutate != nil {
		mutate(&props)
	}
	d, err := stack.NewDevDatabaseStack(stack.NewApp(), "dev-db", props)
	require.NoError(t, err)
	tpl, err := New().Synthesize(d.Stack)
	require.NoError(t, err)
	return d, tpl
}

func props(t *testing.T, tpl *Template, id string) map[string]any {
	t.Helper()
	r, ok := tpl.Resources[id]
	require.True(t, ok, "resource %s not in template", id)
	return r.Properties
}

func TestSingleNetworkAcrossTwoZones(t *testing.T) {
	t.Parallel()
	d, tpl := synthDev(t, nil)

	require.Len(t, tpl.ResourcesOfType(stack.TypeVPC), 1)
	assert.Equal(t, "10.0.0.0/16", props(t, tpl, d.Network.VPC().LogicalID())["CidrBlock"])

	subnets := tpl.ResourcesOfType(stack.TypeSubnet)
	require.Len(t, subnets, 4)
	tiers := map[string]int{}
	zones := map[any]bool{}
	for _, id := range subnets {
		p := props(t, tpl, id)
		for _, tag := range p["Tags"].([]any) {
			tm := tag.(map[string]any)
			if tm["Key"] == "subnet-type" {
				tiers[tm["Value"].(string)]++
			}
		}
		sel := p["AvailabilityZone"].(map[string]any)["Fn::Select"].([]any)
		assert.Equal(t, map[string]any{"Fn::GetAZs": ""}, sel[1])
		zones[sel[0]] = true
	}
	assert.Equal(t, map[string]int{"Public": 2, "Private": 2}, tiers)
	assert.Len(t, zones, 2)
}

func TestDatabasePolicyOnlyAdmitsComputePolicy(t *testing.T) {
	t.Parallel()
	d, tpl := synthDev(t, nil)
	dbSG := d.DatabaseSecurityGroup.Resource().LogicalID()
	computeSG := d.ComputeSecurityGroup.Resource().LogicalID()

	_, inline := props(t, tpl, dbSG)["SecurityGroupIngress"]
	assert.False(t, inline, "database policy must not carry address-range rules")

	var rules []map[string]any
	for _, id := range tpl.ResourcesOfType(stack.TypeSecurityGroupIngress) {
		p := props(t, tpl, id)
		if assert.ObjectsAreEqual(map[string]any{"Fn::GetAtt": []any{dbSG, "GroupId"}}, p["GroupId"]) {
			rules = append(rules, p)
		}
	}
	require.Len(t, rules, 1)
	assert.Equal(t, map[string]any{"Fn::GetAtt": []any{computeSG, "GroupId"}}, rules[0]["SourceSecurityGroupId"])
	assert.Equal(t, "tcp", rules[0]["IpProtocol"])
	assert.Equal(t, 3306, rules[0]["FromPort"])
	assert.Equal(t, 3306, rules[0]["ToPort"])
	assert.NotContains(t, rules[0], "CidrIp")
}

func TestComputePolicySSH(t *testing.T) {
	t.Parallel()
	d, tpl := synthDev(t, nil)
	_, has := props(t, tpl, d.ComputeSecurityGroup.Resource().LogicalID())["SecurityGroupIngress"]
	assert.False(t, has, "no SSH rule by default")

	d, tpl = synthDev(t, func(p *stack.DevDatabaseStackProps) { p.SSHIngressCIDR = "0.0.0.0/0" })
	ingress := props(t, tpl, d.ComputeSecurityGroup.Resource().LogicalID())["SecurityGroupIngress"].([]any)
	assert.Equal(t, []any{map[string]any{
		"CidrIp":      "0.0.0.0/0",
		"IpProtocol":  "tcp",
		"FromPort":    22,
		"ToPort":      22,
		"Description": "allow SSH",
	}}, ingress)
}

func TestEgressDefaults(t *testing.T) {
	t.Parallel()
	d, tpl := synthDev(t, nil)
	compute := props(t, tpl, d.ComputeSecurityGroup.Resource().LogicalID())["SecurityGroupEgress"].([]any)
	assert.Equal(t, []any{map[string]any{
		"CidrIp":      "0.0.0.0/0",
		"IpProtocol":  "-1",
		"Description": "Allow all outbound traffic by default",
	}}, compute)

	db := props(t, tpl, d.DatabaseSecurityGroup.Resource().LogicalID())["SecurityGroupEgress"].([]any)
	assert.Equal(t, []any{map[string]any{
		"CidrIp":      "255.255.255.255/32",
		"IpProtocol":  "icmp",
		"FromPort":    252,
		"ToPort":      86,
		"Description": "Disallow all traffic",
	}}, db)
}

func TestSchedulerPolicyIsLeastPrivilege(t *testing.T) {
	t.Parallel()
	d, tpl := synthDev(t, nil)
	dbID := d.Database.Resource().LogicalID()

	policies := tpl.ResourcesOfType(stack.TypePolicy)
	require.Len(t, policies, 1)
	p := props(t, tpl, policies[0])
	assert.Equal(t, []any{map[string]any{"Ref": d.SchedulerRole.Resource().LogicalID()}}, p["Roles"])

	stmts := p["PolicyDocument"].(map[string]any)["Statement"].([]any)
	require.Len(t, stmts, 1)
	stmt := stmts[0].(map[string]any)
	assert.Equal(t, "Allow", stmt["Effect"])
	assert.Equal(t, []any{"rds:StartDBInstance", "rds:StopDBInstance"}, stmt["Action"])
	assert.Equal(t, []any{map[string]any{"Fn::GetAtt": []any{dbID, "DBInstanceArn"}}}, stmt["Resource"])

	trust := props(t, tpl, d.SchedulerRole.Resource().LogicalID())["AssumeRolePolicyDocument"].(map[string]any)
	assert.Equal(t, []any{map[string]any{
		"Effect":    "Allow",
		"Action":    []any{"sts:AssumeRole"},
		"Principal": map[string]any{"Service": "scheduler.amazonaws.com"},
	}}, trust["Statement"])
}

func TestSchedulesTargetTheStackDatabase(t *testing.T) {
	t.Parallel()
	d, tpl := synthDev(t, nil)
	dbs := tpl.ResourcesOfType(stack.TypeDBInstance)
	require.Len(t, dbs, 1)

	wantInput := map[string]any{"Fn::Join": []any{"", []any{
		`{"DbInstanceIdentifier":"`,
		map[string]any{"Ref": dbs[0]},
		`"}`,
	}}}
	roleArn := map[string]any{"Fn::GetAtt": []any{d.SchedulerRole.Resource().LogicalID(), "Arn"}}

	for id, action := range map[string]string{"StopRdsSchedule": "stopDBInstance", "StartRdsSchedule": "startDBInstance"} {
		p := props(t, tpl, id)
		target := p["Target"].(map[string]any)
		assert.Equal(t, wantInput, target["Input"], id)
		assert.Equal(t, roleArn, target["RoleArn"], id)
		assert.Equal(t, "arn:aws:scheduler:::aws-sdk:rds:"+action, target["Arn"], id)
		assert.Equal(t, map[string]any{"Mode": "OFF"}, p["FlexibleTimeWindow"], id)
		assert.Equal(t, "UTC", p["ScheduleExpressionTimezone"], id)
		assert.Equal(t, []string{tpl.ResourcesOfType(stack.TypePolicy)[0]}, tpl.Resources[id].DependsOn, id)
	}
}

func TestScheduleCadence(t *testing.T) {
	t.Parallel()
	_, tpl := synthDev(t, nil)

	stop := schedule.MustParse(props(t, tpl, "StopRdsSchedule")["ScheduleExpression"].(string))
	assert.Equal(t, 1, stop.FiresPerDay())
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		assert.True(t, stop.FiresOn(wd))
	}

	start := schedule.MustParse(props(t, tpl, "StartRdsSchedule")["ScheduleExpression"].(string))
	assert.Equal(t, 1, start.FiresPerDay())
	assert.False(t, start.FiresOn(time.Saturday))
	assert.False(t, start.FiresOn(time.Sunday))
	for wd := time.Monday; wd <= time.Friday; wd++ {
		assert.True(t, start.FiresOn(wd))
	}
}

func TestDatabaseAndInstanceProperties(t *testing.T) {
	t.Parallel()
	d, tpl := synthDev(t, nil)
	db := tpl.Resources[d.Database.Resource().LogicalID()]
	assert.Equal(t, "Delete", db.DeletionPolicy)
	assert.Equal(t, "Delete", db.UpdateReplacePolicy)
	assert.Equal(t, "mysql", db.Properties["Engine"])
	assert.Equal(t, "8.0.43", db.Properties["EngineVersion"])
	assert.Equal(t, "db.t3.micro", db.Properties["DBInstanceClass"])
	assert.Equal(t, "20", db.Properties["AllocatedStorage"])
	assert.Equal(t, "gp2", db.Properties["StorageType"])
	assert.Equal(t, false, db.Properties["MultiAZ"])
	assert.Equal(t, false, db.Properties["DeletionProtection"])
	assert.Equal(t, map[string]any{"Fn::Join": []any{"", []any{
		"{{resolve:secretsmanager:",
		map[string]any{"Ref": d.Database.Secret().LogicalID()},
		":SecretString:password::}}",
	}}}, db.Properties["MasterUserPassword"])

	inst := props(t, tpl, d.Instance.Resource().LogicalID())
	assert.Equal(t, "t3.micro", inst["InstanceType"])
	require.Len(t, tpl.Parameters, 1)
	for id, p := range tpl.Parameters {
		assert.Equal(t, map[string]any{"Ref": id}, inst["ImageId"])
		assert.Equal(t, stack.AmazonLinux2ParameterPath, p.Default)
	}
}

func TestOutputs(t *testing.T) {
	t.Parallel()
	d, tpl := synthDev(t, nil)
	require.Len(t, tpl.Outputs, 2)
	assert.Equal(t,
		map[string]any{"Fn::GetAtt": []any{d.Database.Resource().LogicalID(), "Endpoint.Address"}},
		tpl.Outputs["DBEndpoint"].Value,
	)
	assert.Equal(t,
		map[string]any{"Fn::GetAtt": []any{d.Instance.Resource().LogicalID(), "PrivateIp"}},
		tpl.Outputs["EC2InstancePrivateIP"].Value,
	)
}

func TestMetadataPath(t *testing.T) {
	t.Parallel()
	d, tpl := synthDev(t, nil)
	vpc := tpl.Resources[d.Network.VPC().LogicalID()]
	assert.Equal(t, "dev-db/Vpc/Resource", vpc.Metadata["Path"])
	assert.Equal(t, "dev-db/StopRdsSchedule", tpl.Resources["StopRdsSchedule"].Metadata["Path"])
}

func TestSynthesisIsDeterministic(t *testing.T) {
	t.Parallel()
	_, a := synthDev(t, nil)
	_, b := synthDev(t, nil)

	ja, err := a.JSON()
	require.NoError(t, err)
	jb, err := b.JSON()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(ja, jb))

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Len(t, da, 64)
}

func TestJSONFormatting(t *testing.T) {
	t.Parallel()
	_, tpl := synthDev(t, nil)
	js, err := tpl.JSON()
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(js, []byte("{\n  \"AWSTemplateFormatVersion\": \"2010-09-09\",\n")))
	assert.True(t, bytes.HasSuffix(js, []byte("}\n")))
	assert.Contains(t, string(js), "AWS::SSM::Parameter::Value<AWS::EC2::Image::Id>")
}

func TestTemplateRoundTrip(t *testing.T) {
	t.Parallel()
	_, tpl := synthDev(t, nil)

	js, err := tpl.JSON()
	require.NoError(t, err)
	fromJSON, err := ParseTemplate(js)
	require.NoError(t, err)
	assert.Empty(t, Diff(tpl, fromJSON))

	ym, err := tpl.YAML()
	require.NoError(t, err)
	fromYAML, err := ParseTemplate(ym)
	require.NoError(t, err)
	assert.Empty(t, Diff(tpl, fromYAML))
	assert.Len(t, fromYAML.Outputs, 2)
}

func TestUnsupportedResourceType(t *testing.T) {
	t.Parallel()
	st, err := stack.NewStack(stack.NewApp(), "dev", stack.StackProps{})
	require.NoError(t, err)
	_, err = stack.NewResource(st, "Bucket", "AWS::S3::Bucket", &struct{}{})
	require.NoError(t, err)

	_, err = New().Synthesize(st)
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

func TestCompilerValidation(t *testing.T) {
	t.Parallel()
	st, err := stack.NewStack(stack.NewApp(), "dev", stack.StackProps{})
	require.NoError(t, err)
	_, err = stack.NewResource(st, "Route", stack.TypeRoute, &stack.CfnRoute{
		RouteTableID:         "rtb-1",
		DestinationCidrBlock: "0.0.0.0/0",
		GatewayID:            "igw-1",
		NatGatewayID:         "nat-1",
	})
	require.NoError(t, err)

	_, err = New().Synthesize(st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of GatewayId and NatGatewayId")
}

func TestValidatePolicies(t *testing.T) {
	t.Parallel()
	policy := func(resource any) Resource {
		return Resource{Type: stack.TypePolicy, Properties: map[string]any{
			"PolicyDocument": map[string]any{"Statement": []any{map[string]any{
				"Effect":   "Allow",
				"Action":   []any{"rds:StopDBInstance"},
				"Resource": resource,
			}}},
		}}
	}
	cases := []struct {
		name    string
		tpl     *Template
		wantErr string
	}{
		{
			name:    "wildcard resource",
			tpl:     &Template{Resources: map[string]Resource{"P": policy([]any{"*"})}},
			wantErr: "grants on every resource",
		},
		{
			name:    "wildcard resource as string",
			tpl:     &Template{Resources: map[string]Resource{"P": policy("*")}},
			wantErr: "grants on every resource",
		},
		{
			name: "dangling ref",
			tpl: &Template{Resources: map[string]Resource{
				"P": policy([]any{map[string]any{"Fn::GetAtt": []any{"Missing", "Arn"}}}),
			}},
			wantErr: "references undeclared Missing",
		},
		{
			name: "dangling dependency",
			tpl: &Template{Resources: map[string]Resource{
				"A": {Type: stack.TypeEIP, DependsOn: []string{"B"}},
			}},
			wantErr: "depends on undeclared resource B",
		},
		{
			name: "schedule without role",
			tpl: &Template{Resources: map[string]Resource{
				"S": {Type: stack.TypeSchedule, Properties: map[string]any{"Target": map[string]any{"Arn": "x"}}},
			}},
			wantErr: "has no target role",
		},
		{
			name: "single zone",
			tpl: &Template{Resources: map[string]Resource{
				"A": {Type: stack.TypeSubnet, Properties: map[string]any{"AvailabilityZone": "eu-west-1a"}},
				"B": {Type: stack.TypeSubnet, Properties: map[string]any{"AvailabilityZone": "eu-west-1a"}},
			}},
			wantErr: "span 1 availability zones",
		},
		{
			name: "output references missing resource",
			tpl: &Template{
				Resources: map[string]Resource{},
				Outputs:   map[string]Output{"Out": {Value: map[string]any{"Ref": "Gone"}}},
			},
			wantErr: "output Out references undeclared Gone",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.tpl)
			require.Error(t, err)
			assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	ok := &Template{Resources: map[string]Resource{
		"Db": {Type: stack.TypeDBInstance},
		"P":  policy([]any{map[string]any{"Fn::GetAtt": []any{"Db", "DBInstanceArn"}}}),
	}}
	assert.NoError(t, Validate(ok))
}

func TestDiff(t *testing.T) {
	t.Parallel()
	_, base := synthDev(t, nil)

	assert.Len(t, Diff(nil, base), len(base.Resources))
	for _, c := range Diff(nil, base) {
		assert.Equal(t, ChangeAdd, c.Kind)
	}

	_, changed := synthDev(t, func(p *stack.DevDatabaseStackProps) {
		p.StopSchedule = "cron(0 18 * * ? *)"
		p.SSHIngressCIDR = "203.0.113.0/24"
	})
	changes := Diff(base, changed)
	byID := map[string]ResourceChange{}
	for _, c := range changes {
		byID[c.LogicalID] = c
	}
	require.Contains(t, byID, "StopRdsSchedule")
	assert.Equal(t, ChangeModify, byID["StopRdsSchedule"].Kind)
	assert.Equal(t, []string{"Properties.Description", "Properties.ScheduleExpression"}, byID["StopRdsSchedule"].Fields)
	assert.NotContains(t, byID, "StartRdsSchedule")

	removed := Diff(changed, &Template{Resources: map[string]Resource{}})
	assert.Len(t, removed, len(changed.Resources))
	assert.Equal(t, ChangeRemove, removed[0].Kind)
	assert.IsNonDecreasing(t, ids(removed))
}

func ids(changes []ResourceChange) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.LogicalID
	}
	return out
}

func TestBuildDevDatabase(t *testing.T) {
	t.Parallel()
	_, want := synthDev(t, nil)

	got, err := BuildDevDatabase("dev-db", stack.DefaultDevDatabaseStackProps())
	require.NoError(t, err)
	a, err := got.Digest()
	require.NoError(t, err)
	b, err := want.Digest()
	require.NoError(t, err)
	assert.Equal(t, b, a)

	_, err = BuildDevDatabase("not a stack name", stack.DefaultDevDatabaseStackProps())
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}
