package synth

import (
	"fmt"
	"strconv"

	"github.com/iac-studio/dbstack/internal/stack"
)

func propsOf[T any](r *stack.Resource) (*T, error) {
	p, ok := r.Properties.(*T)
	if !ok || p == nil {
		var zero T
		return nil, fmt.Errorf("%s: expected %T properties, got %T", r.Type, &zero, r.Properties)
	}
	return p, nil
}

// put sets optional properties, skipping empty values.
func put(m map[string]any, key string, v any) {
	switch x := v.(type) {
	case nil:
		return
	case string:
		if x == "" {
			return
		}
	case []any:
		if len(x) == 0 {
			return
		}
	}
	m[key] = v
}

func required(fields map[string]any) error {
	for name, v := range fields {
		switch x := v.(type) {
		case nil:
			return fmt.Errorf("missing required field: %s", name)
		case string:
			if x == "" {
				return fmt.Errorf("missing required field: %s", name)
			}
		case []any:
			if len(x) == 0 {
				return fmt.Errorf("missing required field: %s", name)
			}
		}
	}
	return nil
}

func withTags(r *stack.Resource, m map[string]any) map[string]any {
	tags := r.Tags()
	if len(tags) == 0 {
		return m
	}
	list := make([]any, len(tags))
	for i, t := range tags {
		list[i] = map[string]any{"Key": t.Key, "Value": t.Value}
	}
	m["Tags"] = list
	return m
}

func anyList[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// VPCCompiler compiles AWS::EC2::VPC resources
type VPCCompiler struct{}

func (c *VPCCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnVPC](r)
	if err != nil {
		return err
	}
	return required(map[string]any{"CidrBlock": p.CidrBlock})
}

func (c *VPCCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnVPC](r)
	if err != nil {
		return nil, err
	}
	m := map[string]any{
		"CidrBlock":          p.CidrBlock,
		"EnableDnsHostnames": p.EnableDNSHostnames,
		"EnableDnsSupport":   p.EnableDNSSupport,
	}
	put(m, "InstanceTenancy", p.InstanceTenancy)
	return withTags(r, m), nil
}

// SubnetCompiler compiles AWS::EC2::Subnet resources
type SubnetCompiler struct{}

func (c *SubnetCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnSubnet](r)
	if err != nil {
		return err
	}
	return required(map[string]any{"VpcId": p.VpcID, "CidrBlock": p.CidrBlock})
}

func (c *SubnetCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnSubnet](r)
	if err != nil {
		return nil, err
	}
	m := map[string]any{
		"VpcId":               p.VpcID,
		"CidrBlock":           p.CidrBlock,
		"MapPublicIpOnLaunch": p.MapPublicIPOnLaunch,
	}
	put(m, "AvailabilityZone", p.AvailabilityZone)
	return withTags(r, m), nil
}

// InternetGatewayCompiler compiles AWS::EC2::InternetGateway resources
type InternetGatewayCompiler struct{}

func (c *InternetGatewayCompiler) Validate(r *stack.Resource) error {
	_, err := propsOf[stack.CfnInternetGateway](r)
	return err
}

func (c *InternetGatewayCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	return withTags(r, map[string]any{}), nil
}

// VPCGatewayAttachmentCompiler compiles AWS::EC2::VPCGatewayAttachment resources
type VPCGatewayAttachmentCompiler struct{}

func (c *VPCGatewayAttachmentCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnVPCGatewayAttachment](r)
	if err != nil {
		return err
	}
	return required(map[string]any{"VpcId": p.VpcID, "InternetGatewayId": p.InternetGatewayID})
}

func (c *VPCGatewayAttachmentCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnVPCGatewayAttachment](r)
	if err != nil {
		return nil, err
	}
	return map[string]any{"VpcId": p.VpcID, "InternetGatewayId": p.InternetGatewayID}, nil
}

// EIPCompiler compiles AWS::EC2::EIP resources
type EIPCompiler struct{}

func (c *EIPCompiler) Validate(r *stack.Resource) error {
	_, err := propsOf[stack.CfnEIP](r)
	return err
}

func (c *EIPCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnEIP](r)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	put(m, "Domain", p.Domain)
	return withTags(r, m), nil
}

// NatGatewayCompiler compiles AWS::EC2::NatGateway resources
type NatGatewayCompiler struct{}

func (c *NatGatewayCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnNatGateway](r)
	if err != nil {
		return err
	}
	return required(map[string]any{"SubnetId": p.SubnetID, "AllocationId": p.AllocationID})
}

func (c *NatGatewayCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnNatGateway](r)
	if err != nil {
		return nil, err
	}
	return withTags(r, map[string]any{"SubnetId": p.SubnetID, "AllocationId": p.AllocationID}), nil
}

// RouteTableCompiler compiles AWS::EC2::RouteTable resources
type RouteTableCompiler struct{}

func (c *RouteTableCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnRouteTable](r)
	if err != nil {
		return err
	}
	return required(map[string]any{"VpcId": p.VpcID})
}

func (c *RouteTableCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnRouteTable](r)
	if err != nil {
		return nil, err
	}
	return withTags(r, map[string]any{"VpcId": p.VpcID}), nil
}

// RouteCompiler compiles AWS::EC2::Route resources
type RouteCompiler struct{}

func (c *RouteCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnRoute](r)
	if err != nil {
		return err
	}
	if err := required(map[string]any{"RouteTableId": p.RouteTableID, "DestinationCidrBlock": p.DestinationCidrBlock}); err != nil {
		return err
	}
	if (p.GatewayID == nil) == (p.NatGatewayID == nil) {
		return fmt.Errorf("exactly one of GatewayId and NatGatewayId must be set")
	}
	return nil
}

func (c *RouteCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnRoute](r)
	if err != nil {
		return nil, err
	}
	m := map[string]any{"RouteTableId": p.RouteTableID, "DestinationCidrBlock": p.DestinationCidrBlock}
	put(m, "GatewayId", p.GatewayID)
	put(m, "NatGatewayId", p.NatGatewayID)
	return m, nil
}

// SubnetRouteTableAssociationCompiler compiles AWS::EC2::SubnetRouteTableAssociation resources
type SubnetRouteTableAssociationCompiler struct{}

func (c *SubnetRouteTableAssociationCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnSubnetRouteTableAssociation](r)
	if err != nil {
		return err
	}
	return required(map[string]any{"SubnetId": p.SubnetID, "RouteTableId": p.RouteTableID})
}

func (c *SubnetRouteTableAssociationCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnSubnetRouteTableAssociation](r)
	if err != nil {
		return nil, err
	}
	return map[string]any{"SubnetId": p.SubnetID, "RouteTableId": p.RouteTableID}, nil
}

// SecurityGroupCompiler compiles AWS::EC2::SecurityGroup resources
type SecurityGroupCompiler struct{}

func (c *SecurityGroupCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnSecurityGroup](r)
	if err != nil {
		return err
	}
	return required(map[string]any{"GroupDescription": p.GroupDescription, "VpcId": p.VpcID})
}

func (c *SecurityGroupCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnSecurityGroup](r)
	if err != nil {
		return nil, err
	}
	m := map[string]any{"GroupDescription": p.GroupDescription, "VpcId": p.VpcID}
	put(m, "SecurityGroupIngress", ruleList(p.SecurityGroupIngress))
	put(m, "SecurityGroupEgress", ruleList(p.SecurityGroupEgress))
	return withTags(r, m), nil
}

func ruleList(rules []stack.SecurityGroupRule) []any {
	out := make([]any, 0, len(rules))
	for _, rule := range rules {
		m := map[string]any{"CidrIp": rule.CidrIP, "IpProtocol": rule.IPProtocol}
		// all-protocol rules carry no ports
		if rule.IPProtocol != "-1" {
			m["FromPort"] = rule.FromPort
			m["ToPort"] = rule.ToPort
		}
		put(m, "Description", rule.Description)
		out = append(out, m)
	}
	return out
}

// SecurityGroupIngressCompiler compiles AWS::EC2::SecurityGroupIngress resources
type SecurityGroupIngressCompiler struct{}

func (c *SecurityGroupIngressCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnSecurityGroupIngress](r)
	if err != nil {
		return err
	}
	return required(map[string]any{
		"GroupId":               p.GroupID,
		"SourceSecurityGroupId": p.SourceSecurityGroupID,
		"IpProtocol":            p.IPProtocol,
	})
}

func (c *SecurityGroupIngressCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnSecurityGroupIngress](r)
	if err != nil {
		return nil, err
	}
	m := map[string]any{
		"GroupId":               p.GroupID,
		"SourceSecurityGroupId": p.SourceSecurityGroupID,
		"IpProtocol":            p.IPProtocol,
		"FromPort":              p.FromPort,
		"ToPort":                p.ToPort,
	}
	put(m, "Description", p.Description)
	return m, nil
}

// InstanceCompiler compiles AWS::EC2::Instance resources
type InstanceCompiler struct{}

func (c *InstanceCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnInstance](r)
	if err != nil {
		return err
	}
	return required(map[string]any{"ImageId": p.ImageID, "InstanceType": p.InstanceType})
}

func (c *InstanceCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnInstance](r)
	if err != nil {
		return nil, err
	}
	m := map[string]any{"ImageId": p.ImageID, "InstanceType": p.InstanceType}
	put(m, "SubnetId", p.SubnetID)
	put(m, "AvailabilityZone", p.AvailabilityZone)
	put(m, "SecurityGroupIds", append([]any(nil), p.SecurityGroupIDs...))
	put(m, "IamInstanceProfile", p.IamInstanceProfile)
	return withTags(r, m), nil
}

func policyDocument(doc stack.PolicyDocument) map[string]any {
	stmts := make([]any, 0, len(doc.Statements))
	for _, s := range doc.Statements {
		effect := s.Effect
		if effect == "" {
			effect = "Allow"
		}
		m := map[string]any{"Effect": effect, "Action": anyList(s.Actions)}
		if len(s.Resources) > 0 {
			m["Resource"] = append([]any(nil), s.Resources...)
		}
		if len(s.Principals) > 0 {
			principal := map[string]any{}
			for _, p := range s.Principals {
				for k, v := range p.PrincipalJSON() {
					principal[k] = v
				}
			}
			m["Principal"] = principal
		}
		stmts = append(stmts, m)
	}
	return map[string]any{"Version": "2012-10-17", "Statement": stmts}
}

// RoleCompiler compiles AWS::IAM::Role resources
type RoleCompiler struct{}

func (c *RoleCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnRole](r)
	if err != nil {
		return err
	}
	if len(p.AssumeRolePolicyDocument.Statements) == 0 {
		return fmt.Errorf("missing required field: AssumeRolePolicyDocument")
	}
	return nil
}

func (c *RoleCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnRole](r)
	if err != nil {
		return nil, err
	}
	m := map[string]any{"AssumeRolePolicyDocument": policyDocument(p.AssumeRolePolicyDocument)}
	put(m, "Description", p.Description)
	return m, nil
}

// PolicyCompiler compiles AWS::IAM::Policy resources
type PolicyCompiler struct{}

func (c *PolicyCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnPolicy](r)
	if err != nil {
		return err
	}
	if p.PolicyDocument == nil || len(p.PolicyDocument.Statements) == 0 {
		return fmt.Errorf("missing required field: PolicyDocument")
	}
	return required(map[string]any{"PolicyName": p.PolicyName, "Roles": p.Roles})
}

func (c *PolicyCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnPolicy](r)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"PolicyName":     p.PolicyName,
		"PolicyDocument": policyDocument(*p.PolicyDocument),
		"Roles":          append([]any(nil), p.Roles...),
	}, nil
}

// InstanceProfileCompiler compiles AWS::IAM::InstanceProfile resources
type InstanceProfileCompiler struct{}

func (c *InstanceProfileCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnInstanceProfile](r)
	if err != nil {
		return err
	}
	return required(map[string]any{"Roles": p.Roles})
}

func (c *InstanceProfileCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnInstanceProfile](r)
	if err != nil {
		return nil, err
	}
	return map[string]any{"Roles": append([]any(nil), p.Roles...)}, nil
}

// DBSubnetGroupCompiler compiles AWS::RDS::DBSubnetGroup resources
type DBSubnetGroupCompiler struct{}

func (c *DBSubnetGroupCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnDBSubnetGroup](r)
	if err != nil {
		return err
	}
	if err := required(map[string]any{"DBSubnetGroupDescription": p.DBSubnetGroupDescription}); err != nil {
		return err
	}
	if len(p.SubnetIDs) < 2 {
		return fmt.Errorf("SubnetIds: need subnets in at least two zones, got %d", len(p.SubnetIDs))
	}
	return nil
}

func (c *DBSubnetGroupCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnDBSubnetGroup](r)
	if err != nil {
		return nil, err
	}
	return withTags(r, map[string]any{
		"DBSubnetGroupDescription": p.DBSubnetGroupDescription,
		"SubnetIds":                append([]any(nil), p.SubnetIDs...),
	}), nil
}

// DBInstanceCompiler compiles AWS::RDS::DBInstance resources
type DBInstanceCompiler struct{}

func (c *DBInstanceCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnDBInstance](r)
	if err != nil {
		return err
	}
	if err := required(map[string]any{"Engine": p.Engine, "DBInstanceClass": p.DBInstanceClass}); err != nil {
		return err
	}
	if p.AllocatedStorage <= 0 {
		return fmt.Errorf("missing required field: AllocatedStorage")
	}
	return nil
}

func (c *DBInstanceCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnDBInstance](r)
	if err != nil {
		return nil, err
	}
	m := map[string]any{
		"Engine":             p.Engine,
		"DBInstanceClass":    p.DBInstanceClass,
		"AllocatedStorage":   strconv.Itoa(p.AllocatedStorage),
		"MultiAZ":            p.MultiAZ,
		"DeletionProtection": p.DeletionProtection,
		"PubliclyAccessible": p.PubliclyAccessible,
		"CopyTagsToSnapshot": p.CopyTagsToSnapshot,
	}
	put(m, "EngineVersion", p.EngineVersion)
	put(m, "StorageType", p.StorageType)
	put(m, "DBSubnetGroupName", p.DBSubnetGroupName)
	put(m, "VPCSecurityGroups", append([]any(nil), p.VPCSecurityGroups...))
	put(m, "MasterUsername", p.MasterUsername)
	put(m, "MasterUserPassword", p.MasterUserPassword)
	put(m, "DBInstanceIdentifier", p.DBInstanceIdentifier)
	return withTags(r, m), nil
}

// SecretCompiler compiles AWS::SecretsManager::Secret resources
type SecretCompiler struct{}

func (c *SecretCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnSecret](r)
	if err != nil {
		return err
	}
	g := p.GenerateSecretString
	if g.GenerateStringKey != "" && g.SecretStringTemplate == "" {
		return fmt.Errorf("GenerateStringKey requires SecretStringTemplate")
	}
	return nil
}

func (c *SecretCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnSecret](r)
	if err != nil {
		return nil, err
	}
	g := p.GenerateSecretString
	gen := map[string]any{}
	put(gen, "SecretStringTemplate", g.SecretStringTemplate)
	put(gen, "GenerateStringKey", g.GenerateStringKey)
	put(gen, "ExcludeCharacters", g.ExcludeCharacters)
	if g.PasswordLength > 0 {
		gen["PasswordLength"] = g.PasswordLength
	}
	m := map[string]any{"GenerateSecretString": gen}
	put(m, "Description", p.Description)
	return withTags(r, m), nil
}

// SecretTargetAttachmentCompiler compiles AWS::SecretsManager::SecretTargetAttachment resources
type SecretTargetAttachmentCompiler struct{}

func (c *SecretTargetAttachmentCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnSecretTargetAttachment](r)
	if err != nil {
		return err
	}
	return required(map[string]any{"SecretId": p.SecretID, "TargetId": p.TargetID, "TargetType": p.TargetType})
}

func (c *SecretTargetAttachmentCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnSecretTargetAttachment](r)
	if err != nil {
		return nil, err
	}
	return map[string]any{"SecretId": p.SecretID, "TargetId": p.TargetID, "TargetType": p.TargetType}, nil
}

// ScheduleCompiler compiles AWS::Scheduler::Schedule resources
type ScheduleCompiler struct{}

func (c *ScheduleCompiler) Validate(r *stack.Resource) error {
	p, err := propsOf[stack.CfnSchedule](r)
	if err != nil {
		return err
	}
	return required(map[string]any{
		"ScheduleExpression": p.ScheduleExpression,
		"FlexibleTimeWindow": p.FlexibleTimeWindowMode,
		"Target.Arn":         p.Target.Arn,
		"Target.RoleArn":     p.Target.RoleArn,
	})
}

func (c *ScheduleCompiler) Compile(r *stack.Resource) (map[string]any, error) {
	p, err := propsOf[stack.CfnSchedule](r)
	if err != nil {
		return nil, err
	}
	target := map[string]any{"Arn": p.Target.Arn, "RoleArn": p.Target.RoleArn}
	put(target, "Input", p.Target.Input)
	m := map[string]any{
		"ScheduleExpression": p.ScheduleExpression,
		"FlexibleTimeWindow": map[string]any{"Mode": p.FlexibleTimeWindowMode},
		"Target":             target,
	}
	put(m, "Description", p.Description)
	put(m, "ScheduleExpressionTimezone", p.ScheduleExpressionTimezone)
	put(m, "State", p.State)
	return m, nil
}
