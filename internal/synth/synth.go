// Package synth renders a declared stack into a provider template.
package synth

import (
	"fmt"
	"time"

	"github.com/iac-studio/dbstack/internal/metrics"
	"github.com/iac-studio/dbstack/internal/stack"
	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

// Synthesizer converts stacks to templates through per-type compilers.
type Synthesizer struct {
	resourceCompilers map[string]ResourceCompiler
}

// ResourceCompiler renders the properties of one resource type. Values in
// the returned map may be intrinsics or strings with token placeholders;
// the synthesizer resolves them.
type ResourceCompiler interface {
	Compile(r *stack.Resource) (map[string]any, error)
	Validate(r *stack.Resource) error
}

func New() *Synthesizer {
	s := &Synthesizer{
		resourceCompilers: make(map[string]ResourceCompiler),
	}

	s.RegisterCompiler(stack.TypeVPC, &VPCCompiler{})
	s.RegisterCompiler(stack.TypeSubnet, &SubnetCompiler{})
	s.RegisterCompiler(stack.TypeInternetGateway, &InternetGatewayCompiler{})
	s.RegisterCompiler(stack.TypeVPCGatewayAttachment, &VPCGatewayAttachmentCompiler{})
	s.RegisterCompiler(stack.TypeEIP, &EIPCompiler{})
	s.RegisterCompiler(stack.TypeNatGateway, &NatGatewayCompiler{})
	s.RegisterCompiler(stack.TypeRouteTable, &RouteTableCompiler{})
	s.RegisterCompiler(stack.TypeRoute, &RouteCompiler{})
	s.RegisterCompiler(stack.TypeSubnetRouteTableAssociation, &SubnetRouteTableAssociationCompiler{})
	s.RegisterCompiler(stack.TypeSecurityGroup, &SecurityGroupCompiler{})
	s.RegisterCompiler(stack.TypeSecurityGroupIngress, &SecurityGroupIngressCompiler{})
	s.RegisterCompiler(stack.TypeInstance, &InstanceCompiler{})
	s.RegisterCompiler(stack.TypeRole, &RoleCompiler{})
	s.RegisterCompiler(stack.TypePolicy, &PolicyCompiler{})
	s.RegisterCompiler(stack.TypeInstanceProfile, &InstanceProfileCompiler{})
	s.RegisterCompiler(stack.TypeDBSubnetGroup, &DBSubnetGroupCompiler{})
	s.RegisterCompiler(stack.TypeDBInstance, &DBInstanceCompiler{})
	s.RegisterCompiler(stack.TypeSecret, &SecretCompiler{})
	s.RegisterCompiler(stack.TypeSecretTargetAttachment, &SecretTargetAttachmentCompiler{})
	s.RegisterCompiler(stack.TypeSchedule, &ScheduleCompiler{})

	return s
}

func (s *Synthesizer) RegisterCompiler(resourceType string, compiler ResourceCompiler) {
	s.resourceCompilers[resourceType] = compiler
}

// Synthesize renders st and runs the template policy checks on the result.
func (s *Synthesizer) Synthesize(st *stack.Stack) (*Template, error) {
	start := time.Now()
	defer func() { metrics.ObserveSynth(time.Since(start).Seconds()) }()

	res := &resolver{st: st}
	t := &Template{
		AWSTemplateFormatVersion: FormatVersion,
		Description:              st.Description(),
		Resources:                make(map[string]Resource),
	}

	for _, p := range st.Parameters() {
		if t.Parameters == nil {
			t.Parameters = make(map[string]Parameter)
		}
		t.Parameters[p.LogicalID()] = Parameter{Type: p.Type, Default: p.Default, Description: p.Description}
	}

	for _, r := range st.Resources() {
		compiler, exists := s.resourceCompilers[r.Type]
		if !exists {
			return nil, appErr.Newf(appErr.CodeInvalid, "unsupported resource type %s at %s", r.Type, r.Path())
		}
		if err := compiler.Validate(r); err != nil {
			return nil, appErr.Wrap(err, appErr.CodeInvalid, fmt.Sprintf("validation failed for %s", r.Path()))
		}
		props, err := compiler.Compile(r)
		if err != nil {
			return nil, appErr.Wrap(err, appErr.CodeInvalid, fmt.Sprintf("compilation failed for %s", r.Path()))
		}

		out := Resource{
			Type:       r.Type,
			Properties: res.resolve(props).(map[string]any),
			DependsOn:  r.DependsOn(),
			Metadata:   map[string]any{"Path": st.Name() + "/" + r.Path()},
		}
		if r.RemovalPolicy != "" {
			out.DeletionPolicy = string(r.RemovalPolicy)
			out.UpdateReplacePolicy = string(r.RemovalPolicy)
		}
		t.Resources[r.LogicalID()] = out
	}

	for _, o := range st.Outputs() {
		if t.Outputs == nil {
			t.Outputs = make(map[string]Output)
		}
		out := Output{Value: res.resolve(o.Value), Description: o.Description}
		if o.ExportName != "" {
			out.Export = &Export{Name: o.ExportName}
		}
		t.Outputs[o.LogicalID()] = out
	}

	if res.err != nil {
		return nil, appErr.Wrap(res.err, appErr.CodeInvalid, "resolve tokens")
	}
	if err := Validate(t); err != nil {
		return nil, err
	}
	return t, nil
}
