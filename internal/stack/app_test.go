package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
	"github.com/iac-studio/dbstack/pkg/utils"
)

func newTestStack(t *testing.T) *Stack {
	t.Helper()
	st, err := NewStack(NewApp(), "dev", StackProps{})
	require.NoError(t, err)
	return st
}

func newTestConstruct(t *testing.T, scope Scope, id string) *Construct {
	t.Helper()
	c := &Construct{}
	require.NoError(t, attach(c, scope, id))
	return c
}

func TestStackNames(t *testing.T) {
	t.Parallel()
	app := NewApp()
	_, err := NewStack(app, "dev-db", StackProps{})
	require.NoError(t, err)

	_, err = NewStack(app, "dev-db", StackProps{})
	assert.True(t, appErr.IsCode(err, appErr.CodeConflict))

	for _, bad := range []string{"", "1dev", "dev_db", "dev db"} {
		_, err := NewStack(app, bad, StackProps{})
		assert.True(t, appErr.IsCode(err, appErr.CodeInvalid), bad)
	}

	got, ok := app.Stack("dev-db")
	require.True(t, ok)
	assert.Equal(t, "dev-db", got.Name())
	assert.Len(t, app.Stacks(), 1)
}

func TestLogicalIDs(t *testing.T) {
	t.Parallel()
	st := newTestStack(t)

	top, err := NewResource(st, "StopRdsSchedule", TypeSchedule, &CfnSchedule{})
	require.NoError(t, err)
	assert.Equal(t, "StopRdsSchedule", top.LogicalID())

	vpc := newTestConstruct(t, st, "Vpc")
	nested, err := NewResource(vpc, "Resource", TypeVPC, &CfnVPC{})
	require.NoError(t, err)
	assert.Equal(t, "Vpc"+utils.ShortHash("Vpc/Resource", 8), nested.LogicalID())
	assert.Regexp(t, `^Vpc[0-9A-F]{8}$`, nested.LogicalID())

	sub := newTestConstruct(t, vpc, "PublicSubnet1")
	deep, err := NewResource(sub, "Subnet", TypeSubnet, &CfnSubnet{})
	require.NoError(t, err)
	assert.Regexp(t, `^VpcPublicSubnet1Subnet[0-9A-F]{8}$`, deep.LogicalID())
	assert.Equal(t, "Vpc/PublicSubnet1/Subnet", deep.Path())

	// the same path in another app yields the same id
	other := newTestStack(t)
	vpc2 := newTestConstruct(t, other, "Vpc")
	again, err := NewResource(vpc2, "Resource", TypeVPC, &CfnVPC{})
	require.NoError(t, err)
	assert.Equal(t, nested.LogicalID(), again.LogicalID())

	got, ok := st.ResourceByLogicalID(nested.LogicalID())
	require.True(t, ok)
	assert.Same(t, nested, got)
}

func TestConstructIDValidation(t *testing.T) {
	t.Parallel()
	st := newTestStack(t)
	_, err := NewResource(st, "Dup", TypeEIP, &CfnEIP{})
	require.NoError(t, err)

	_, err = NewResource(st, "Dup", TypeEIP, &CfnEIP{})
	assert.True(t, appErr.IsCode(err, appErr.CodeConflict))

	for _, bad := range []string{"", "-leading", "has/slash"} {
		_, err := NewResource(st, bad, TypeEIP, &CfnEIP{})
		assert.True(t, appErr.IsCode(err, appErr.CodeInvalid), bad)
	}
}

func TestTagsInheritAndOverride(t *testing.T) {
	t.Parallel()
	st, err := NewStack(NewApp(), "dev", StackProps{Tags: map[string]string{"env": "dev", "Name": "stack"}})
	require.NoError(t, err)
	c := newTestConstruct(t, st, "Db")
	c.Node().AddTag("Name", "inner")
	r, err := NewResource(c, "Resource", TypeDBInstance, &CfnDBInstance{})
	require.NoError(t, err)

	assert.Equal(t, []Tag{{Key: "Name", Value: "inner"}, {Key: "env", Value: "dev"}}, r.Tags())
}

func TestDependencies(t *testing.T) {
	t.Parallel()
	st := newTestStack(t)
	a, _ := NewResource(st, "A", TypeEIP, &CfnEIP{})
	b, _ := NewResource(st, "B", TypeEIP, &CfnEIP{})
	c, _ := NewResource(st, "C", TypeEIP, &CfnEIP{})

	c.AddDependency(b)
	c.AddDependency(a)
	c.AddDependency(a)
	c.AddDependency(c)
	c.AddDependency(nil)
	assert.Equal(t, []string{"A", "B"}, c.DependsOn())
}

func TestParameters(t *testing.T) {
	t.Parallel()
	st := newTestStack(t)
	p1, err := st.AddParameter("Image/Id", Parameter{Type: "String", Default: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ImageId", p1.LogicalID())

	p2, err := st.AddParameter("ImageId", Parameter{Type: "String"})
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	_, err = st.AddParameter("ImageId", Parameter{Type: "Number"})
	assert.True(t, appErr.IsCode(err, appErr.CodeConflict))
	assert.Len(t, st.Parameters(), 1)
}

func TestOutputs(t *testing.T) {
	t.Parallel()
	st := newTestStack(t)
	_, err := st.AddOutput(OutputDBEndpoint, Output{Value: GetAtt{LogicalID: "Db", Attribute: "Endpoint.Address"}})
	require.NoError(t, err)

	_, err = st.AddOutput(OutputDBEndpoint, Output{Value: "x"})
	assert.True(t, appErr.IsCode(err, appErr.CodeConflict))

	_, err = st.AddOutput("DB-Endpoint", Output{Value: "x"})
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))

	_, err = st.AddOutput("Empty", Output{})
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))

	require.Len(t, st.Outputs(), 1)
	assert.Equal(t, "DBEndpoint", st.Outputs()[0].LogicalID())
}

func TestTokensRoundTripThroughStrings(t *testing.T) {
	t.Parallel()
	st := newTestStack(t)
	ref := Ref{LogicalID: "RdsInstance"}
	placeholder := st.AsString(ref)
	assert.True(t, HasTokens(placeholder))

	parts, err := st.SplitTokens(`{"DbInstanceIdentifier":"` + placeholder + `"}`)
	require.NoError(t, err)
	assert.Equal(t, []any{`{"DbInstanceIdentifier":"`, ref, `"}`}, parts)

	parts, err = st.SplitTokens("plain")
	require.NoError(t, err)
	assert.Equal(t, []any{"plain"}, parts)

	_, err = st.SplitTokens("${Token[42]}")
	assert.Error(t, err)
}

func TestIntrinsicRendering(t *testing.T) {
	t.Parallel()
	identity := func(v any) any { return v }
	assert.Equal(t, map[string]any{"Ref": "X"}, Ref{LogicalID: "X"}.Render(identity))
	assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"X", "Arn"}}, GetAtt{LogicalID: "X", Attribute: "Arn"}.Render(identity))
	assert.Equal(t, map[string]any{"Fn::GetAZs": ""}, GetAZs{}.Render(identity))
	assert.Equal(t, map[string]any{"Fn::Sub": "arn:${AWS::Partition}:s3:::b"}, Sub{Template: "arn:${AWS::Partition}:s3:::b"}.Render(identity))
	assert.Equal(t,
		map[string]any{"Fn::Join": []any{"", []any{"a", "b"}}},
		Join{Parts: []any{"a", "b"}}.Render(identity),
	)
}
