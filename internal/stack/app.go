// Package stack declares infrastructure as a tree of constructs.
//
// Every constructor takes the scope it is attached to, so the whole tree is
// reachable from the App that owns it and nothing is registered in package
// state. Leaf constructs are Resources: one provider resource each, carrying
// a typed property struct from cfn.go. The synth package turns a Stack into
// a provider template.
package stack

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
	"github.com/iac-studio/dbstack/pkg/utils"
)

// Scope is anything a construct can be attached to.
type Scope interface {
	Node() *Node
}

// Node is a position in the construct tree.
type Node struct {
	id       string
	parent   *Node
	stack    *Stack
	children []*Node
	byID     map[string]*Node
	tags     map[string]string
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._:-]*$`)

func newNode(scope Scope, id string) (*Node, error) {
	if !validID.MatchString(id) {
		return nil, appErr.Newf(appErr.CodeInvalid, "invalid construct id %q", id)
	}
	parent := scope.Node()
	if parent.stack == nil {
		return nil, appErr.Newf(appErr.CodeInvalid, "construct %q must be created inside a stack", id)
	}
	if _, dup := parent.byID[id]; dup {
		return nil, appErr.Newf(appErr.CodeConflict, "duplicate construct id %q under %q", id, parent.Path())
	}
	n := &Node{id: id, parent: parent, stack: parent.stack, byID: map[string]*Node{}}
	parent.children = append(parent.children, n)
	parent.byID[id] = n
	return n, nil
}

// ID returns the construct id within its parent.
func (n *Node) ID() string { return n.id }

// Stack returns the stack the node belongs to.
func (n *Node) Stack() *Stack { return n.stack }

// Children returns the direct children in creation order.
func (n *Node) Children() []*Node { return append([]*Node(nil), n.children...) }

// Path returns the slash separated path relative to the stack. The stack's
// own path is empty.
func (n *Node) Path() string {
	return strings.Join(n.components(), "/")
}

func (n *Node) components() []string {
	var out []string
	for cur := n; cur != nil && cur != cur.stack.node; cur = cur.parent {
		out = append(out, cur.id)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// AddTag tags every taggable resource at or below this node. Tags set deeper
// in the tree win over tags set by ancestors.
func (n *Node) AddTag(key, value string) {
	if n.tags == nil {
		n.tags = map[string]string{}
	}
	n.tags[key] = value
}

// Construct is embedded by every construct type.
type Construct struct {
	node *Node
}

// Node implements Scope.
func (c *Construct) Node() *Node { return c.node }

func attach(c *Construct, scope Scope, id string) error {
	n, err := newNode(scope, id)
	if err != nil {
		return err
	}
	c.node = n
	return nil
}

// App is the root of a construct tree.
type App struct {
	stacks []*Stack
	byName map[string]*Stack
}

// NewApp returns an empty App.
func NewApp() *App {
	return &App{byName: map[string]*Stack{}}
}

// Stacks returns the stacks in creation order.
func (a *App) Stacks() []*Stack { return append([]*Stack(nil), a.stacks...) }

// Stack returns the stack with the given name.
func (a *App) Stack(name string) (*Stack, bool) {
	s, ok := a.byName[name]
	return s, ok
}

// StackProps configures a Stack.
type StackProps struct {
	Description string
	Tags        map[string]string
}

// Stack is the unit of deployment.
type Stack struct {
	Construct
	name       string
	props      StackProps
	resources  []*Resource
	logicalIDs map[string]*Resource
	parameters []*Parameter
	outputs    []*Output
	tokens     []Intrinsic
}

var validStackName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]{0,127}$`)

// NewStack adds a stack to the app.
func NewStack(app *App, name string, props StackProps) (*Stack, error) {
	if !validStackName.MatchString(name) {
		return nil, appErr.Newf(appErr.CodeInvalid, "invalid stack name %q", name)
	}
	if _, dup := app.byName[name]; dup {
		return nil, appErr.Newf(appErr.CodeConflict, "duplicate stack %q", name)
	}
	s := &Stack{name: name, props: props, logicalIDs: map[string]*Resource{}}
	s.node = &Node{id: name, stack: s, byID: map[string]*Node{}}
	for k, v := range props.Tags {
		s.node.AddTag(k, v)
	}
	app.stacks = append(app.stacks, s)
	app.byName[name] = s
	return s, nil
}

// Name returns the stack name.
func (s *Stack) Name() string { return s.name }

// Description returns the template description.
func (s *Stack) Description() string { return s.props.Description }

// Resources returns all resources in creation order.
func (s *Stack) Resources() []*Resource { return append([]*Resource(nil), s.resources...) }

// Parameters returns template parameters in creation order.
func (s *Stack) Parameters() []*Parameter { return append([]*Parameter(nil), s.parameters...) }

// Outputs returns stack outputs in creation order.
func (s *Stack) Outputs() []*Output { return append([]*Output(nil), s.outputs...) }

// ResourceByLogicalID looks a resource up by its template logical id.
func (s *Stack) ResourceByLogicalID(id string) (*Resource, bool) {
	r, ok := s.logicalIDs[id]
	return r, ok
}

// ResourcesOfType returns the resources with the given provider type, in
// creation order.
func (s *Stack) ResourcesOfType(typ string) []*Resource {
	var out []*Resource
	for _, r := range s.resources {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]`)

// allocateLogicalID maps a construct path to a template logical id.
// Single-component paths keep their id; deeper paths get a hash suffix
// so renames of unrelated constructs never shift them.
func allocateLogicalID(components []string) string {
	if len(components) == 1 {
		return nonAlnum.ReplaceAllString(components[0], "")
	}
	var human strings.Builder
	for i, c := range components {
		if i > 0 && (c == "Resource" || c == "Default") {
			continue
		}
		human.WriteString(nonAlnum.ReplaceAllString(c, ""))
	}
	h := human.String()
	if len(h) > 240 {
		h = h[:240]
	}
	return h + utils.ShortHash(strings.Join(components, "/"), 8)
}

// RemovalPolicy controls what happens to a resource when it leaves the
// template or the stack is deleted.
type RemovalPolicy string

const (
	RemovalPolicyDestroy  RemovalPolicy = "Delete"
	RemovalPolicyRetain   RemovalPolicy = "Retain"
	RemovalPolicySnapshot RemovalPolicy = "Snapshot"
)

// Resource is a single provider resource.
type Resource struct {
	Construct
	logicalID     string
	Type          string
	Properties    any
	RemovalPolicy RemovalPolicy
	dependsOn     map[string]*Resource
}

// NewResource declares a provider resource of the given type under scope.
// props must be a pointer to one of the property structs in cfn.go.
func NewResource(scope Scope, id, typ string, props any) (*Resource, error) {
	r := &Resource{Type: typ, Properties: props, dependsOn: map[string]*Resource{}}
	if err := attach(&r.Construct, scope, id); err != nil {
		return nil, err
	}
	st := r.node.stack
	r.logicalID = allocateLogicalID(r.node.components())
	if other, dup := st.logicalIDs[r.logicalID]; dup {
		return nil, appErr.Newf(appErr.CodeConflict, "logical id %s of %s collides with %s", r.logicalID, r.node.Path(), other.node.Path())
	}
	st.logicalIDs[r.logicalID] = r
	st.resources = append(st.resources, r)
	return r, nil
}

// LogicalID returns the template logical id.
func (r *Resource) LogicalID() string { return r.logicalID }

// Path returns the construct path of the resource.
func (r *Resource) Path() string { return r.node.Path() }

// Ref returns a reference to the resource's primary identifier.
func (r *Resource) Ref() Ref { return Ref{LogicalID: r.logicalID} }

// GetAtt returns a reference to one of the resource's attributes.
func (r *Resource) GetAtt(attr string) GetAtt {
	return GetAtt{LogicalID: r.logicalID, Attribute: attr}
}

// AddDependency makes r wait for other.
func (r *Resource) AddDependency(other *Resource) {
	if other == nil || other == r {
		return
	}
	r.dependsOn[other.logicalID] = other
}

// DependsOn returns the sorted logical ids r explicitly depends on.
func (r *Resource) DependsOn() []string {
	out := make([]string, 0, len(r.dependsOn))
	for id := range r.dependsOn {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Tags returns the effective tags of the resource, sorted by key.
func (r *Resource) Tags() []Tag {
	merged := map[string]string{}
	var chain []*Node
	for cur := r.node; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].tags {
			merged[k] = v
		}
	}
	out := make([]Tag, 0, len(merged))
	for k, v := range merged {
		out = append(out, Tag{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Tag is a provider resource tag.
type Tag struct {
	Key   string
	Value string
}

// Parameter is a template parameter.
type Parameter struct {
	logicalID   string
	Type        string
	Default     string
	Description string
}

// AddParameter declares a template parameter. Adding the same id twice with
// the same type returns the existing parameter.
func (s *Stack) AddParameter(id string, p Parameter) (*Parameter, error) {
	logicalID := nonAlnum.ReplaceAllString(id, "")
	if logicalID == "" {
		return nil, appErr.Newf(appErr.CodeInvalid, "invalid parameter id %q", id)
	}
	for _, existing := range s.parameters {
		if existing.logicalID == logicalID {
			if existing.Type != p.Type {
				return nil, appErr.Newf(appErr.CodeConflict, "parameter %s redeclared with type %s", logicalID, p.Type)
			}
			return existing, nil
		}
	}
	if _, clash := s.logicalIDs[logicalID]; clash {
		return nil, appErr.Newf(appErr.CodeConflict, "parameter %s collides with a resource", logicalID)
	}
	p.logicalID = logicalID
	s.parameters = append(s.parameters, &p)
	return &p, nil
}

// LogicalID returns the parameter name in the template.
func (p *Parameter) LogicalID() string { return p.logicalID }

// Ref references the parameter value.
func (p *Parameter) Ref() Ref { return Ref{LogicalID: p.logicalID} }

func (s *Stack) String() string { return fmt.Sprintf("Stack(%s)", s.name) }
