package stack

import (
	"fmt"
	"regexp"
	"strconv"
)

// Intrinsic is a value resolved by the provisioning engine at deploy time.
type Intrinsic interface {
	// Render returns the template form. Nested values are passed through
	// resolve so that intrinsics may contain other intrinsics.
	Render(resolve func(any) any) map[string]any
}

// Ref resolves to a resource's primary identifier or a parameter value.
type Ref struct {
	LogicalID string
}

func (r Ref) Render(func(any) any) map[string]any {
	return map[string]any{"Ref": r.LogicalID}
}

// GetAtt resolves to an attribute of a resource.
type GetAtt struct {
	LogicalID string
	Attribute string
}

func (g GetAtt) Render(func(any) any) map[string]any {
	return map[string]any{"Fn::GetAtt": []any{g.LogicalID, g.Attribute}}
}

// Join concatenates parts with a delimiter.
type Join struct {
	Delimiter string
	Parts     []any
}

func (j Join) Render(resolve func(any) any) map[string]any {
	parts := make([]any, len(j.Parts))
	for i, p := range j.Parts {
		parts[i] = resolve(p)
	}
	return map[string]any{"Fn::Join": []any{j.Delimiter, parts}}
}

// Select picks one element of a list.
type Select struct {
	Index int
	List  any
}

func (s Select) Render(resolve func(any) any) map[string]any {
	return map[string]any{"Fn::Select": []any{s.Index, resolve(s.List)}}
}

// GetAZs lists the availability zones of a region; an empty region means the
// stack's region.
type GetAZs struct {
	Region string
}

func (g GetAZs) Render(func(any) any) map[string]any {
	return map[string]any{"Fn::GetAZs": g.Region}
}

// Sub substitutes ${Name} variables in a template string. Without Vars the
// names must be pseudo parameters, logical ids, or id.Attribute pairs.
type Sub struct {
	Template string
	Vars     map[string]any
}

func (s Sub) Render(resolve func(any) any) map[string]any {
	if len(s.Vars) == 0 {
		return map[string]any{"Fn::Sub": s.Template}
	}
	vars := make(map[string]any, len(s.Vars))
	for k, v := range s.Vars {
		vars[k] = resolve(v)
	}
	return map[string]any{"Fn::Sub": []any{s.Template, vars}}
}

// Pseudo parameters.
var (
	AWSRegion    = Ref{LogicalID: "AWS::Region"}
	AWSAccountID = Ref{LogicalID: "AWS::AccountId"}
	AWSPartition = Ref{LogicalID: "AWS::Partition"}
	AWSStackName = Ref{LogicalID: "AWS::StackName"}
)

var tokenPattern = regexp.MustCompile(`\$\{Token\[(\d+)\]\}`)

// AsString returns a placeholder that can be embedded in ordinary strings,
// including JSON documents built with encoding/json. The synthesizer splits
// strings around placeholders and renders them as Fn::Join.
func (s *Stack) AsString(v Intrinsic) string {
	s.tokens = append(s.tokens, v)
	return fmt.Sprintf("${Token[%d]}", len(s.tokens)-1)
}

// SplitTokens breaks str into literal strings and the intrinsics behind any
// placeholders it contains. A string without placeholders yields itself.
func (s *Stack) SplitTokens(str string) ([]any, error) {
	matches := tokenPattern.FindAllStringSubmatchIndex(str, -1)
	if len(matches) == 0 {
		return []any{str}, nil
	}
	var parts []any
	last := 0
	for _, m := range matches {
		if m[0] > last {
			parts = append(parts, str[last:m[0]])
		}
		n, err := strconv.Atoi(str[m[2]:m[3]])
		if err != nil || n >= len(s.tokens) {
			return nil, fmt.Errorf("unknown token %q in %q", str[m[0]:m[1]], str)
		}
		parts = append(parts, s.tokens[n])
		last = m[1]
	}
	if last < len(str) {
		parts = append(parts, str[last:])
	}
	return parts, nil
}

// HasTokens reports whether str contains placeholders.
func HasTokens(str string) bool {
	return tokenPattern.MatchString(str)
}
