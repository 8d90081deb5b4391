package synth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/iac-studio/dbstack/internal/stack"
	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

// MinAvailabilityZones is the smallest zone spread a network may have.
const MinAvailabilityZones = 2

// Validate runs the template policy checks:
//   - every Ref, GetAtt and DependsOn target is declared
//   - no IAM policy statement grants on a "*" resource
//   - every schedule target carries a role
//   - subnets span at least MinAvailabilityZones zones
func Validate(t *Template) error {
	var errs []error
	known := func(id string) bool {
		if strings.HasPrefix(id, "AWS::") {
			return true
		}
		_, isResource := t.Resources[id]
		_, isParam := t.Parameters[id]
		return isResource || isParam
	}

	ids := make([]string, 0, len(t.Resources))
	for id := range t.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	zones := map[string]bool{}
	subnets := 0
	for _, id := range ids {
		r := t.Resources[id]
		for _, dep := range r.DependsOn {
			if _, ok := t.Resources[dep]; !ok {
				errs = append(errs, fmt.Errorf("%s depends on undeclared resource %s", id, dep))
			}
		}
		walkRefs(r.Properties, func(target string) {
			if !known(target) {
				errs = append(errs, fmt.Errorf("%s references undeclared %s", id, target))
			}
		})

		switch r.Type {
		case stack.TypePolicy:
			errs = append(errs, checkPolicyResources(id, r.Properties)...)
		case stack.TypeSchedule:
			target, _ := r.Properties["Target"].(map[string]any)
			if role, ok := target["RoleArn"]; !ok || role == nil || role == "" {
				errs = append(errs, fmt.Errorf("schedule %s has no target role", id))
			}
		case stack.TypeSubnet:
			subnets++
			if az, ok := r.Properties["AvailabilityZone"]; ok {
				key, _ := json.Marshal(az)
				zones[string(key)] = true
			}
		}
	}
	if subnets > 0 && len(zones) < MinAvailabilityZones {
		errs = append(errs, fmt.Errorf("subnets span %d availability zones, need at least %d", len(zones), MinAvailabilityZones))
	}

	outIDs := make([]string, 0, len(t.Outputs))
	for id := range t.Outputs {
		outIDs = append(outIDs, id)
	}
	sort.Strings(outIDs)
	for _, id := range outIDs {
		walkRefs(t.Outputs[id].Value, func(target string) {
			if !known(target) {
				errs = append(errs, fmt.Errorf("output %s references undeclared %s", id, target))
			}
		})
	}

	if len(errs) > 0 {
		return appErr.Wrap(errors.Join(errs...), appErr.CodeInvalid, "template policy check failed")
	}
	return nil
}

// walkRefs calls fn with the target of every Ref and Fn::GetAtt in v.
func walkRefs(v any, fn func(string)) {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 1 {
			if id, ok := x["Ref"].(string); ok {
				fn(id)
				return
			}
			if args, ok := x["Fn::GetAtt"].([]any); ok && len(args) > 0 {
				if id, ok := args[0].(string); ok {
					fn(id)
				}
				return
			}
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkRefs(x[k], fn)
		}
	case []any:
		for _, e := range x {
			walkRefs(e, fn)
		}
	}
}

func checkPolicyResources(id string, props map[string]any) []error {
	var errs []error
	doc, _ := props["PolicyDocument"].(map[string]any)
	stmts, _ := doc["Statement"].([]any)
	for i, s := range stmts {
		stmt, _ := s.(map[string]any)
		var resources []any
		switch r := stmt["Resource"].(type) {
		case []any:
			resources = r
		case nil:
		default:
			resources = []any{r}
		}
		if len(resources) == 0 {
			errs = append(errs, fmt.Errorf("policy %s statement %d has no resource", id, i))
		}
		for _, res := range resources {
			if res == "*" {
				errs = append(errs, fmt.Errorf("policy %s statement %d grants on every resource", id, i))
			}
		}
	}
	return errs
}
