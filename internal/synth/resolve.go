package synth

import (
	"github.com/iac-studio/dbstack/internal/stack"
)

// resolver turns declared values into their template form: intrinsics are
// rendered and strings carrying token placeholders become Fn::Join.
type resolver struct {
	st  *stack.Stack
	err error
}

func (r *resolver) resolve(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case stack.Intrinsic:
		return x.Render(r.resolve)
	case string:
		if !stack.HasTokens(x) {
			return x
		}
		parts, err := r.st.SplitTokens(x)
		if err != nil {
			if r.err == nil {
				r.err = err
			}
			return x
		}
		if len(parts) == 1 {
			return r.resolve(parts[0])
		}
		return stack.Join{Parts: parts}.Render(r.resolve)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = r.resolve(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = r.resolve(val)
		}
		return out
	default:
		return v
	}
}
