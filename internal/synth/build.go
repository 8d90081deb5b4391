package synth

import (
	"github.com/iac-studio/dbstack/internal/stack"
)

// BuildDevDatabase declares the development database stack in a fresh app
// and synthesizes it.
func BuildDevDatabase(name string, props stack.DevDatabaseStackProps) (*Template, error) {
	d, err := stack.NewDevDatabaseStack(stack.NewApp(), name, props)
	if err != nil {
		return nil, err
	}
	return New().Synthesize(d.Stack)
}
