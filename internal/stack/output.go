package stack

import (
	"regexp"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

const (
	OutputDBEndpoint           = "DBEndpoint"
	OutputEC2InstancePrivateIP = "EC2InstancePrivateIP"
)

// Output is a named value surfaced after deployment.
type Output struct {
	logicalID   string
	Value       any
	Description string
	ExportName  string
}

var validOutputID = regexp.MustCompile(`^[A-Za-z0-9]{1,255}$`)

// AddOutput declares a stack output. The id is used verbatim as the output
// key.
func (s *Stack) AddOutput(id string, o Output) (*Output, error) {
	if !validOutputID.MatchString(id) {
		return nil, appErr.Newf(appErr.CodeInvalid, "invalid output id %q", id)
	}
	for _, existing := range s.outputs {
		if existing.logicalID == id {
			return nil, appErr.Newf(appErr.CodeConflict, "duplicate output %q", id)
		}
	}
	if o.Value == nil {
		return nil, appErr.Newf(appErr.CodeInvalid, "output %q has no value", id)
	}
	o.logicalID = id
	s.outputs = append(s.outputs, &o)
	return &o, nil
}

// LogicalID returns the output key.
func (o *Output) LogicalID() string { return o.logicalID }
