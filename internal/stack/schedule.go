package stack

import (
	"encoding/json"
	"strings"

	"github.com/iac-studio/dbstack/internal/schedule"
	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

// ScheduleAction is a database API action a schedule can invoke.
type ScheduleAction string

const (
	ActionStopDBInstance  ScheduleAction = "stopDBInstance"
	ActionStartDBInstance ScheduleAction = "startDBInstance"
)

const (
	DefaultStopSchedule  = "cron(30 6 * * ? *)"
	DefaultStartSchedule = "cron(30 22 ? * MON-FRI *)"
	scheduleTimezone     = "UTC"
)

// TargetArn is the universal target that calls the action directly.
func (a ScheduleAction) TargetArn() string {
	return "arn:aws:scheduler:::aws-sdk:rds:" + string(a)
}

// IAMAction is the permission the scheduler role needs for the action,
// e.g. "rds:StopDBInstance".
func (a ScheduleAction) IAMAction() string {
	if a == "" {
		return ""
	}
	return "rds:" + strings.ToUpper(string(a[:1])) + string(a[1:])
}

func (a ScheduleAction) verb() string {
	switch a {
	case ActionStopDBInstance:
		return "Stops"
	case ActionStartDBInstance:
		return "Starts"
	}
	return "Runs " + string(a)
}

// DBInstancePayload is the input of the start and stop actions.
type DBInstancePayload struct {
	DbInstanceIdentifier string `json:"DbInstanceIdentifier"`
}

// ScheduleProps configures a Schedule.
type ScheduleProps struct {
	Expression string
	Action     ScheduleAction
	Role       *Role
	// Payload is encoded with encoding/json. Strings in it may carry
	// placeholders from Stack.AsString.
	Payload any
	// Description defaults to a rendering of the expression.
	Description string
	Disabled    bool
}

// Schedule is a recurring trigger. It is a single resource so its logical
// id is exactly the id it was declared with at the top of a stack.
type Schedule struct {
	resource *Resource
	expr     *schedule.Expression
	action   ScheduleAction
	input    string
}

// NewSchedule declares a schedule that invokes props.Action through
// props.Role.
func NewSchedule(scope Scope, id string, props ScheduleProps) (*Schedule, error) {
	if props.Role == nil {
		return nil, appErr.Newf(appErr.CodeInvalid, "schedule %s: a target role is required", id)
	}
	if props.Action == "" {
		return nil, appErr.Newf(appErr.CodeInvalid, "schedule %s: an action is required", id)
	}
	expr, err := schedule.Parse(props.Expression)
	if err != nil {
		return nil, err
	}
	input, err := json.Marshal(props.Payload)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "encode schedule payload")
	}
	desc := props.Description
	if desc == "" {
		desc = props.Action.verb() + " the database " + expr.Describe()
	}
	state := "ENABLED"
	if props.Disabled {
		state = "DISABLED"
	}

	s := &Schedule{expr: expr, action: props.Action, input: string(input)}
	s.resource, err = NewResource(scope, id, TypeSchedule, &CfnSchedule{
		Description:                desc,
		ScheduleExpression:         expr.String(),
		ScheduleExpressionTimezone: scheduleTimezone,
		FlexibleTimeWindowMode:     "OFF",
		State:                      state,
		Target: ScheduleTarget{
			Arn:     props.Action.TargetArn(),
			RoleArn: props.Role.RoleArn(),
			Input:   string(input),
		},
	})
	if err != nil {
		return nil, err
	}
	s.resource.AddDependency(props.Role.Policy())
	return s, nil
}

// Node implements Scope.
func (s *Schedule) Node() *Node { return s.resource.Node() }

// Expression returns the parsed trigger expression.
func (s *Schedule) Expression() *schedule.Expression { return s.expr }

// Action returns the invoked action.
func (s *Schedule) Action() ScheduleAction { return s.action }

// Input returns the encoded payload, placeholders unresolved.
func (s *Schedule) Input() string { return s.input }

// Resource returns the schedule resource.
func (s *Schedule) Resource() *Resource { return s.resource }
