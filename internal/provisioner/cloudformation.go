package provisioner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iac-studio/dbstack/internal/metrics"
	"github.com/iac-studio/dbstack/internal/models"
	"github.com/iac-studio/dbstack/internal/synth"
	appErr "github.com/iac-studio/dbstack/pkg/errors"
	"github.com/iac-studio/dbstack/pkg/logger"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultTimeout      = 30 * time.Minute
)

// CloudFormationAPI is the subset of the CloudFormation client the
// provisioner calls.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateChangeSet(ctx context.Context, params *cloudformation.CreateChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateChangeSetOutput, error)
	DescribeChangeSet(ctx context.Context, params *cloudformation.DescribeChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeChangeSetOutput, error)
	ExecuteChangeSet(ctx context.Context, params *cloudformation.ExecuteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ExecuteChangeSetOutput, error)
	DeleteChangeSet(ctx context.Context, params *cloudformation.DeleteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteChangeSetOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	GetTemplate(ctx context.Context, params *cloudformation.GetTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error)
}

type Options struct {
	// AssetsBucket, when set, receives every template before submission.
	AssetsBucket string
	PollInterval time.Duration
	Timeout      time.Duration
}

// CloudFormationProvisioner implements Provisioner with change sets.
type CloudFormationProvisioner struct {
	cfn        CloudFormationAPI
	stager     *TemplateStager
	opts       Options
	stateStore StateStore
}

func NewCloudFormationProvisioner(cfn CloudFormationAPI, stager *TemplateStager, opts Options, stateStore StateStore) *CloudFormationProvisioner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if stager == nil {
		stager = NewTemplateStager(nil, "", "")
	}
	return &CloudFormationProvisioner{cfn: cfn, stager: stager, opts: opts, stateStore: stateStore}
}

var _ Provisioner = (*CloudFormationProvisioner)(nil)

type changeSet struct {
	name      string
	stackName string
	create    bool
	ownsStack bool
	replaces  bool
	empty     bool
	changes   []Change
}

func (p *CloudFormationProvisioner) Plan(ctx context.Context, d *Deployment) (*Plan, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	cs, err := p.createChangeSet(ctx, d, true)
	if err != nil {
		return nil, err
	}
	if !cs.replaces {
		defer p.discardChangeSet(ctx, cs)
	}

	plan := &Plan{StackName: d.StackName, Create: cs.create, Replaces: cs.replaces, Details: cs.changes}
	for _, c := range cs.changes {
		switch types.ChangeAction(c.Action) {
		case types.ChangeActionAdd:
			plan.ResourceAdds++
		case types.ChangeActionModify:
			plan.ResourceMods++
		case types.ChangeActionRemove:
			plan.ResourceDels++
		}
	}
	plan.Changes = len(cs.changes)
	return plan, nil
}

func (p *CloudFormationProvisioner) Apply(ctx context.Context, d *Deployment) (*Result, error) {
	start := time.Now()
	res, err := p.apply(ctx, d)
	metrics.RecordDeployment(models.ActionDeploy, err, time.Since(start).Seconds())
	return res, err
}

func (p *CloudFormationProvisioner) apply(ctx context.Context, d *Deployment) (*Result, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	digest, err := d.Template.Digest()
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "digest template")
	}

	if p.stateStore != nil && d.ID != uuid.Nil {
		prev, err := p.stateStore.GetState(ctx, d.ID)
		if err == nil && prev != nil && prev.TemplateDigest == digest && stackSucceeded(types.StackStatus(prev.StackStatus)) {
			logger.L().Info("deployment already applied", zap.String("deployment_id", d.ID.String()), zap.String("stack_status", prev.StackStatus))
			return &Result{Success: true, StackID: prev.StackID, StackStatus: prev.StackStatus, TemplateDigest: digest, Outputs: prev.Outputs}, nil
		}
	}

	cs, err := p.createChangeSet(ctx, d, false)
	if err != nil {
		return nil, err
	}

	if cs.empty {
		p.discardChangeSet(ctx, cs)
		s, err := p.describeStack(ctx, d.StackName)
		if err != nil {
			return nil, err
		}
		res := &Result{Success: true, NoChanges: true, TemplateDigest: digest}
		if s != nil {
			res.StackID = aws.ToString(s.StackId)
			res.StackStatus = string(s.StackStatus)
			res.Outputs = stackOutputs(s)
		}
		logger.L().Info("stack is up to date", zap.String("stack", d.StackName))
		p.saveState(ctx, d.ID, res)
		return res, nil
	}

	logger.L().Info("executing change set",
		zap.String("stack", d.StackName),
		zap.String("change_set", cs.name),
		zap.Bool("create", cs.create),
		zap.Int("changes", len(cs.changes)),
	)
	_, err = p.cfn.ExecuteChangeSet(ctx, &cloudformation.ExecuteChangeSetInput{
		StackName:     aws.String(d.StackName),
		ChangeSetName: aws.String(cs.name),
	})
	if err != nil {
		return nil, providerError(err, "execute change set")
	}

	s, err := p.waitStack(ctx, d.StackName)
	if err != nil {
		return nil, err
	}
	res := &Result{
		StackID:        aws.ToString(s.StackId),
		StackStatus:    string(s.StackStatus),
		TemplateDigest: digest,
	}
	if !stackSucceeded(s.StackStatus) {
		res.ErrorMessage = aws.ToString(s.StackStatusReason)
		p.saveState(ctx, d.ID, res)
		return res, appErr.Newf(appErr.CodeRolledBack, "stack %s finished in %s: %s", d.StackName, s.StackStatus, res.ErrorMessage).
			WithMeta("stack_status", res.StackStatus)
	}
	res.Success = true
	res.Outputs = stackOutputs(s)
	p.saveState(ctx, d.ID, res)
	logger.L().Info("stack deployed", zap.String("stack", d.StackName), zap.String("status", res.StackStatus))
	return res, nil
}

func (p *CloudFormationProvisioner) Destroy(ctx context.Context, stackName string) (*Result, error) {
	start := time.Now()
	res, err := p.destroy(ctx, stackName)
	metrics.RecordDeployment(models.ActionDestroy, err, time.Since(start).Seconds())
	return res, err
}

func (p *CloudFormationProvisioner) destroy(ctx context.Context, stackName string) (*Result, error) {
	if stackName == "" {
		return nil, ErrInvalidInput
	}
	s, err := p.describeStack(ctx, stackName)
	if err != nil {
		return nil, err
	}
	if s == nil {
		logger.L().Info("stack does not exist, nothing to destroy", zap.String("stack", stackName))
		return &Result{Success: true, StackStatus: string(types.StackStatusDeleteComplete)}, nil
	}
	stackID := aws.ToString(s.StackId)
	if err := p.deleteStack(ctx, stackName, stackID); err != nil {
		return &Result{StackID: stackID, ErrorMessage: err.Error()}, err
	}
	logger.L().Info("stack destroyed", zap.String("stack", stackName))
	return &Result{Success: true, StackID: stackID, StackStatus: string(types.StackStatusDeleteComplete)}, nil
}

func (p *CloudFormationProvisioner) Outputs(ctx context.Context, stackName string) (map[string]string, error) {
	s, err := p.describeStack(ctx, stackName)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, appErr.Newf(appErr.CodeNotFound, "stack %s does not exist", stackName)
	}
	return stackOutputs(s), nil
}

func (p *CloudFormationProvisioner) DeployedTemplate(ctx context.Context, stackName string) (*synth.Template, error) {
	out, err := p.cfn.GetTemplate(ctx, &cloudformation.GetTemplateInput{
		StackName:     aws.String(stackName),
		TemplateStage: types.TemplateStageOriginal,
	})
	if err != nil {
		if isStackMissing(err) {
			return nil, appErr.Newf(appErr.CodeNotFound, "stack %s does not exist", stackName)
		}
		return nil, providerError(err, "get template")
	}
	return synth.ParseTemplate([]byte(aws.ToString(out.TemplateBody)))
}

// describeStack returns nil when the stack does not exist or was deleted.
func (p *CloudFormationProvisioner) describeStack(ctx context.Context, name string) (*types.Stack, error) {
	out, err := p.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(name)})
	if err != nil {
		if isStackMissing(err) {
			return nil, nil
		}
		return nil, providerError(err, "describe stack "+name)
	}
	if len(out.Stacks) == 0 {
		return nil, nil
	}
	s := out.Stacks[0]
	if s.StackStatus == types.StackStatusDeleteComplete {
		return nil, nil
	}
	return &s, nil
}

// createChangeSet submits the template as a change set and waits until it is
// described. With dryRun nothing existing is deleted: a stack left by a
// failed creation is reported as replaced, with every resource added, and no
// change set is created for it.
func (p *CloudFormationProvisioner) createChangeSet(ctx context.Context, d *Deployment, dryRun bool) (*changeSet, error) {
	body, err := d.Template.JSON()
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "render template")
	}
	digest, err := d.Template.Digest()
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "digest template")
	}

	existing, err := p.describeStack(ctx, d.StackName)
	if err != nil {
		return nil, err
	}
	create := existing == nil
	owns := create
	if existing != nil {
		switch status := existing.StackStatus; {
		case status == types.StackStatusReviewInProgress:
			create = true
		case status == types.StackStatusRollbackComplete && dryRun:
			return &changeSet{
				stackName: d.StackName,
				create:    true,
				replaces:  true,
				changes:   templateAdds(d.Template),
			}, nil
		case status == types.StackStatusRollbackComplete:
			// a stack whose creation rolled back only accepts deletion
			logger.L().Warn("removing stack left by a failed creation", zap.String("stack", d.StackName))
			if err := p.deleteStack(ctx, d.StackName, aws.ToString(existing.StackId)); err != nil {
				return nil, err
			}
			create, owns = true, true
		case strings.HasSuffix(string(status), "_IN_PROGRESS"):
			return nil, appErr.Newf(appErr.CodeConflict, "stack %s is busy (%s)", d.StackName, status)
		}
	}

	src, err := p.stager.Stage(ctx, body, digest)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "stage template")
	}

	cs := &changeSet{
		name:      "dbstack-" + uuid.NewString(),
		stackName: d.StackName,
		create:    create,
		ownsStack: owns,
	}
	input := &cloudformation.CreateChangeSetInput{
		StackName:     aws.String(d.StackName),
		ChangeSetName: aws.String(cs.name),
		ChangeSetType: types.ChangeSetTypeUpdate,
		Capabilities:  []types.Capability{types.CapabilityCapabilityIam},
		Description:   aws.String("template " + digest),
		Tags:          cfnTags(d.Tags),
	}
	if create {
		input.ChangeSetType = types.ChangeSetTypeCreate
	}
	if src.url != "" {
		input.TemplateURL = aws.String(src.url)
	} else {
		input.TemplateBody = aws.String(src.body)
	}
	if _, err := p.cfn.CreateChangeSet(ctx, input); err != nil {
		return nil, providerError(err, "create change set")
	}

	if err := p.waitChangeSet(ctx, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// waitChangeSet polls until the change set is ready and collects its
// changes. A change set that failed because nothing changed is marked empty.
func (p *CloudFormationProvisioner) waitChangeSet(ctx context.Context, cs *changeSet) error {
	return p.poll(ctx, "change set "+cs.name, func(ctx context.Context) (bool, error) {
		var changes []Change
		var nextToken *string
		for {
			out, err := p.cfn.DescribeChangeSet(ctx, &cloudformation.DescribeChangeSetInput{
				StackName:     aws.String(cs.stackName),
				ChangeSetName: aws.String(cs.name),
				NextToken:     nextToken,
			})
			if err != nil {
				return false, providerError(err, "describe change set")
			}
			switch out.Status {
			case types.ChangeSetStatusCreateComplete:
			case types.ChangeSetStatusFailed:
				reason := aws.ToString(out.StatusReason)
				if isNoChanges(reason) {
					cs.empty = true
					return true, nil
				}
				return false, appErr.Newf(appErr.CodeInvalid, "change set %s failed: %s", cs.name, reason)
			default:
				return false, nil
			}
			for _, c := range out.Changes {
				rc := c.ResourceChange
				if rc == nil {
					continue
				}
				changes = append(changes, Change{
					LogicalID:   aws.ToString(rc.LogicalResourceId),
					Type:        aws.ToString(rc.ResourceType),
					Action:      string(rc.Action),
					Replacement: string(rc.Replacement),
				})
			}
			if out.NextToken == nil {
				break
			}
			nextToken = out.NextToken
		}
		sort.Slice(changes, func(i, j int) bool { return changes[i].LogicalID < changes[j].LogicalID })
		cs.changes = changes
		return true, nil
	})
}

// discardChangeSet removes an unexecuted change set, and the empty stack a
// create change set left behind for a stack that did not exist before.
func (p *CloudFormationProvisioner) discardChangeSet(ctx context.Context, cs *changeSet) {
	_, err := p.cfn.DeleteChangeSet(ctx, &cloudformation.DeleteChangeSetInput{
		StackName:     aws.String(cs.stackName),
		ChangeSetName: aws.String(cs.name),
	})
	if err != nil {
		logger.L().Warn("delete change set failed", zap.String("change_set", cs.name), zap.Error(err))
	}
	if cs.ownsStack {
		if _, err := p.cfn.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(cs.stackName)}); err != nil {
			logger.L().Warn("delete review stack failed", zap.String("stack", cs.stackName), zap.Error(err))
		}
	}
}

func (p *CloudFormationProvisioner) deleteStack(ctx context.Context, stackName, stackID string) error {
	if _, err := p.cfn.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(stackName)}); err != nil {
		return providerError(err, "delete stack")
	}
	// deleted stacks stay describable by id only
	ref := stackID
	if ref == "" {
		ref = stackName
	}
	var last *types.Stack
	err := p.poll(ctx, "deletion of "+stackName, func(ctx context.Context) (bool, error) {
		s, err := p.describeStack(ctx, ref)
		if err != nil {
			return false, err
		}
		last = s
		return s == nil || !strings.HasSuffix(string(s.StackStatus), "_IN_PROGRESS"), nil
	})
	if err != nil {
		return err
	}
	if last != nil {
		return appErr.Newf(appErr.CodeRolledBack, "stack %s deletion finished in %s: %s",
			stackName, last.StackStatus, aws.ToString(last.StackStatusReason))
	}
	return nil
}

// waitStack polls until the stack leaves every *_IN_PROGRESS state.
func (p *CloudFormationProvisioner) waitStack(ctx context.Context, stackName string) (*types.Stack, error) {
	var last *types.Stack
	err := p.poll(ctx, "stack "+stackName, func(ctx context.Context) (bool, error) {
		s, err := p.describeStack(ctx, stackName)
		if err != nil {
			return false, err
		}
		if s == nil {
			return false, appErr.Newf(appErr.CodeNotFound, "stack %s disappeared while deploying", stackName)
		}
		last = s
		logger.L().Debug("stack status", zap.String("stack", stackName), zap.String("status", string(s.StackStatus)))
		return !strings.HasSuffix(string(s.StackStatus), "_IN_PROGRESS"), nil
	})
	return last, err
}

// poll calls check immediately and then every poll interval until it is
// done, the timeout elapses or ctx is cancelled. Throttling errors are
// retried.
func (p *CloudFormationProvisioner) poll(ctx context.Context, what string, check func(context.Context) (bool, error)) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		done, err := check(timeoutCtx)
		switch {
		case err != nil && isThrottled(err):
			logger.L().Warn("throttled while polling", zap.String("target", what))
		case err != nil:
			if ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
				return appErr.Newf(appErr.CodeDeadline, "timed out after %s waiting for %s", p.opts.Timeout, what)
			}
			return err
		case done:
			return nil
		}

		select {
		case <-timeoutCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return appErr.Newf(appErr.CodeDeadline, "timed out after %s waiting for %s", p.opts.Timeout, what)
		case <-ticker.C:
		}
	}
}

func (p *CloudFormationProvisioner) saveState(ctx context.Context, id uuid.UUID, res *Result) {
	if p.stateStore == nil || id == uuid.Nil {
		return
	}
	err := p.stateStore.SaveState(ctx, id, &State{
		StackID:        res.StackID,
		StackStatus:    res.StackStatus,
		TemplateDigest: res.TemplateDigest,
		Outputs:        res.Outputs,
	})
	if err != nil {
		logger.L().Error("save state failed", zap.String("deployment_id", id.String()), zap.Error(err))
	}
}

// stackSucceeded reports a settled status that is neither a failure nor a
// rollback.
func stackSucceeded(status types.StackStatus) bool {
	s := string(status)
	return strings.HasSuffix(s, "_COMPLETE") && !strings.Contains(s, "ROLLBACK")
}

func isNoChanges(reason string) bool {
	return strings.Contains(reason, "didn't contain changes") ||
		strings.Contains(reason, "No updates are to be performed")
}

// templateAdds lists every resource of t as an addition, ordered by logical
// id.
func templateAdds(t *synth.Template) []Change {
	ids := make([]string, 0, len(t.Resources))
	for id := range t.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	changes := make([]Change, 0, len(ids))
	for _, id := range ids {
		changes = append(changes, Change{
			LogicalID: id,
			Type:      t.Resources[id].Type,
			Action:    string(types.ChangeActionAdd),
		})
	}
	return changes
}

func stackOutputs(s *types.Stack) map[string]string {
	out := make(map[string]string, len(s.Outputs))
	for _, o := range s.Outputs {
		out[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return out
}

func cfnTags(tags map[string]string) []types.Tag {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

// providerError classifies an SDK error: deadlines keep their code, the
// rest are reported as the provider being unavailable.
func providerError(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return appErr.Wrap(err, appErr.CodeDeadline, msg)
	}
	return appErr.Wrap(err, appErr.CodeUnavailable, fmt.Sprintf("cloudformation: %s", msg))
}
