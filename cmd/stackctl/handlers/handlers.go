// Package handlers implements the stackctl commands. Each handler loads the
// stack configuration, does its work and prints results to out.
package handlers

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/iac-studio/dbstack/internal/provisioner"
	"github.com/iac-studio/dbstack/internal/schedule"
	"github.com/iac-studio/dbstack/internal/synth"
	"github.com/iac-studio/dbstack/pkg/config"
	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

// Factory variables, replaced in tests.
var (
	loadStackConfig = config.LoadStack

	newProvisioner = func(ctx context.Context, cfg *config.StackConfig) (provisioner.Provisioner, error) {
		opts := provisioner.AWSOptions{
			Region:          cfg.AWSRegion,
			Profile:         cfg.AWSProfile,
			Endpoint:        cfg.AWSEndpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		awsCfg, err := provisioner.LoadAWSConfig(ctx, opts)
		if err != nil {
			return nil, err
		}
		return provisioner.NewFromAWSConfig(awsCfg, opts, provisioner.Options{
			AssetsBucket: cfg.AssetsBucket,
			PollInterval: cfg.DeployPollInterval,
			Timeout:      cfg.DeployTimeout,
		}, nil), nil
	}

	now = time.Now
)

func build() (*config.StackConfig, *synth.Template, error) {
	cfg, err := loadStackConfig()
	if err != nil {
		return nil, nil, err
	}
	tpl, err := synth.BuildDevDatabase(cfg.StackName, cfg.StackProps())
	if err != nil {
		return nil, nil, err
	}
	return cfg, tpl, nil
}

// Synth renders the template as json or yaml to outPath, or to out when
// outPath is empty.
func Synth(_ context.Context, out io.Writer, format, outPath string) error {
	_, tpl, err := build()
	if err != nil {
		return err
	}
	var body []byte
	switch format {
	case "", "json":
		body, err = tpl.JSON()
	case "yaml":
		body, err = tpl.YAML()
	default:
		return fmt.Errorf("unknown format %q, want json or yaml", format)
	}
	if err != nil {
		return err
	}
	if outPath == "" {
		_, err = out.Write(body)
		return err
	}
	if err := os.WriteFile(outPath, body, 0o644); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	digest, _ := tpl.Digest()
	fmt.Fprintf(out, "wrote %s (sha256 %s)\n", outPath, digest)
	return nil
}

// Validate synthesizes the stack and checks the result for dangling
// references and malformed policies.
func Validate(_ context.Context, out io.Writer) error {
	cfg, tpl, err := build()
	if err != nil {
		return err
	}
	if err := synth.Validate(tpl); err != nil {
		return err
	}
	digest, _ := tpl.Digest()
	fmt.Fprintf(out, "stack %s is valid: %d resources, %d outputs, sha256 %s\n",
		cfg.StackName, len(tpl.Resources), len(tpl.Outputs), digest)
	return nil
}

// Diff compares the synthesized template with the one last deployed.
func Diff(ctx context.Context, out io.Writer) error {
	cfg, tpl, err := build()
	if err != nil {
		return err
	}
	prov, err := newProvisioner(ctx, cfg)
	if err != nil {
		return err
	}
	prev, err := prov.DeployedTemplate(ctx, cfg.StackName)
	if err != nil && !appErr.IsCode(err, appErr.CodeNotFound) {
		return err
	}

	changes := synth.Diff(prev, tpl)
	if len(changes) == 0 {
		fmt.Fprintf(out, "stack %s has no differences\n", cfg.StackName)
		return nil
	}
	for _, c := range changes {
		switch c.Kind {
		case synth.ChangeAdd:
			fmt.Fprintf(out, "+ %s (%s)\n", c.LogicalID, c.Type)
		case synth.ChangeRemove:
			fmt.Fprintf(out, "- %s (%s)\n", c.LogicalID, c.Type)
		default:
			fmt.Fprintf(out, "~ %s (%s) %v\n", c.LogicalID, c.Type, c.Fields)
		}
	}
	return nil
}

// Deploy applies the template and waits for the stack to settle. With
// planOnly it prints the change set instead.
func Deploy(ctx context.Context, out io.Writer, planOnly bool) error {
	cfg, tpl, err := build()
	if err != nil {
		return err
	}
	if err := synth.Validate(tpl); err != nil {
		return err
	}
	prov, err := newProvisioner(ctx, cfg)
	if err != nil {
		return err
	}
	d := &provisioner.Deployment{
		StackName: cfg.StackName,
		Template:  tpl,
		Tags:      map[string]string{"stack": cfg.StackName},
	}

	if planOnly {
		plan, err := prov.Plan(ctx, d)
		if err != nil {
			return err
		}
		verb := "update"
		switch {
		case plan.Replaces:
			verb = "replace failed stack"
		case plan.Create:
			verb = "create"
		}
		fmt.Fprintf(out, "%s %s: %d to add, %d to change, %d to remove\n",
			verb, plan.StackName, plan.ResourceAdds, plan.ResourceMods, plan.ResourceDels)
		for _, c := range plan.Details {
			fmt.Fprintf(out, "  %-8s %s (%s)\n", c.Action, c.LogicalID, c.Type)
		}
		return nil
	}

	fmt.Fprintf(out, "deploying %s\n", cfg.StackName)
	res, err := prov.Apply(ctx, d)
	if err != nil {
		return err
	}
	if res.NoChanges {
		fmt.Fprintf(out, "stack %s is up to date (%s)\n", cfg.StackName, res.StackStatus)
	} else {
		fmt.Fprintf(out, "stack %s %s\n", cfg.StackName, res.StackStatus)
	}
	printOutputs(out, res.Outputs)
	return nil
}

// Destroy deletes the stack. It refuses to run without confirm.
func Destroy(ctx context.Context, out io.Writer, confirm bool) error {
	if !confirm {
		return fmt.Errorf("destroy deletes the stack and its database; pass --yes to confirm")
	}
	cfg, err := loadStackConfig()
	if err != nil {
		return err
	}
	prov, err := newProvisioner(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "destroying %s\n", cfg.StackName)
	res, err := prov.Destroy(ctx, cfg.StackName)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "stack %s %s\n", cfg.StackName, res.StackStatus)
	return nil
}

// Outputs prints the outputs of the deployed stack.
func Outputs(ctx context.Context, out io.Writer) error {
	cfg, err := loadStackConfig()
	if err != nil {
		return err
	}
	prov, err := newProvisioner(ctx, cfg)
	if err != nil {
		return err
	}
	outputs, err := prov.Outputs(ctx, cfg.StackName)
	if err != nil {
		return err
	}
	printOutputs(out, outputs)
	return nil
}

// Schedules prints the stop and start schedules with their next count fire
// times.
func Schedules(_ context.Context, out io.Writer, count int) error {
	if count < 1 {
		return fmt.Errorf("count must be positive")
	}
	cfg, err := loadStackConfig()
	if err != nil {
		return err
	}
	infos, err := schedule.Upcoming(cfg.StopSchedule, cfg.StartSchedule, now(), count)
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Fprintf(out, "%s: %s\n  %s (%s)\n", info.Action, info.Expression, info.Description, info.Timezone)
		for _, t := range info.Next {
			fmt.Fprintf(out, "  - %s\n", t)
		}
	}
	return nil
}

func printOutputs(out io.Writer, outputs map[string]string) {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s = %s\n", k, outputs[k])
	}
}
