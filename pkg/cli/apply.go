package cli

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anirudhbiyani/cloud-provision/pkg/providers/azure"
	"github.com/anirudhbiyani/cloud-provision/pkg/provision"
)

func newApplyCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a workload identity spec file",
		Long: `Apply reads a spec file (YAML or JSON) and provisions every identity it
declares: resolve names, create managed identities, bind OIDC federated
credentials and create role assignments. With --dry-run no provider
mutations are issued; the planned actions are printed instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return runApply(cmd, v)
		},
	}

	cmd.Flags().StringP("spec-file", "f", "", "path to the spec file (required)")
	cmd.Flags().Bool("dry-run", false, "plan without mutating anything")
	cmd.Flags().String("project", "", "project code used in resource names")
	cmd.Flags().String("location", "", "region resources are created in")
	cmd.Flags().String("subscription", "", "subscription ID")
	cmd.Flags().String("resource-group", "", "home resource group for identities")
	cmd.Flags().String("github-org", "", "GitHub organization trusted for federation")
	cmd.Flags().String("github-repo", "", "GitHub repository trusted for federation")
	cmd.Flags().String("environment", "dev", "deployment environment (dev, prod, shared)")
	cmd.Flags().String("cost-center", "", "cost center tag value")
	cmd.Flags().String("owner", "", "owner tag value")
	cmd.Flags().String("owner-email", "", "owner email tag value")
	cmd.Flags().String("created-by", "", "created-by tag value")
	cmd.Flags().Int("parallelism", 0, "max concurrent spec pipelines (0 = default)")
	_ = cmd.MarkFlagRequired("spec-file")

	return cmd
}

func runApply(cmd *cobra.Command, v *viper.Viper) error {
	file, err := provision.LoadSpecFile(v.GetString("spec-file"))
	if err != nil {
		return err
	}

	cfg := provision.Config{
		ProjectCode: v.GetString("project"),
		Location:    v.GetString("location"),
		Scope: provision.ScopeRef{
			Subscription:  v.GetString("subscription"),
			ResourceGroup: v.GetString("resource-group"),
		},
		Federation: provision.FederationConfig{
			Org:  v.GetString("github-org"),
			Repo: v.GetString("github-repo"),
		},
		Tags: provision.TagInputs{
			Environment: provision.Environment(v.GetString("environment")),
			Project:     v.GetString("project"),
			CostCenter:  v.GetString("cost-center"),
			Owner:       v.GetString("owner"),
			OwnerEmail:  v.GetString("owner-email"),
			CreatedBy:   v.GetString("created-by"),
		},
		Parallelism: v.GetInt("parallelism"),
	}

	correlationID := uuid.New().String()
	log := slog.Default().With("correlationId", correlationID)

	providerName := "azure"
	var plan *provision.PlanProvider
	if v.GetBool("dry-run") {
		plan = provision.NewPlanProvider()
		if err := provision.RegisterProvider(plan); err != nil {
			return err
		}
		providerName = plan.Name()
		log.Info("dry run: no mutations will be issued")
	} else {
		az, err := azure.New(cfg.Scope.Subscription)
		if err != nil {
			return err
		}
		if err := provision.RegisterProvider(az); err != nil {
			return err
		}
	}

	provider, err := provision.GetProvider(providerName)
	if err != nil {
		return fmt.Errorf("provider %q not registered (have: %v): %w", providerName, provision.Providers(), err)
	}

	scheduler := provision.NewScheduler(provider, cfg, provision.WithLogger(log))
	report, runErr := scheduler.Run(cmd.Context(), correlationID, file.Identities)

	if plan != nil {
		printPlan(cmd, plan.Actions())
	}
	printReport(cmd, report)

	if runErr != nil {
		return fmt.Errorf("apply finished with failures: %w", runErr)
	}
	return nil
}

func printPlan(cmd *cobra.Command, actions []provision.PlannedAction) {
	cmd.Printf("Planned actions (%d):\n", len(actions))
	for _, a := range actions {
		cmd.Printf("  %-36s %-20s %s\n", a.Operation, a.ResourceType, a.ResourceName)
	}
	cmd.Println()
}

func printReport(cmd *cobra.Command, report *provision.RunReport) {
	keys := make([]string, 0, len(report.Results))
	for k := range report.Results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cmd.Printf("Run %s finished in %s\n", report.CorrelationID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	for _, k := range keys {
		res := report.Results[k]
		if res.Failed() {
			cmd.Printf("  %-24s %-12s %v\n", k, res.Stage, res.Err)
			continue
		}
		name := ""
		if res.Identity != nil {
			name = res.Identity.Name
		}
		cmd.Printf("  %-24s %-12s identity=%s credentials=%d assignments=%d\n",
			k, res.Stage, name, len(res.Credentials), len(res.Assignments))
	}
}
