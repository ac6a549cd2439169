package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshworks/backoffice/cmd/backofficectl/cli"
	"github.com/meshworks/backoffice/internal/app"
	"github.com/meshworks/backoffice/internal/dashboard"
	"github.com/meshworks/backoffice/internal/ledger"
	"github.com/meshworks/backoffice/internal/rbac"
)

type signInFunc func(cmd *cobra.Command) (context.Context, error)

func newBootstrapCmd(services *app.Services) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the first admin and print an API key",
		Long:  "Create the admin account on an empty store, or reuse the existing one, and issue a fresh API key for it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := services.RBAC.Bootstrap(cmd.Context(), name)
			if err != nil {
				return err
			}
			ctx := rbac.ContextWithPrincipal(cmd.Context(), admin.Principal())
			key, err := services.RBAC.IssueAPIKey(ctx, admin.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Admin: %s (%s)\n", admin.Name, admin.ID)
			fmt.Fprintf(out, "API key: %s\n", key)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "Owner", "display name of the admin")
	return cmd
}

func newKeysCmd(services *app.Services, signIn signInFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue-key <user-id>",
		Short: "Issue a new API key for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := signIn(cmd)
			if err != nil {
				return err
			}
			key, err := services.RBAC.IssueAPIKey(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	return cmd
}

func newWorkCmd(services *app.Services, signIn signInFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work <customer-id> <work-id>",
		Short: "Show the analytics of one work order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := signIn(cmd)
			if err != nil {
				return err
			}
			a, err := services.Ledger.ComputeWorkAnalytics(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			printAnalytics(cmd, a)
			return nil
		},
	}
	return cmd
}

func newCustomerCmd(services *app.Services, signIn signInFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer <customer-id>",
		Short: "Summarise every work order of a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := signIn(cmd)
			if err != nil {
				return err
			}
			summary, err := services.Ledger.CustomerSummary(ctx, args[0])
			if err != nil {
				return err
			}
			for _, w := range summary.Works {
				printAnalytics(cmd, w)
				fmt.Fprintln(cmd.OutOrStdout())
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Totals")
			printAnalytics(cmd, summary.Totals)
			return nil
		},
	}
	return cmd
}

func printAnalytics(cmd *cobra.Command, a ledger.WorkAnalytics) {
	out := cmd.OutOrStdout()
	if a.WorkID != "" {
		fmt.Fprintf(out, "Work: %s\n", a.WorkID)
	}
	fmt.Fprintf(out, "Revenue: %s\n", a.TotalRevenue.StringFixed(2))
	fmt.Fprintf(out, "Paid: %s\n", a.TotalPaid.StringFixed(2))
	fmt.Fprintf(out, "Pending: %s\n", a.TotalPending.StringFixed(2))
	fmt.Fprintf(out, "Investment: %s\n", a.TotalInvestment.StringFixed(2))
	fmt.Fprintf(out, "Profit/Loss: %s (%s%%)\n", a.ProfitLoss.StringFixed(2), a.ProfitMargin.StringFixed(2))
}

func newDashboardCmd(services *app.Services, signIn signInFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Print the dashboard summary as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := signIn(cmd)
			if err != nil {
				return err
			}
			summary, err := services.Dashboard.Summary(ctx)
			if err != nil {
				return err
			}
			return dashboard.WriteCSV(cmd.OutOrStdout(), summary)
		},
	}
	return cmd
}

func newReconcileCmd(services *app.Services) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Scan every customer ledger for inconsistencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			findings, err := services.Ledger.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(findings) == 0 {
				fmt.Fprintln(out, "No findings.")
				return nil
			}
			for _, f := range findings {
				fmt.Fprintf(out, "%s\t%s\t%s\n", f.CustomerID, f.Kind, f.Ref)
			}
			return nil
		},
	}
	return cmd
}

func newJobsCmd(cfg *app.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage background jobs",
	}

	trigger := &cobra.Command{
		Use:       "trigger <job>",
		Short:     "Enqueue a background job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: cli.SupportedJobs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobsCLI, err := cli.NewJobsCLI(cfg.RedisURL)
			if err != nil {
				return err
			}
			defer jobsCLI.Close()
			info, err := jobsCLI.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s as %s\n", info.Type, info.ID)
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobsCLI, err := cli.NewJobsCLI(cfg.RedisURL)
			if err != nil {
				return err
			}
			defer jobsCLI.Close()
			s, err := jobsCLI.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queue: %s\nPending: %d\nActive: %d\nScheduled: %d\nRetry: %d\nFailed: %d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Failed)
			return nil
		},
	}

	cmd.AddCommand(trigger, stats)
	return cmd
}
