package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshworks/backoffice/internal/app"
	"github.com/meshworks/backoffice/internal/rbac"
)

const apiKeyEnv = "BACKOFFICE_API_KEY"

func newRootCmd(services *app.Services, cfg *app.Config) *cobra.Command {
	var apiKey string
	rootCmd := &cobra.Command{
		Use:           "backofficectl",
		Short:         "Operator tooling for the home-services back office",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv(apiKeyEnv), "API key to act as (defaults to $"+apiKeyEnv+")")

	// signIn resolves the acting principal for commands that touch gated data.
	signIn := func(cmd *cobra.Command) (context.Context, error) {
		if apiKey == "" {
			return nil, errors.New("an API key is required, pass --api-key or set " + apiKeyEnv)
		}
		principal, err := services.RBAC.Authenticate(cmd.Context(), apiKey)
		if err != nil {
			return nil, err
		}
		return rbac.ContextWithPrincipal(cmd.Context(), principal), nil
	}

	rootCmd.AddCommand(
		newBootstrapCmd(services),
		newKeysCmd(services, signIn),
		newWorkCmd(services, signIn),
		newCustomerCmd(services, signIn),
		newDashboardCmd(services, signIn),
		newReconcileCmd(services),
		newJobsCmd(cfg),
	)
	return rootCmd
}
