package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-labs/release-registry/internal/client"
	"github.com/animus-labs/release-registry/internal/platform/env"
	"github.com/animus-labs/release-registry/internal/render"
)

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "releases",
		Short:         "releases tracks program releases and serves changelogs",
		Long:          "releases runs the release registry service and talks to a running registry.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var baseURL string
	root.PersistentFlags().StringVar(&baseURL, "url", "", "registry base URL (defaults to RELEASES_URL)")

	newClient := func(cmd *cobra.Command) (*client.Client, error) {
		cfg, err := client.ConfigFromEnv()
		if err != nil && baseURL == "" {
			return nil, err
		}
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
		return client.New(cmd.Context(), cfg)
	}

	root.AddCommand(
		newServeCmd(logger),
		newMigrateCmd(),
		newPushCmd(newClient),
		newCheckCmd(newClient),
		newChangelogCmd(newClient),
		newPromoteCmd(newClient),
	)
	return root
}

type clientFactory func(cmd *cobra.Command) (*client.Client, error)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), logger)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var store string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the SQL schema of the release store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := strings.ToLower(strings.TrimSpace(store))
			if err := runMigrate(cmd.Context(), kind); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", kind)
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", env.String("RELEASES_STORE", storePostgres), "store to migrate: postgres or sqlite")
	return cmd
}

func newPushCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "push <program> <event.json|->",
		Short: "Publish a release event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			var event io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				event = f
			}
			release, err := c.Push(cmd.Context(), args[0], event)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s %s (%d notes)\n", release.Program, release.Version, len(release.ReleaseNotes))
			return nil
		},
	}
}

func newCheckCmd(newClient clientFactory) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check <program> <version>",
		Short: "Check whether a version is the latest release",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			check, err := c.Check(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), check)
			}
			return render.VersionCheck(cmd.OutOrStdout(), args[0], args[1], check)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON answer")
	return cmd
}

func newChangelogCmd(newClient clientFactory) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "changelog <program>",
		Short: "Show the changelog of a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			entries, err := c.Changelog(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			return render.Changelog(cmd.OutOrStdout(), args[0], entries)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON answer")
	return cmd
}

func newPromoteCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <program> <version>",
		Short: "Make a version the latest stable release",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			release, err := c.Promote(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is now the latest release\n", release.Program, release.Version)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
