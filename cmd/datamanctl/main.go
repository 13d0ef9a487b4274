package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dataman/internal/api"
	"dataman/internal/dataman"
	"dataman/internal/logging"
	"dataman/internal/pg"
	"dataman/internal/registry"
)

var (
	registryPath string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:           "datamanctl",
	Short:         "Dataman CLI: compile requests, lint tables, print bootstrap DDL",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// errLintIssues — линт нашёл расхождения (код выхода 2).
var errLintIssues = errors.New("lint issues found")

func main() {
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "", "Registry YAML file or directory (empty = built-in)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging to stderr")
	rootCmd.AddCommand(compileCmd(), lintCmd(), ddlCmd(), sendCmd())

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errLintIssues) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readRequest(path string) (dataman.Request, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return dataman.Request{}, err
		}
		defer f.Close()
		r = f
	}
	var req dataman.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return dataman.Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---- compile ----

func compileCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "compile [request.json|-]",
		Short: "Compile a Dataman request to SQL without executing it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			req, err := readRequest(path)
			if err != nil {
				return err
			}
			reg, err := registry.Load(registryPath)
			if err != nil {
				return err
			}
			if err := reg.Complete(&req); err != nil && !errors.Is(err, registry.ErrUnknownTable) {
				return err
			}
			q, err := dataman.Builder{Strict: strict}.Build(req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.Compiled(q))
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on malformed criteria instead of dropping them")
	return cmd
}

// ---- lint ----

func lintCmd() *cobra.Command {
	var database, table, url, remote, apiKey, keyStyle string
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Compare registry column types with information_schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Load(registryPath)
			if err != nil {
				return err
			}
			expected, err := reg.Expected(database, table)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			sender, closeFn, err := senderFor(ctx, database, url, remote, apiKey, keyStyle)
			if err != nil {
				return err
			}
			defer closeFn()

			issues, err := dataman.Linter{Sender: sender}.Lint(ctx, database, table, expected)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(issues) == 0 {
				fmt.Fprintf(out, "%s %s: OK\n", database, table)
				return nil
			}
			for _, is := range issues {
				fmt.Fprintln(out, is.Describe())
				fmt.Fprintln(out, strings.Repeat("-", 40))
			}
			return errLintIssues
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "Database key")
	cmd.Flags().StringVar(&table, "table", "", "schema.table")
	cmd.Flags().StringVar(&url, "url", "", "Postgres URL (direct connection)")
	cmd.Flags().StringVar(&remote, "remote", "", "Remote Dataman endpoint, e.g. http://localhost:8080/api/dataman")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("DATAMAN_APIKEY"), "API key for --remote")
	cmd.Flags().StringVar(&keyStyle, "api-key-style", "X-API-KEY", "API key header for --remote")
	_ = cmd.MarkFlagRequired("database")
	_ = cmd.MarkFlagRequired("table")
	cmd.MarkFlagsMutuallyExclusive("url", "remote")
	return cmd
}

// senderFor — локальный Executor поверх пула или удалённый Client.
func senderFor(ctx context.Context, database, url, remote, apiKey, keyStyle string) (dataman.Sender, func(), error) {
	if remote != "" {
		style, err := dataman.ParseAPIKeyStyle(keyStyle)
		if err != nil {
			return nil, nil, err
		}
		return dataman.NewClient(remote, apiKey, style), func() {}, nil
	}
	if url == "" {
		return nil, nil, errors.New("either --url or --remote is required")
	}
	log := logging.Nop()
	if verbose {
		if l, err := logging.New("debug", true); err == nil {
			log = l.Sugar()
		}
	}
	pools, err := pg.OpenAll(ctx, map[string]string{database: url}, log)
	if err != nil {
		return nil, nil, err
	}
	return dataman.NewExecutor(pools, dataman.Builder{}, log), pools.Close, nil
}

// ---- ddl ----

func ddlCmd() *cobra.Command {
	var database string
	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print bootstrap DDL for registry tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Load(registryPath)
			if err != nil {
				return err
			}
			dbs := reg.Databases()
			if database != "" {
				dbs = []string{database}
			}
			out := cmd.OutOrStdout()
			for _, db := range dbs {
				ddl, err := pg.GenerateDDL(reg.TablesIn(db))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "-- database: %s\n%s\n", db, pg.RenderDDL(ddl))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "Only this database key")
	return cmd
}

// ---- send ----

func sendCmd() *cobra.Command {
	var remote, apiKey, keyStyle string
	cmd := &cobra.Command{
		Use:   "send [request.json|-]",
		Short: "Send a Dataman request to a remote Dataman service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			req, err := readRequest(path)
			if err != nil {
				return err
			}
			style, err := dataman.ParseAPIKeyStyle(keyStyle)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := dataman.NewClient(remote, apiKey, style).Send(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "http://localhost:8080/api/dataman", "Remote Dataman endpoint")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("DATAMAN_APIKEY"), "API key")
	cmd.Flags().StringVar(&keyStyle, "api-key-style", "X-API-KEY", "API key header")
	return cmd
}
