package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mmrzaf/listmat/internal/app"
	"github.com/mmrzaf/listmat/internal/config"
	"github.com/mmrzaf/listmat/internal/domain"
	"github.com/mmrzaf/listmat/internal/identity"
	"github.com/mmrzaf/listmat/internal/logging"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfg      *config.Config
	logLevel string
	tenantID string
	userID   string
)

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:          "listmat",
		Short:        "Materialized list refresh and export",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfg.EntitiesDir, "entities-dir", cfg.EntitiesDir, "Entity types directory")
	rootCmd.PersistentFlags().StringVar(&cfg.SQLitePath, "sqlite", cfg.SQLitePath, "SQLite store path (when LISTMAT_DB is unset)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", cfg.LogLevel, "Log level")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "Tenant ID to act as")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "User ID to act as")

	rootCmd.AddCommand(entitiesCmd(), listCmd(), refreshCmd(), exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withRuntime builds the runtime, runs fn and closes the runtime. An interrupt
// cancels the context so in-flight work is finalized by its shutdown action.
func withRuntime(fn func(ctx context.Context, rt *app.Runtime) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = identity.NewContext(ctx, identity.Identity{TenantID: tenantID, UserID: userID})

	rt, err := app.NewRuntime(ctx, cfg, logging.NewLogger(logLevel))
	if err != nil {
		return err
	}
	runErr := fn(ctx, rt)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := rt.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printYAML(v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func entitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List entity types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				for _, name := range rt.Lists.Entities() {
					fmt.Println(name)
				}
				return nil
			})
		},
	}
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Manage lists",
	}

	var (
		name       string
		entityType string
		query      string
	)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				l, err := rt.Lists.CreateList(ctx, &domain.CreateListRequest{Name: name, EntityType: entityType, Query: query})
				if err != nil {
					return err
				}
				fmt.Printf("List created: %s\n", l.ID)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "List name")
	createCmd.Flags().StringVar(&entityType, "entity", "", "Entity type")
	createCmd.Flags().StringVar(&query, "query", "", "Filter expression")

	var version int64
	updateCmd := &cobra.Command{
		Use:   "update <list_id>",
		Short: "Update a list definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				cur, err := rt.Lists.GetList(ctx, args[0])
				if err != nil {
					return err
				}
				req := &domain.CreateListRequest{Name: cur.Name, EntityType: cur.EntityType, Query: cur.Query}
				if cmd.Flags().Changed("name") {
					req.Name = name
				}
				if cmd.Flags().Changed("entity") {
					req.EntityType = entityType
				}
				if cmd.Flags().Changed("query") {
					req.Query = query
				}
				if !cmd.Flags().Changed("version") {
					version = cur.Version
				}
				l, err := rt.Lists.UpdateList(ctx, args[0], version, req)
				if err != nil {
					return err
				}
				fmt.Printf("List updated: %s (version %d)\n", l.ID, l.Version)
				return nil
			})
		},
	}
	updateCmd.Flags().StringVar(&name, "name", "", "List name")
	updateCmd.Flags().StringVar(&entityType, "entity", "", "Entity type")
	updateCmd.Flags().StringVar(&query, "query", "", "Filter expression")
	updateCmd.Flags().Int64Var(&version, "version", 0, "Expected list version (defaults to the current one)")

	var (
		limit  int
		format string
	)
	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List lists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				out, err := rt.Lists.ListLists(ctx, limit)
				if err != nil {
					return err
				}
				if format == "json" {
					return printJSON(out)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tENTITY\tSUCCESS\tIN_PROGRESS\tUPDATED")
				for _, l := range out {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", l.ID, l.Name, l.EntityType,
						shortID(l.SuccessGenerationID), shortID(l.InProgressGenerationID), l.UpdatedAt.Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	}
	lsCmd.Flags().IntVar(&limit, "limit", 50, "Limit results")
	lsCmd.Flags().StringVar(&format, "format", "table", "Output format (table|json)")

	showCmd := &cobra.Command{
		Use:   "show <list_id>",
		Short: "Show list details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				l, err := rt.Lists.GetList(ctx, args[0])
				if err != nil {
					return err
				}
				return printYAML(l)
			})
		},
	}

	var (
		after    int64
		pageSize int
		pageFmt  string
	)
	contentCmd := &cobra.Command{
		Use:   "content <list_id>",
		Short: "Page through the current content of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				page, err := rt.Lists.Content(ctx, args[0], after, pageSize)
				if err != nil {
					return err
				}
				if pageFmt == "json" {
					return printJSON(page)
				}
				fmt.Println(strings.Join(page.ContentIDs, "\n"))
				if page.HasMore {
					fmt.Fprintf(os.Stderr, "more rows: --after %d\n", page.NextCursor)
				}
				return nil
			})
		},
	}
	contentCmd.Flags().Int64Var(&after, "after", -1, "Return rows after this sort position")
	contentCmd.Flags().IntVar(&pageSize, "limit", 1000, "Page size")
	contentCmd.Flags().StringVar(&pageFmt, "format", "table", "Output format (table|json)")

	gcCmd := &cobra.Command{
		Use:   "gc <list_id>",
		Short: "Delete content rows of generations that are no longer referenced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				n, err := rt.Lists.GC(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d rows\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(createCmd, updateCmd, lsCmd, showCmd, contentCmd, gcCmd)
	return cmd
}

func refreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh list content",
	}

	startCmd := &cobra.Command{
		Use:   "start <list_id>",
		Short: "Start a refresh and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				g, err := rt.Lists.StartRefresh(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Refresh started: %s\n", g.ID)
				fmt.Println("Waiting for completion...")

				done, err := waitFor(ctx, func() (domain.Status, error) {
					cur, err := rt.Lists.GetGeneration(ctx, g.ID)
					if err != nil {
						return "", err
					}
					g = cur
					return cur.Status, nil
				})
				if err != nil || !done {
					return err
				}
				switch g.Status {
				case domain.StatusSuccess:
					fmt.Printf("Refresh completed successfully\n")
					fmt.Printf("Records: %d\n", g.RecordCount)
					return nil
				case domain.StatusCancelled:
					fmt.Printf("Refresh cancelled\n")
					return nil
				default:
					fmt.Printf("Refresh failed: %s\n", g.ErrorMessage)
					return fmt.Errorf("refresh failed")
				}
			})
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <list_id>",
		Short: "Cancel the in-progress refresh of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				g, err := rt.Lists.CancelRefresh(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Refresh cancelled: %s\n", g.ID)
				return nil
			})
		},
	}

	var (
		limit  int
		format string
	)
	lsCmd := &cobra.Command{
		Use:   "ls <list_id>",
		Short: "List refresh generations of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				out, err := rt.Lists.ListGenerations(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if format == "json" {
					return printJSON(out)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tRECORDS\tSTARTED\tERROR")
				for _, g := range out {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", shortID(g.ID), g.Status, g.RecordCount,
						g.StartedAt.Format("2006-01-02 15:04"), g.ErrorCode)
				}
				return w.Flush()
			})
		},
	}
	lsCmd.Flags().IntVar(&limit, "limit", 20, "Limit results")
	lsCmd.Flags().StringVar(&format, "format", "table", "Output format (table|json)")

	showCmd := &cobra.Command{
		Use:   "show <generation_id>",
		Short: "Show generation details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				g, err := rt.Lists.GetGeneration(ctx, args[0])
				if err != nil {
					return err
				}
				return printYAML(g)
			})
		},
	}

	cmd.AddCommand(startCmd, cancelCmd, lsCmd, showCmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export list content as CSV",
	}

	var fields []string
	startCmd := &cobra.Command{
		Use:   "start <list_id>",
		Short: "Start an export and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				j, err := rt.Lists.StartExport(ctx, args[0], &domain.ExportRequest{Fields: fields})
				if err != nil {
					return err
				}
				fmt.Printf("Export started: %s\n", j.ID)
				fmt.Println("Waiting for completion...")

				done, err := waitFor(ctx, func() (domain.Status, error) {
					cur, err := rt.Lists.GetExport(ctx, j.ID)
					if err != nil {
						return "", err
					}
					j = cur
					return cur.Status, nil
				})
				if err != nil || !done {
					return err
				}
				switch j.Status {
				case domain.StatusSuccess:
					fmt.Printf("Export completed successfully\n")
					fmt.Printf("Object: %s\n", j.ObjectKey)
					fmt.Printf("Rows: %d, parts: %d\n", j.RowCount, j.PartCount)
					return nil
				case domain.StatusCancelled:
					fmt.Printf("Export cancelled\n")
					return nil
				default:
					fmt.Printf("Export failed: %s\n", j.ErrorMessage)
					return fmt.Errorf("export failed")
				}
			})
		},
	}
	startCmd.Flags().StringSliceVar(&fields, "fields", nil, "Columns to export")

	cancelCmd := &cobra.Command{
		Use:   "cancel <export_id>",
		Short: "Cancel an in-progress export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				j, err := rt.Lists.CancelExport(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Export %s: %s\n", j.ID, j.Status)
				return nil
			})
		},
	}

	var (
		limit  int
		format string
	)
	lsCmd := &cobra.Command{
		Use:   "ls <list_id>",
		Short: "List export jobs of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				out, err := rt.Lists.ListExports(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if format == "json" {
					return printJSON(out)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tROWS\tPARTS\tSTARTED\tOBJECT")
				for _, j := range out {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", shortID(j.ID), j.Status, j.RowCount, j.PartCount,
						j.StartedAt.Format("2006-01-02 15:04"), j.ObjectKey)
				}
				return w.Flush()
			})
		},
	}
	lsCmd.Flags().IntVar(&limit, "limit", 20, "Limit results")
	lsCmd.Flags().StringVar(&format, "format", "table", "Output format (table|json)")

	showCmd := &cobra.Command{
		Use:   "show <export_id>",
		Short: "Show export job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
				j, err := rt.Lists.GetExport(ctx, args[0])
				if err != nil {
					return err
				}
				return printYAML(j)
			})
		},
	}

	cmd.AddCommand(startCmd, cancelCmd, lsCmd, showCmd)
	return cmd
}

// waitFor polls status once a second until it is terminal. It returns false when
// ctx ends first; the runtime's shutdown actions then finalize the work.
func waitFor(ctx context.Context, status func() (domain.Status, error)) (bool, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("Interrupted")
			return false, nil
		case <-ticker.C:
		}
		s, err := status()
		if err != nil {
			return false, err
		}
		if s.Terminal() {
			return true, nil
		}
	}
}
