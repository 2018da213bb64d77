package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"focusflow/internal/config"
	"focusflow/internal/db"
	"focusflow/internal/domain"
	"focusflow/internal/engine"
	"focusflow/internal/events"
	"focusflow/internal/migrate"
	"focusflow/internal/repo"
	"focusflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ff",
	Short: "FocusFlow behavioral intelligence CLI",
	Long: `FocusFlow watches how you actually work and turns that into advice.
Every task action becomes an event; the analyzer distills events into
insights (when you finish things, how good your estimates are); the
suggestion engine turns insights and simple rules into actionable,
accept-or-dismiss recommendations. Tasks can depend on each other and
the dependency graph stays acyclic.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FOCUSFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(depsCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(insightsCmd())
	rootCmd.AddCommand(suggestCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks carry a date, time block, priority, energy level, and estimate. Completing one records what actually happened, which is what the analyzer learns from.",
	}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskCarryOverCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var t domain.Task
	var date, block, priority, energy string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			t.UserID = viper.GetString("user-id")
			if date != "" {
				t.Date = &date
			}
			t.TimeBlock = domain.TimeBlock(block)
			t.Priority = domain.Priority(priority)
			t.EnergyLevel = domain.EnergyLevel(energy)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				saved, err := e.UpsertTask(ctx, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&t.Title, "title", "", "title")
	cmd.Flags().StringVar(&t.Description, "description", "", "description")
	cmd.Flags().StringVar(&t.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&date, "date", "", "scheduled date (YYYY-MM-DD, empty = inbox)")
	cmd.Flags().StringVar(&block, "block", "anytime", "time block (anytime, morning, afternoon, evening)")
	cmd.Flags().IntVar(&t.EstimatedMinutes, "estimate", 30, "estimated minutes")
	cmd.Flags().StringVar(&priority, "priority", "medium", "priority (low, medium, high, urgent)")
	cmd.Flags().StringVar(&energy, "energy", "medium", "energy level (low, medium, high)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, projectID, date string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, viper.GetString("user-id"), repoFilters(status, projectID, date))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Date", "Block", "Priority", "Status"})
				for _, t := range tasks {
					d := ""
					if t.Date != nil {
						d = *t.Date
					}
					tw.AppendRow(table.Row{t.ID, t.Title, d, t.TimeBlock, t.Priority, t.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	cmd.Flags().StringVar(&date, "date", "", "date filter (YYYY-MM-DD)")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	var actual int
	cmd := &cobra.Command{
		Use:   "done <task-id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var actualPtr *int
				if cmd.Flags().Changed("actual") {
					actualPtr = &actual
				}
				t, err := e.CompleteTask(ctx, args[0], actualPtr)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().IntVar(&actual, "actual", 0, "actual minutes spent")
	return cmd
}

func taskCarryOverCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "carry-over",
		Short: "Move unfinished tasks to another day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := e.CarryOver(ctx, viper.GetString("user-id"), from, to)
				if err != nil {
					return err
				}
				fmt.Printf("carried %d task(s) from %s to %s\n", len(ids), from, to)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "target date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func depsCmd() *cobra.Command {
	deps := &cobra.Command{
		Use:   "deps",
		Short: "Manage task dependencies",
		Long:  "Dependencies say \"this task waits on that one\". The graph refuses self-edges, duplicates, and anything that would close a cycle.",
	}
	deps.AddCommand(depsAddCmd())
	deps.AddCommand(depsRemoveCmd())
	deps.AddCommand(depsListCmd())
	deps.AddCommand(depsBlockingCmd())
	return deps
}

func depsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <task-id> <depends-on-id>",
		Short: "Add a dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				edge, err := e.AddDependency(ctx, viper.GetString("user-id"), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(edge)
			})
		},
	}
	return cmd
}

func depsRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <task-id> <edge-id>",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveDependency(ctx, viper.GetString("user-id"), args[0], args[1])
			})
		},
	}
	return cmd
}

func depsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "Tasks this task depends on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				refs, err := e.ListDependencies(ctx, args[0])
				if err != nil {
					return err
				}
				return printDependencyRefs(refs)
			})
		},
	}
	return cmd
}

func depsBlockingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocking <task-id>",
		Short: "Tasks blocked by this task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				refs, err := e.ListBlocking(ctx, args[0])
				if err != nil {
					return err
				}
				return printDependencyRefs(refs)
			})
		},
	}
	return cmd
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <date>",
		Short: "Show a day's tasks grouped by time block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.DaySchedule(ctx, viper.GetString("user-id"), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("%s: %d/%d done (%.0f%%)\n", s.Date, s.Completed, s.Total, s.Progress*100)
				for _, block := range []domain.TimeBlock{domain.BlockMorning, domain.BlockAfternoon, domain.BlockEvening, domain.BlockAnytime} {
					tasks := s.Blocks[block]
					if len(tasks) == 0 {
						continue
					}
					fmt.Printf("%s:\n", block)
					for _, t := range tasks {
						fmt.Printf("  [%s] %s (%s)\n", t.Status, t.Title, t.Priority)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run pattern analysis over the event history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.Analyze(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep.Insights)
				}
				fmt.Printf("refreshed %d insight(s)", len(rep.Insights))
				if len(rep.Retained) > 0 {
					fmt.Printf(", retained %d below minimum sample", len(rep.Retained))
				}
				fmt.Println()
				for t, ferr := range rep.Failed {
					fmt.Printf("  %s failed: %v\n", t, ferr)
				}
				return nil
			})
		},
	}
	return cmd
}

func insightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "List active insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListInsights(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Type", "Category", "Confidence", "Samples", "Updated"})
				for _, in := range items {
					tw.AppendRow(table.Row{in.Type, in.Category, fmt.Sprintf("%.2f", in.Confidence), in.SampleSize, in.LastUpdated})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func suggestCmd() *cobra.Command {
	sg := &cobra.Command{
		Use:   "suggest",
		Short: "Manage suggestions",
	}
	sg.AddCommand(suggestGenerateCmd())
	sg.AddCommand(suggestListCmd())
	sg.AddCommand(suggestRespondCmd())
	sg.AddCommand(suggestSweepCmd())
	return sg
}

func suggestGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run a suggestion pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, rep, err := e.Generate(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				fmt.Printf("created %d suggestion(s)\n", len(created))
				for t, ferr := range rep.Failed {
					fmt.Printf("  %s failed: %v\n", t, ferr)
				}
				return printSuggestionTable(created)
			})
		},
	}
	return cmd
}

func suggestListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSuggestions(ctx, viper.GetString("user-id"), domain.SuggestionStatus(status))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				return printSuggestionTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "pending", "status filter (pending, accepted, dismissed, expired)")
	return cmd
}

func suggestRespondCmd() *cobra.Command {
	var dismiss bool
	cmd := &cobra.Command{
		Use:   "respond <suggestion-id>",
		Short: "Accept or dismiss a suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.RespondToSuggestion(ctx, args[0], !dismiss)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().BoolVar(&dismiss, "dismiss", false, "dismiss instead of accept")
	return cmd
}

func suggestSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue pending suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ExpireSuggestions(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("expired %d suggestion(s)\n", n)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, taskID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent behavior events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Events.List(ctx, viper.GetString("user-id"), events.Filter{
					Type:   domain.EventType(evtType),
					TaskID: taskID,
					Order:  events.NewestFirst,
					Limit:  n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Type", "Task", "Hour", "Block", "At"})
				for _, evt := range items {
					tid := ""
					if evt.TaskID != nil {
						tid = *evt.TaskID
					}
					tw.AppendRow(table.Row{evt.Seq, evt.Type, tid, evt.Context.HourOfDay, evt.Context.TimeBlock, evt.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&taskID, "task", "", "task id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			log := newLogger()
			e := engine.New(conn, cfg, log)
			authCfg := server.AuthConfig{
				JWTSecret:         os.Getenv("FOCUSFLOW_JWT_SECRET"),
				AllowUserIDHeader: devAuth,
				Logger:            log,
			}
			if authCfg.JWTSecret == "" && !devAuth {
				return fmt.Errorf("FOCUSFLOW_JWT_SECRET is required for bearer auth (or pass --dev-auth)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving FocusFlow API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devAuth, "dev-auth", false, "accept X-User-Id header instead of JWT (development only)")
	return cmd
}

// --- helpers ---

func newLogger() *logrus.Logger {
	log := logrus.New()
	if strings.EqualFold(os.Getenv("FOCUSFLOW_LOG_FORMAT"), "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, newLogger())
	return fn(ctx, e)
}

func repoFilters(status, projectID, date string) repo.TaskFilters {
	return repo.TaskFilters{
		Status:    domain.TaskStatus(status),
		ProjectID: projectID,
		Date:      date,
	}
}

func printDependencyRefs(refs []domain.DependencyRef) error {
	if viper.GetBool("json") {
		return printJSON(refs)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Edge", "Task", "Title", "Status"})
	for _, ref := range refs {
		tw.AppendRow(table.Row{ref.EdgeID, ref.Task.ID, ref.Task.Title, ref.Task.Status})
	}
	tw.Render()
	return nil
}

func printSuggestionTable(items []domain.Suggestion) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Type", "Title", "Confidence", "Status"})
	for _, s := range items {
		tw.AppendRow(table.Row{s.ID, s.Type, s.Title, fmt.Sprintf("%.2f", s.Confidence), s.Status})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
