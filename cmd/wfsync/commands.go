package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/wfsync/internal/config"
	"github.com/hochfrequenz/wfsync/internal/ctxlog"
	"github.com/hochfrequenz/wfsync/internal/domain"
	"github.com/hochfrequenz/wfsync/internal/graph"
	"github.com/hochfrequenz/wfsync/internal/observer"
	"github.com/hochfrequenz/wfsync/internal/render"
	"github.com/hochfrequenz/wfsync/internal/runner"
	"github.com/hochfrequenz/wfsync/internal/scheduler"
	"github.com/hochfrequenz/wfsync/internal/workflow"
	"github.com/hochfrequenz/wfsync/internal/workflowstore"
	"github.com/hochfrequenz/wfsync/web/api"
)

var (
	cfg *config.Config

	runMethod      string
	runMaxParallel int
	runStrict      bool
	runCapacity    float64
	runWorkflow    string
	outputFormat   string
	ganttWidth     int
	comparePolicy  []string
	serveHost      string
	servePort      int
)

func init() {
	// schedule command
	scheduleCmd := &cobra.Command{
		Use:   "schedule [FILE]",
		Short: "Simulate a workflow (default: the built-in sample) and print its schedule",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSchedule,
	}
	addRunFlags(scheduleCmd)
	scheduleCmd.Flags().StringVar(&outputFormat, "format", "table", "output format (table, gantt, json)")
	scheduleCmd.Flags().IntVar(&ganttWidth, "width", render.DefaultGanttWidth, "gantt chart width")
	rootCmd.AddCommand(scheduleCmd)

	// compare command
	compareCmd := &cobra.Command{
		Use:   "compare [FILE]",
		Short: "Compare scheduling policies on one workflow",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCompare,
	}
	addRunFlags(compareCmd)
	compareCmd.Flags().StringSliceVar(&comparePolicy, "policies", nil, "policies to compare (default: all)")
	compareCmd.Flags().StringVar(&outputFormat, "format", "table", "output format (table, json)")
	rootCmd.AddCommand(compareCmd)

	// validate command
	validateCmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a workflow document without scheduling it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	validateCmd.Flags().BoolVar(&runStrict, "strict", false, "treat dangling dependency edges as errors")
	rootCmd.AddCommand(validateCmd)

	// import command
	importCmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Store workflow documents so they can be scheduled by name",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	rootCmd.AddCommand(importCmd)

	// list command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored workflows",
		RunE:  runList,
	}
	rootCmd.AddCommand(listCmd)

	// delete command
	deleteCmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a stored workflow",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
	rootCmd.AddCommand(deleteCmd)

	// sample command
	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Print a sample workflow document",
		RunE:  runSample,
	}
	rootCmd.AddCommand(sampleCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(serveCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Re-schedule a workflow every time its document changes",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
	addRunFlags(watchCmd)
	watchCmd.Flags().StringVar(&outputFormat, "format", "table", "output format (table, gantt, json)")
	watchCmd.Flags().IntVar(&ganttWidth, "width", render.DefaultGanttWidth, "gantt chart width")
	rootCmd.AddCommand(watchCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runMethod, "method", "", "scheduling policy or legacy method name")
	cmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "maximum tasks running at once")
	cmd.Flags().BoolVar(&runStrict, "strict", false, "treat dangling dependency edges as errors")
	cmd.Flags().Float64Var(&runCapacity, "resource-capacity", 0, "cap on summed resource cost of running tasks (0 = off)")
	cmd.Flags().StringVar(&runWorkflow, "workflow", "", "schedule a stored workflow by name")
}

// setup loads configuration and installs the logger before every command
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = loadConfig()
	if err != nil {
		return err
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	logger := ctxlog.New(level, format, cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(ctxlog.WithLogger(ctx, logger))
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithLocalFallback(configPath)
}

func openStore() (*workflowstore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0755); err != nil {
		return nil, err
	}
	return workflowstore.New(cfg.General.DatabasePath)
}

func runParams() runner.Params {
	return runner.Params{
		Method:           runMethod,
		MaxParallel:      runMaxParallel,
		Strict:           runStrict,
		ResourceCapacity: runCapacity,
	}
}

// loadWorkflow reads FILE, or the stored workflow named by --workflow,
// or falls back to the built-in sample
func loadWorkflow(args []string) (*domain.Workflow, error) {
	switch {
	case len(args) == 1 && runWorkflow != "":
		return nil, errors.New("give either FILE or --workflow, not both")
	case len(args) == 1:
		return workflow.Load(args[0])
	case runWorkflow != "":
		store, err := openStore()
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.GetWorkflow(runWorkflow)
	default:
		return workflow.Sample(), nil
	}
}

func runSchedule(cmd *cobra.Command, args []string) error {
	wf, err := loadWorkflow(args)
	if err != nil {
		return err
	}

	r := runner.New(runner.ParamsFromConfig(cfg))
	res, err := r.Run(cmd.Context(), wf, runParams())
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}

func printResult(cmd *cobra.Command, res *runner.Result) error {
	out := cmd.OutOrStdout()
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "gantt":
		if err := render.Gantt(out, res, ganttWidth); err != nil {
			return err
		}
	case "table", "":
		if err := render.Table(out, res); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}
	fmt.Fprintln(out)
	return render.Summary(out, res)
}

func runCompare(cmd *cobra.Command, args []string) error {
	wf, err := loadWorkflow(args)
	if err != nil {
		return err
	}

	policies := make([]scheduler.Policy, len(comparePolicy))
	for i, p := range comparePolicy {
		policies[i] = scheduler.Policy(p)
	}

	r := runner.New(runner.ParamsFromConfig(cfg))
	results, err := r.Compare(cmd.Context(), wf, policies, runParams())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	return render.Comparison(out, results)
}

func runValidate(cmd *cobra.Command, args []string) error {
	wf, err := workflow.Load(args[0])
	if err != nil {
		return err
	}

	strict := runStrict || cfg.Scheduler.StrictEdges
	g, dangling, err := graph.Build(wf.Tasks, wf.Edges, graph.Options{Strict: strict})
	if err != nil {
		return err
	}
	if cycle := g.DetectCycle(); cycle != nil {
		return fmt.Errorf("%w: dependency cycle %v", domain.ErrDeadlock, cycle)
	}

	out := cmd.OutOrStdout()
	for _, d := range dangling {
		fmt.Fprintf(out, "warning: %s\n", d)
	}
	critical, path, err := g.CriticalPath()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: ok, %d tasks, %d dependencies, critical path %s (%d tasks)\n",
		wf.Name, g.Len(), len(wf.Edges)-len(dangling), render.Number(critical), len(path))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	for _, path := range args {
		wf, err := workflow.Load(path)
		if err != nil {
			return err
		}
		if err := store.UpsertWorkflow(wf); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%d tasks) from %s\n", wf.Name, len(wf.Tasks), path)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.ListWorkflows()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTASKS\tDEPENDENCIES\tMETHOD\tMAX PARALLEL\tUPDATED")
	for _, s := range list {
		method := s.Method
		if method == "" {
			method = "-"
		}
		maxParallel := "-"
		if s.MaxParallel > 0 {
			maxParallel = fmt.Sprint(s.MaxParallel)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n",
			s.Name, s.Tasks, s.Edges, method, maxParallel, humanize.Time(s.UpdatedAt))
	}
	return w.Flush()
}

func runDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteWorkflow(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func runSample(cmd *cobra.Command, args []string) error {
	data, err := workflow.Marshal(workflow.Sample())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// storeAdapter narrows *workflowstore.Store to the API's Store interface
type storeAdapter struct {
	store *workflowstore.Store
}

func (a *storeAdapter) ListWorkflows() ([]workflowstore.Summary, error) {
	return a.store.ListWorkflows()
}

func (a *storeAdapter) GetWorkflow(name string) (*domain.Workflow, error) {
	return a.store.GetWorkflow(name)
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	host, port := cfg.Web.Host, cfg.Web.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := api.NewServer(&storeAdapter{store: store}, runner.New(runner.ParamsFromConfig(cfg)), api.Options{
		Addr:      fmt.Sprintf("%s:%d", host, port),
		CacheSize: cfg.Web.CacheSize,
		Logger:    ctxlog.FromContext(ctx),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Starting server on http://%s:%d\n", host, port)
	return server.Start(ctx)
}

func runWatch(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := ctxlog.FromContext(ctx)
	r := runner.New(runner.ParamsFromConfig(cfg))

	// Each change is an independent run; failures are reported and the
	// watch continues.
	rerun := func(changed string) {
		wf, err := workflow.Load(changed)
		if err == nil {
			var res *runner.Result
			res, err = r.Run(ctx, wf, runParams())
			if err == nil {
				err = printResult(cmd, res)
			}
		}
		if err != nil {
			logger.ErrorContext(ctx, "schedule failed", "path", changed, "error", err)
		}
	}

	watcher, err := observer.NewWorkflowWatcher(rerun)
	if err != nil {
		return err
	}
	watcher.SetDebounce(cfg.Watch.Debounce.Duration)
	if err := watcher.Add(path); err != nil {
		watcher.Stop()
		return err
	}

	rerun(path)
	watcher.Start(ctx)
	logger.InfoContext(ctx, "watching for changes", "path", path)

	<-ctx.Done()
	watcher.Stop()
	return nil
}
