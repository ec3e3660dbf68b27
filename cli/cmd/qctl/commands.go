package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/perclft/qtranspile/backend/analysis"
	"github.com/perclft/qtranspile/backend/backends"
	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/noise"
	"github.com/perclft/qtranspile/backend/sim"
	"github.com/perclft/qtranspile/services/runstore"
	"github.com/perclft/qtranspile/services/scheduler"
	"github.com/perclft/qtranspile/services/server"
)

// circuitFlags selects the circuit under test.
type circuitFlags struct {
	file   string
	sample string
	qubits int
}

func (f *circuitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Path to circuit JSON file")
	cmd.Flags().StringVar(&f.sample, "sample", "", "Built-in circuit: bell or ghz")
	cmd.Flags().IntVar(&f.qubits, "qubits", 3, "Qubits of the ghz sample")
}

func (f *circuitFlags) load() (*circuit.Circuit, error) {
	switch {
	case f.file != "" && f.sample != "":
		return nil, errors.New("--file and --sample are exclusive")
	case f.file != "":
		return loadCircuit(f.file)
	case f.sample != "":
		return sampleCircuit(f.sample, f.qubits)
	}
	return nil, errors.New("one of --file or --sample is required")
}

// ------------------------------------------------------------------
// backends
// ------------------------------------------------------------------

func newBackendsCmd(cfgPath *string) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List execution backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *cfgPath, remote)
			if err != nil {
				return err
			}
			defer a.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tQUBITS\tMAX LEVEL\tNATIVE GATES")
			for _, name := range a.registry.List() {
				b, err := a.registry.Get(name)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", b.Name(), b.Kind(), b.NumQubits(), b.MaxOptimizationLevel(), strings.Join(b.NativeGates(), ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "Discover IBM backends (needs remote.token)")
	return cmd
}

// ------------------------------------------------------------------
// analyze
// ------------------------------------------------------------------

func newAnalyzeCmd(cfgPath *string) *cobra.Command {
	var (
		cf        circuitFlags
		backend   string
		levels    string
		noiseKind string
		prob      float64
		remote    bool
		save      bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Transpile a circuit at several optimization levels and score each against ideal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cf.load()
			if err != nil {
				return err
			}
			lv, err := analysis.ParseLevels(levels)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), *cfgPath, remote)
			if err != nil {
				return err
			}
			defer a.Close()

			req := analysis.Request{Circuit: c, Backend: backend, Levels: lv}
			if noiseKind != "" {
				kind, err := noise.ParseKind(noiseKind)
				if err != nil {
					return err
				}
				if req.Noise, err = a.registry.SyntheticNoise(kind, prob); err != nil {
					return err
				}
			}
			results, err := a.engine.Analyze(cmd.Context(), req)
			if err != nil {
				return err
			}

			var runID string
			if save {
				if err := a.requireStore(); err != nil {
					return err
				}
				src := "registry"
				if req.Noise != nil {
					src = req.Noise.Source()
				}
				if runID, err = a.store.Save(cmd.Context(), &runstore.Run{Backend: backend, Noise: src, Levels: lv, Circuit: c, Results: results}); err != nil {
					return err
				}
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), server.AnalyzeResponse{Backend: backend, Results: results, RunID: runID})
			}
			printResults(cmd.OutOrStdout(), results)
			if runID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "saved run %s\n", runID)
			}
			return nil
		},
	}
	cf.register(cmd)
	cmd.Flags().StringVarP(&backend, "backend", "b", backends.StatevectorSimulator, "Backend name")
	cmd.Flags().StringVarP(&levels, "levels", "l", "0,1,2,3", "Comma-separated optimization levels")
	cmd.Flags().StringVar(&noiseKind, "noise", "", "Synthetic noise override: depolarizing or bitflip")
	cmd.Flags().Float64Var(&prob, "p", 0.01, "Synthetic noise probability")
	cmd.Flags().BoolVar(&remote, "remote", false, "Discover IBM backends before analyzing")
	cmd.Flags().BoolVar(&save, "save", false, "Persist the run to the configured store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func printResults(out io.Writer, results []analysis.Result) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tFIDELITY\tDEPTH\tSIZE\tMODE\tOPS")
	for _, r := range results {
		fid := fmt.Sprintf("%.6f", r.Fidelity)
		if r.Mode == sim.ModeSampled {
			fid += fmt.Sprintf(" ±%.4f", r.StdErr)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\n", r.Level, fid, r.Depth, r.Size, r.Mode, formatOps(r.Ops))
	}
	w.Flush()
}

func formatOps(ops map[string]int) string {
	names := make([]string, 0, len(ops))
	for n := range ops {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s:%d", n, ops[n])
	}
	return strings.Join(parts, " ")
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ------------------------------------------------------------------
// serve
// ------------------------------------------------------------------

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC analysis service with background jobs and /metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *cfgPath, true)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.cfg

			schedOpts := []scheduler.Option{
				scheduler.WithLogger(a.logger),
				scheduler.WithWorkers(cfg.Scheduler.Workers),
				scheduler.WithPollInterval(cfg.Scheduler.PollInterval),
			}
			if cfg.Scheduler.Queue == "redis" {
				rdb := redis.NewClient(&redis.Options{Addr: cfg.Scheduler.RedisAddr})
				a.redis = append(a.redis, rdb)
				schedOpts = append(schedOpts, scheduler.WithQueue(scheduler.NewRedisQueue(rdb, cfg.Scheduler.RedisKey)))
			}
			srvOpts := []server.Option{server.WithLogger(a.logger)}
			if a.store != nil {
				schedOpts = append(schedOpts, scheduler.WithStore(a.store))
				srvOpts = append(srvOpts, server.WithStore(a.store))
			}
			sched := scheduler.New(a.engine, schedOpts...)
			sched.Start(ctx)
			defer sched.Close()

			lis, err := net.Listen("tcp", cfg.Server.Listen)
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}
			g := server.NewGRPCServer(server.New(a.registry, a.engine, append(srvOpts, server.WithScheduler(sched))...))

			var metrics *http.Server
			if cfg.Server.MetricsListen != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metrics = &http.Server{Addr: cfg.Server.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server failed", zap.Error(err))
					}
				}()
			}

			go func() {
				<-ctx.Done()
				g.GracefulStop()
				if metrics != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = metrics.Shutdown(shutdownCtx)
				}
			}()

			a.logger.Info("analysis service starting",
				zap.String("listen", cfg.Server.Listen),
				zap.String("metrics", cfg.Server.MetricsListen),
				zap.Strings("backends", a.registry.List()))
			if err := g.Serve(lis); err != nil {
				return fmt.Errorf("failed to serve: %w", err)
			}
			return nil
		},
	}
}

// ------------------------------------------------------------------
// runs
// ------------------------------------------------------------------

func newRunsCmd(cfgPath *string) *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Inspect persisted analysis runs",
	}

	var (
		backend string
		page    int
		size    int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *cfgPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireStore(); err != nil {
				return err
			}
			summaries, err := a.store.List(cmd.Context(), runstore.ListRequest{Backend: backend, Page: page, PageSize: size})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCIRCUIT\tBACKEND\tQUBITS\tBEST LEVEL\tBEST FIDELITY\tCREATED")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.6f\t%s\n", s.ID, s.CircuitName, s.Backend, s.NumQubits, s.BestLevel, s.BestFidelity, s.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&backend, "backend", "", "Only runs on this backend")
	list.Flags().IntVar(&page, "page", 1, "Page number")
	list.Flags().IntVar(&size, "page-size", 20, "Runs per page")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireStore(); err != nil {
				return err
			}
			run, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), run)
		},
	}

	runs.AddCommand(list, show)
	return runs
}

// ------------------------------------------------------------------
// submit
// ------------------------------------------------------------------

func newSubmitCmd() *cobra.Command {
	var (
		cf        circuitFlags
		addr      string
		backend   string
		levels    string
		noiseKind string
		prob      float64
		priority  int32
		wait      bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a background analysis on a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cf.load()
			if err != nil {
				return err
			}
			lv, err := analysis.ParseLevels(levels)
			if err != nil {
				return err
			}
			req := server.AnalyzeRequest{Circuit: c, Backend: backend, Levels: lv, Priority: priority}
			if noiseKind != "" {
				req.Noise = &server.NoiseSpec{Kind: noiseKind, Probability: prob}
			}
			in, err := server.RequestStruct(req)
			if err != nil {
				return err
			}

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("connection failed: %w", err)
			}
			defer conn.Close()
			client := server.NewAnalysisServiceClient(conn)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			id, err := client.SubmitJob(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id.GetValue())
			if !wait {
				return nil
			}

			ticker := time.NewTicker(250 * time.Millisecond)
			defer ticker.Stop()
			for {
				st, err := client.JobStatus(ctx, wrapperspb.String(id.GetValue()))
				if err != nil {
					return err
				}
				m := st.AsMap()
				switch m["state"] {
				case "completed", "failed", "cancelled":
					return writeJSON(cmd.OutOrStdout(), m)
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		},
	}
	cf.register(cmd)
	cmd.Flags().StringVar(&addr, "server", "localhost:50055", "Analysis server address")
	cmd.Flags().StringVarP(&backend, "backend", "b", "", "Backend name (server's active backend when empty)")
	cmd.Flags().StringVarP(&levels, "levels", "l", "0,1,2,3", "Comma-separated optimization levels")
	cmd.Flags().StringVar(&noiseKind, "noise", "", "Synthetic noise override: depolarizing or bitflip")
	cmd.Flags().Float64Var(&prob, "p", 0.01, "Synthetic noise probability")
	cmd.Flags().Int32Var(&priority, "priority", int32(scheduler.PriorityNormal), "Queue priority 0-3")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the job and print its results")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall deadline")
	return cmd
}
