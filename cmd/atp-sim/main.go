// Command atp-sim runs the in-network-aggregation transport protocol,
// either over real UDP sockets ("run") or over the deterministic SimNet
// substrate for repeatable local experiments ("bench").
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"github.com/atptransport/atp/pkg/atp/aggregator"
	"github.com/atptransport/atp/pkg/atp/atplog"
	"github.com/atptransport/atp/pkg/atp/config"
	"github.com/atptransport/atp/pkg/atp/congestion"
	"github.com/atptransport/atp/pkg/atp/coordinator"
	"github.com/atptransport/atp/pkg/atp/substrate"
	"github.com/atptransport/atp/pkg/atp/switchd"
	"github.com/atptransport/atp/pkg/atp/trace"
	"github.com/atptransport/atp/pkg/atp/worker"
)

func main() {
	ctx := context.Background()

	env, err := config.LoadEnv(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "atp-sim: loading environment: %v\n", err)
		os.Exit(1)
	}
	ctx = atplog.NewBaseLogger(ctx, env.LogLevel)
	ctx = dgroup.WithGoroutineName(ctx, "/atp-sim")

	root := &cobra.Command{
		Use:           "atp-sim",
		Short:         "atp-sim",
		Long:          "atp-sim - run or benchmark the in-network-aggregation transport protocol",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	var scenarioFile string
	root.PersistentFlags().StringVar(&scenarioFile, "scenario", env.ScenarioFile,
		"path to a YAML scenario file overriding the built-in defaults")

	root.AddCommand(runCmd(env, &scenarioFile))
	root.AddCommand(benchCmd(&scenarioFile))

	if err := root.ExecuteContext(ctx); err != nil {
		dlog.Errorf(ctx, "quit: %v", err)
		os.Exit(1)
	}
}

// loadScenario reads scenarioFile if it exists, falling back to
// config.GetDefaultScenario when the path is empty or unreadable.
func loadScenario(ctx context.Context, scenarioFile string) config.Scenario {
	if scenarioFile == "" {
		return config.GetDefaultScenario()
	}
	data, err := afero.ReadFile(afero.NewOsFs(), scenarioFile)
	if err != nil {
		dlog.Infof(ctx, "atp-sim: no scenario file at %q, using defaults: %v", scenarioFile, err)
		return config.GetDefaultScenario()
	}
	scenario, err := config.ParseScenarioYAML(data)
	if err != nil {
		dlog.Warnf(ctx, "atp-sim: %q is malformed, using defaults: %v", scenarioFile, err)
		return config.GetDefaultScenario()
	}
	return scenario
}

func workerConfig(s config.Scenario, workerID uint8, jobID uint32, appID uint16) worker.Config {
	w := s.Worker()
	return worker.Config{
		WorkerID:                workerID,
		AppID:                   appID,
		JobID:                   jobID,
		TotalSize:               w.TotalSize,
		PayloadSize:             w.PayloadSize,
		UsedAGTRSize:            w.UsedAGTRSize,
		AggregatorCapacity:      s.Aggregator().Capacity,
		FanInDegree:             uint8(w.Count),
		InitialWindowSize:       w.InitialWindowSize,
		Timeout:                 w.Timeout,
		FastRetransmitThreshold: w.FastRetransmitThreshold,
		MaxRetransmissions:      w.MaxRetransmissions,
		StatsInterval:           w.StatsInterval,
		Congestion: congestion.Params{
			Alpha: s.Congestion().Alpha,
			Beta:  s.Congestion().Beta,
			Min:   s.Congestion().Min,
			Max:   s.Congestion().Max,
		},
	}
}

// runCmd starts a single role of a real deployment, talking over UDP
// sockets: one process each for the switch, the coordinator, and every
// worker, addressed to each other by flag.
func runCmd(env config.Env, scenarioFile *string) *cobra.Command {
	var (
		role        string
		listenAddr  string
		peerAddr    string
		workerAddrs []string
		workerID    uint8
		jobID       uint32
		appID       uint16
		tos         int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run one role of a real UDP deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scenario := loadScenario(ctx, *scenarioFile)

			transport, err := substrate.ListenUDP(ctx, listenAddr, tos)
			if err != nil {
				return fmt.Errorf("atp-sim: listen: %w", err)
			}
			scheduler := substrate.NewWallClockScheduler(ctx)

			var sink trace.Sink = trace.Discard
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				promSink, err := trace.NewPrometheusSink(reg, fmt.Sprintf("%s-%d", role, workerID))
				if err != nil {
					return fmt.Errorf("atp-sim: registering metrics: %w", err)
				}
				sink = promSink
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				server := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						dlog.Errorf(ctx, "atp-sim: metrics server: %v", err)
					}
				}()
				defer server.Close()
			}

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
				SoftShutdownTimeout: 2 * time.Second,
				EnableSignalHandling: true,
			})

			switch role {
			case "switch":
				engine := aggregator.NewEngine(aggregator.Config{
					Capacity:       scenario.Aggregator().Capacity,
					MaxSlotRetries: scenario.Aggregator().MaxSlotRetries,
				})
				for _, addr := range workerAddrs {
					engine.AddWorkerIP(substrate.Addr(addr))
				}
				sw := switchd.New(switchd.Config{CoordinatorAddr: substrate.Addr(peerAddr)}, engine, transport, sink)
				grp.Go("switch", sw.Run)
			case "coordinator":
				asm := coordinator.New(coordinator.Config{StatsInterval: scenario.Worker().StatsInterval}, transport, scheduler, substrate.Addr(peerAddr), sink)
				grp.Go("coordinator", asm.Run)
			case "worker":
				cfg := workerConfig(scenario, workerID, jobID, appID)
				w, err := worker.New(cfg, transport, scheduler, substrate.Addr(peerAddr), sink)
				if err != nil {
					return fmt.Errorf("atp-sim: building worker: %w", err)
				}
				grp.Go("worker", w.Run)
			default:
				return fmt.Errorf("atp-sim: unknown --role %q, want one of switch|coordinator|worker", role)
			}

			err = grp.Wait()
			if cerr := transport.Close(); cerr != nil {
				var result *multierror.Error
				result = multierror.Append(result, err, cerr)
				return result.ErrorOrNil()
			}
			return err
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "one of: switch, coordinator, worker (required)")
	cmd.Flags().StringVar(&listenAddr, "listen", ":0", "local UDP address to bind")
	cmd.Flags().StringVar(&peerAddr, "peer", "", "address of the next hop: the coordinator for the switch role, the switch for worker and coordinator roles")
	cmd.Flags().StringArrayVar(&workerAddrs, "worker-addr", nil, "registered worker address for ACK multicast (switch role only, repeatable)")
	cmd.Flags().Uint8Var(&workerID, "worker-id", 0, "this worker's bit position in the contribution bitmap (worker role only)")
	cmd.Flags().Uint32Var(&jobID, "job-id", 1, "job identifier (worker role only)")
	cmd.Flags().Uint16Var(&appID, "app-id", 1, "application identifier used for slot-map hashing (worker role only)")
	cmd.Flags().IntVar(&tos, "tos", 0, "IP_TOS value applied to outbound packets (low two bits carry ECN)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", env.MetricsAddr, "if set, serve Prometheus metrics on this address")
	return cmd
}

// benchCmd runs a full topology of switch, coordinator and scenario.Worker
// Count workers in a single process over the deterministic SimNet
// substrate, for repeatable local experiments without real sockets.
func benchCmd(scenarioFile *string) *cobra.Command {
	var (
		csvPrefix string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "run an in-process benchmark over the simulated network",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scenario := loadScenario(ctx, *scenarioFile)
			net := scenario.Network()

			simnet := substrate.NewSimNet(ctx, net.LossRate, net.Latency, net.Seed)
			scheduler := simnet.Scheduler()

			switchTransport := simnet.NewTransport("switch")
			coordinatorTransport := simnet.NewTransport("coordinator")

			var sink trace.Sink = trace.Discard
			if csvPrefix != "" {
				csvSink, err := trace.NewCSVSink(afero.NewOsFs(), csvPrefix+"-window.csv", csvPrefix+"-throughput.csv", func() int64 { return time.Now().UnixNano() })
				if err != nil {
					return fmt.Errorf("atp-sim: opening trace sinks: %w", err)
				}
				defer csvSink.Close()
				sink = csvSink
			}

			engine := aggregator.NewEngine(aggregator.Config{
				Capacity:       scenario.Aggregator().Capacity,
				MaxSlotRetries: scenario.Aggregator().MaxSlotRetries,
			})
			sw := switchd.New(switchd.Config{CoordinatorAddr: coordinatorTransport.LocalAddr()}, engine, switchTransport, sink)
			asm := coordinator.New(coordinator.Config{StatsInterval: scenario.Worker().StatsInterval}, coordinatorTransport, scheduler, switchTransport.LocalAddr(), sink)

			relayCtx, cancelRelay := context.WithCancel(ctx)
			defer cancelRelay()
			grp := dgroup.NewGroup(relayCtx, dgroup.GroupConfig{
				SoftShutdownTimeout: 2 * time.Second,
			})
			grp.Go("switch", sw.Run)
			grp.Go("coordinator", asm.Run)

			workerCount := scenario.Worker().Count
			workers := make([]*worker.Worker, workerCount)
			for i := 0; i < workerCount; i++ {
				id := uint8(i)
				transport := simnet.NewTransport(fmt.Sprintf("worker-%d", id))
				engine.AddWorkerIP(transport.LocalAddr())
				cfg := workerConfig(scenario, id, 1, 1)
				w, err := worker.New(cfg, transport, scheduler, switchTransport.LocalAddr(), sink)
				if err != nil {
					return fmt.Errorf("atp-sim: building worker %d: %w", id, err)
				}
				workers[i] = w
			}

			workerGrp := dgroup.NewGroup(ctx, dgroup.GroupConfig{})
			for i, w := range workers {
				name := fmt.Sprintf("worker-%d", i)
				w := w
				workerGrp.Go(name, w.Run)
			}
			err := workerGrp.Wait()
			cancelRelay()
			if relayErr := grp.Wait(); relayErr != nil {
				var result *multierror.Error
				result = multierror.Append(result, err, relayErr)
				err = result.ErrorOrNil()
			}

			dlog.Infof(ctx, "atp-sim: bench complete, %d packets dropped by simulated loss", simnet.Dropped())
			return err
		},
	}
	cmd.Flags().StringVar(&csvPrefix, "csv-prefix", "", "if set, write <prefix>-window.csv and <prefix>-throughput.csv trace files")
	return cmd
}
