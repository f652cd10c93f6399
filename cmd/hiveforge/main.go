package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/config"
	"github.com/k-iijima/hiveforge/internal/guard"
	"github.com/k-iijima/hiveforge/internal/hive"
	"github.com/k-iijima/hiveforge/internal/llm"
	"github.com/k-iijima/hiveforge/internal/logging"
	"github.com/k-iijima/hiveforge/internal/orchestrator"
	"github.com/k-iijima/hiveforge/internal/pipeline"
	"github.com/k-iijima/hiveforge/internal/planner"
	"github.com/k-iijima/hiveforge/internal/sentinel"
)

var (
	verbose    bool
	configPath string
	vaultPath  string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hiveforge",
	Short: "HiveForge - event-sourced autonomous software assembly",
	Long: `HiveForge decomposes a goal into tasks and executes them through
cooperating agents over an append-only, hash-chained event log.
Every decision, task and verdict is replayable from the log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Setup(verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if vaultPath != "" {
			cfg.VaultPath = vaultPath
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func openLog() (*akashic.Log, error) {
	vault, err := cfg.AbsVaultPath()
	if err != nil {
		return nil, err
	}
	return akashic.NewLog(vault, cfg.Governance.LockTimeout)
}

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Plan and execute a goal end to end",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goal := args[0]

		log, err := openLog()
		if err != nil {
			return err
		}
		client, err := llm.NewGeminiClient(cmd.Context(), cfg.LLM)
		if err != nil {
			return err
		}
		defer client.Close()

		handlers := hive.NewHandlers(log, cfg.Governance, "beekeeper")
		runID, err := handlers.StartRun("", goal)
		if err != nil {
			return err
		}

		monitor := hive.NewMonitor(log, sentinel.NewScanner(cfg.Governance))
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		go func() { _ = monitor.Watch(ctx, runID) }()

		execFn := func(ctx context.Context, taskID, taskGoal string, contextData map[string]interface{}) (map[string]interface{}, error) {
			// Task execution reports back through the same stream the
			// monitor watches.
			return map[string]interface{}{"goal": taskGoal, "noted_at": time.Now().UTC().Format(time.RFC3339)}, nil
		}
		pipe := pipeline.New(log,
			planner.New(client),
			guard.NewVerifier(log, guard.DefaultRules(cfg.Guard.CoverageThreshold)...),
			orchestrator.New(4),
			cfg.TrustLevel,
			execFn)
		bk := &hive.Beekeeper{Log: log, Pipeline: pipe, LLM: client}

		result, err := bk.HandleGoal(ctx, runID, goal, pipeline.Options{})
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve [request-id]",
	Short: "Resolve a pending approval request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rejected, _ := cmd.Flags().GetBool("reject")
		reason, _ := cmd.Flags().GetString("reason")

		log, err := openLog()
		if err != nil {
			return err
		}
		client, err := llm.NewGeminiClient(cmd.Context(), cfg.LLM)
		if err != nil {
			return err
		}
		defer client.Close()

		execFn := func(ctx context.Context, taskID, taskGoal string, contextData map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"goal": taskGoal}, nil
		}
		pipe := pipeline.New(log,
			planner.New(client),
			guard.NewVerifier(log, guard.DefaultRules(cfg.Guard.CoverageThreshold)...),
			orchestrator.New(4),
			cfg.TrustLevel,
			execFn)

		result, err := pipe.ResumeWithApproval(cmd.Context(), args[0], !rejected, reason)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [run-id]",
	Short: "Verify a stream's hash chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openLog()
		if err != nil {
			return err
		}
		ok, reason, err := log.VerifyChain(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("chain broken: %s", reason)
		}
		n, err := log.CountEvents(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("chain verified: %d events\n", n)
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay [run-id]",
	Short: "Project a stream and print its folded state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openLog()
		if err != nil {
			return err
		}
		events, err := log.Replay(args[0])
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return fmt.Errorf("unknown run %s", args[0])
		}
		return printJSON(cmd, akashic.Project(args[0], events))
	},
}

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "List streams in the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openLog()
		if err != nil {
			return err
		}
		agg, err := akashic.Aggregate(log)
		if err != nil {
			return err
		}
		for id, p := range agg.Streams {
			cmd.Printf("%s\t%s\t%d events\n", id, p.Status, p.EventCount)
		}
		cmd.Printf("active %d / completed %d / failed %d\n", agg.Active, agg.Completed, agg.Failed)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [run-id]",
	Short: "Write a stream's canonical JSONL to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openLog()
		if err != nil {
			return err
		}
		return log.ExportStream(args[0], cmd.OutOrStdout())
	},
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(data))
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "hiveforge.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&vaultPath, "vault", "", "vault path override")

	approveCmd.Flags().Bool("reject", false, "reject instead of approve")
	approveCmd.Flags().String("reason", "", "resolution reason")

	rootCmd.AddCommand(runCmd, approveCmd, verifyCmd, replayCmd, streamsCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
