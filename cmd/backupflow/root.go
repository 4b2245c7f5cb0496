package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/systemstart/backupflow/pkg/flow"
	"github.com/systemstart/backupflow/pkg/logging"
	"github.com/systemstart/backupflow/pkg/notify"
)

var (
	secretsFile     string
	configFile      string
	targetName      string
	flowName        string
	temporaryFolder string
	dryRunOnly      bool
	disableVoting   bool
	uploadSuffix    string
	loggingType     string
	logLevel        string
	addMainLog      bool
	addSessionLog   bool
)

var rootCmd = &cobra.Command{
	Use:   "backupflow",
	Short: "Run a declarative backup flow",
	Long: `backupflow runs the steps of a backup flow (database dump, compression,
hashing, object storage upload with rotation) for one target.

Every run validates all steps in a dry run first. When every voting step
reports that its work is already done, the real run is skipped.`,
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&secretsFile, "secrets", "s", "", "secrets and targets file")
	flags.StringVarP(&configFile, "config", "c", "", "pipeline definition file (default: embedded)")
	flags.StringVarP(&targetName, "target", "d", "", "target name (default: defaults.target of the secrets file)")
	flags.StringVarP(&flowName, "flow", "f", "", "flow name (default: flow_type of the target)")
	flags.StringVarP(&temporaryFolder, "temporary-folder", "t", "", "root folder for work directories and logs")
	flags.BoolVarP(&dryRunOnly, "dry-run", "y", false, "only perform the dry run")
	flags.BoolVarP(&disableVoting, "disable-voting", "k", false, "always run, whatever the steps vote")
	flags.StringVar(&uploadSuffix, "upload-suffix", "", "suffix for strict uploads")
	flags.StringVar(&loggingType, "logging-type", logging.Tint, "logging type: json, text or tint")
	flags.StringVarP(&logLevel, "log-level", "l", "info", "logging level: debug, info, warn, error")
	flags.BoolVarP(&addMainLog, "add-main-log", "m", false, "append to the rotating main log")
	flags.BoolVarP(&addSessionLog, "add-session-log", "p", false, "write a log file for this run")

	_ = rootCmd.MarkFlagRequired("secrets")
	_ = rootCmd.MarkFlagFilename("secrets", "yaml", "yml")
	_ = rootCmd.MarkFlagFilename("config", "yaml", "yml")
	_ = rootCmd.MarkFlagDirname("temporary-folder")
}

func run(cmd *cobra.Command, _ []string) error {
	if err := logging.Initialize(loggingType, logLevel); err != nil {
		return &exitError{code: exitLoggingInitFailed, err: err}
	}
	if err := includeEnv(); err != nil {
		return &exitError{code: exitDotenvError, err: err}
	}

	ctx := cmd.Context()
	orchestrator := flow.New(flow.Options{
		SecretsFile:     secretsFile,
		ConfigFile:      configFile,
		Target:          targetName,
		Flow:            flowName,
		TemporaryFolder: temporaryFolder,
		DryRunOnly:      dryRunOnly,
		DisableVoting:   disableVoting,
		UploadSuffix:    uploadSuffix,
	})

	if err := orchestrator.Initialize(); err != nil {
		slog.Error("failed to initialize flow", "error", err)
		if orchestrator.Target() != nil {
			sendNotifications(ctx, orchestrator, err)
		}
		orchestrator.Cleanup()
		return &exitError{code: exitInitializationFailed, err: err}
	}
	defer orchestrator.Cleanup()

	closeLogs := addLogOutputs(orchestrator)
	defer closeLogs()

	err := execute(ctx, orchestrator)
	if err != nil {
		slog.Error("flow failed", "flow", orchestrator.FlowName(), "error", err)
	}
	orchestrator.PrintStat()
	sendNotifications(ctx, orchestrator, err)

	if err != nil {
		return &exitError{code: exitFlowFailed, err: err}
	}
	slog.Info("done")
	return nil
}

func execute(ctx context.Context, orchestrator *flow.Orchestrator) error {
	if err := orchestrator.DryRun(ctx); err != nil {
		return err
	}
	if dryRunOnly {
		slog.Info("dry run only, skipping flow execution")
		return nil
	}
	return orchestrator.Run(ctx)
}

func addLogOutputs(orchestrator *flow.Orchestrator) func() {
	var closers []io.Closer

	if addMainLog {
		w := logging.MainLog(orchestrator.RootFolder())
		logging.AddOutput(w)
		closers = append(closers, w)
	}

	if addSessionLog {
		f, err := logging.SessionLog(orchestrator.RootFolder(), orchestrator.StartedAt())
		if err != nil {
			slog.Warn("session log disabled", "error", err)
		} else {
			logging.AddOutput(f)
			closers = append(closers, f)
			slog.Info("session log", "path", f.Name())
		}
	}

	return func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
}

func sendNotifications(ctx context.Context, orchestrator *flow.Orchestrator, runErr error) {
	host, _ := os.Hostname()
	summary := notify.RunSummary{
		StartedAt:     orchestrator.StartedAt(),
		FlowName:      orchestrator.FlowName(),
		HostName:      host,
		Succeeded:     runErr == nil,
		Elapsed:       time.Since(orchestrator.StartedAt()),
		Err:           runErr,
		DryRunOnly:    dryRunOnly,
		DryRunStat:    orchestrator.DryRunStatistics(),
		ActiveRunStat: orchestrator.ActiveRunStatistics(),
	}
	notify.NewDispatcher().Send(ctx, orchestrator.Target().Notifications, summary)
}

func includeEnv() error {
	err := godotenv.Load()
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("failed to load .env", "error", err)
			return err
		}
		slog.Info("no .env file found")
	} else {
		slog.Info("using .env file")
	}
	return nil
}
