package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healthscan/healthscan/internal/classifier"
	"github.com/healthscan/healthscan/internal/config"
	"github.com/healthscan/healthscan/internal/llm"
	"github.com/healthscan/healthscan/internal/logging"
	"github.com/healthscan/healthscan/internal/preprocess"
	"github.com/healthscan/healthscan/internal/report"
	"github.com/healthscan/healthscan/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "healthscan: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "healthscan",
		Short: "HealthScan operator CLI",
		Long: `HealthScan CLI runs the classifier and report generator outside the web server,
inspects stored patient records, and launches the binaries during development.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newPredictCmd(),
		newReportCmd(),
		newPatientsCmd(),
		newMigrateCmd(),
		newRunCmd(),
	)
	return cmd
}

func newPredictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "predict <image>",
		Short: "Classify a chest X-ray with the configured model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			m, err := classifier.LoadONNX(classifier.ONNXConfig{
				Path:       cfg.ModelPath,
				SharedLib:  cfg.ONNXRuntime,
				InputName:  cfg.ModelInput,
				OutputName: cfg.ModelOutput,
			})
			if err != nil {
				return err
			}
			defer m.Close()

			input, err := preprocess.Load(args[0])
			if err != nil {
				return err
			}
			p, err := m.Predict(cmd.Context(), input)
			if err != nil {
				return fmt.Errorf("predict: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (p=%.4f)\n", classifier.Label(p), p)
			return nil
		},
	}
}

func newReportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate one pneumonia report and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if output == "" {
				output = cfg.ReportPath
			}
			chat, err := llm.New(cfg.OllamaHost, cfg.ChatModel, nil)
			if err != nil {
				return err
			}
			log := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			text, err := report.NewGenerator(chat, output, log).Generate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "File to write the report to (defaults to HEALTHSCAN_REPORT_PATH)")
	return cmd
}

func newPatientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patients",
		Short: "Print every stored patient record as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, closeStore, err := storage.Open(cmd.Context(), cfg.DatabaseURL, cfg.SQLitePath)
			if err != nil {
				return err
			}
			defer closeStore()
			records, err := store.ListAll(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the patients table if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			_, closeStore, err := storage.Open(cmd.Context(), cfg.DatabaseURL, cfg.SQLitePath)
			if err != nil {
				return err
			}
			closeStore()
			backend := "sqlite " + cfg.SQLitePath
			if cfg.DatabaseURL != "" {
				backend = "postgres"
			}
			out := zerolog.New(cmd.ErrOrStderr())
			out.Info().Str("store", backend).Msg("schema ready")
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run individual Go binaries directly",
	}
	cmd.AddCommand(
		newServiceRunner("server", "./cmd/server"),
		newServiceRunner("worker", "./cmd/worker"),
	)
	return cmd
}

func newServiceRunner(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("go run %s", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			goArgs := append([]string{"run", path}, args...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
