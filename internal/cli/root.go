package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/config"
)

var cfgPath string

// Execute runs the CLI until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aria",
	Short: "Sales and receivables analysis assistant",
	Long: `aria - upload sales exports and ask questions about them

Files (CSV, TXT, XLSX, XLS, DOCX) are extracted, truncated to a character
budget and sent to the configured model for a combined analysis. Follow-up
questions keep the conversation and the analyzed file list as context.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("ARIA_CONFIG"), "config file (json, yaml or toml)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
