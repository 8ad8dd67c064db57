package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/service/ai"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/service/ingest"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/session"
)

var (
	chatAfter bool
	maxChars  int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE...",
	Short: "Analyze files once from the command line",
	Long: `Queue the given files, run one batch analysis and print the reply.

With --chat, every following line read from stdin is sent as a follow-up
question in the same session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Long += "\n\nSupported formats: " + strings.Join(ingest.SupportedExtensions(), ", ")
	analyzeCmd.Flags().BoolVar(&chatAfter, "chat", false, "read follow-up questions from stdin")
	analyzeCmd.Flags().IntVar(&maxChars, "max-chars", 0, "per-file character budget (default from config)")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if maxChars > 0 {
		cfg.BasicConfig.MaxChars = maxChars
	}

	service, err := ai.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	orchestrator := ai.NewOrchestrator(service, ai.OrchestratorConfigFrom(cfg))
	ctrl := session.NewController(uuid.NewString(), nil, orchestrator, session.ManagerConfigFrom(cfg).Controller)

	files, err := readFiles(args)
	if err != nil {
		return err
	}
	ctrl.QueueFiles(files)
	out := cmd.OutOrStdout()
	printWarnings(out, ctrl.Snapshot())

	reply, err := ctrl.RunAnalysis(ctx)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	snap := ctrl.Snapshot()
	for _, f := range snap.AnalyzedFiles {
		line := fmt.Sprintf("analyzed %s (%s)", f.Name, humanize.IBytes(uint64(f.SizeBytes)))
		if f.WasTruncated {
			line += " [truncated]"
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "\n%s\n", reply)

	if !chatAfter {
		return nil
	}
	return chatLoop(cmd, ctrl)
}

func chatLoop(cmd *cobra.Command, ctrl *session.Controller) error {
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	fmt.Fprint(out, "\n> ")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text != "" {
			reply, err := ctrl.SendMessage(cmd.Context(), text)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			} else {
				fmt.Fprintf(out, "\n%s\n", reply)
			}
		}
		if cmd.Context().Err() != nil {
			return nil
		}
		fmt.Fprint(out, "\n> ")
	}
	return scanner.Err()
}

func readFiles(paths []string) ([]models.RawFile, error) {
	files := make([]models.RawFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, models.RawFile{
			Name:      filepath.Base(p),
			SizeBytes: int64(len(data)),
			Bytes:     data,
		})
	}
	return files, nil
}

func printWarnings(w io.Writer, snap models.Snapshot) {
	for _, warn := range snap.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}
