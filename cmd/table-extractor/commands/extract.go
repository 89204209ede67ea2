package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/table-extractor/cmd/table-extractor/ui"
	"github.com/spherical/table-extractor/internal/app"
	"github.com/spherical/table-extractor/internal/domain"
)

var (
	extractOutputPath string
	extractReport     bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <pdf>",
	Short: "Extract table rows from a PDF",
	Long: `Extract renders the PDF, sends each page to the configured model and writes
the rows of all pages as one JSON array to stdout, or to --output.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractOutputPath, "output", "o", "", "write JSON to this file instead of stdout")
	extractCmd.Flags().BoolVar(&extractReport, "report", false, "write the full report (rows, per-page status, stats)")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	pdfPath := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, cfg.Server.RequestTimeout)
	defer cancelTimeout()

	a, err := app.New(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	ui.Section("PDF Table Extraction")
	ui.Info("PDF file: %s", pdfPath)

	eventCh := make(chan domain.StreamEvent, 100)
	done := make(chan struct{})
	go func() {
		defer close(done)
		renderProgress(eventCh)
	}()

	result, err := a.Service.Process(ctx, pdfPath, eventCh)
	close(eventCh)
	<-done

	if err != nil {
		ui.Error("Extraction failed: %v", err)
		return err
	}

	if result.Stats.FailedPages > 0 {
		for _, p := range result.Pages {
			if p.Failed() {
				ui.Warning("Page %d skipped (%s): %s", p.PageNumber, p.Status, p.Error)
			}
		}
	}

	var payload interface{} = result.Rows
	if extractReport {
		payload = result
	}

	if err := writeOutput(payload, extractOutputPath, cmd.OutOrStdout()); err != nil {
		return err
	}

	ui.Success("Extracted %d rows from %d/%d pages in %dms (run %s)",
		result.Stats.RowCount, result.Stats.SuccessfulPages, result.Stats.PagesProcessed,
		result.Stats.TotalMillis, result.RunID)
	if extractOutputPath != "" {
		ui.Success("Wrote %s", extractOutputPath)
	}
	return nil
}

// renderProgress drives a spinner until the document is rasterized and a
// progress bar while pages are extracted.
func renderProgress(eventCh <-chan domain.StreamEvent) {
	spin := ui.NewSpinner("Rasterizing PDF...")
	spin.Start()
	spinning := true
	var bar *ui.ProgressBar

	for event := range eventCh {
		switch event.Type {
		case domain.EventRasterized:
			if spinning {
				spin.Stop()
				spinning = false
			}
			if total, ok := event.Payload.(int); ok {
				bar = ui.NewProgressBar(int64(total), "Extracting")
			}
		case domain.EventPageComplete:
			if bar != nil {
				bar.Add(1)
			}
		case domain.EventError:
			if event.PageNumber > 0 && bar != nil {
				bar.Add(1)
			}
		case domain.EventComplete:
			if bar != nil {
				bar.Finish()
			}
		}
	}

	if spinning {
		spin.Stop()
	}
}

// writeOutput encodes v as indented JSON to path, or to stdout when path is empty.
func writeOutput(v interface{}, path string, stdout io.Writer) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
