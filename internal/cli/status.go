package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/cuongbtq/analysis-tracker/internal/tracker"
	"github.com/spf13/cobra"
)

func newStatusCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print the current progress of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := o.newBackend()
			if err != nil {
				return err
			}

			report, err := backend.GetProgress(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			printReport(cmd.OutOrStdout(), args[0], report)
			return nil
		},
	}
}

func newResultCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "result <job-id>",
		Short: "Print the detected events of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := o.newBackend()
			if err != nil {
				return err
			}

			result, err := backend.GetResult(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func printReport(w io.Writer, jobID string, r *tracker.ProgressReport) {
	status, err := tracker.ParseStatus(r.Status)
	label := string(status)
	if err != nil {
		label = fmt.Sprintf("%s (%q)", status, r.Status)
	}

	fmt.Fprintf(w, "Job %s: %s %d%%\n", jobID, label, r.Percent())
	switch {
	case r.IsFailed:
		fmt.Fprintln(w, "The backend reports this analysis as failed.")
	case r.IsCompleted:
		fmt.Fprintln(w, "The analysis is complete. Run `trackctl result "+jobID+"` for the events.")
	}
}

func printResult(w io.Writer, result *tracker.AnalysisResult) {
	if result.VideoID != "" {
		fmt.Fprintf(w, "Video %s\n", result.VideoID)
	}

	for i, ev := range result.Events {
		line := fmt.Sprintf("%2d. %s", i+1, eventLabel(ev))
		if ev.EndTime > ev.StartTime {
			line += fmt.Sprintf("  %s-%s", formatOffset(ev.StartTime), formatOffset(ev.EndTime))
		} else if ev.StartTime > 0 {
			line += "  " + formatOffset(ev.StartTime)
		}
		if ev.Confidence > 0 {
			line += fmt.Sprintf("  %.0f%%", ev.Confidence*100)
		}
		if ev.Description != "" {
			line += "  " + ev.Description
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w, renderMessage(tracker.CompletionMessage(result)))
}

func eventLabel(ev tracker.DetectedEvent) string {
	if ev.Label != "" && !strings.EqualFold(ev.Label, ev.Type) {
		return ev.Type + " (" + ev.Label + ")"
	}
	return ev.Type
}

// formatOffset renders seconds into the video as m:ss
func formatOffset(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
