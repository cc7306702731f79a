package batch

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ocm.software/open-component-model/hangar/bindings/go/transfer"
	"ocm.software/open-component-model/hangar/cli/internal/flags/log"
	"ocm.software/open-component-model/hangar/cli/internal/render"
)

// imageSummary is the outcome of one list entry.
type imageSummary struct {
	Image     string
	Platforms []string
	Failed    int
	Bytes     int64
	Err       error
}

func summarize(cmd *cobra.Command, format string, d Description, report *transfer.Report) error {
	images := summarizeImages(report)
	failed := len(report.Failures)

	slog.InfoContext(cmd.Context(), fmt.Sprintf("%s %s finished", d.Name, report.Action),
		slog.Int("images", report.Specs),
		slog.Int("failed", failed),
		slog.Int("platforms", report.Succeeded()),
		slog.String("bytes", units.BytesSize(float64(report.Bytes))),
		slog.Duration("elapsed", report.Elapsed.Round(time.Millisecond)),
	)
	for _, s := range report.Scans {
		slog.InfoContext(cmd.Context(), "scan report", slog.String("reference", s.Reference), slog.Any("findings", s.Findings))
	}
	if format != log.FormatText {
		return nil
	}

	t := render.NewTable(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Image", "Platforms", "Size", "Status"})
	for _, img := range images {
		status := "ok"
		switch {
		case img.Failed > 0:
			status = fmt.Sprintf("failed (%d platforms)", img.Failed)
		case img.Err != nil:
			status = "failed"
		}
		t.AppendRow(table.Row{img.Image, len(img.Platforms), units.BytesSize(float64(img.Bytes)), status})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d images", report.Specs),
		report.Succeeded(),
		units.BytesSize(float64(report.Bytes)),
		fmt.Sprintf("%d failed", failed),
	})
	t.Render()
	return nil
}

// summarizeImages groups the job results of report by list entry, in list order.
func summarizeImages(report *transfer.Report) []imageSummary {
	var images []imageSummary
	index := make(map[string]int)
	for _, res := range report.Results {
		key := res.Job.Spec.Key()
		i, ok := index[key]
		if !ok {
			i = len(images)
			index[key] = i
			images = append(images, imageSummary{Image: res.Job.Spec.String()})
		}
		if res.Err != nil {
			images[i].Failed++
			continue
		}
		images[i].Platforms = append(images[i].Platforms, res.Job.Platform.String())
		images[i].Bytes += res.Bytes
	}
	for _, f := range report.Failures {
		i, ok := index[f.Spec.Key()]
		if !ok {
			i = len(images)
			index[f.Spec.Key()] = i
			images = append(images, imageSummary{Image: f.Spec.String()})
		}
		images[i].Err = f.Err
	}
	return images
}
