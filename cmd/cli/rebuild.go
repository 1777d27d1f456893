package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/himanishpuri/earpeace/pkg/earpeace"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-index every prepared reference",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		status, err := svc.Status(cmd.Context())
		if err != nil {
			return err
		}
		total := status.Counts[earpeace.StatusPrepared]
		if total == 0 {
			fmt.Println("Nothing to rebuild")
		}

		p := mpb.NewWithContext(cmd.Context(), mpb.WithWidth(64))
		bar := p.AddBar(total,
			mpb.PrependDecorators(
				decor.Name("Rebuilding: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.Elapsed(decor.ET_STYLE_GO),
			),
		)

		report, runErr := svc.RebuildPrepared(cmd.Context(), func(string, error) {
			bar.Increment()
		})
		if !bar.Completed() {
			bar.Abort(false)
		}
		p.Wait()

		if report != nil {
			fmt.Printf("✅ Rebuilt %d of %d\n", len(report.Rebuilt), report.Total)
			keys := make([]string, 0, len(report.Failed))
			for k := range report.Failed {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("❌ %s: %s\n", k, report.Failed[k])
			}
		}
		return runErr
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show reference counts per status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		status, err := svc.Status(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range []string{
			earpeace.StatusPending,
			earpeace.StatusDownloaded,
			earpeace.StatusPrepared,
			earpeace.StatusIndexed,
			earpeace.StatusFailed,
		} {
			fmt.Printf("%-11s %d\n", s, status.Counts[s])
		}
		fmt.Printf("%-11s %d\n", "total", status.Total)
		return nil
	},
}
