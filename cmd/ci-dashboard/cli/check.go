package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/davarch/ci-dashboard/internal/application"
	"github.com/davarch/ci-dashboard/internal/infrastructure/config"
	"github.com/davarch/ci-dashboard/internal/infrastructure/gitlab_http"
	"github.com/davarch/ci-dashboard/internal/infrastructure/logging"
	"github.com/davarch/ci-dashboard/internal/infrastructure/state_mem"
	"github.com/spf13/cobra"
)

var checkJSON bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one ingestion cycle and print the resulting snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		gl, err := gitlab_http.New(gitlab_http.Config{
			BaseURL:  cfg.GitLab.BaseURL,
			Token:    cfg.GitLab.Token,
			Timeout:  cfg.GitLab.Timeout,
			PerPage:  cfg.GitLab.PerPage,
			MaxPages: cfg.GitLab.MaxPages,
			CABundle: cfg.GitLab.CABundle,
			Insecure: cfg.GitLab.Insecure,
		}, log)
		if err != nil {
			return err
		}

		store := state_mem.New()
		poller := application.New(log, gl, store, cfg.Poll.Interval, cfg.Poll.ProjectLimit)

		if err := poller.RunOnce(cmd.Context()); err != nil {
			return err
		}

		snap := store.Snapshot()

		if checkJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "PROJECT\tBRANCH\tLAST_STATUS\tSTREAK\tSUCCESS_RATE")
		for _, p := range snap.Projects {
			status := "-"
			if p.LastDefaultPipeline != nil && p.LastDefaultPipeline.Status != nil {
				status = string(*p.LastDefaultPipeline.Status)
			}
			rate := "-"
			if p.SuccessRate != nil {
				rate = fmt.Sprintf("%.0f%%", *p.SuccessRate*100)
			}
			branch := p.DefaultBranch
			if branch == "" {
				branch = "(none)"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				p.Name, branch, status, p.ConsecutiveFailures, rate)
		}
		_ = w.Flush()

		fmt.Printf("\n%d projects (%d active), pipelines: %d success / %d failed / %d running\n",
			snap.Summary.TotalProjects,
			snap.Summary.ActiveProjects,
			snap.Summary.SuccessCount,
			snap.Summary.FailedCount,
			snap.Summary.RunningCount,
		)
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the full snapshot as JSON")
	rootCmd.AddCommand(checkCmd)
}
