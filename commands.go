package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tentangblockchain/bukitcuan.fun/internal/engine"
	"github.com/tentangblockchain/bukitcuan.fun/internal/monitor"
	"github.com/tentangblockchain/bukitcuan.fun/internal/render"
	"github.com/tentangblockchain/bukitcuan.fun/internal/timefmt"
)

// withApp wraps a command body with component setup and teardown.
func withApp(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, a, args)
	}
}

func addCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "add <name> <url>",
		Short:   "Start monitoring a website",
		Example: "  ceklink add binance_url binance.com?ref=abc",
		Args:    cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			res, err := a.engine.AddSite(cmd.Context(), args[0], args[1])
			if err != nil {
				if appErr, ok := engine.AsAppError(err); ok && appErr.Code == engine.ErrCodeAlreadyExists && appErr.RedirectExists {
					fmt.Fprintf(cmd.ErrOrStderr(), "ℹ️ A redirect folder for %s already exists.\n", appErr.Related)
				}
				return err
			}

			render.Added(cmd.OutOrStdout(), res)
			return nil
		}),
	}
}

func editCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "edit <name> <url>",
		Short:   "Change the URL of a monitored website, keeping its query string",
		Example: "  ceklink edit binance_url binance2.com",
		Args:    cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			res, err := a.engine.EditSite(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			render.Edit(cmd.OutOrStdout(), res)
			return nil
		}),
	}
}

func deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "del <name>",
		Aliases: []string{"delete"},
		Short:   "Stop monitoring a website",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			res, err := a.engine.DeleteSite(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			render.Deleted(cmd.OutOrStdout(), res)
			return nil
		}),
	}
}

func listCommand() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List monitored websites",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			list, err := a.engine.ListSites(cmd.Context(), page)
			if err != nil {
				return err
			}
			render.SiteList(cmd.OutOrStdout(), list)
			return nil
		}),
	}
	cmd.Flags().IntVar(&page, "page", 1, "page to show")
	return cmd
}

func checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <name>",
		Short: "Check one website now",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			res, err := a.engine.CheckOne(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			render.Result(cmd.OutOrStdout(), res)
			return nil
		}),
	}
}

func checkAllCommand() *cobra.Command {
	var (
		page     int
		force    bool
		issues   bool
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "checkall",
		Short: "Check every monitored website",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			w := cmd.OutOrStdout()
			report, err := runCheckAll(cmd, a, force, progress)
			if err != nil {
				return err
			}
			if len(report.Results) == 0 {
				fmt.Fprintln(w, "📭 No websites to check.")
				return nil
			}

			if issues {
				text := monitor.FormatAlert(report, timefmt.Format(report.FinishedAt, a.loc), "")
				if text == "" {
					text = "✅ All websites are up."
				}
				fmt.Fprintln(w, text)
				return nil
			}
			render.Report(w, report, page, a.settings.PageSize)
			return nil
		}),
	}
	cmd.Flags().IntVar(&page, "page", 1, "result page to show")
	cmd.Flags().BoolVar(&force, "force", true, "ignore cached results")
	cmd.Flags().BoolVar(&issues, "issues", false, "only show sites with problems, grouped by category")
	cmd.Flags().BoolVar(&progress, "progress", true, "print a line as each site is checked")
	return cmd
}

// runCheckAll runs a batch, printing progress lines while it runs when asked.
func runCheckAll(cmd *cobra.Command, a *app, force, progress bool) (*monitor.Report, error) {
	if !progress {
		return a.engine.CheckAll(cmd.Context(), force)
	}

	events := a.monitor.Events()
	sub := events.Subscribe("", 0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		render.Progress(cmd.OutOrStdout(), sub.Events)
	}()

	report, err := a.engine.CheckAll(cmd.Context(), force)
	events.Unsubscribe(sub.ID)
	<-done
	return report, err
}

func statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [name]",
		Short: "Show uptime statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if len(args) == 0 {
				s, err := a.engine.StatsOverall(cmd.Context())
				if err != nil {
					return err
				}
				render.OverallStats(cmd.OutOrStdout(), s)
				return nil
			}
			s, err := a.engine.StatsFor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			render.SiteStats(cmd.OutOrStdout(), s, a.loc)
			return nil
		}),
	}
}

func exportCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "export [json|csv|xlsx]",
		Short:     "Export uptime statistics to a file",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{engine.FormatJSON, engine.FormatCSV, engine.FormatXLSX},
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			format := engine.FormatJSON
			if len(args) == 1 {
				format = args[0]
			}
			path, err := a.engine.ExportSnapshot(cmd.Context(), format)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "💾 Exported to %s\n", path)
			return nil
		}),
	}
}

func observeCommand() *cobra.Command {
	var (
		choose  int
		discard bool
	)
	cmd := &cobra.Command{
		Use:   "observe <url>",
		Short: "Find which monitored website a new URL most likely replaces",
		Long: `Looks the URL up among the monitored websites. When it is not monitored yet,
the most similar websites are listed. Pass --choose N to move website N to the
new URL (its query string is kept when the new URL has none), or --discard to
get a suggested name for adding it as a new website.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			w := cmd.OutOrStdout()
			obs, err := a.engine.ObserveCandidateURL(cmd.Context(), cliRequester, args[0])
			if err != nil {
				return err
			}
			render.Observation(w, obs)
			if len(obs.Candidates) == 0 {
				if obs.SuggestedName != "" {
					fmt.Fprintf(w, "Add it with:\n%s\n", render.Indent("ceklink add "+obs.SuggestedName+" "+obs.URL))
				}
				return nil
			}

			switch {
			case choose > 0:
				res, err := a.engine.ResolvePendingChange(cmd.Context(), cliRequester, choose-1)
				if err != nil {
					return err
				}
				render.Edit(w, res)
			case discard:
				s, name, ok := a.engine.DiscardPending(cliRequester)
				if ok {
					fmt.Fprintf(w, "🆕 Add it as a new website with:\n%s\n", render.Indent("ceklink add "+name+" "+s.NewURL))
				}
			default:
				fmt.Fprintf(w, "Run again with --choose 1..%d to replace one of them.\n", len(obs.Candidates))
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&choose, "choose", 0, "replace candidate N with the URL")
	cmd.Flags().BoolVar(&discard, "discard", false, "add the URL as a new website instead")
	return cmd
}

func createPHPCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "createphp <name>",
		Short:   "Create the PHP redirect page for a monitored website",
		Example: "  ceklink createphp binance_url",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			res, err := a.engine.CreateRedirect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			render.Redirect(cmd.OutOrStdout(), res)
			return nil
		}),
	}
}

func serveCommand() *cobra.Command {
	var checkNow bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daily check, history cleanup, chat bot and metrics listener until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a, checkNow)
		},
	}
	cmd.Flags().BoolVar(&checkNow, "check-now", false, "run a scheduled check immediately after start")
	return cmd
}
