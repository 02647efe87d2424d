// -- cmd/workouts.go --
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/fitbridge/api/schemas"
	"github.com/xkilldash9x/fitbridge/internal/platform"
)

// dateLayout is the accepted format for --from and --to.
const dateLayout = "2006-01-02"

// defaultRangeDays is how far back the listing reaches when --from is omitted.
const defaultRangeDays = 30

// newWorkoutsCmd creates the `workouts` command group.
func newWorkoutsCmd() *cobra.Command {
	var fromStr, toStr string

	workoutsCmd := &cobra.Command{
		Use:   "workouts",
		Short: "List and export workouts",
	}
	workoutsCmd.PersistentFlags().StringVar(&fromStr, "from", "", "start of the date range, "+dateLayout+" (default: 30 days before --to)")
	workoutsCmd.PersistentFlags().StringVar(&toStr, "to", "", "end of the date range, "+dateLayout+" (default: today)")

	workoutsCmd.AddCommand(newWorkoutsListCmd(&fromStr, &toStr))
	workoutsCmd.AddCommand(newWorkoutsExportCmd(&fromStr, &toStr))
	return workoutsCmd
}

func newWorkoutsListCmd(fromStr, toStr *string) *cobra.Command {
	var asJSON bool

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List workouts in the date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := parseDateRange(*fromStr, *toStr, time.Now())
			if err != nil {
				return err
			}

			client, err := newBridgeClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			list, err := client.API().Workouts(cmd.Context(), from, to)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(list, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding workouts: %w", err)
				}
				fmt.Fprintln(out, string(raw))
				return nil
			}

			if len(list.Workouts) == 0 {
				fmt.Fprintf(out, "No workouts between %s and %s.\n", from.Format(dateLayout), to.Format(dateLayout))
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tSPORT\tNAME\tDURATION\tDISTANCE")
			for _, w := range list.Workouts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					w.ID,
					w.StartTime.Format("2006-01-02 15:04"),
					w.Sport,
					w.Name,
					w.Duration(),
					formatDistance(w.DistanceMeters),
				)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d of %d workouts\n", len(list.Workouts), list.Total)
			return nil
		},
	}

	listCmd.Flags().BoolVar(&asJSON, "json", false, "print the raw listing as JSON")
	return listCmd
}

func newWorkoutsExportCmd(fromStr, toStr *string) *cobra.Command {
	var output string

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export workouts in the date range as TCX",
		Long: `Export fetches every workout in the range individually, so the TCX file
carries full GPS and heart rate tracks, not just the listing summaries.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := parseDateRange(*fromStr, *toStr, time.Now())
			if err != nil {
				return err
			}

			client, err := newBridgeClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := cmd.Context()
			list, err := client.API().Workouts(ctx, from, to)
			if err != nil {
				return err
			}

			full := make([]schemas.Workout, 0, len(list.Workouts))
			for _, summary := range list.Workouts {
				w, err := client.API().Workout(ctx, summary.ID)
				if err != nil {
					return fmt.Errorf("fetching workout %s: %w", summary.ID, err)
				}
				full = append(full, w)
			}

			tcx, err := platform.ExportTCX(full)
			if err != nil {
				return err
			}

			if output == "-" {
				_, err := cmd.OutOrStdout().Write(tcx)
				return err
			}
			if err := os.WriteFile(output, tcx, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d workouts to %s\n", len(full), output)
			return nil
		},
	}

	exportCmd.Flags().StringVarP(&output, "output", "o", "fitbridge-export.tcx", `output file, or "-" for stdout`)
	return exportCmd
}

// parseDateRange resolves the --from/--to strings against now. The end of the
// range defaults to now and the start to defaultRangeDays before the end, so
// a bare `workouts list` shows the most recent month.
func parseDateRange(fromStr, toStr string, now time.Time) (time.Time, time.Time, error) {
	to := now
	if toStr != "" {
		parsed, err := time.Parse(dateLayout, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to date %q: expected %s", toStr, dateLayout)
		}
		to = parsed
	}

	from := to.AddDate(0, 0, -defaultRangeDays)
	if fromStr != "" {
		parsed, err := time.Parse(dateLayout, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from date %q: expected %s", fromStr, dateLayout)
		}
		from = parsed
	}

	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid range: --from %s is after --to %s",
			from.Format(dateLayout), to.Format(dateLayout))
	}
	return from, to, nil
}

func formatDistance(meters float64) string {
	if meters <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}
