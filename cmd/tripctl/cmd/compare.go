package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"trainlog/internal/app"
	"trainlog/internal/drift"
)

var withPaths bool

var compareCmd = &cobra.Command{
	Use:   "compare <trip-id>",
	Short: "Check one trip across both stores",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid trip id %q", args[0])
		}

		ctx := cmd.Context()
		a, err := open(ctx, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.Detector.CompareTrip(ctx, id)
		var report *drift.Report
		if errors.As(err, &report) {
			fmt.Println(report.Error())
			return errors.New("drift detected")
		}
		if err != nil {
			return err
		}
		fmt.Printf("trip %d is consistent\n", id)
		return nil
	},
}

var compareAllCmd = &cobra.Command{
	Use:   "compare-all",
	Short: "Check every trip across both stores",
	Long: `Compare the trip id sets of both stores, then every trip present in
both. With --paths the path id sets and point counts are compared too.
Every drift found is printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := open(ctx, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		errs := []error{a.Detector.CompareAll(ctx)}
		if withPaths {
			errs = append(errs, a.Detector.CompareAllPaths(ctx))
		}

		drifted := 0
		for _, err := range errs {
			for _, r := range reports(err) {
				fmt.Println(r.Error())
				drifted++
			}
		}
		if err := errors.Join(errs...); err != nil && drifted == 0 {
			return err
		}
		if drifted > 0 {
			return fmt.Errorf("%d drifts detected", drifted)
		}
		fmt.Println("stores agree")
		return nil
	},
}

func init() {
	compareAllCmd.Flags().BoolVar(&withPaths, "paths", false, "also compare paths")
}

// reports unpacks the joined reports CompareAll returns.
func reports(err error) []*drift.Report {
	if err == nil {
		return nil
	}
	var out []*drift.Report
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, reports(e)...)
		}
		return out
	}
	var r *drift.Report
	if errors.As(err, &r) {
		out = append(out, r)
	}
	return out
}
