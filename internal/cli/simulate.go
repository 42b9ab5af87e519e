package cli

import (
	"github.com/spf13/cobra"

	"greeks-watch/internal/app"
)

var (
	simInstrument string
	simGamma      float64
	simVega       float64
	simDvol       float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive one evaluation pass with synthetic observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Instrument: simInstrument,
			Gamma:      simGamma,
			Vega:       simVega,
			Dvol:       simDvol,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simInstrument, "instrument", "BTC-TEST-50000-C", "Simulated instrument name")
	simulateCmd.Flags().Float64Var(&simGamma, "gamma", 0, "Simulated position gamma")
	simulateCmd.Flags().Float64Var(&simVega, "vega", 0, "Simulated position vega")
	simulateCmd.Flags().Float64Var(&simDvol, "dvol", 0, "Simulated volatility index value")
}
