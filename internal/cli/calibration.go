package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"climate-guard/internal/audit"
	telemetry "climate-guard/internal/telemetry/domain"
)

var (
	temperatureOffset float64
	humidityOffset    float64
)

var calibrationCmd = &cobra.Command{
	Use:     "calibration",
	Aliases: []string{"cal"},
	Short:   "Manage per-device calibration offsets",
}

var calibrationSetCmd = &cobra.Command{
	Use:   "set <dev-eui>",
	Short: "Create or replace a device calibration",
	Args:  cobra.ExactArgs(1),
	RunE:  runCalibrationSet,
}

var calibrationGetCmd = &cobra.Command{
	Use:   "get [dev-eui]",
	Short: "Show one calibration, or all when no device is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCalibrationGet,
}

func init() {
	calibrationSetCmd.Flags().Float64Var(&temperatureOffset, "temperature-offset", 0, "additive temperature correction in degrees C")
	calibrationSetCmd.Flags().Float64Var(&humidityOffset, "humidity-offset", 0, "additive humidity correction in %RH")
	calibrationCmd.AddCommand(calibrationSetCmd, calibrationGetCmd)
	rootCmd.AddCommand(calibrationCmd)
}

func runCalibrationSet(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	a, err := newStoreApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	cal := telemetry.Calibration{
		DevEUI:            strings.ToLower(args[0]),
		TemperatureOffset: temperatureOffset,
		HumidityOffset:    humidityOffset,
		UpdatedAt:         time.Now().UTC(),
	}
	if err := a.calibrations.Upsert(cmd.Context(), cal); err != nil {
		return err
	}
	meta, _ := json.Marshal(map[string]float64{
		"temperature_offset": cal.TemperatureOffset,
		"humidity_offset":    cal.HumidityOffset,
	})
	if err := a.audit.Log(cmd.Context(), audit.Entry{
		Actor:        "cli",
		Action:       "calibration.upsert",
		ResourceType: "calibration",
		ResourceID:   cal.DevEUI,
		Metadata:     meta,
	}); err != nil {
		a.logger.Warn("audit write failed", zap.String("action", "calibration.upsert"), zap.Error(err))
	}
	fmt.Printf("calibration saved for %s\n", cal.DevEUI)
	return nil
}

func runCalibrationGet(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	a, err := newStoreApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	var list []telemetry.Calibration
	if len(args) == 1 {
		cal, err := a.calibrations.Get(cmd.Context(), strings.ToLower(args[0]))
		if err != nil {
			return err
		}
		if cal == nil {
			return fmt.Errorf("no calibration for %s", args[0])
		}
		list = append(list, *cal)
	} else {
		list, err = a.calibrations.List(cmd.Context())
		if err != nil {
			return err
		}
	}
	if len(list) == 0 {
		fmt.Println("No calibrations found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "DEV EUI\tTEMP OFFSET\tHUM OFFSET\tUPDATED")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%+.2f\t%+.2f\t%s\n", c.DevEUI, c.TemperatureOffset, c.HumidityOffset, c.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}
