package dataset

import "fmt"

// DefaultFeatures is the telemetry field set sent with every inference row.
var DefaultFeatures = func() []string {
	f := []string{
		"pack_voltage_v",
		"pack_current_a",
		"state_of_charge",
		"state_of_health",
		"cell_volt_min_v",
		"cell_volt_max_v",
		"cell_volt_avg_v",
		"cell_temp_min_c",
		"cell_temp_max_c",
		"cell_temp_avg_c",
		"ambient_temp_c",
		"charging_power_kw",
		"peak_power_kw",
		"insulation_resistance_mohm",
		"cycle_count",
	}
	for i := 1; i <= 12; i++ {
		f = append(f, fmt.Sprintf("cell_v_%d_v", i))
	}
	return f
}()

// DefaultDropColumns are identifier and status columns never used as features.
var DefaultDropColumns = []string{"bms_version", "fault_code", "balancing_active"}

const (
	DefaultTargetColumn   = "remaining_range_km"
	DefaultTimestampHint  = "timestamp"
	DefaultSequenceLength = 50
)
