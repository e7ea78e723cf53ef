package types

import "time"

// LoadpointDescriptor is derived once at startup from loadpoints[i]. The
// vehicle key is informational; the live value is always re-read from the
// snapshot since vehicles come and go.
type LoadpointDescriptor struct {
	APIIndex               int    `json:"apiIndex"`
	DisplayName            string `json:"displayName"`
	Slug                   string `json:"slug"`
	SupportsPhaseSwitching bool   `json:"supportsPhaseSwitching"`
	CurrentVehicleKey      string `json:"currentVehicleKey,omitempty"`
}

// VehicleDescriptor is derived once at startup from vehicles[name].
type VehicleDescriptor struct {
	Key                string   `json:"key"`
	DisplayName        string   `json:"displayName"`
	BatteryCapacityKWh *float64 `json:"batteryCapacityKWh,omitempty"`
}

// SchemaFlags records which representation the controller uses. It is
// decided once per session and only re-derived on reinitialization.
type SchemaFlags struct {
	ControllerVersion string    `json:"controllerVersion"`
	GridNested        bool      `json:"gridNested"`
	TariffEnabled     bool      `json:"tariffEnabled"`
	DetectedAt        time.Time `json:"detectedAt"`
}

// WriteResult is the outcome of a single-field write. The zero value means
// the write never reached the controller (transport failure).
type WriteResult struct {
	// Applied is set when the controller answered with a result envelope.
	Applied bool `json:"applied"`
	Result  any  `json:"result,omitempty"`

	// Rejected is set when the controller answered without a result
	// envelope.
	Rejected *WriteRejected `json:"rejected,omitempty"`

	// Absent is set for vehicle writes while no vehicle is connected; the
	// write was skipped on purpose.
	Absent bool `json:"absent,omitempty"`
}

// Empty returns true if nothing is known about the write.
func (r WriteResult) Empty() bool {
	return !r.Applied && r.Rejected == nil && !r.Absent
}
