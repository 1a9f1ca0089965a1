package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"github.com/banshee-data/lanedetect/internal/network"
	"github.com/banshee-data/lanedetect/internal/units"
)

// DefaultConfigPath is the path to the canonical scenario defaults file.
const DefaultConfigPath = "config/scenario.defaults.json"

// Measurement names accepted in LoopConfig.Measurements.
const (
	MeasureMeanSpeed         = "mean_speed"
	MeasureHarmonicMeanSpeed = "harmonic_mean_speed"
	MeasureOccupancy         = "occupancy"
	MeasurePassages          = "passages"
	MeasurePlatoonSizes      = "platoon_sizes"
)

// KnownMeasurements lists every measurement name a loop can register.
var KnownMeasurements = []string{
	MeasureMeanSpeed,
	MeasureHarmonicMeanSpeed,
	MeasureOccupancy,
	MeasurePassages,
	MeasurePlatoonSizes,
}

// ScenarioConfig is the root of a simulation scenario: the lane network,
// the detectors placed on it and the demand driven through it. Scalar
// settings are pointers so that omitted fields fall back to the Get*
// defaults.
type ScenarioConfig struct {
	Name         *string `json:"name,omitempty"`
	Duration     *string `json:"duration,omitempty"` // duration string like "1h"
	FlushPartial *bool   `json:"flush_partial,omitempty"`
	SpeedUnits   *string `json:"speed_units,omitempty"`

	Lanes []LaneConfig `json:"lanes"`
	// Corridor is the ordered lane sequence vehicles drive along.
	Corridor []string `json:"corridor"`

	Loops []LoopConfig `json:"loops,omitempty"`
	Areas []AreaConfig `json:"areas,omitempty"`
	Sinks []SinkConfig `json:"sinks,omitempty"`

	Demand DemandConfig `json:"demand"`
}

type LaneConfig struct {
	ID      string  `json:"id"`
	Link    string  `json:"link"`
	LengthM float64 `json:"length_m"`
}

type LoopConfig struct {
	ID                string   `json:"id"`
	Lane              string   `json:"lane"`
	PositionM         float64  `json:"position_m"`
	LengthM           *float64 `json:"length_m,omitempty"`
	FirstAggregation  *string  `json:"first_aggregation,omitempty"`
	AggregationPeriod *string  `json:"aggregation_period,omitempty"`
	Measurements      []string `json:"measurements,omitempty"`
	PlatoonThreshold  *string  `json:"platoon_threshold,omitempty"`
	VehicleTypes      []string `json:"vehicle_types,omitempty"`
}

type AreaConfig struct {
	ID            string   `json:"id"`
	Lanes         []string `json:"lanes"`
	PositionA     float64  `json:"position_a"`
	PositionB     float64  `json:"position_b"`
	EntryPosition *string  `json:"entry_position,omitempty"` // FRONT, REAR, CENTER or REFERENCE
	ExitPosition  *string  `json:"exit_position,omitempty"`
	VehicleTypes  []string `json:"vehicle_types,omitempty"`
}

type SinkConfig struct {
	ID        string  `json:"id"`
	Lane      string  `json:"lane"`
	PositionM float64 `json:"position_m"`
}

// DemandConfig describes the vehicles released at the corridor start.
type DemandConfig struct {
	Vehicles       *int     `json:"vehicles,omitempty"`
	Headway        *string  `json:"headway,omitempty"`
	SpeedMPS       *float64 `json:"speed_mps,omitempty"`
	SpeedSpreadMPS *float64 `json:"speed_spread_mps,omitempty"`
	VehicleType    *string  `json:"vehicle_type,omitempty"`
	VehicleLengthM *float64 `json:"vehicle_length_m,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
}

func ptrString(v string) *string { return &v }

// EmptyScenarioConfig returns a ScenarioConfig with every field unset.
func EmptyScenarioConfig() *ScenarioConfig {
	return &ScenarioConfig{}
}

// LoadScenarioConfig loads and validates a ScenarioConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadScenarioConfig(path string) (*ScenarioConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyScenarioConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *ScenarioConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadScenarioConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func validDuration(field string, v *string, allowZero bool) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", field, *v, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return fmt.Errorf("%s must be positive, got %s", field, *v)
	}
	return nil
}

func validPosition(field string, v *string) error {
	if v == nil {
		return nil
	}
	if _, err := network.ParseRelativePosition(*v); err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	return nil
}

// Validate checks the scenario for values that cannot be run. Geometry
// that depends on lane lengths is checked again when detectors are built.
func (c *ScenarioConfig) Validate() error {
	if err := validDuration("duration", c.Duration, false); err != nil {
		return err
	}
	if c.SpeedUnits != nil && !units.IsValid(*c.SpeedUnits) {
		return fmt.Errorf("speed_units must be one of %s, got %q", units.GetValidUnitsString(), *c.SpeedUnits)
	}

	if len(c.Lanes) == 0 {
		return fmt.Errorf("at least one lane is required")
	}
	laneIDs := lo.Map(c.Lanes, func(l LaneConfig, _ int) string { return l.ID })
	if dups := lo.FindDuplicates(laneIDs); len(dups) > 0 {
		return fmt.Errorf("duplicate lane ids %v", dups)
	}
	for _, l := range c.Lanes {
		if l.ID == "" {
			return fmt.Errorf("lane id is required")
		}
		if l.LengthM <= 0 {
			return fmt.Errorf("lane %s: length_m must be positive, got %f", l.ID, l.LengthM)
		}
	}
	known := func(id string) bool { return lo.Contains(laneIDs, id) }

	if len(c.Corridor) == 0 {
		return fmt.Errorf("corridor must name at least one lane")
	}
	if missing := lo.Reject(c.Corridor, func(id string, _ int) bool { return known(id) }); len(missing) > 0 {
		return fmt.Errorf("corridor references unknown lanes %v", missing)
	}

	var detectorIDs []string
	for _, lc := range c.Loops {
		if lc.ID == "" || !known(lc.Lane) {
			return fmt.Errorf("loop %q: id and a known lane are required", lc.ID)
		}
		if lc.LengthM != nil && *lc.LengthM < 0 {
			return fmt.Errorf("loop %s: length_m must be non-negative, got %f", lc.ID, *lc.LengthM)
		}
		if err := validDuration("aggregation_period", lc.AggregationPeriod, false); err != nil {
			return fmt.Errorf("loop %s: %w", lc.ID, err)
		}
		if err := validDuration("first_aggregation", lc.FirstAggregation, true); err != nil {
			return fmt.Errorf("loop %s: %w", lc.ID, err)
		}
		if err := validDuration("platoon_threshold", lc.PlatoonThreshold, false); err != nil {
			return fmt.Errorf("loop %s: %w", lc.ID, err)
		}
		if unknown := lo.Without(lc.Measurements, KnownMeasurements...); len(unknown) > 0 {
			return fmt.Errorf("loop %s: unknown measurements %v", lc.ID, unknown)
		}
		detectorIDs = append(detectorIDs, lc.ID)
	}
	for _, ac := range c.Areas {
		if ac.ID == "" || len(ac.Lanes) == 0 {
			return fmt.Errorf("area %q: id and lanes are required", ac.ID)
		}
		if missing := lo.Reject(ac.Lanes, func(id string, _ int) bool { return known(id) }); len(missing) > 0 {
			return fmt.Errorf("area %s: unknown lanes %v", ac.ID, missing)
		}
		if err := validPosition("entry_position", ac.EntryPosition); err != nil {
			return fmt.Errorf("area %s: %w", ac.ID, err)
		}
		if err := validPosition("exit_position", ac.ExitPosition); err != nil {
			return fmt.Errorf("area %s: %w", ac.ID, err)
		}
		detectorIDs = append(detectorIDs, ac.ID)
	}
	for _, sc := range c.Sinks {
		if sc.ID == "" || !known(sc.Lane) {
			return fmt.Errorf("sink %q: id and a known lane are required", sc.ID)
		}
		detectorIDs = append(detectorIDs, sc.ID)
	}
	if dups := lo.FindDuplicates(detectorIDs); len(dups) > 0 {
		return fmt.Errorf("duplicate detector ids %v", dups)
	}

	d := c.Demand
	if d.Vehicles != nil && *d.Vehicles < 0 {
		return fmt.Errorf("demand.vehicles must be non-negative, got %d", *d.Vehicles)
	}
	if err := validDuration("demand.headway", d.Headway, false); err != nil {
		return err
	}
	if d.SpeedMPS != nil && *d.SpeedMPS <= 0 {
		return fmt.Errorf("demand.speed_mps must be positive, got %f", *d.SpeedMPS)
	}
	if d.SpeedSpreadMPS != nil && (*d.SpeedSpreadMPS < 0 || *d.SpeedSpreadMPS >= d.GetSpeedMPS()) {
		return fmt.Errorf("demand.speed_spread_mps must be in [0, speed_mps), got %f", *d.SpeedSpreadMPS)
	}
	if d.VehicleLengthM != nil && *d.VehicleLengthM <= 0 {
		return fmt.Errorf("demand.vehicle_length_m must be positive, got %f", *d.VehicleLengthM)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetName returns the scenario name or the default.
func (c *ScenarioConfig) GetName() string {
	if c.Name == nil {
		return "scenario"
	}
	return *c.Name
}

// GetDuration returns the simulated run length.
func (c *ScenarioConfig) GetDuration() time.Duration {
	return durationOr(c.Duration, time.Hour)
}

// GetFlushPartial returns whether a trailing partial aggregation period is
// closed when the run ends.
func (c *ScenarioConfig) GetFlushPartial() bool {
	if c.FlushPartial == nil {
		return false
	}
	return *c.FlushPartial
}

// GetSpeedUnits returns the units used for reported speeds.
func (c *ScenarioConfig) GetSpeedUnits() string {
	if c.SpeedUnits == nil {
		return units.KMPH
	}
	return *c.SpeedUnits
}

// GetLengthM returns the front-to-rear flank distance.
func (l LoopConfig) GetLengthM() float64 {
	if l.LengthM == nil {
		return 1.5
	}
	return *l.LengthM
}

// GetAggregationPeriod returns the aggregation period or the default.
func (l LoopConfig) GetAggregationPeriod() time.Duration {
	return durationOr(l.AggregationPeriod, time.Minute)
}

// GetFirstAggregation returns the first tick time. Zero defers to the
// aggregation period.
func (l LoopConfig) GetFirstAggregation() time.Duration {
	return durationOr(l.FirstAggregation, 0)
}

// GetPlatoonThreshold returns the headway that splits platoons.
func (l LoopConfig) GetPlatoonThreshold() time.Duration {
	return durationOr(l.PlatoonThreshold, 3*time.Second)
}

// GetMeasurements returns the configured measurements, or mean speed and
// occupancy when none are named.
func (l LoopConfig) GetMeasurements() []string {
	if len(l.Measurements) == 0 {
		return []string{MeasureMeanSpeed, MeasureOccupancy}
	}
	return l.Measurements
}

// GetEntryPosition returns the GTU point that enters the area at A.
func (a AreaConfig) GetEntryPosition() network.RelativePosition {
	return parsePosition(a.EntryPosition, network.Front)
}

// GetExitPosition returns the GTU point that leaves the area at B.
func (a AreaConfig) GetExitPosition() network.RelativePosition {
	return parsePosition(a.ExitPosition, network.Rear)
}

func parsePosition(v *string, def network.RelativePosition) network.RelativePosition {
	if v == nil {
		return def
	}
	p, err := network.ParseRelativePosition(*v)
	if err != nil {
		return def
	}
	return p
}

// GetVehicles returns how many vehicles are released.
func (d DemandConfig) GetVehicles() int {
	if d.Vehicles == nil {
		return 100
	}
	return *d.Vehicles
}

// GetHeadway returns the release interval between vehicles.
func (d DemandConfig) GetHeadway() time.Duration {
	return durationOr(d.Headway, 4*time.Second)
}

// GetSpeedMPS returns the mean desired speed.
func (d DemandConfig) GetSpeedMPS() float64 {
	if d.SpeedMPS == nil {
		return 13.9
	}
	return *d.SpeedMPS
}

// GetSpeedSpreadMPS returns the half-width of the uniform speed spread.
func (d DemandConfig) GetSpeedSpreadMPS() float64 {
	if d.SpeedSpreadMPS == nil {
		return 0
	}
	return *d.SpeedSpreadMPS
}

// GetVehicleType returns the GTU type of released vehicles.
func (d DemandConfig) GetVehicleType() string {
	if d.VehicleType == nil {
		return "CAR"
	}
	return *d.VehicleType
}

// GetVehicleLengthM returns the vehicle length.
func (d DemandConfig) GetVehicleLengthM() float64 {
	if d.VehicleLengthM == nil {
		return 4.5
	}
	return *d.VehicleLengthM
}

// GetSeed returns the random seed for speed sampling.
func (d DemandConfig) GetSeed() int64 {
	if d.Seed == nil {
		return 1
	}
	return *d.Seed
}
