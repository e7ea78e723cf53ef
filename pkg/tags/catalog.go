package tags

import (
	"net/http"
	"strings"
)

// Site tags
const (
	SiteTitle               ID = "siteTitle"
	Version                 ID = "version"
	GridPower               ID = "gridPower"
	GridCurrents            ID = "gridCurrents"
	GridEnergy              ID = "gridEnergy"
	GridPowers              ID = "gridPowers"
	PvPower                 ID = "pvPower"
	PvEnergy                ID = "pvEnergy"
	HomePower               ID = "homePower"
	AuxPower                ID = "auxPower"
	BatteryPower            ID = "batteryPower"
	BatterySoc              ID = "batterySoc"
	BatteryMode             ID = "batteryMode"
	BatteryCapacity         ID = "batteryCapacity"
	GreenShareHome          ID = "greenShareHome"
	TariffGrid              ID = "tariffGrid"
	TariffFeedIn            ID = "tariffFeedIn"
	TariffCo2               ID = "tariffCo2"
	TariffPriceHome         ID = "tariffPriceHome"
	PrioritySoc             ID = "prioritySoc"
	BufferSoc               ID = "bufferSoc"
	BufferStartSoc          ID = "bufferStartSoc"
	ResidualPower           ID = "residualPower"
	BatteryDischargeControl ID = "batteryDischargeControl"
	BatteryGridChargeLimit  ID = "batteryGridChargeLimit"
)

// Loadpoint tags
const (
	LoadpointTitle        ID = "lpTitle"
	ChargePower           ID = "chargePower"
	ChargedEnergy         ID = "chargedEnergy"
	SessionEnergy         ID = "sessionEnergy"
	ChargeTotalImport     ID = "chargeTotalImport"
	ChargeCurrents        ID = "chargeCurrents"
	ChargeDuration        ID = "chargeDuration"
	ChargeRemainingEnergy ID = "chargeRemainingEnergy"
	Connected             ID = "connected"
	Charging              ID = "charging"
	Enabled               ID = "enabled"
	PlanActive            ID = "planActive"
	PlanActiveAlt         ID = "planActiveAlt"
	PlanProjectedStart    ID = "planProjectedStart"
	PlanProjectedEnd      ID = "planProjectedEnd"
	EffectivePlanTime     ID = "effectivePlanTime"
	EffectivePlanSoc      ID = "effectivePlanSoc"
	SmartCostNextStart    ID = "smartCostNextStart"
	PvRemaining           ID = "pvRemaining"
	PhasesActive          ID = "phasesActive"
	PhasesConfigured      ID = "phasesConfigured"
	VehicleName           ID = "vehicleName"
	VehicleSoc            ID = "vehicleSoc"
	VehicleRange          ID = "vehicleRange"
	Mode                  ID = "mode"
	MinCurrent            ID = "minCurrent"
	MaxCurrent            ID = "maxCurrent"
	LimitSoc              ID = "limitSoc"
	LimitEnergy           ID = "limitEnergy"
	SmartCostLimit        ID = "smartCostLimit"
	BatteryBoost          ID = "batteryBoost"
	Priority              ID = "priority"
	EnableThreshold       ID = "enableThreshold"
	DisableThreshold      ID = "disableThreshold"
	EnableDelay           ID = "enableDelay"
	DisableDelay          ID = "disableDelay"
	VehicleDelete         ID = "vehicleDelete"
	VehicleDetect         ID = "vehicleDetect"
)

// Vehicle tags
const (
	VehicleTitle      ID = "vehicleTitle"
	VehicleCapacity   ID = "vehicleCapacity"
	VehicleLimitSoc   ID = "vehicleLimitSoc"
	VehicleMinSoc     ID = "vehicleMinSoc"
	VehiclePlanSoc    ID = "vehiclePlanSoc"
	VehiclePlanTime   ID = "vehiclePlanTime"
	VehiclePlanDelete ID = "vehiclePlanDelete"
)

// Tariff endpoint tags
const (
	TariffAPIGrid    ID = "tariffApiGrid"
	TariffAPIFeedIn  ID = "tariffApiFeedIn"
	TariffAPISolar   ID = "tariffApiSolar"
	TariffAPIPlanner ID = "tariffApiPlanner"
	TariffAPICo2     ID = "tariffApiCo2"
)

// StatisticsSubtypes are the aggregation windows the controller reports.
var StatisticsSubtypes = []string{"30d", "365d", "thisYear", "total"}

var (
	chargeModes = []string{"off", "pv", "minpv", "now"}
	phaseModes  = []string{"0", "1", "3"}
	batModes    = []string{"unknown", "normal", "hold", "charge"}
)

var catalog = []Tag{
	// site
	{ID: SiteTitle, Name: "Site title", JSONKey: "siteTitle", Scope: ScopeSite, Kind: KindText},
	{ID: Version, Name: "Version", JSONKey: "version", Scope: ScopeSite, Kind: KindText},
	{ID: GridPower, Name: "Grid power", JSONKey: "power", Container: "grid", LegacyKey: "gridPower", Scope: ScopeSite, Unit: "W"},
	{ID: GridCurrents, Name: "Grid currents", JSONKey: "currents", Container: "grid", LegacyKey: "gridCurrents", Scope: ScopeSite, Unit: "A"},
	{ID: GridEnergy, Name: "Grid energy", JSONKey: "energy", Container: "grid", LegacyKey: "gridEnergy", Scope: ScopeSite, Unit: "kWh", Monotonic: true},
	{ID: GridPowers, Name: "Grid powers", JSONKey: "powers", Container: "grid", LegacyKey: "gridPowers", Scope: ScopeSite, Unit: "W"},
	{ID: PvPower, Name: "PV power", JSONKey: "pvPower", Scope: ScopeSite, Unit: "W"},
	{ID: PvEnergy, Name: "PV energy", JSONKey: "pvEnergy", Scope: ScopeSite, Unit: "kWh", Monotonic: true},
	{ID: HomePower, Name: "Home power", JSONKey: "homePower", Scope: ScopeSite, Unit: "W"},
	{ID: AuxPower, Name: "Aux power", JSONKey: "auxPower", Scope: ScopeSite, Unit: "W"},
	{ID: BatteryPower, Name: "Battery power", JSONKey: "batteryPower", Scope: ScopeSite, Unit: "W"},
	{ID: BatterySoc, Name: "Battery SoC", JSONKey: "batterySoc", Scope: ScopeSite, Unit: "%", HasRange: true, Min: 0, Max: 100},
	{ID: BatteryMode, Name: "Battery mode", JSONKey: "batteryMode", Scope: ScopeSite, Kind: KindSelect, EnumOptions: batModes},
	{ID: BatteryCapacity, Name: "Battery capacity", JSONKey: "batteryCapacity", Scope: ScopeSite, Unit: "kWh"},
	{ID: GreenShareHome, Name: "Green share home", JSONKey: "greenShareHome", Scope: ScopeSite, Unit: "%", Scale: 100, HasRange: true, Min: 0, Max: 100},
	{ID: TariffGrid, Name: "Grid tariff", JSONKey: "tariffGrid", Scope: ScopeSite, Unit: "/kWh"},
	{ID: TariffFeedIn, Name: "Feed-in tariff", JSONKey: "tariffFeedIn", Scope: ScopeSite, Unit: "/kWh"},
	{ID: TariffCo2, Name: "CO2 tariff", JSONKey: "tariffCo2", Scope: ScopeSite, Unit: "g/kWh"},
	{ID: TariffPriceHome, Name: "Home price", JSONKey: "tariffPriceHome", Scope: ScopeSite, Unit: "/kWh"},
	{ID: PrioritySoc, Name: "Priority SoC", JSONKey: "prioritySoc", Scope: ScopeSite, WriteKey: "prioritysoc", Kind: KindNumber, Unit: "%", HasRange: true, Min: 0, Max: 100},
	{ID: BufferSoc, Name: "Buffer SoC", JSONKey: "bufferSoc", Scope: ScopeSite, WriteKey: "buffersoc", Kind: KindNumber, Unit: "%", HasRange: true, Min: 0, Max: 100},
	{ID: BufferStartSoc, Name: "Buffer start SoC", JSONKey: "bufferStartSoc", Scope: ScopeSite, WriteKey: "bufferstartsoc", Kind: KindNumber, Unit: "%", HasRange: true, Min: 0, Max: 100},
	{ID: ResidualPower, Name: "Residual power", JSONKey: "residualPower", Scope: ScopeSite, WriteKey: "residualpower", Kind: KindNumber, Unit: "W"},
	{ID: BatteryDischargeControl, Name: "Battery discharge control", JSONKey: "batteryDischargeControl", Scope: ScopeSite, WriteKey: "batterydischargecontrol", Kind: KindSwitch},
	{ID: BatteryGridChargeLimit, Name: "Battery grid charge limit", JSONKey: "batteryGridChargeLimit", Scope: ScopeSite, WriteKey: "batterygridchargelimit", Kind: KindNumber, Unit: "/kWh"},

	// loadpoint
	{ID: LoadpointTitle, Name: "Title", JSONKey: "title", Scope: ScopeLoadpoint, Kind: KindText},
	{ID: ChargePower, Name: "Charge power", JSONKey: "chargePower", Scope: ScopeLoadpoint, Unit: "W"},
	{ID: ChargedEnergy, Name: "Charged energy", JSONKey: "chargedEnergy", Scope: ScopeLoadpoint, Unit: "kWh", Scale: 0.001},
	{ID: SessionEnergy, Name: "Session energy", JSONKey: "sessionEnergy", Scope: ScopeLoadpoint, Unit: "kWh", Scale: 0.001},
	{ID: ChargeTotalImport, Name: "Charge total import", JSONKey: "chargeTotalImport", Scope: ScopeLoadpoint, Unit: "kWh", Monotonic: true},
	{ID: ChargeCurrents, Name: "Charge currents", JSONKey: "chargeCurrents", Scope: ScopeLoadpoint, Unit: "A"},
	{ID: ChargeDuration, Name: "Charge duration", JSONKey: "chargeDuration", Scope: ScopeLoadpoint, Unit: "s"},
	{ID: ChargeRemainingEnergy, Name: "Charge remaining energy", JSONKey: "chargeRemainingEnergy", Scope: ScopeLoadpoint, Unit: "kWh", Scale: 0.001},
	{ID: Connected, Name: "Connected", JSONKey: "connected", Scope: ScopeLoadpoint, Kind: KindBinary},
	{ID: Charging, Name: "Charging", JSONKey: "charging", Scope: ScopeLoadpoint, Kind: KindBinary},
	{ID: Enabled, Name: "Enabled", JSONKey: "enabled", Scope: ScopeLoadpoint, Kind: KindBinary},
	{ID: PlanActive, Name: "Plan active", JSONKey: "planActive", Scope: ScopeLoadpoint, Kind: KindBinary},
	{ID: PlanActiveAlt, Name: "Plan active (alt)", JSONKey: "planActiveAlt", Scope: ScopeLoadpoint, Kind: KindBinary, Computed: true},
	{ID: PlanProjectedStart, Name: "Plan projected start", JSONKey: "planProjectedStart", Scope: ScopeLoadpoint, Kind: KindTime, TimeValued: true},
	{ID: PlanProjectedEnd, Name: "Plan projected end", JSONKey: "planProjectedEnd", Scope: ScopeLoadpoint, Kind: KindTime, TimeValued: true},
	{ID: EffectivePlanTime, Name: "Effective plan time", JSONKey: "effectivePlanTime", Scope: ScopeLoadpoint, Kind: KindTime, TimeValued: true},
	{ID: EffectivePlanSoc, Name: "Effective plan SoC", JSONKey: "effectivePlanSoc", Scope: ScopeLoadpoint, Unit: "%"},
	{ID: SmartCostNextStart, Name: "Smart cost next start", JSONKey: "smartCostNextStart", Scope: ScopeLoadpoint, Kind: KindTime, TimeValued: true},
	{ID: PvRemaining, Name: "PV timer end", JSONKey: "pvRemaining", Scope: ScopeLoadpoint, Kind: KindTime},
	{ID: PhasesActive, Name: "Active phases", JSONKey: "phasesActive", Scope: ScopeLoadpoint},
	{ID: PhasesConfigured, Name: "Phases", JSONKey: "phasesConfigured", Scope: ScopeLoadpoint, WriteKey: "phases", Kind: KindSelect, EnumOptions: phaseModes},
	{ID: VehicleName, Name: "Vehicle", JSONKey: "vehicleName", Scope: ScopeLoadpoint, WriteKey: "vehicle", Kind: KindSelect},
	{ID: VehicleSoc, Name: "Vehicle SoC", JSONKey: "vehicleSoc", Scope: ScopeLoadpoint, Unit: "%", HasRange: true, Min: 0, Max: 100},
	{ID: VehicleRange, Name: "Vehicle range", JSONKey: "vehicleRange", Scope: ScopeLoadpoint, Unit: "km"},
	{ID: Mode, Name: "Mode", JSONKey: "mode", Scope: ScopeLoadpoint, WriteKey: "mode", Kind: KindSelect, EnumOptions: chargeModes},
	{ID: MinCurrent, Name: "Min current", JSONKey: "minCurrent", Scope: ScopeLoadpoint, WriteKey: "mincurrent", Kind: KindNumber, Unit: "A"},
	{ID: MaxCurrent, Name: "Max current", JSONKey: "maxCurrent", Scope: ScopeLoadpoint, WriteKey: "maxcurrent", Kind: KindNumber, Unit: "A"},
	{ID: LimitSoc, Name: "Limit SoC", JSONKey: "limitSoc", Scope: ScopeLoadpoint, WriteKey: "limitsoc", Kind: KindNumber, Unit: "%", HasRange: true, Min: 0, Max: 100},
	{ID: LimitEnergy, Name: "Limit energy", JSONKey: "limitEnergy", Scope: ScopeLoadpoint, WriteKey: "limitenergy", Kind: KindNumber, Unit: "kWh"},
	{ID: SmartCostLimit, Name: "Smart cost limit", JSONKey: "smartCostLimit", Scope: ScopeLoadpoint, WriteKey: "smartcostlimit", Kind: KindNumber, Unit: "/kWh"},
	{ID: BatteryBoost, Name: "Battery boost", JSONKey: "batteryBoost", Scope: ScopeLoadpoint, WriteKey: "batteryboost", Kind: KindSwitch},
	{ID: Priority, Name: "Priority", JSONKey: "priority", Scope: ScopeLoadpoint, WriteKey: "priority", Kind: KindNumber, HasRange: true, Min: 0, Max: 10},
	{ID: EnableThreshold, Name: "Enable threshold", JSONKey: "enableThreshold", Scope: ScopeLoadpoint, WriteKey: "enable/threshold", Kind: KindNumber, Unit: "W"},
	{ID: DisableThreshold, Name: "Disable threshold", JSONKey: "disableThreshold", Scope: ScopeLoadpoint, WriteKey: "disable/threshold", Kind: KindNumber, Unit: "W"},
	{ID: EnableDelay, Name: "Enable delay", JSONKey: "enableDelay", Scope: ScopeLoadpoint, WriteKey: "enable/delay", Kind: KindNumber, Unit: "s"},
	{ID: DisableDelay, Name: "Disable delay", JSONKey: "disableDelay", Scope: ScopeLoadpoint, WriteKey: "disable/delay", Kind: KindNumber, Unit: "s"},
	{ID: VehicleDelete, Name: "Remove vehicle", Scope: ScopeLoadpoint, WriteKey: "vehicle", Kind: KindButton},
	{ID: VehicleDetect, Name: "Detect vehicle", Scope: ScopeLoadpoint, WriteKey: "vehicle", TriggerMethod: http.MethodPatch, Kind: KindButton},

	// vehicle, addressed through the vehicle currently at the loadpoint
	{ID: VehicleTitle, Name: "Vehicle title", JSONKey: "title", Scope: ScopeVehicle, Kind: KindText},
	{ID: VehicleCapacity, Name: "Vehicle capacity", JSONKey: "capacity", Scope: ScopeVehicle, Unit: "kWh"},
	{ID: VehicleLimitSoc, Name: "Vehicle limit SoC", JSONKey: "limitSoc", Scope: ScopeVehicle, WriteKey: "limitsoc", Kind: KindNumber, Unit: "%", HasRange: true, Min: 0, Max: 100},
	{ID: VehicleMinSoc, Name: "Vehicle min SoC", JSONKey: "minSoc", Scope: ScopeVehicle, WriteKey: "minsoc", Kind: KindNumber, Unit: "%", HasRange: true, Min: 0, Max: 100},
	{ID: VehiclePlanSoc, Name: "Vehicle plan SoC", JSONKey: "soc", Scope: ScopeVehicle, Plan: true, Kind: KindText},
	{ID: VehiclePlanTime, Name: "Vehicle plan time", JSONKey: "time", Scope: ScopeVehicle, Plan: true, Kind: KindTime, TimeValued: true},
	{ID: VehiclePlanDelete, Name: "Delete vehicle plan", Scope: ScopeVehicle, WriteKey: "plan/soc", Kind: KindButton},

	// tariff endpoints
	{ID: TariffAPIGrid, Name: "Grid tariff forecast", JSONKey: "grid", Scope: ScopeTariff, Unit: "/kWh"},
	{ID: TariffAPIFeedIn, Name: "Feed-in tariff forecast", JSONKey: "feedin", Scope: ScopeTariff, Unit: "/kWh"},
	{ID: TariffAPISolar, Name: "Solar forecast", JSONKey: "solar", Scope: ScopeTariff, Unit: "W"},
	{ID: TariffAPIPlanner, Name: "Planner tariff", JSONKey: "planner", Scope: ScopeTariff, Unit: "/kWh"},
	{ID: TariffAPICo2, Name: "CO2 forecast", JSONKey: "co2", Scope: ScopeTariff, Unit: "g/kWh"},
}

type statisticsField struct {
	key  string
	name string
	unit string
}

var statisticsFields = []statisticsField{
	{key: "chargedKWh", name: "Charged", unit: "kWh"},
	{key: "solarPercentage", name: "Solar share", unit: "%"},
	{key: "avgPrice", name: "Average price", unit: "/kWh"},
	{key: "avgCo2", name: "Average CO2", unit: "g/kWh"},
}

// StatisticsID returns the tag id for a statistics subtype and field, e.g.
// ("30d", "chargedKWh") -> "stat30dChargedKWh".
func StatisticsID(subtype, key string) ID {
	return ID("stat" + upperFirst(subtype) + upperFirst(key))
}

func statisticsTags() []Tag {
	out := make([]Tag, 0, len(StatisticsSubtypes)*len(statisticsFields))
	for _, st := range StatisticsSubtypes {
		for _, f := range statisticsFields {
			out = append(out, Tag{
				ID:                StatisticsID(st, f.key),
				Name:              f.name + " (" + st + ")",
				JSONKey:           f.key,
				Scope:             ScopeStatistics,
				StatisticsSubtype: st,
				Unit:              f.unit,
			})
		}
	}
	return out
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
