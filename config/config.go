package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/logging"
	"github.com/spf13/viper"
)

type AppConfigApi struct {
	Address string
	Port    int16
}

type AppConfigDatabase struct {
	Path string
	// How many days runs and schedules should be stored in database before they get purged
	DataRetentionDays *int `mapstructure:"data_retention_days"`
	// How many days daily backup files should be stored before they gets deleted
	BackupRetentionDays *int `mapstructure:"backup_retention_days"`
}

func (d AppConfigDatabase) GetDataRetentionDays() int {
	if d.DataRetentionDays == nil {
		return 90
	}
	return *d.DataRetentionDays
}

func (d AppConfigDatabase) GetBackupRetentionDays() int {
	if d.BackupRetentionDays == nil {
		return 90
	}
	return *d.BackupRetentionDays
}

type AppConfigMqtt struct {
	Host     string // Leave empty to disable publishing
	Port     int16
	Username string
	Password string
	Topic    *string `mapstructure:"topic"`
	ClientId *string `mapstructure:"client_id"`
}

func (m AppConfigMqtt) Enabled() bool {
	return m.Host != ""
}

func (m AppConfigMqtt) GetTopic() string {
	if m.Topic == nil {
		return "solarplant/dispatch"
	}
	return *m.Topic
}

func (m AppConfigMqtt) GetClientId() string {
	if m.ClientId == nil {
		return "solarplant-dispatch"
	}
	return *m.ClientId
}

type AppConfigBatterySpec struct {
	Capacity            float64 `mapstructure:"capacity" yaml:"capacity"`                         // Usable capacity in kWh
	MaxPower            float64 `mapstructure:"max_power" yaml:"max_power"`                       // Maximum charge and discharge power in kW
	ChargeEfficiency    float64 `mapstructure:"charge_efficiency" yaml:"charge_efficiency"`       // Fraction of charged energy that gets stored
	DischargeEfficiency float64 `mapstructure:"discharge_efficiency" yaml:"discharge_efficiency"` // Fraction of stored energy that reaches the meter
	TimestepHours       float64 `mapstructure:"timestep_hours" yaml:"timestep_hours"`             // Length of one sample in hours, 0 infers it from the profile
}

type AppConfigTariff struct {
	ImportCost            float64 `mapstructure:"import_cost" yaml:"import_cost"`                         // Cost per imported kWh
	ExportRevenue         float64 `mapstructure:"export_revenue" yaml:"export_revenue"`                   // Revenue per exported kWh
	DemandCharge          float64 `mapstructure:"demand_charge" yaml:"demand_charge"`                     // Cost per kW of peak import inside the demand charge window
	DemandResponseRevenue float64 `mapstructure:"demand_response_revenue" yaml:"demand_response_revenue"` // Bonus per exported kWh inside the demand response window
	DemandChargeStart     string  `mapstructure:"demand_charge_start" yaml:"demand_charge_start"`
	DemandChargeEnd       string  `mapstructure:"demand_charge_end" yaml:"demand_charge_end"`
	DemandResponseStart   string  `mapstructure:"demand_response_start" yaml:"demand_response_start"`
	DemandResponseEnd     string  `mapstructure:"demand_response_end" yaml:"demand_response_end"`
}

type AppConfigOptimizer struct {
	// "exclusive", "relaxed" or "auto", default: "exclusive"
	Formulation *string `mapstructure:"formulation"`
	// Max seconds a single solve may take, default: 60
	SolveTimeout *int `mapstructure:"solve_timeout"`
	// Largest constraint violation in a solution that is clamped instead of rejected, default: 1e-4
	Tolerance *float64 `mapstructure:"tolerance"`
	// Max number of branch and bound nodes, 0 means unlimited, default: 100000
	MaxNodes *int `mapstructure:"max_nodes"`
}

func (o AppConfigOptimizer) GetFormulation() string {
	if o.Formulation == nil {
		return "exclusive"
	}
	return strings.ToLower(*o.Formulation)
}

func (o AppConfigOptimizer) GetSolveTimeout() time.Duration {
	if o.SolveTimeout == nil {
		return 60 * time.Second
	}
	return time.Duration(*o.SolveTimeout) * time.Second
}

func (o AppConfigOptimizer) GetTolerance() float64 {
	if o.Tolerance == nil {
		return 1e-4
	}
	return *o.Tolerance
}

func (o AppConfigOptimizer) GetMaxNodes() int {
	if o.MaxNodes == nil {
		return 100000
	}
	return *o.MaxNodes
}

type AppConfigFiles struct {
	Profiles *string `mapstructure:"profiles"`
	Results  *string `mapstructure:"results"`
	// Re-plan whenever the profiles file changes
	Watch bool `mapstructure:"watch"`
}

func (f AppConfigFiles) GetProfiles() string {
	if f.Profiles == nil {
		return "data/profiles.csv"
	}
	return *f.Profiles
}

func (f AppConfigFiles) GetResults() string {
	if f.Results == nil {
		return "data/results.csv"
	}
	return *f.Results
}

type AppConfigPlanner struct {
	RunAt string `mapstructure:"run_at"` // Cron spec for scheduled planning, empty disables it
}

type AppConfigLogging struct {
	// Min log level for database : "DEBUG", "INFO", "WARN", "ERROR", default: "INFO"
	DbLevel *string `mapstructure:"db_level"`
	// Log attributes format: "TEXT", "JSON", default: "JSON"
	DbAttrsFormat *string `mapstructure:"db_attrs_format"`
	// Maximum number of log entries in the database, default: 10000
	DbMaxEntries *int `mapstructure:"db_max_entries"`
	// Min log level for database console: "DEBUG", "INFO", "WARN", "ERROR", default: "INFO"
	ConsoleLevel *string `mapstructure:"console_level"`
}

func (l AppConfigLogging) GetDbLevel() slog.Level {
	return logging.LevelFromString(l.DbLevel)
}

func (l AppConfigLogging) GetDbAttrsFormat() logging.LogAttrFormat {
	if l.DbAttrsFormat == nil {
		return logging.LogAttrFormatJSON
	}
	if strings.EqualFold(*l.DbAttrsFormat, "text") {
		return logging.LogAttrFormatText
	}
	return logging.LogAttrFormatJSON
}

func (l AppConfigLogging) GetDbMaxEntries() int {
	if l.DbMaxEntries == nil {
		return 10000
	}
	return *l.DbMaxEntries
}

func (l AppConfigLogging) GetConsoleLevel() slog.Level {
	return logging.LevelFromString(l.ConsoleLevel)
}

type AppConfig struct {
	Api         AppConfigApi
	Database    AppConfigDatabase
	Mqtt        AppConfigMqtt
	BatterySpec AppConfigBatterySpec `mapstructure:"battery_spec"`
	Tariff      AppConfigTariff      `mapstructure:"tariff"`
	Optimizer   AppConfigOptimizer   `mapstructure:"optimizer"`
	Files       AppConfigFiles       `mapstructure:"files"`
	Planner     AppConfigPlanner     `mapstructure:"planner"`
	Logging     AppConfigLogging     `mapstructure:"logging"`
}

// Load reads the YAML config file at path, or config/config.yaml when path is empty.
// Environment variables override file values, e.g. TARIFF_IMPORT_COST for tariff.import_cost.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var c AppConfig

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}

	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config file: %w", err)
	}

	return &c, nil
}
