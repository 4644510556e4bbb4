package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/binbot/internal/adapters/paper"
	"github.com/alejandrodnm/binbot/internal/application/calendar"
	"github.com/alejandrodnm/binbot/internal/application/executor"
	"github.com/alejandrodnm/binbot/internal/application/supervisor"
	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/alejandrodnm/binbot/internal/domain/staking"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Broker      BrokerConfig      `yaml:"broker"`
	Session     SessionConfig     `yaml:"session"`
	Cycle       CycleConfig       `yaml:"cycle"`
	Masaniello  MasanielloConfig  `yaml:"masaniello"`
	News        NewsConfig        `yaml:"news"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Connection  ConnectionConfig  `yaml:"connection"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Storage     StorageConfig     `yaml:"storage"`
	HTTP        HTTPConfig        `yaml:"http"`
	Log         LogConfig         `yaml:"log"`
}

// BrokerConfig elige el adaptador de broker.
type BrokerConfig struct {
	BridgeURL      string      `yaml:"bridge_url"`
	Email          string      `yaml:"-"`       // solo .env: BROKER_EMAIL
	Password       string      `yaml:"-"`       // solo .env: BROKER_PASSWORD
	Account        string      `yaml:"account"` // PRACTICE | REAL
	TimeoutSeconds int         `yaml:"timeout_seconds"`
	Paper          PaperConfig `yaml:"paper"`
}

// PaperConfig controla el broker simulado de -paper.
type PaperConfig struct {
	Balance        float64 `yaml:"balance"`
	WinProbability float64 `yaml:"win_probability"`
	SpeedFactor    float64 `yaml:"speed_factor"` // 60 → 1 minuto de expiración liquida en 1s
	MinStake       float64 `yaml:"min_stake"`
	Seed           uint64  `yaml:"seed"`
}

// SessionConfig son los parámetros de la sesión que arranca al iniciar.
type SessionConfig struct {
	Policy    string  `yaml:"policy"` // cycle | masaniello
	StopWin   float64 `yaml:"stop_win"`
	StopLoss  float64 `yaml:"stop_loss"`
	PayoutPct float64 `yaml:"payout_pct"` // payout por defecto si el broker no cotiza
	AutoStart bool    `yaml:"auto_start"`
}

// CycleConfig configura la política de ciclos. Los campos del perfil a cero
// heredan el valor del perfil elegido; max_gales ausente hereda y 0 desactiva
// los gales.
type CycleConfig struct {
	BaseStake        float64 `yaml:"base_stake"`
	MartingaleFactor float64 `yaml:"martingale_factor"`
	MinStake         float64 `yaml:"min_stake"`
	Profile          string  `yaml:"profile"` // aggressive | conservative
	RecoveryFraction float64 `yaml:"recovery_fraction"`
	MaxGales         *int    `yaml:"max_gales"`
	MaxLostCycles    int     `yaml:"max_lost_cycles"`
}

// MasanielloConfig configura el plan de N trades con K aciertos.
type MasanielloConfig struct {
	Capital   float64 `yaml:"capital"`
	Trades    int     `yaml:"trades"`
	Wins      int     `yaml:"wins"`
	PayoutPct float64 `yaml:"payout_pct"` // 0 = session.payout_pct
}

// NewsConfig controla el filtro de noticias.
type NewsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	FeedURL        string `yaml:"feed_url"`
	BeforeMinutes  int    `yaml:"before_minutes"`
	AfterMinutes   int    `yaml:"after_minutes"`
	MinImpact      int    `yaml:"min_impact"` // 1 low, 2 medium, 3 high
	RefreshMinutes int    `yaml:"refresh_minutes"`
}

// ExecutorConfig ajusta la cola y la espera de liquidación.
type ExecutorConfig struct {
	QueueSize              int `yaml:"queue_size"`
	AckTimeoutSeconds      int `yaml:"ack_timeout_seconds"`
	PollIntervalMillis     int `yaml:"poll_interval_ms"`
	SettlementGraceSeconds int `yaml:"settlement_grace_seconds"`
	RestoreCeilingSeconds  int `yaml:"restore_ceiling_seconds"`
}

// ConnectionConfig ajusta el supervisor de conexión.
type ConnectionConfig struct {
	ProbeIntervalSeconds int   `yaml:"probe_interval_seconds"`
	ProbeTimeoutSeconds  int   `yaml:"probe_timeout_seconds"`
	BackoffSeconds       []int `yaml:"backoff_seconds"`
	MaxAttempts          int   `yaml:"max_attempts"`
}

// InstrumentsConfig controla la caché de instrumentos abiertos.
type InstrumentsConfig struct {
	RefreshSeconds int `yaml:"refresh_seconds"`
	MaxAgeSeconds  int `yaml:"max_age_seconds"`
}

// StorageConfig controla dónde se persiste el journal.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// HTTPConfig es la superficie de control (señales, estado, métricas, /ws).
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Parse interpreta el YAML, aplica overrides de entorno y defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("BROKER_EMAIL"); v != "" {
		cfg.Broker.Email = v
	}
	if v := os.Getenv("BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}
	if v := os.Getenv("BROKER_BRIDGE_URL"); v != "" {
		cfg.Broker.BridgeURL = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Broker.BridgeURL == "" {
		cfg.Broker.BridgeURL = "http://127.0.0.1:8765"
	}
	if cfg.Broker.Account == "" {
		cfg.Broker.Account = "PRACTICE"
	}
	if cfg.Broker.TimeoutSeconds <= 0 {
		cfg.Broker.TimeoutSeconds = 15
	}
	if cfg.Broker.Paper.Balance <= 0 {
		cfg.Broker.Paper.Balance = 1000
	}
	if cfg.Broker.Paper.WinProbability <= 0 {
		cfg.Broker.Paper.WinProbability = 0.55
	}
	if cfg.Broker.Paper.SpeedFactor <= 0 {
		cfg.Broker.Paper.SpeedFactor = 1
	}
	if cfg.Broker.Paper.MinStake <= 0 {
		cfg.Broker.Paper.MinStake = 1
	}

	if cfg.Session.Policy == "" {
		cfg.Session.Policy = staking.KindCycle
	}
	if cfg.Session.PayoutPct == 0 {
		cfg.Session.PayoutPct = 87
	}

	if cfg.Cycle.BaseStake == 0 {
		cfg.Cycle.BaseStake = 10
	}
	if cfg.Cycle.MartingaleFactor == 0 {
		cfg.Cycle.MartingaleFactor = 2.2
	}
	if cfg.Cycle.MinStake == 0 {
		cfg.Cycle.MinStake = 1
	}
	if cfg.Masaniello.PayoutPct == 0 {
		cfg.Masaniello.PayoutPct = cfg.Session.PayoutPct
	}

	if cfg.News.BeforeMinutes <= 0 {
		cfg.News.BeforeMinutes = 15
	}
	if cfg.News.AfterMinutes <= 0 {
		cfg.News.AfterMinutes = 15
	}
	if cfg.News.MinImpact <= 0 {
		cfg.News.MinImpact = 3
	}
	if cfg.News.RefreshMinutes <= 0 {
		cfg.News.RefreshMinutes = 60
	}

	def := executor.DefaultConfig()
	if cfg.Executor.QueueSize <= 0 {
		cfg.Executor.QueueSize = def.QueueSize
	}
	if cfg.Executor.AckTimeoutSeconds <= 0 {
		cfg.Executor.AckTimeoutSeconds = int(def.AckTimeout / time.Second)
	}
	if cfg.Executor.PollIntervalMillis <= 0 {
		cfg.Executor.PollIntervalMillis = int(def.PollInterval / time.Millisecond)
	}
	if cfg.Executor.SettlementGraceSeconds <= 0 {
		cfg.Executor.SettlementGraceSeconds = int(def.SettlementGrace / time.Second)
	}
	if cfg.Executor.RestoreCeilingSeconds <= 0 {
		cfg.Executor.RestoreCeilingSeconds = int(def.RestoreCeiling / time.Second)
	}

	if cfg.Connection.ProbeIntervalSeconds <= 0 {
		cfg.Connection.ProbeIntervalSeconds = 10
	}
	if cfg.Connection.ProbeTimeoutSeconds <= 0 {
		cfg.Connection.ProbeTimeoutSeconds = 5
	}
	if cfg.Connection.BackoffSeconds == nil {
		cfg.Connection.BackoffSeconds = []int{5, 15, 30, 60, 120}
	}
	if cfg.Connection.MaxAttempts <= 0 {
		cfg.Connection.MaxAttempts = 5
	}

	if cfg.Instruments.RefreshSeconds <= 0 {
		cfg.Instruments.RefreshSeconds = 60
	}
	if cfg.Instruments.MaxAgeSeconds <= 0 {
		cfg.Instruments.MaxAgeSeconds = 300
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "binbot.db"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = "127.0.0.1:8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate rechaza configuraciones que no pueden operar.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("config.Validate: %w: %s", domain.ErrInvalidConfig, err)
	}
	if _, err := staking.New(c.StakingSettings()); err != nil {
		return fmt.Errorf("config.Validate: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.Session.StopWin < 0 || c.Session.StopLoss < 0:
		return fmt.Errorf("session stop thresholds must not be negative")
	case c.Session.PayoutPct <= 0 || c.Session.PayoutPct > 100:
		return fmt.Errorf("session payout_pct must be in (0, 100], got %g", c.Session.PayoutPct)
	case c.Masaniello.PayoutPct <= 0 || c.Masaniello.PayoutPct > 100:
		return fmt.Errorf("masaniello payout_pct must be in (0, 100], got %g", c.Masaniello.PayoutPct)
	case len(c.Connection.BackoffSeconds) == 0:
		return fmt.Errorf("connection backoff_seconds must not be empty")
	case c.Broker.Paper.WinProbability > 1:
		return fmt.Errorf("paper win_probability must be <= 1")
	}
	for _, s := range c.Connection.BackoffSeconds {
		if s < 0 {
			return fmt.Errorf("connection backoff_seconds must not be negative")
		}
	}
	switch strings.ToLower(c.Session.Policy) {
	case staking.KindCycle, staking.KindMasaniello:
	default:
		return fmt.Errorf("unknown session policy %q", c.Session.Policy)
	}
	if _, err := staking.ProfileByName(c.Cycle.Profile); err != nil {
		return err
	}
	return nil
}

// StakingSettings traduce las secciones cycle y masaniello.
func (c *Config) StakingSettings() staking.Settings {
	profile, err := staking.ProfileByName(c.Cycle.Profile)
	if err != nil {
		profile = staking.Aggressive
	}
	if c.Cycle.RecoveryFraction > 0 {
		profile.RecoveryFraction = decimal.NewFromFloat(c.Cycle.RecoveryFraction)
	}
	if c.Cycle.MaxGales != nil {
		profile.MaxGalesPerCycle = *c.Cycle.MaxGales
	}
	if c.Cycle.MaxLostCycles > 0 {
		profile.MaxLostCycles = c.Cycle.MaxLostCycles
	}

	return staking.Settings{
		Kind: strings.ToLower(c.Session.Policy),
		Cycle: staking.CycleConfig{
			BaseStake:        money(c.Cycle.BaseStake),
			MartingaleFactor: decimal.NewFromFloat(c.Cycle.MartingaleFactor),
			MinStake:         money(c.Cycle.MinStake),
			Profile:          profile,
		},
		Masaniello: staking.MasanielloConfig{
			Capital: money(c.Masaniello.Capital),
			Trades:  c.Masaniello.Trades,
			Wins:    c.Masaniello.Wins,
			Payout:  fraction(c.Masaniello.PayoutPct),
		},
	}
}

// SessionParams construye la configuración de sesión del executor.
func (c *Config) SessionParams() executor.SessionConfig {
	return executor.SessionConfig{
		Policy: c.StakingSettings(),
		Stops: domain.StopConditions{
			StopWin:  money(c.Session.StopWin),
			StopLoss: money(c.Session.StopLoss),
		},
		DefaultPayout: fraction(c.Session.PayoutPct),
	}
}

func (c *Config) ExecutorConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.QueueSize = c.Executor.QueueSize
	cfg.AckTimeout = seconds(c.Executor.AckTimeoutSeconds)
	cfg.PollInterval = time.Duration(c.Executor.PollIntervalMillis) * time.Millisecond
	cfg.SettlementGrace = seconds(c.Executor.SettlementGraceSeconds)
	cfg.RestoreCeiling = seconds(c.Executor.RestoreCeilingSeconds)
	return cfg
}

func (c *Config) SupervisorConfig() supervisor.Config {
	backoff := make([]time.Duration, len(c.Connection.BackoffSeconds))
	for i, s := range c.Connection.BackoffSeconds {
		backoff[i] = seconds(s)
	}
	cfg := supervisor.DefaultConfig()
	cfg.ProbeInterval = seconds(c.Connection.ProbeIntervalSeconds)
	cfg.ProbeTimeout = seconds(c.Connection.ProbeTimeoutSeconds)
	cfg.Backoff = backoff
	cfg.MaxAttempts = c.Connection.MaxAttempts
	return cfg
}

func (c *Config) CalendarConfig() calendar.Config {
	return calendar.Config{
		Enabled:   c.News.Enabled,
		Before:    time.Duration(c.News.BeforeMinutes) * time.Minute,
		After:     time.Duration(c.News.AfterMinutes) * time.Minute,
		MinImpact: c.News.MinImpact,
	}
}

// PaperBroker traduce la sección broker.paper. Con speed_factor > 1 el
// executor escala también la unidad de expiración.
func (c *Config) PaperBroker() paper.Config {
	return paper.Config{
		Balance:        money(c.Broker.Paper.Balance),
		Payout:         fraction(c.Session.PayoutPct),
		WinProbability: c.Broker.Paper.WinProbability,
		SpeedFactor:    c.Broker.Paper.SpeedFactor,
		MinStake:       money(c.Broker.Paper.MinStake),
		Seed:           c.Broker.Paper.Seed,
	}
}

// NewsRefresh, InstrumentsRefresh e InstrumentsMaxAge como time.Duration.
func (c *Config) NewsRefresh() time.Duration {
	return time.Duration(c.News.RefreshMinutes) * time.Minute
}

func (c *Config) InstrumentsRefresh() time.Duration {
	return seconds(c.Instruments.RefreshSeconds)
}

func (c *Config) InstrumentsMaxAge() time.Duration {
	return seconds(c.Instruments.MaxAgeSeconds)
}

func (c *Config) BrokerTimeout() time.Duration {
	return seconds(c.Broker.TimeoutSeconds)
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

func fraction(pct float64) decimal.Decimal {
	return decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100))
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
