package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikesmithlab/shaker/internal/hw/serial"
	"github.com/mikesmithlab/shaker/internal/hw/stepper"
	"github.com/mikesmithlab/shaker/internal/logic/kinematics"
	"github.com/mikesmithlab/shaker/internal/logic/optimize"
	"github.com/mikesmithlab/shaker/internal/vision"
)

// MaxConfigFileBytes bounds the size of a settings file.
const MaxConfigFileBytes = 64 << 10

// ShakerConfig describes the link to the shaker power supply Arduino.
type ShakerConfig struct {
	Port        string             `yaml:"port"`
	SpeakerPort string             `yaml:"speaker_port"` // optional duty annotator, "" = none
	Serial      serial.PortOptions `yaml:"serial"`
	SettleMs    int                `yaml:"settle_ms"`     // wait after opening the port (Arduino reset)
	AckDelayMs  int                `yaml:"ack_delay_ms"`  // wait between a mode command and its reply
	ModeAttempt int                `yaml:"mode_attempts"` // bounded mode change retries
	// Mode commands. Firmware with a single toggle uses Toggle only.
	ToggleCommand string `yaml:"toggle_command"`
	ManualCommand string `yaml:"manual_command"`
	SerialCommand string `yaml:"serial_command"`
}

// StepperConfig selects and configures the levelling motors.
// Type is "serial" (stepper Arduino) or "gpio" (A4988 drivers on the Pi).
type StepperConfig struct {
	Type            string             `yaml:"type"`
	Port            string             `yaml:"port"`
	Serial          serial.PortOptions `yaml:"serial"`
	SettleBaseMs    int                `yaml:"settle_base_ms"`
	SettlePerStepMs int                `yaml:"settle_per_step_ms"`
	Motor1          stepper.Config     `yaml:"motor1"`
	Motor2          stepper.Config     `yaml:"motor2"`
	StepDelayUs     int                `yaml:"step_delay_us"` // half period of a GPIO step pulse
}

// KinematicsConfig names the motor transform of the rig.
type KinematicsConfig struct {
	Model string `yaml:"model"`
}

// CameraConfig describes where frames come from.
// Type is "directory" (camera software saving into Dir) or "file" (a
// fixed image, for bench tests).
type CameraConfig struct {
	Type           string `yaml:"type"`
	Dir            string `yaml:"dir"`
	File           string `yaml:"file"`
	Trigger        bool   `yaml:"trigger"`     // fire the GPIO remote shutter for each frame
	FocusPin       int    `yaml:"focus_pin"`   // GPIO pin for FOCUS line
	ShutterPin     int    `yaml:"shutter_pin"` // GPIO pin for SHUTTER line
	FocusDelayMs   int    `yaml:"focus_delay_ms"`
	ShutterDelayMs int    `yaml:"shutter_delay_ms"`
	PollMs         int    `yaml:"poll_ms"`
	TimeoutMs      int    `yaml:"timeout_ms"`
}

// VisionConfig picks the centre of mass strategy. Zero values keep the
// strategy defaults.
type VisionConfig struct {
	Strategy   string `yaml:"strategy"`
	Threshold  int    `yaml:"threshold"`
	Invert     *bool  `yaml:"invert"`
	BlurKernel int    `yaml:"blur_kernel"`
}

// LevelConfig holds the default levelling parameters.
type LevelConfig struct {
	InitialBatchSize int     `yaml:"initial_batch_size"`
	CallBudget       int     `yaml:"call_budget"`
	Tolerance        float64 `yaml:"tolerance"`
	MaxBatchSize     int     `yaml:"max_batch_size"`
	Optimizer        string  `yaml:"optimizer"`
	Seed             int64   `yaml:"seed"`
	InitialPoints    int     `yaml:"initial_points"`
	Candidates       int     `yaml:"candidates"`
	// WarmStart is "last" (last trial log row), "best" (best rows of the
	// trial database) or "none".
	WarmStart string `yaml:"warm_start"`
	BestSeeds int    `yaml:"best_seeds"`
}

// PathsConfig locates the persisted files.
type PathsConfig struct {
	State    string `yaml:"state"`
	Position string `yaml:"position"`
	TrialLog string `yaml:"trial_log"`
	TrialDB  string `yaml:"trial_db"`
}

// MockConfig shapes the simulated rig used when mock_hardware is set.
type MockConfig struct {
	LevelX int     `yaml:"level_x"` // hidden level position
	LevelY int     `yaml:"level_y"`
	Noise  float64 `yaml:"noise"` // centre of mass noise, pixels
	Seed   int64   `yaml:"seed"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel   int  `yaml:"debug_level"`   // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockHardware bool `yaml:"mock_hardware"` // simulate serial devices, GPIO and camera
	WebPort      int  `yaml:"web_port"`
}

// Config aggregates all application configuration.
type Config struct {
	Shaker     ShakerConfig     `yaml:"shaker"`
	Stepper    StepperConfig    `yaml:"stepper"`
	Kinematics KinematicsConfig `yaml:"kinematics"`
	Camera     CameraConfig     `yaml:"camera"`
	Vision     VisionConfig     `yaml:"vision"`
	Level      LevelConfig      `yaml:"level"`
	Paths      PathsConfig      `yaml:"paths"`
	Mock       MockConfig       `yaml:"mock"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files directly inside a directory
// named "configs".
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q escapes its directory", path)
		}
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration of an empty settings file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Shaker.SettleMs <= 0 {
		c.Shaker.SettleMs = 1000
	}
	if c.Shaker.AckDelayMs <= 0 {
		c.Shaker.AckDelayMs = 100
	}
	if c.Shaker.ModeAttempt <= 0 {
		c.Shaker.ModeAttempt = 3
	}
	if c.Shaker.ToggleCommand == "" {
		c.Shaker.ToggleCommand = "x"
	}

	if c.Stepper.Type == "" {
		c.Stepper.Type = "serial"
	}
	if c.Stepper.SettleBaseMs <= 0 {
		c.Stepper.SettleBaseMs = 4500
	}
	if c.Stepper.SettlePerStepMs <= 0 {
		c.Stepper.SettlePerStepMs = 16
	}
	if c.Stepper.StepDelayUs <= 0 {
		c.Stepper.StepDelayUs = 1000
	}

	if c.Kinematics.Model == "" {
		c.Kinematics.Model = kinematics.Tilted
	}

	if c.Camera.Type == "" {
		c.Camera.Type = "directory"
	}
	if c.Camera.FocusDelayMs <= 0 {
		c.Camera.FocusDelayMs = 500 // 500ms for autofocus
	}
	if c.Camera.ShutterDelayMs <= 0 {
		c.Camera.ShutterDelayMs = 200 // 200ms shutter hold
	}
	if c.Camera.PollMs <= 0 {
		c.Camera.PollMs = 100
	}
	if c.Camera.TimeoutMs <= 0 {
		c.Camera.TimeoutMs = 10000
	}

	if c.Vision.Strategy == "" {
		c.Vision.Strategy = vision.Balls
	}

	if c.Level.InitialBatchSize <= 0 {
		c.Level.InitialBatchSize = 10
	}
	if c.Level.CallBudget <= 0 {
		c.Level.CallBudget = 50
	}
	if c.Level.Tolerance == 0 {
		c.Level.Tolerance = 2
	}
	if c.Level.MaxBatchSize <= 0 {
		c.Level.MaxBatchSize = 100
	}
	if c.Level.Optimizer == "" {
		c.Level.Optimizer = optimize.KindGP
	}
	if c.Level.InitialPoints <= 0 {
		c.Level.InitialPoints = 6
	}
	if c.Level.Candidates <= 0 {
		c.Level.Candidates = 2000
	}
	if c.Level.WarmStart == "" {
		c.Level.WarmStart = "last"
	}
	if c.Level.BestSeeds <= 0 {
		c.Level.BestSeeds = 3
	}

	if c.Paths.State == "" {
		c.Paths.State = filepath.Join("data", "shaker_state.yaml")
	}
	if c.Paths.Position == "" {
		c.Paths.Position = filepath.Join("data", "motor_pos.txt")
	}
	if c.Paths.TrialLog == "" {
		c.Paths.TrialLog = filepath.Join("data", "track_level.txt")
	}
	if c.Paths.TrialDB == "" {
		c.Paths.TrialDB = filepath.Join("data", "trials.db")
	}

	if c.Mock.Noise == 0 {
		c.Mock.Noise = 1
	}
	if c.Defaults.WebPort == 0 {
		c.Defaults.WebPort = 8080
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if _, err := c.Shaker.Serial.Normalize(); err != nil {
		return fmt.Errorf("shaker.serial: %w", err)
	}
	if _, err := c.Stepper.Serial.Normalize(); err != nil {
		return fmt.Errorf("stepper.serial: %w", err)
	}
	switch c.Stepper.Type {
	case "serial", "gpio":
	default:
		return fmt.Errorf("stepper.type must be serial or gpio, got %q", c.Stepper.Type)
	}
	if _, err := kinematics.ByName(c.Kinematics.Model); err != nil {
		return fmt.Errorf("kinematics.model: %w", err)
	}
	switch c.Camera.Type {
	case "directory", "file":
	default:
		return fmt.Errorf("unsupported camera type: %s", c.Camera.Type)
	}
	if c.Vision.Threshold < 0 || c.Vision.Threshold > 255 {
		return fmt.Errorf("vision.threshold must be between 0 and 255, got %d", c.Vision.Threshold)
	}
	if _, err := c.Strategy(); err != nil {
		return fmt.Errorf("vision: %w", err)
	}
	if c.Level.Tolerance < 0 {
		return fmt.Errorf("level.tolerance must be >= 0, got %g", c.Level.Tolerance)
	}
	if c.Level.MaxBatchSize < c.Level.InitialBatchSize {
		return fmt.Errorf("level.max_batch_size %d is below initial_batch_size %d", c.Level.MaxBatchSize, c.Level.InitialBatchSize)
	}
	switch c.Level.Optimizer {
	case optimize.KindGP, optimize.KindRandom:
	default:
		return fmt.Errorf("level.optimizer must be %s or %s, got %q", optimize.KindGP, optimize.KindRandom, c.Level.Optimizer)
	}
	switch c.Level.WarmStart {
	case "last", "best", "none":
	default:
		return fmt.Errorf("level.warm_start must be last, best or none, got %q", c.Level.WarmStart)
	}
	if c.Defaults.WebPort < 1 || c.Defaults.WebPort > 65535 {
		return fmt.Errorf("defaults.web_port must be 1-65535, got %d", c.Defaults.WebPort)
	}
	return nil
}

// Strategy builds the configured vision strategy.
func (c *Config) Strategy() (vision.Strategy, error) {
	override := vision.Settings{
		Threshold:  uint8(c.Vision.Threshold),
		BlurKernel: c.Vision.BlurKernel,
	}
	invertSet := c.Vision.Invert != nil
	if invertSet {
		override.Invert = *c.Vision.Invert
	}
	return vision.New(c.Vision.Strategy, override, invertSet)
}

// OptimizerOptions returns the optimizer options of the level section.
func (c *Config) OptimizerOptions() optimize.Options {
	return optimize.Options{
		Seed:          c.Level.Seed,
		InitialPoints: c.Level.InitialPoints,
		Candidates:    c.Level.Candidates,
	}
}

// ShakerSettle returns the wait after opening the shaker port.
func (c *Config) ShakerSettle() time.Duration {
	return time.Duration(c.Shaker.SettleMs) * time.Millisecond
}

// ShakerAckDelay returns the wait before reading a mode reply.
func (c *Config) ShakerAckDelay() time.Duration {
	return time.Duration(c.Shaker.AckDelayMs) * time.Millisecond
}

// StepperSettleBase returns the fixed part of the motor settle time.
func (c *Config) StepperSettleBase() time.Duration {
	return time.Duration(c.Stepper.SettleBaseMs) * time.Millisecond
}

// StepperSettlePerStep returns the per step part of the motor settle time.
func (c *Config) StepperSettlePerStep() time.Duration {
	return time.Duration(c.Stepper.SettlePerStepMs) * time.Millisecond
}

// StepDelay returns the half period of a GPIO step pulse.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.Stepper.StepDelayUs) * time.Microsecond
}

// FocusDelay returns the autofocus delay duration.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the shutter hold duration.
func (c *Config) ShutterDelay() time.Duration {
	return time.Duration(c.Camera.ShutterDelayMs) * time.Millisecond
}

// CameraPoll returns the directory polling interval.
func (c *Config) CameraPoll() time.Duration {
	return time.Duration(c.Camera.PollMs) * time.Millisecond
}

// CameraTimeout returns how long to wait for a frame.
func (c *Config) CameraTimeout() time.Duration {
	return time.Duration(c.Camera.TimeoutMs) * time.Millisecond
}
