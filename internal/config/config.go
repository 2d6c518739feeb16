// Package config holds the single immutable SessionConfig (spec.md §4.6)
// and the validation that turns persisted settings plus command-line
// overrides into it.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SourceKind selects between the hardware ADS1299 source and the
// synthetic mock source (spec.md §3 "Config").
type SourceKind string

const (
	SourceHardware SourceKind = "hardware"
	SourceMock     SourceKind = "mock"
)

// MockWaveform is one sinusoid in the mock source's synthetic signal.
type MockWaveform struct {
	Channel   int     `mapstructure:"channel"`
	FreqHz    float64 `mapstructure:"freq_hz"`
	AmplVolts float64 `mapstructure:"ampl_volts"`
}

// SessionConfig is the immutable session descriptor. It is constructed
// once at session start, validated, and never mutated afterward — any
// change requires a new session (spec.md §3 "Lifecycle").
type SessionConfig struct {
	SampleRateHz   int          `mapstructure:"sample_rate_hz"`
	Channels       []int        `mapstructure:"channels"`
	GainByChannel  map[int]int  `mapstructure:"gain_by_channel"` // one of 1/2/4/6/8/12/24, default 24
	DrdyPin        string       `mapstructure:"drdy_pin"`
	SPIDevice      string       `mapstructure:"spi_device"`
	ResetPin       string       `mapstructure:"reset_pin"`
	DrdyChip       string       `mapstructure:"drdy_chip"`   // e.g. "gpiochip0"; non-empty selects the go-gpiocdev DRDY backend over periph's sysfs gpio
	DrdyOffset     int          `mapstructure:"drdy_offset"` // line offset on DrdyChip
	BatchSize      int          `mapstructure:"batch_size"`
	FFTWindowMs    int          `mapstructure:"fft_window_ms"`
	FFTHopMs       int          `mapstructure:"fft_hop_ms"`
	Source         SourceKind   `mapstructure:"source"`
	MockWaveforms  []MockWaveform `mapstructure:"mock_waveforms"`
	MockNoiseVolts float64      `mapstructure:"mock_noise_volts"`
	VrefVolts      float64      `mapstructure:"vref_volts"` // default 4.5

	QueueCapacity  int `mapstructure:"queue_capacity"` // per-subscriber bus queue depth, default 32
	WSListenAddr   string `mapstructure:"ws_listen_addr"`
	RPCListenAddr  string `mapstructure:"rpc_listen_addr"`
	RecorderDir    string `mapstructure:"recorder_dir"`
	ZMQPubEndpoint string `mapstructure:"zmq_pub_endpoint"` // empty disables the instrumentation tap
}

var supportedSampleRates = map[int]bool{
	250: true, 500: true, 1000: true, 2000: true, 4000: true, 8000: true, 16000: true,
}

var supportedGains = map[int]bool{1: true, 2: true, 4: true, 6: true, 8: true, 12: true, 24: true}

// Validate checks the invariants spec.md §3 and §7 require at session
// start: unknown sample rate or channel index fails fast with no session
// created.
func (c *SessionConfig) Validate() error {
	if !supportedSampleRates[c.SampleRateHz] {
		return fmt.Errorf("config: unsupported sample rate %d Hz", c.SampleRateHz)
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("config: no channels enabled")
	}
	seen := make(map[int]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch < 0 || ch > 7 {
			return fmt.Errorf("config: channel index %d out of range 0..7", ch)
		}
		if seen[ch] {
			return fmt.Errorf("config: channel index %d listed more than once", ch)
		}
		seen[ch] = true
	}
	for ch, gain := range c.GainByChannel {
		if !seen[ch] {
			continue
		}
		if !supportedGains[gain] {
			return fmt.Errorf("config: channel %d has unsupported gain %d", ch, gain)
		}
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.FFTWindowMs <= 0 || c.FFTHopMs <= 0 {
		return fmt.Errorf("config: fft_window_ms and fft_hop_ms must be positive")
	}
	if c.FFTHopMs > c.FFTWindowMs {
		return fmt.Errorf("config: fft_hop_ms (%d) must not exceed fft_window_ms (%d)", c.FFTHopMs, c.FFTWindowMs)
	}
	switch c.Source {
	case SourceHardware, SourceMock:
	default:
		return fmt.Errorf("config: unknown source kind %q", c.Source)
	}
	if c.Source == SourceMock && len(c.MockWaveforms) == 0 {
		return fmt.Errorf("config: mock source requires at least one waveform")
	}
	return nil
}

// Gain returns the configured PGA gain for ch, defaulting to 24 (the
// ADS1299's maximum, and its power-on default) when unset.
func (c *SessionConfig) Gain(ch int) int {
	if g, ok := c.GainByChannel[ch]; ok {
		return g
	}
	return 24
}

// WindowSamples returns W, the FFT ring-buffer length in samples.
func (c *SessionConfig) WindowSamples() int {
	return c.SampleRateHz * c.FFTWindowMs / 1000
}

// HopSamples returns the FFT emission stride in samples.
func (c *SessionConfig) HopSamples() int {
	return c.SampleRateHz * c.FFTHopMs / 1000
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sample_rate_hz", 250)
	v.SetDefault("channels", []int{0, 1, 2, 3})
	v.SetDefault("batch_size", 25)
	v.SetDefault("fft_window_ms", 1024)
	v.SetDefault("fft_hop_ms", 512)
	v.SetDefault("source", string(SourceMock))
	v.SetDefault("mock_noise_volts", 1e-6)
	v.SetDefault("vref_volts", 4.5)
	v.SetDefault("queue_capacity", 32)
	v.SetDefault("ws_listen_addr", "127.0.0.1:8765")
	v.SetDefault("rpc_listen_addr", "127.0.0.1:8766")
	v.SetDefault("recorder_dir", "./recordings")
	v.SetDefault("drdy_pin", "GPIO25")
	v.SetDefault("spi_device", "/dev/spidev0.0")
	v.SetDefault("reset_pin", "GPIO17")
}

// RegisterFlags declares the pflag overrides this module understands,
// mirroring the samoyed cmd/* convention of parsing flags before reading
// persisted settings.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("sample-rate-hz", 0, "override sample_rate_hz")
	fs.String("source", "", "override source (hardware|mock)")
	fs.String("config", "", "path to a config file")
}

// Load builds a SessionConfig from a config file (if named by --config or
// found in the usual search paths) plus command-line overrides, the way
// rpc_server.go's RunRPCServer loads settings via viper.UnmarshalKey before
// constructing its sources.
func Load(fs *pflag.FlagSet) (*SessionConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("eeg-core")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/eeg-core")

	if fs != nil {
		if cfgPath, _ := fs.GetString("config"); cfgPath != "" {
			v.SetConfigFile(cfgPath)
		}
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: read config: %w", err)
		}
	}

	if fs != nil {
		if sr, _ := fs.GetInt("sample-rate-hz"); sr != 0 {
			v.Set("sample_rate_hz", sr)
		}
		if src, _ := fs.GetString("source"); src != "" {
			v.Set("source", src)
		}
	}

	var cfg SessionConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
