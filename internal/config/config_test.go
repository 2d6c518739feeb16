package config

import "testing"

func validBase() SessionConfig {
	return SessionConfig{
		SampleRateHz: 250,
		Channels:     []int{0, 1, 2, 3},
		BatchSize:    25,
		FFTWindowMs:  1024,
		FFTHopMs:     512,
		Source:       SourceMock,
		MockWaveforms: []MockWaveform{
			{Channel: 0, FreqHz: 10, AmplVolts: 1e-5},
		},
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsBadSampleRate(t *testing.T) {
	c := validBase()
	c.SampleRateHz = 333
	if err := c.Validate(); err == nil {
		t.Error("Validate() = nil, want error for unsupported sample rate")
	}
}

func TestValidateRejectsOutOfRangeChannel(t *testing.T) {
	c := validBase()
	c.Channels = []int{0, 8}
	if err := c.Validate(); err == nil {
		t.Error("Validate() = nil, want error for channel index 8")
	}
}

func TestValidateRejectsDuplicateChannel(t *testing.T) {
	c := validBase()
	c.Channels = []int{0, 0, 1}
	if err := c.Validate(); err == nil {
		t.Error("Validate() = nil, want error for duplicate channel")
	}
}

func TestValidateRejectsHopExceedingWindow(t *testing.T) {
	c := validBase()
	c.FFTHopMs = 2048
	if err := c.Validate(); err == nil {
		t.Error("Validate() = nil, want error for hop > window")
	}
}

func TestValidateRejectsMockWithNoWaveforms(t *testing.T) {
	c := validBase()
	c.MockWaveforms = nil
	if err := c.Validate(); err == nil {
		t.Error("Validate() = nil, want error for mock source with no waveforms")
	}
}

func TestGainDefault(t *testing.T) {
	c := validBase()
	if g := c.Gain(0); g != 24 {
		t.Errorf("Gain(0) = %d, want 24 (power-on default)", g)
	}
	c.GainByChannel = map[int]int{0: 8}
	if g := c.Gain(0); g != 8 {
		t.Errorf("Gain(0) = %d, want 8", g)
	}
}

func TestWindowAndHopSamples(t *testing.T) {
	c := validBase()
	if w := c.WindowSamples(); w != 256 {
		t.Errorf("WindowSamples() = %d, want 256", w)
	}
	if h := c.HopSamples(); h != 128 {
		t.Errorf("HopSamples() = %d, want 128", h)
	}
}
