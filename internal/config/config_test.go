package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		MasterHost:        "127.0.0.1",
		MasterPort:        5557,
		RateLimiter:       RateLimiterNone,
		RecvTimeout:       DefaultRecvTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ReportInterval:    DefaultReportInterval,
		MasterMissing:     DefaultMasterMissing,
	}
}

func TestValidate_AcceptsDefaultConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_RejectsEmptyMasterHost(t *testing.T) {
	cfg := validConfig()
	cfg.MasterHost = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	cfg := validConfig()
	cfg.MasterPort = 0
	assert.Error(t, cfg.Validate())

	cfg.MasterPort = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownRateLimiter(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimiter = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidate_StableRequiresThresholdAndPeriod(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimiter = RateLimiterStable
	assert.Error(t, cfg.Validate())

	cfg.StableMaxThreshold = 100
	cfg.StablePeriod = time.Second
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RampUpRequiresAllParameters(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimiter = RateLimiterRampUp
	assert.Error(t, cfg.Validate())

	cfg.RampMaxThreshold = 100
	cfg.RampUpStep = 10
	cfg.RampUpPeriod = time.Second
	cfg.RefillPeriod = time.Second
	assert.NoError(t, cfg.Validate())
}
