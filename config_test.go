package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		bind:           "0.0.0.0",
		port:           8080,
		sessionTimeout: time.Hour,
		sweepInterval:  time.Minute,
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, validConfig().validate())

	cfg := validConfig()
	cfg.port = 0
	assert.Error(t, cfg.validate())

	cfg = validConfig()
	cfg.port = 70000
	assert.Error(t, cfg.validate())

	cfg = validConfig()
	cfg.tlsCert = "/tmp/cert.pem"
	assert.Error(t, cfg.validate(), "cert without key must be rejected")

	cfg.tlsKey = "/tmp/key.pem"
	assert.NoError(t, cfg.validate())

	cfg = validConfig()
	cfg.sessionTimeout = time.Second
	assert.Error(t, cfg.validate())

	cfg = validConfig()
	cfg.sweepInterval = 0
	assert.Error(t, cfg.validate())
}

func TestConfigScheme(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "http", cfg.scheme())

	cfg.tlsCert = "/tmp/cert.pem"
	cfg.tlsKey = "/tmp/key.pem"
	assert.Equal(t, "https", cfg.scheme())
}
