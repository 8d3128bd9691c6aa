package config_test

import (
	"testing"
	"time"

	"path/filepath"

	"github.com/go-pluto/clustered/config"
	"github.com/stretchr/testify/assert"
)

// Functions

// TestLoadConfig executes a black-box test on the
// implemented functionalities to load a TOML config file.
func TestLoadConfig(t *testing.T) {

	// Try to load a broken config file. This should fail.
	_, err := config.LoadConfig("broken-config.toml")
	if err == nil {
		t.Fatal("[config.TestLoadConfig] Expected fail while loading broken-config.toml but received 'nil' error.")
	}

	// Unknown transports are rejected as well.
	_, err = config.LoadConfig("unknown-transport.toml")
	if err == nil {
		t.Fatal("[config.TestLoadConfig] Expected fail while loading unknown-transport.toml but received 'nil' error.")
	}

	// Now load a valid config.
	conf, err := config.LoadConfig("config.toml")
	if err != nil {
		t.Fatalf("[config.TestLoadConfig] Expected success while loading config.toml but received: '%s'\n", err.Error())
	}

	// Check for test success.
	if conf.TLS.CertLoc != "/very/complicated/test/directory/certificate.test" {
		t.Fatalf("[config.TestLoadConfig] Expected '%s' but received '%s'\n", "/very/complicated/test/directory/certificate.test", conf.TLS.CertLoc)
	}

	absDir, err := filepath.Abs(".")
	assert.Nil(t, err)

	assert.Equal(t, filepath.Join(absDir, "private", "member-key.pem"), conf.TLS.KeyLoc, "relative paths should be resolved against the config file")
	assert.Equal(t, true, conf.TLS.Enabled())

	assert.Equal(t, "inventory", conf.Group.Name)
	assert.Equal(t, 2500*time.Millisecond, conf.Group.StateTimeoutDuration())
	assert.Equal(t, true, conf.Group.EmptyOnStateTimeout)
	assert.Equal(t, config.TransportGRPC, conf.Transport.Kind)
	assert.Equal(t, 3*time.Second, conf.Transport.DialTimeoutDuration())
	assert.Equal(t, "127.0.0.1:9099", conf.Metrics.PrometheusAddr)
}
