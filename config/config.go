package config

import (
	"time"

	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Constants

// Transport kinds a member can use to reach its group.
const (
	TransportMemory = "memory"
	TransportGRPC   = "grpc"
)

// Structs

// Config holds all information parsed from
// supplied config file.
type Config struct {
	Group     Group
	Transport Transport
	TLS       TLS
	Metrics   Metrics
}

// Group names the replicated group and how
// joining it is supposed to behave.
type Group struct {
	Name                string
	StateTimeout        int
	EmptyOnStateTimeout bool
}

// Transport describes how members reach each other.
// With kind grpc, members dial SequencerAddr and a
// sequencer listens on ListenAddr.
type Transport struct {
	Kind          string
	SequencerAddr string
	ListenAddr    string
	DialTimeout   int
}

// TLS holds the locations of the files needed
// for mutual TLS between sequencer and members.
// Leave all empty to run without TLS.
type TLS struct {
	CertLoc     string
	KeyLoc      string
	RootCertLoc string
}

// Metrics configures the prometheus endpoint.
type Metrics struct {
	PrometheusAddr string
}

// Functions

// LoadConfig takes in the path to the main config
// file in TOML syntax and places the values from
// the file in the corresponding struct.
func LoadConfig(configFile string) (*Config, error) {

	conf := new(Config)

	// Parse values from TOML file into struct.
	_, err := toml.DecodeFile(configFile, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read in TOML config file at '%s'", configFile)
	}

	if conf.Group.Name == "" {
		return nil, errors.New("config does not name a group")
	}

	if conf.Transport.Kind == "" {
		conf.Transport.Kind = TransportMemory
	}

	if (conf.Transport.Kind != TransportMemory) && (conf.Transport.Kind != TransportGRPC) {
		return nil, errors.Errorf("unknown transport kind '%s'", conf.Transport.Kind)
	}

	// Relative paths in the config are relative
	// to the directory the config file lives in.
	absConfigDir, err := filepath.Abs(filepath.Dir(configFile))
	if err != nil {
		return nil, errors.Wrap(err, "could not get absolute path of config directory")
	}

	conf.TLS.CertLoc = resolve(absConfigDir, conf.TLS.CertLoc)
	conf.TLS.KeyLoc = resolve(absConfigDir, conf.TLS.KeyLoc)
	conf.TLS.RootCertLoc = resolve(absConfigDir, conf.TLS.RootCertLoc)

	return conf, nil
}

func resolve(dir string, loc string) string {

	if (loc == "") || filepath.IsAbs(loc) {
		return loc
	}

	return filepath.Join(dir, loc)
}

// StateTimeoutDuration returns the configured state
// timeout, zero if none is set.
func (g Group) StateTimeoutDuration() time.Duration {
	return time.Duration(g.StateTimeout) * time.Millisecond
}

// DialTimeoutDuration returns the configured dial
// timeout, zero if none is set.
func (t Transport) DialTimeoutDuration() time.Duration {
	return time.Duration(t.DialTimeout) * time.Millisecond
}

// Enabled reports whether TLS files were configured.
func (t TLS) Enabled() bool {
	return (t.CertLoc != "") && (t.KeyLoc != "") && (t.RootCertLoc != "")
}
