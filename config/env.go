package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Structs

// Env holds information specific to the
// system a member is deployed on. This
// enables host adaptions without needing
// to maintain two different config files.
type Env struct {
	Group     string
	Sequencer string
	LogLevel  string
}

// Functions

// LoadEnv reads the .env file at path into the
// process environment and picks up all values
// relevant to us. Variables already set in the
// environment take precedence over the file.
func LoadEnv(path string) (*Env, error) {

	// Load environment file.
	err := godotenv.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read in .env file at '%s'", path)
	}

	env := &Env{
		Group:     os.Getenv("CLUSTERED_GROUP"),
		Sequencer: os.Getenv("CLUSTERED_SEQUENCER"),
		LogLevel:  os.Getenv("CLUSTERED_LOGLEVEL"),
	}

	return env, nil
}

// Apply overrides the parts of conf that
// the environment sets.
func (e *Env) Apply(conf *Config) {

	if e.Group != "" {
		conf.Group.Name = e.Group
	}

	if e.Sequencer != "" {
		conf.Transport.SequencerAddr = e.Sequencer
	}
}
