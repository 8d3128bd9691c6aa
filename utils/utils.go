package utils

import (
	"os"

	"crypto/tls"
	"path/filepath"

	"github.com/go-kit/kit/log"
	"github.com/go-pluto/clustered/config"
	"github.com/go-pluto/clustered/crypto"
	"github.com/pkg/errors"
)

// Structs

// TestEnv carries everything needed for a test of
// a sequencer and remote members talking mutual TLS.
type TestEnv struct {
	Config       *config.Config
	PKIDir       string
	SequencerTLS *tls.Config
	MemberTLS    *tls.Config
}

// Functions

// CreateTestEnv loads the config at configFilePath and
// generates a fresh internal PKI into the directory its
// root certificate location points to.
func CreateTestEnv(configFilePath string) (*TestEnv, error) {

	// Read configuration from file.
	conf, err := config.LoadConfig(configFilePath)
	if err != nil {
		return nil, err
	}

	if !conf.TLS.Enabled() {
		return nil, errors.Errorf("config at '%s' does not configure TLS", configFilePath)
	}

	pkiDir := filepath.Dir(conf.TLS.RootCertLoc)

	err = crypto.GeneratePKI(log.NewNopLogger(), pkiDir, []string{"sequencer", "member"}, crypto.PKIOptions{
		Hosts: []string{"127.0.0.1", "localhost"},
	})
	if err != nil {
		return nil, errors.Wrap(err, "generating test PKI failed")
	}

	seqTLS, err := crypto.NewInternalTLSConfig(filepath.Join(pkiDir, "sequencer-cert.pem"), filepath.Join(pkiDir, "sequencer-key.pem"), conf.TLS.RootCertLoc)
	if err != nil {
		return nil, err
	}

	memberTLS, err := crypto.NewInternalTLSConfig(conf.TLS.CertLoc, conf.TLS.KeyLoc, conf.TLS.RootCertLoc)
	if err != nil {
		return nil, err
	}

	// Return properly initialized and complete struct
	// representing a test environment.
	return &TestEnv{
		Config:       conf,
		PKIDir:       pkiDir,
		SequencerTLS: seqTLS,
		MemberTLS:    memberTLS,
	}, nil
}

// TearDown removes the generated PKI.
func (env *TestEnv) TearDown() error {
	return os.RemoveAll(env.PKIDir)
}
