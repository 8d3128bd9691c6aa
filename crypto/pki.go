package crypto

import (
	"fmt"
	"net"
	"os"
	"time"

	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"path/filepath"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// Structs

// PKIOptions control the certificates GeneratePKI
// creates. Zero values fall back to sane defaults.
type PKIOptions struct {
	ValidFrom time.Time
	ValidFor  time.Duration
	RSABits   int

	// Hosts are IP addresses or DNS names every node
	// certificate is valid for.
	Hosts []string
}

// Functions

// bootstrapCertTempl returns a certificate template that
// has all default values for our certificates already set.
func bootstrapCertTempl(nBef time.Time, nAft time.Time) (*x509.Certificate, error) {

	// For serial number generation we need a biggest
	// number to mark the range of the serial number.
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)

	// Now generate that random number.
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, errors.Wrap(err, "could not generate random serial number")
	}

	// Build a default template we use for each certificate.
	certificateTemplate := &x509.Certificate{
		SignatureAlgorithm:    x509.SHA512WithRSA,
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"clustered internal PKI"}},
		NotBefore:             nBef,
		NotAfter:              nAft,
		BasicConstraintsValid: true,
	}

	return certificateTemplate, nil
}

// writePEM stores one PEM block at path.
func writePEM(path string, blockType string, der []byte, mode os.FileMode) error {

	file, err := os.OpenFile(path, (os.O_WRONLY | os.O_CREATE | os.O_TRUNC), mode)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()

	// Encode it in PEM format and save to disk.
	err = pem.Encode(file, &pem.Block{Type: blockType, Bytes: der})
	if err != nil {
		return errors.Wrapf(err, "failed to write %s in PEM format to disk", path)
	}

	return file.Sync()
}

// createNodeCert performs all needed actions in order to
// obtain a node's key pair and certificate signed by the
// root certificate.
func createNodeCert(logger log.Logger, dir string, name string, opts PKIOptions, nAft time.Time, rootCert *x509.Certificate, rootKey *rsa.PrivateKey) error {

	// Generate this node's key pair.
	key, err := rsa.GenerateKey(rand.Reader, opts.RSABits)
	if err != nil {
		return errors.Wrapf(err, "failed to generate key for %s", name)
	}

	// Fetch a new certificate template.
	template, err := bootstrapCertTempl(opts.ValidFrom, nAft)
	if err != nil {
		return err
	}

	// Set specific certificate values for a normal node certificate.
	template.Subject.CommonName = name
	template.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}

	for _, host := range opts.Hosts {

		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	// Create the actual node certificate.
	certDER, err := x509.CreateCertificate(rand.Reader, template, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		return errors.Wrapf(err, "failed to create DER byte representation of certificate for %s", name)
	}

	err = writePEM(filepath.Join(dir, fmt.Sprintf("%s-cert.pem", name)), "CERTIFICATE", certDER, 0644)
	if err != nil {
		return err
	}

	err = writePEM(filepath.Join(dir, fmt.Sprintf("%s-key.pem", name)), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0600)
	if err != nil {
		return err
	}

	level.Debug(logger).Log("msg", "generated node certificate", "name", name)

	return nil
}

// GeneratePKI creates a root certificate and key in dir
// and one key pair signed by it per entry of names. Files
// are called root-cert.pem, root-key.pem, <name>-cert.pem
// and <name>-key.pem.
func GeneratePKI(logger log.Logger, dir string, names []string, opts PKIOptions) error {

	if logger == nil {
		logger = log.NewNopLogger()
	}

	if opts.ValidFrom.IsZero() {
		opts.ValidFrom = time.Now()
	}

	if opts.ValidFor <= 0 {
		opts.ValidFor = 90 * 24 * time.Hour
	}

	if opts.RSABits <= 0 {
		opts.RSABits = 2048
	}

	if len(opts.Hosts) == 0 {
		opts.Hosts = []string{"127.0.0.1", "localhost"}
	}

	// Add life-time of certificates to creation date.
	notAfter := opts.ValidFrom.Add(opts.ValidFor)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create PKI directory %s", dir)
	}

	// Generate root key pair.
	rootKey, err := rsa.GenerateKey(rand.Reader, opts.RSABits)
	if err != nil {
		return errors.Wrap(err, "failed to generate root key")
	}

	// Prepare to create the root certificate which will
	// be used to sign internally used certificates.
	rootTemplate, err := bootstrapCertTempl(opts.ValidFrom, notAfter)
	if err != nil {
		return err
	}

	// Set specific certificate values for a root certificate.
	rootTemplate.IsCA = true
	rootTemplate.Subject.CommonName = "clustered root"
	rootTemplate.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign
	rootTemplate.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}

	// Create the actual root certificate.
	rootCertDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return errors.Wrap(err, "failed to create DER byte representation of root certificate")
	}

	// Parse root certificate again so that we can sign with it.
	rootCert, err := x509.ParseCertificate(rootCertDER)
	if err != nil {
		return errors.Wrap(err, "failed to parse DER root certificate to x509 certificate")
	}

	err = writePEM(filepath.Join(dir, "root-cert.pem"), "CERTIFICATE", rootCertDER, 0644)
	if err != nil {
		return err
	}

	err = writePEM(filepath.Join(dir, "root-key.pem"), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rootKey), 0600)
	if err != nil {
		return err
	}

	level.Debug(logger).Log("msg", "generated root certificate", "dir", dir)

	for _, name := range names {

		if err := createNodeCert(logger, dir, name, opts, notAfter, rootCert, rootKey); err != nil {
			return err
		}
	}

	level.Info(logger).Log("msg", "internal PKI ready", "dir", dir, "nodes", len(names))

	return nil
}
