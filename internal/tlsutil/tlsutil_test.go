package tlsutil_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/relay/internal/tlsutil"
)

func generateTestCert() (certPEM, keyPEM []byte) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	Expect(err).NotTo(HaveOccurred())

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "relay"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	Expect(err).NotTo(HaveOccurred())

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	return certPEM, keyPEM
}

var _ = Describe("tlsutil", func() {
	var (
		dir               string
		certFile, keyFile string
		garbageFile       string
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "tlsutil")
		Expect(err).NotTo(HaveOccurred())

		certPEM, keyPEM := generateTestCert()

		certFile = filepath.Join(dir, "cert.pem")
		keyFile = filepath.Join(dir, "key.pem")
		garbageFile = filepath.Join(dir, "garbage.pem")

		Expect(os.WriteFile(certFile, certPEM, 0600)).To(Succeed())
		Expect(os.WriteFile(keyFile, keyPEM, 0600)).To(Succeed())
		Expect(os.WriteFile(garbageFile, []byte("not a certificate"), 0600)).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	Describe("LoadServerConfig()", func() {
		It("returns nil without a certificate", func() {
			cfg, err := tlsutil.LoadServerConfig(tlsutil.ServerConfig{})
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(BeNil())
		})

		It("loads the key pair", func() {
			cfg, err := tlsutil.LoadServerConfig(tlsutil.ServerConfig{
				CertFile:   certFile,
				KeyFile:    keyFile,
				MinVersion: "1.3",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Certificates).To(HaveLen(1))
			Expect(cfg.MinVersion).To(Equal(uint16(tls.VersionTLS13)))
			Expect(cfg.ClientAuth).To(Equal(tls.NoClientCert))
		})

		It("requires client certificates when client CAs are given", func() {
			cfg, err := tlsutil.LoadServerConfig(tlsutil.ServerConfig{
				CertFile:      certFile,
				KeyFile:       keyFile,
				ClientCAFiles: []string{certFile},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.ClientAuth).To(Equal(tls.RequireAndVerifyClientCert))
			Expect(cfg.MinVersion).To(Equal(uint16(tls.VersionTLS12)))
		})

		It("fails on a missing key", func() {
			_, err := tlsutil.LoadServerConfig(tlsutil.ServerConfig{
				CertFile: certFile,
				KeyFile:  filepath.Join(dir, "missing.pem"),
			})
			Expect(err).To(HaveOccurred())
		})

		It("fails on a client CA that is not PEM", func() {
			_, err := tlsutil.LoadServerConfig(tlsutil.ServerConfig{
				CertFile:      certFile,
				KeyFile:       keyFile,
				ClientCAFiles: []string{garbageFile},
			})
			Expect(errors.Is(err, tlsutil.ErrInvalidPEM)).To(BeTrue())
		})
	})

	Describe("LoadClientConfig()", func() {
		It("trusts additional CAs", func() {
			cfg, err := tlsutil.LoadClientConfig(tlsutil.ClientConfig{
				CAFiles:    []string{certFile},
				ServerName: "relay.local",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.RootCAs).NotTo(BeNil())
			Expect(cfg.ServerName).To(Equal("relay.local"))
			Expect(cfg.InsecureSkipVerify).To(BeFalse())
			Expect(cfg.Certificates).To(BeEmpty())
		})

		It("loads a client certificate", func() {
			cfg, err := tlsutil.LoadClientConfig(tlsutil.ClientConfig{
				CertFile:           certFile,
				KeyFile:            keyFile,
				InsecureSkipVerify: true,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Certificates).To(HaveLen(1))
			Expect(cfg.InsecureSkipVerify).To(BeTrue())
		})

		It("fails on a missing CA file", func() {
			_, err := tlsutil.LoadClientConfig(tlsutil.ClientConfig{
				CAFiles: []string{filepath.Join(dir, "missing.pem")},
			})
			Expect(err).To(HaveOccurred())
		})

		It("fails on a CA file that is not PEM", func() {
			_, err := tlsutil.LoadClientConfig(tlsutil.ClientConfig{
				CAFiles: []string{garbageFile},
			})
			Expect(errors.Is(err, tlsutil.ErrInvalidPEM)).To(BeTrue())
		})
	})

	It("produces configs that can talk to each other", func() {
		serverCfg, err := tlsutil.LoadServerConfig(tlsutil.ServerConfig{CertFile: certFile, KeyFile: keyFile})
		Expect(err).NotTo(HaveOccurred())

		clientCfg, err := tlsutil.LoadClientConfig(tlsutil.ClientConfig{CAFiles: []string{certFile}, ServerName: "127.0.0.1"})
		Expect(err).NotTo(HaveOccurred())

		ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
		Expect(err).NotTo(HaveOccurred())
		defer ln.Close()

		go func() {
			defer GinkgoRecover()

			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()

			buf := make([]byte, 4)
			if _, err := conn.Read(buf); err == nil {
				conn.Write(buf)
			}
		}()

		conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		_, err = conn.Write([]byte("ping"))
		Expect(err).NotTo(HaveOccurred())

		buf := make([]byte, 4)
		_, err = conn.Read(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(buf)).To(Equal("ping"))
	})
})
