// Package certs は TLS リスナー用の証明書の読み込みと自己署名証明書の生成を提供します。
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
)

// selfSignedValidity は自己署名証明書の有効期間です。
const selfSignedValidity = 365 * 24 * time.Hour

// PEMPair は PEM 形式の証明書と秘密鍵です。
type PEMPair struct {
	Cert []byte
	Key  []byte
}

// GenerateSelfSigned は hosts を SAN に持つ自己署名の ECDSA P-256 証明書を生成します。
// IP アドレスとして解釈できるものは IP SAN、それ以外は DNS SAN になります。
func GenerateSelfSigned(hosts []string) (*PEMPair, error) {
	if len(hosts) == 0 {
		hosts = []string{"localhost"}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.Code("TLS_KEYGEN_FAILED").Wrap(err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, oops.Code("TLS_KEYGEN_FAILED").With("operation", "serial").Wrap(err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"University"},
			CommonName:   hosts[0],
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(selfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, oops.Code("TLS_CERT_CREATE_FAILED").Wrap(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, oops.Code("TLS_CERT_CREATE_FAILED").With("operation", "marshal key").Wrap(err)
	}

	return &PEMPair{
		Cert: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		Key:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}, nil
}

// Save は証明書と秘密鍵を dir に server.crt / server.key として保存します。
func (p *PEMPair) Save(dir string) (certPath, keyPath string, err error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", oops.Code("TLS_SAVE_FAILED").With("dir", dir).Wrap(err)
	}
	certPath = filepath.Join(dir, "server.crt")
	keyPath = filepath.Join(dir, "server.key")
	if err := os.WriteFile(certPath, p.Cert, 0o644); err != nil {
		return "", "", oops.Code("TLS_SAVE_FAILED").With("path", certPath).Wrap(err)
	}
	if err := os.WriteFile(keyPath, p.Key, 0o600); err != nil {
		return "", "", oops.Code("TLS_SAVE_FAILED").With("path", keyPath).Wrap(err)
	}
	return certPath, keyPath, nil
}

// ServerConfig は TLS リスナー用の設定を返します。
// certFile / keyFile が空の場合は hosts 向けの自己署名証明書をメモリ上で生成します。
func ServerConfig(certFile, keyFile string, hosts []string) (*tls.Config, error) {
	var (
		cert tls.Certificate
		err  error
	)
	if certFile != "" && keyFile != "" {
		cert, err = tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
		if err != nil {
			return nil, oops.Code("TLS_LOAD_FAILED").With("cert", certFile).Wrap(err)
		}
	} else {
		pair, genErr := GenerateSelfSigned(hosts)
		if genErr != nil {
			return nil, genErr
		}
		cert, err = tls.X509KeyPair(pair.Cert, pair.Key)
		if err != nil {
			return nil, oops.Code("TLS_LOAD_FAILED").Wrap(err)
		}
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}
