// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pki monta a configuração TLS do lado client do nviewer. O
// protocolo autentica com senha cifrada em RSA, então não há certificado
// de client; o TLS cobre a verificação do server e a confidencialidade do
// link.
package pki

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// NewClientTLSConfig cria a configuração TLS para conectar ao host de
// virtualização. Se caCertPath não for vazio, a CA é usada para validar o
// server; caso contrário vale o pool do sistema. serverName alimenta a
// verificação de hostname (RFC 6125) feita pelo próprio crypto/tls.
// insecureSkipVerify desabilita a verificação por completo, para labs com
// certificados self-signed fora de uma CA.
func NewClientTLSConfig(caCertPath, serverName string, insecureSkipVerify bool) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         serverName,
		InsecureSkipVerify: insecureSkipVerify,
	}

	if caCertPath != "" {
		pool, err := loadCACertPool(caCertPath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

func loadCACertPool(caCertPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate from %s", caCertPath)
	}

	return pool, nil
}
