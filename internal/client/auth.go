// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"errors"
	"fmt"
)

// Erros de autenticação.
var (
	ErrBadPublicKey    = errors.New("client: peer public key is not a usable RSA key")
	ErrPasswordTooLong = errors.New("client: password exceeds RSA-OAEP limit")
)

// encryptPassword cifra password||NUL com RSA-OAEP (SHA-1) usando a chave
// pública DER (SubjectPublicKeyInfo) do peer. O ciphertext tem exatamente
// o tamanho do módulo. O plaintext intermediário é zerado antes do
// retorno; o padding OAEP limita password||NUL a módulo − 42 bytes, ou
// seja, a senha a no máximo módulo − 43 bytes.
func encryptPassword(pubKeyDER []byte, password string) ([]byte, error) {
	pub, err := x509.ParsePKIXPublicKey(pubKeyDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrBadPublicKey, pub)
	}

	k := rsaPub.Size()
	if len(password)+1 >= k-41 {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPasswordTooLong,
			len(password), k-43)
	}

	plaintext := make([]byte, len(password)+1)
	copy(plaintext, password)
	defer wipe(plaintext)

	ciphertext, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, rsaPub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypting password: %w", err)
	}
	if len(ciphertext) != k {
		wipe(ciphertext)
		return nil, fmt.Errorf("client: ciphertext length %d, expected modulus size %d",
			len(ciphertext), k)
	}
	return ciphertext, nil
}

// wipe zera um buffer sensível antes de soltá-lo para o GC.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
