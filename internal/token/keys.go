package token

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// LoadRSAKeyFromEnv loads an RSA signing key from TOKEN_PRIVATE_KEY_PEM or the file named
// by TOKEN_PRIVATE_KEY_PATH. It returns nil without error when neither is set, in which
// case tokens are signed with the shared HMAC secret.
func LoadRSAKeyFromEnv() (*rsa.PrivateKey, error) {
	pemValue := os.Getenv("TOKEN_PRIVATE_KEY_PEM")
	if pemValue == "" {
		if path := os.Getenv("TOKEN_PRIVATE_KEY_PATH"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read TOKEN_PRIVATE_KEY_PATH: %w", err)
			}
			pemValue = string(data)
		}
	}
	if pemValue == "" {
		return nil, nil
	}
	return ParseRSAPrivateKey(strings.ReplaceAll(pemValue, `\n`, "\n"))
}

// ParseRSAPrivateKey decodes a PKCS1 or PKCS8 PEM encoded RSA key.
func ParseRSAPrivateKey(pemValue string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemValue))
	if block == nil {
		return nil, fmt.Errorf("invalid private key PEM")
	}

	if parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return parsed, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("unable to parse RSA private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

func computeKID(pub *rsa.PublicKey) (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(derBytes)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
