package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

// Encrypted credential file layout: [salt][nonce][ciphertext+tag].
const (
	secretsFileName = "secrets.json.enc"
	saltSize        = 16
	nonceSize       = 12
	scryptN         = 32768 // 2^15
	scryptR         = 8
	scryptP         = 1
	keySize         = 32 // AES-256
)

// RelayTokenSecret is the secret name holding the relay auth token.
const RelayTokenSecret = "COLONY_RELAY_TOKEN"

// AuthError reports missing or rejected credentials at the credential
// provider boundary.
type AuthError struct {
	Msg string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Msg, e.Err)
	}
	return "auth: " + e.Msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// GetSecret resolves a secret by name: decrypted secrets file first (when a
// password is supplied), then environment variables.
func GetSecret(dir, name, password string) (string, error) {
	if password != "" && SecretsFileExists(dir) {
		secrets, err := DecryptSecretsFile(dir, password)
		if err != nil {
			return "", err
		}
		if value, ok := secrets[name]; ok && value != "" {
			return value, nil
		}
	}

	if value := os.Getenv(name); value != "" {
		return value, nil
	}

	return "", &AuthError{Msg: fmt.Sprintf("secret %s not found in secrets file or environment", name)}
}

// SecretsFileExists checks whether the encrypted secrets file is present.
func SecretsFileExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ColonyDirName, secretsFileName))
	return err == nil
}

// EncryptSecretsFile encrypts and saves secrets to .colony/secrets.json.enc
// with 0600 permissions.
func EncryptSecretsFile(dir, password string, secrets map[string]string) error {
	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return fmt.Errorf("failed to derive encryption key: %w", err)
	}
	defer zero(key)

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	colonyDir := filepath.Join(dir, ColonyDirName)
	if err := os.MkdirAll(colonyDir, 0755); err != nil {
		return fmt.Errorf("failed to create colony directory: %w", err)
	}

	path := filepath.Join(colonyDir, secretsFileName)
	if err := os.WriteFile(path, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// DecryptSecretsFile decrypts and returns secrets from .colony/secrets.json.enc.
func DecryptSecretsFile(dir, password string) (map[string]string, error) {
	path := filepath.Join(dir, ColonyDirName, secretsFileName)

	info, err := os.Stat(path)
	if err != nil {
		return nil, &AuthError{Msg: "secrets file not readable", Err: err}
	}

	// Loose permissions leak credentials to other local users; tighten them.
	if info.Mode().Perm() != 0600 {
		if chmodErr := os.Chmod(path, 0600); chmodErr != nil {
			return nil, fmt.Errorf("failed to fix secrets file permissions: %w", chmodErr)
		}
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}

	minSize := saltSize + nonceSize + 16 // 16 is the GCM tag size
	if len(fileData) < minSize {
		return nil, &AuthError{Msg: "secrets file is corrupted or invalid format (too small)"}
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive decryption key: %w", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &AuthError{Msg: "decryption failed (wrong password or corrupted file)"}
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return secrets, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
