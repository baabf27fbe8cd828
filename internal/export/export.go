// Package export writes telemetry and instance logs as downloadable JSON,
// optionally encrypted to age recipients.
package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"filippo.io/age"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
)

// EncryptedSuffix is appended to filenames of age-encrypted exports.
const EncryptedSuffix = ".age"

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func stamp(now time.Time) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(models.FormatTimestamp(now))
}

// TelemetryFilename names a full buffer export.
func TelemetryFilename(now time.Time) string {
	return fmt.Sprintf("vex_telemetry_%s.json", stamp(now))
}

// InstanceFilename names a single instance log export.
func InstanceFilename(instance string, now time.Time) string {
	return fmt.Sprintf("vex_instance_%s_%s.json", SafeName(instance), stamp(now))
}

// SafeName replaces every run of characters outside [A-Za-z0-9_-] with "_".
func SafeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// ParseRecipients parses X25519 recipients, one per entry. Blank entries and
// comments are skipped.
func ParseRecipients(values []string) ([]age.Recipient, error) {
	var recipients []age.Recipient
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" || strings.HasPrefix(value, "#") {
			continue
		}
		recipient, err := age.ParseX25519Recipient(value)
		if err != nil {
			return nil, fmt.Errorf("parse age recipient: %w", err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

// Write encodes payload as indented JSON. With recipients the output is an
// age ciphertext instead.
func Write(w io.Writer, payload any, recipients []age.Recipient) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	data = append(data, '\n')
	if len(recipients) == 0 {
		_, err = w.Write(data)
		return err
	}
	enc, err := age.Encrypt(w, recipients...)
	if err != nil {
		return fmt.Errorf("encrypt export: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		return fmt.Errorf("encrypt export: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finish encrypted export: %w", err)
	}
	return nil
}

// Filename appends EncryptedSuffix when the export is encrypted.
func Filename(base string, encrypted bool) string {
	if encrypted {
		return base + EncryptedSuffix
	}
	return base
}

// ReadFile reads an export from disk, decrypting it with the identities in
// keyPath when the file ends in EncryptedSuffix.
func ReadFile(path, keyPath string) ([]byte, error) {
	if !strings.HasSuffix(path, EncryptedSuffix) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read export %s: %w", path, err)
		}
		return data, nil
	}
	if strings.TrimSpace(keyPath) == "" {
		return nil, errors.New("age key path is required for .age exports")
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read age key %s: %w", keyPath, err)
	}
	identities, err := ParseIdentities(keyData)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export %s: %w", path, err)
	}
	defer file.Close()
	reader, err := age.Decrypt(file, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypt export %s: %w", path, err)
	}
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read export %s: %w", path, err)
	}
	return payload, nil
}

// ParseIdentities reads AGE-SECRET-KEY lines from an age key file.
func ParseIdentities(data []byte) ([]age.Identity, error) {
	var identities []age.Identity
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "AGE-SECRET-KEY-") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parse age identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read age key: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("no age identities found")
	}
	return identities, nil
}
