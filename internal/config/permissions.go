package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	permOwnerRead  = 0o400
	permGroupWrite = 0o020
	permOtherRead  = 0o004
	permOtherWrite = 0o002
)

// CheckConfigPermissions validates the config file permissions.
//
// The config decides which upstream the daemon trusts and where its socket
// lives, so anything but the owner writing it is an error. A world-readable
// file only warns, since export recipients are public keys.
func CheckConfigPermissions(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("config path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat config %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("config %s must be a regular file", path)
	}
	perms := info.Mode().Perm()
	if perms&permOwnerRead == 0 {
		return "", fmt.Errorf("config %s must be readable by owner (mode %04o)", path, perms)
	}
	if perms&(permGroupWrite|permOtherWrite) != 0 {
		return "", fmt.Errorf("config %s must only be writable by its owner (mode %04o)", path, perms)
	}
	if perms&permOtherRead != 0 {
		return fmt.Sprintf("config %s is world-readable (mode %04o); consider chmod 0640", path, perms), nil
	}
	return "", nil
}
