package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/providentiaww/taskflow/internal/auth"
	"github.com/providentiaww/taskflow/internal/token"
	"gopkg.in/yaml.v3"
)

// AccessPolicy is the YAML document describing role time windows and public paths.
//
//	role_windows:
//	  User: {start: "20:00", end: "23:59"}
//	public_prefixes: ["/account/login", "/health"]
type AccessPolicy struct {
	RoleWindows    map[string]token.Window `yaml:"role_windows"`
	PublicPrefixes []string                `yaml:"public_prefixes"`
}

// DefaultAccessPolicy is used when no policy file is configured.
func DefaultAccessPolicy() AccessPolicy {
	return AccessPolicy{
		RoleWindows:    auth.DefaultRoleWindows(),
		PublicPrefixes: append([]string(nil), auth.DefaultPublicPrefixes...),
	}
}

// LoadAccessPolicy reads path. An empty path or a missing file yields the defaults; sections
// left out of the file keep their defaults.
func LoadAccessPolicy(path string) (AccessPolicy, error) {
	policy := DefaultAccessPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return policy, nil
	}
	if err != nil {
		return policy, fmt.Errorf("failed to read access policy: %w", err)
	}

	var file AccessPolicy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return policy, fmt.Errorf("failed to parse access policy %s: %w", path, err)
	}
	if file.RoleWindows != nil {
		policy.RoleWindows = file.RoleWindows
	}
	if file.PublicPrefixes != nil {
		policy.PublicPrefixes = file.PublicPrefixes
	}
	return policy, nil
}
