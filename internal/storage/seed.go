package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/providentiaww/taskflow/internal/models"
)

// Seed is the layout of a fixture file used to populate a store in single-process mode.
type Seed struct {
	Users    []models.User    `json:"users"`
	Projects []models.Project `json:"projects"`
	Tasks    []models.Task    `json:"tasks"`
}

type seedUser struct {
	models.User
	PasswordHash string `json:"password_hash"`
}

// LoadSeedFile reads a JSON fixture file and inserts its rows into store in dependency
// order. An empty path or a missing file is not an error.
func LoadSeedFile(ctx context.Context, path string, store Store) error {
	if path == "" {
		return nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var raw struct {
		Users    []seedUser       `json:"users"`
		Projects []models.Project `json:"projects"`
		Tasks    []models.Task    `json:"tasks"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to parse seed file: %w", err)
		}
	}

	seed := Seed{Projects: raw.Projects, Tasks: raw.Tasks}
	for _, u := range raw.Users {
		u.User.PasswordHash = u.PasswordHash
		seed.Users = append(seed.Users, u.User)
	}
	return Apply(ctx, seed, store)
}

// Apply inserts the seed rows into store.
func Apply(ctx context.Context, seed Seed, store Store) error {
	for i := range seed.Users {
		if err := store.CreateUser(ctx, &seed.Users[i]); err != nil {
			return fmt.Errorf("seed user %q: %w", seed.Users[i].Username, err)
		}
	}
	for i := range seed.Projects {
		if err := store.CreateProject(ctx, &seed.Projects[i]); err != nil {
			return fmt.Errorf("seed project %q: %w", seed.Projects[i].Name, err)
		}
	}
	for i := range seed.Tasks {
		if err := store.CreateTask(ctx, &seed.Tasks[i]); err != nil {
			return fmt.Errorf("seed task %q: %w", seed.Tasks[i].Title, err)
		}
	}
	return nil
}
