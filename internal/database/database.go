package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"
)

// Open creates a connection pool and checks that the database answers
func Open(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(dbURL) == "" {
		var err error
		if dbURL, err = LoadDatabaseURL(); err != nil {
			return nil, fmt.Errorf("failed to get database URL: %w", err)
		}
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return pool, nil
}

// Migrate applies the River queue schema and then the given statements
func Migrate(ctx context.Context, pool *pgxpool.Pool, schemas ...string) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create river migrator: %w", err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to migrate river schema: %w", err)
	}
	for _, v := range res.Versions {
		log.Info().Int("version", v.Version).Msg("Applied river migration")
	}

	for _, schema := range schemas {
		if _, err := pool.Exec(ctx, schema); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// LoadDatabaseURL reads DATABASE_URL from the environment, or from the
// nearest .env file found walking up from the working directory.
func LoadDatabaseURL() (string, error) {
	if direct := strings.TrimSpace(os.Getenv("DATABASE_URL")); direct != "" {
		return direct, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	envPath, err := findEnvFile(wd)
	if err != nil {
		return "", err
	}

	values, err := godotenv.Read(envPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", envPath, err)
	}

	value, ok := values["DATABASE_URL"]
	if !ok {
		return "", errors.New("DATABASE_URL not found in environment or .env")
	}
	if value = strings.TrimSpace(value); value == "" {
		return "", errors.New("DATABASE_URL is empty in .env")
	}
	return value, nil
}

func findEnvFile(start string) (string, error) {
	dir := start
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf(".env not found starting from %s", start)
}
