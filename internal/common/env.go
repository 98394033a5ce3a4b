package common

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFile exports KEY=value lines from a .env file into the process environment so
// TEMPO_* credentials can live outside the TOML files. Variables already set win and
// empty values are skipped. A missing file is not an error.
// Returns the number of variables exported.
func LoadEnvFile(filePath string) (int, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return 0, nil
	}

	values, err := godotenv.Read(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}

	loaded := 0
	for key, value := range values {
		if value == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return loaded, fmt.Errorf("failed to set %s: %w", key, err)
		}
		loaded++
	}
	return loaded, nil
}
