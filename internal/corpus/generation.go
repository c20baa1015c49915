package corpus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// GenerationFileName is written last by every successful load.
const GenerationFileName = "generation"

// GenerationPath returns <dataDir>/generation.
func GenerationPath(dataDir string) string {
	return filepath.Join(dataDir, GenerationFileName)
}

// ReadGeneration returns the current generation, or 0 when nothing was loaded yet.
func ReadGeneration(dataDir string) (int64, error) {
	data, err := os.ReadFile(GenerationPath(dataDir))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt generation file: %w", err)
	}
	return gen, nil
}

// writeGeneration replaces the generation file through a rename so readers
// never see a partial write.
func writeGeneration(dataDir string, gen int64) error {
	path := GenerationPath(dataDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(gen, 10)+"\n"), 0644); err != nil {
		return fmt.Errorf("write generation: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write generation: %w", err)
	}
	return nil
}
