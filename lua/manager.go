package lua

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samaelod/scpsim/types"
)

// SaveToRecent stores a scenario in recentDir under the original file's base
// name with an incrementing suffix (name_1.lua, name_2.lua, ...). Lua sources
// are copied verbatim to keep their comments; anything else is generated
// from sc. Returns the path to the newly created file.
func SaveToRecent(sc *types.Scenario, originalPath, recentDir string) (string, error) {
	if recentDir == "" {
		recentDir = "recent"
	}

	// Create 'recent' directory if it doesn't exist
	if err := os.MkdirAll(recentDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recent directory: %w", err)
	}

	baseName := filepath.Base(originalPath)
	ext := filepath.Ext(baseName)
	nameWithoutExt := strings.TrimSuffix(baseName, ext)
	if nameWithoutExt == "" || nameWithoutExt == "." {
		nameWithoutExt = "session"
	}

	counter := 1
	var newPath string
	for {
		newFilename := fmt.Sprintf("%s_%d.lua", nameWithoutExt, counter)
		newPath = filepath.Join(recentDir, newFilename)

		if _, err := os.Stat(newPath); os.IsNotExist(err) {
			break // Found a free name
		}
		counter++
	}

	f, err := os.Create(newPath)
	if err != nil {
		return "", fmt.Errorf("failed to create scenario file: %w", err)
	}
	defer f.Close()

	if strings.HasSuffix(originalPath, ".lua") {
		src, err := os.Open(originalPath)
		if err != nil {
			return "", fmt.Errorf("failed to open source lua file: %w", err)
		}
		defer src.Close()

		if _, err := io.Copy(f, src); err != nil {
			return "", fmt.Errorf("failed to copy lua content: %w", err)
		}
	} else {
		if err := WriteScenario(f, sc); err != nil {
			return "", fmt.Errorf("failed to write scenario to lua: %w", err)
		}
	}

	return newPath, nil
}
