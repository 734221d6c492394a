package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/a-marczewski/aifred/internal/memory"
	"github.com/a-marczewski/aifred/internal/vault"
)

// Ingester stores files in the memory vault and returns the resulting items.
type Ingester interface {
	IngestPaths(ctx context.Context, paths []string) ([]memory.VaultItem, error)
}

// FolderScanner ingests matching files from a local folder. It only runs on
// desktop platforms.
type FolderScanner struct {
	Ingester Ingester
	Desktop  bool
}

func (FolderScanner) Name() string { return "scan_folder" }

func (FolderScanner) Description() string {
	return "Scan a desktop folder for files and ingest matched items into Memory Vault. Requires explicit user confirmation."
}

func (FolderScanner) Parameters() map[string]any {
	types := make([]string, 0, len(memory.AllTypes))
	for _, t := range memory.AllTypes {
		types = append(types, string(t))
	}
	return schema([]string{"path", "recursive", "fileTypes"}, map[string]any{
		"path":      map[string]any{"type": "string", "description": "Absolute folder path on desktop"},
		"recursive": map[string]any{"type": "boolean"},
		"fileTypes": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "enum": types},
		},
	})
}

func (s FolderScanner) Call(ctx context.Context, input string) (string, error) {
	if !s.Desktop || s.Ingester == nil {
		return "", errors.New("scan_folder is desktop-only")
	}

	args := parseArgs(input)
	recursive, _ := args["recursive"].(bool)
	var fileTypes []string
	if raw, ok := args["fileTypes"].([]any); ok {
		for _, v := range raw {
			if str, ok := v.(string); ok {
				fileTypes = append(fileTypes, str)
			}
		}
	}

	paths, err := vault.Collect(stringArg(args, "path"), recursive, fileTypes)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return encodeResult(map[string]any{
			"matched":  0,
			"ingested": 0,
			"message":  "No matching files found",
		})
	}

	items, err := s.Ingester.IngestPaths(ctx, paths)
	if err != nil {
		return "", fmt.Errorf("failed to ingest files: %w", err)
	}
	return encodeResult(map[string]any{
		"matched":  len(paths),
		"ingested": len(items),
		"message":  fmt.Sprintf("Ingested %d files into Memory Vault", len(items)),
	})
}

// Default returns the standard registry. scanner may be nil to leave
// scan_folder out. timezone is the clock's default zone.
func Default(scanner *FolderScanner, timezone string) *Registry {
	r := NewRegistry(Clock{Default: timezone}, Calculator{}, Dice{})
	if scanner != nil {
		r.Register(*scanner)
	}
	return r
}
