package app

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	payloadschema "horse.fit/eventmerge/schema"
)

var batchExtensions = []string{".json", ".ndjson", ".jsonl"}

type validateResult struct {
	Files        int
	Items        int
	ValidItems   int
	InvalidItems int
	BrokenFiles  int
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	dir := fs.String("dir", "testdata/candidates", "Directory containing candidate batch files (.json, .ndjson, .jsonl)")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	root := strings.TrimSpace(*dir)
	files, err := collectBatchFiles(root, *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation setup failed: %v\n", err)
		return 1
	}

	var result validateResult
	for _, path := range files {
		result.Files++
		validateFile(path, &result)
	}

	fmt.Printf(
		"validate files=%d items=%d valid=%d invalid=%d broken_files=%d dir=%s recursive=%t\n",
		result.Files,
		result.Items,
		result.ValidItems,
		result.InvalidItems,
		result.BrokenFiles,
		root,
		*recursive,
	)

	if result.Files == 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: no batch files found under %s\n", root)
		return 1
	}
	if result.InvalidItems > 0 || result.BrokenFiles > 0 {
		return 1
	}
	return 0
}

func validateFile(path string, result *validateResult) {
	raw, err := os.ReadFile(path)
	if err != nil {
		result.BrokenFiles++
		fmt.Fprintf(os.Stderr, "INVALID %s: read failed: %v\n", path, err)
		return
	}

	candidates, itemErrs, err := payloadschema.ParseBatch(raw)
	if err != nil {
		result.BrokenFiles++
		fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
		return
	}

	result.Items += len(candidates) + len(itemErrs)
	result.ValidItems += len(candidates)
	result.InvalidItems += len(itemErrs)
	for _, ie := range itemErrs {
		fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, ie)
	}
}

func isBatchFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range batchExtensions {
		if ext == want {
			return true
		}
	}
	return false
}

func collectBatchFiles(root string, recursive bool) ([]string, error) {
	if root == "" {
		return nil, fmt.Errorf("directory path is empty")
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		if !isBatchFile(root) {
			return nil, fmt.Errorf("%s is not a batch file", root)
		}
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if path == root {
				return nil
			}
			if hidden || !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !hidden && isBatchFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}
