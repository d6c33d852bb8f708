// Package prompt asks the user for input on a terminal.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atinyakov/PLMSync/internal/engine"
	"github.com/atinyakov/PLMSync/internal/models"
)

// FileChooser returns an engine.FileChooser that asks on out for the working
// copy of an item and reads the answer from in. An empty answer skips the
// upload; a path that does not exist is asked again.
func FileChooser(in io.Reader, out io.Writer) engine.FileChooser {
	scanner := bufio.NewScanner(in)
	return func(ctx context.Context, item *models.Item) (string, error) {
		for {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			fmt.Fprintf(out, "CAD tool not available. Enter file path for %s %s (leave empty to skip): ", item.Type, item.ItemNumber)
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return "", fmt.Errorf("read file path: %w", err)
				}
				return "", nil
			}
			path := strings.TrimSpace(scanner.Text())
			if path == "" {
				return "", nil
			}
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintf(out, "Cannot use %q: %v\n", path, err)
				continue
			}
			return filepath.Clean(path), nil
		}
	}
}

// Confirm asks a yes/no question. Anything but y or yes is no.
func Confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true
	}
	return false
}
