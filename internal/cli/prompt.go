package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/mesh-intelligence/fira/pkg/types"
)

// huhPrompter asks for a projects directory on the terminal.
type huhPrompter struct{}

// PromptDirectory shows a one-field form. An aborted or empty answer is
// types.ErrNoDirectory.
func (huhPrompter) PromptDirectory(ctx context.Context) (string, error) {
	var dir string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Projects directory").
				Description("Folder holding your projects. Leave empty to use the server or cache.").
				Value(&dir).
				Validate(validateDirInput),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", fmt.Errorf("directory prompt: %w", types.ErrNoDirectory)
		}
		return "", err
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", fmt.Errorf("directory prompt: %w", types.ErrNoDirectory)
	}
	return dir, nil
}

func validateDirInput(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	info, err := os.Stat(s)
	if err != nil {
		return fmt.Errorf("cannot open %s", s)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s)
	}
	return nil
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
