package installer

import (
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/verikit/verikit/internal/catalog"
)

// CommandRunner executes a host command and returns its combined output. It
// exists so that package-manager invocations can be intercepted in tests.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// installPackage hands a verified package artifact to the host's package
// manager. The artifact stays at its destination afterwards so that repeated
// installs can short-circuit on its digest.
func (i *Installer) installPackage(ctx context.Context, log *zap.Logger, format catalog.Format, path string) error {
	var name string
	var args []string
	switch format {
	case catalog.FormatDeb:
		name, args = "dpkg", []string{"-i", path}
	case catalog.FormatRPM:
		name, args = "rpm", []string{"-U", "--replacepkgs", path}
	default:
		return fmt.Errorf("%w: no package manager known for format %q", ErrPackageInstall, format)
	}

	log.Debug("Handing the artifact to the package manager.", zap.String("command", name))
	out, err := i.runner.Run(ctx, name, args...)
	if err != nil {
		log.Error("The package manager failed to install the artifact.",
			zap.Error(err),
			zap.ByteString("output", out),
		)
		return fmt.Errorf("%w: %s: %w", ErrPackageInstall, name, err)
	}
	return nil
}
