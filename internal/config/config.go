package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DriverName = "verikit"

	configFileName = DriverName + "_conf.yaml"

	defaultInstallTimeout = 5 * time.Minute
)

type Global struct {
	// Root directory below which tools are installed on a target. Defaults
	// to /opt/<tool>/bin when left empty.
	InstallRoot string `yaml:"install_root"`

	// Upper bound on a single artifact download, including retries.
	InstallTimeout time.Duration `yaml:"install_timeout"`

	// Refuse to resolve variants without an explicit version pin.
	ForcePinned bool `yaml:"force_pinned"`

	CatalogRemote *CatalogRemote `yaml:"catalog_remote"`
}

type CatalogRemote struct {
	GitURL          string        `yaml:"git_url"`
	Local           string        `yaml:"local"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

func (g *Global) Timeout() time.Duration {
	if g.InstallTimeout <= 0 {
		return defaultInstallTimeout
	}
	return g.InstallTimeout
}

func (g *Global) InstallPath(tool string) string {
	if g.InstallRoot != "" {
		return filepath.Join(g.InstallRoot, tool)
	}
	return filepath.Join("/opt", tool, "bin", tool)
}

func Parse(log *zap.Logger, conf *Global) error {
	if conf == nil {
		return errors.New("can not parse configuration into nil struct")
	}

	for _, p := range AllDirs() {
		raw, err := os.ReadFile(filepath.Join(p, configFileName))
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return err
		}

		dec := yaml.NewDecoder(bytes.NewBuffer(raw))
		if err = dec.Decode(conf); err != nil {
			return err
		}
	}
	log.Sugar().Debugf("Parsed configuration:\n%+v", spew.Sdump(conf))
	return nil
}

// StorageDir holds the local catalog cache and previously downloaded
// artifacts.
func StorageDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join("/var/tmp", DriverName)
	case "linux":
		return filepath.Join("/var/cache", DriverName)
	case "windows":
		return filepath.Join(os.Getenv("PROGRAMDATA"), DriverName)
	default:
		panic("unsupported platform")
	}
}

func AllDirs() []string {
	// We need the config directories in reverse-order of priority such that we can safely unmarshal
	// them in order into the same target struct and guarantee the expected semantics.
	var dirs []string
	if p := UserDir(); p != "" {
		dirs = append(dirs, p)
	}
	if p := SystemDir(); p != "" {
		dirs = append(dirs, p)
	}
	return dirs
}

func SystemDir() string {
	switch runtime.GOOS {
	case "darwin", "linux":
		return filepath.Join("/etc", DriverName)
	case "windows":
		return filepath.Join(os.Getenv("PROGRAMDATA"), DriverName)
	default:
		panic("unsupported platform")
	}
}

func UserDir() string {
	switch runtime.GOOS {
	case "linux":
		if configPath, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
			return filepath.Join(configPath, DriverName)
		}
		fallthrough
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), ".config", DriverName)
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), DriverName)
	default:
		panic("unsupported platform")
	}
}
