package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/memory"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/verikit/verikit/internal/config"
)

const (
	cacheStatusFile = "cache.status.yaml"

	defaultRefreshInterval = 24 * time.Hour
)

// Remote is a location that publishes catalog layers which can be mirrored
// into the local cache.
type Remote interface {
	fmt.Stringer
	Fetch(target billy.Filesystem) error
}

var (
	_ Remote = &gitRemote{}
	_ Remote = &localRemote{}
)

// Cache mirrors remote catalog layers into a local directory that Load
// picks up as its lowest-priority layer.
type Cache struct {
	log             *zap.Logger
	refreshInterval time.Duration
	remote          Remote
	storage         billy.Filesystem
}

func NewCache(log *zap.Logger, localRoot string, settings *config.CatalogRemote) *Cache {
	cache := &Cache{
		log:             log,
		refreshInterval: settings.RefreshInterval,
		storage:         osfs.New(localRoot),
	}
	if cache.refreshInterval <= 0 {
		cache.refreshInterval = defaultRefreshInterval
	}

	switch {
	case settings.GitURL != "":
		cache.remote = &gitRemote{log: log, url: settings.GitURL}
	case settings.Local != "":
		cache.remote = &localRemote{storage: osfs.New(settings.Local), path: settings.Local}
	}
	return cache
}

type refreshStatus struct {
	LastRefresh time.Time `yaml:"last_refresh"`
}

// Refresh mirrors the remote catalog unless the previous refresh is still
// within the configured interval. A forced refresh skips the interval
// check.
func (c *Cache) Refresh(force bool) error {
	if c.remote == nil {
		c.log.Debug("No catalog remote configured. Nothing to refresh.")
		return nil
	}

	var status refreshStatus
	raw, err := util.ReadFile(c.storage, cacheStatusFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Error("Unable to read the catalog cache status file.", zap.Error(err))
		return err
	}
	if len(raw) > 0 {
		if err = yaml.Unmarshal(raw, &status); err != nil {
			c.log.Error("Unable to unmarshal the catalog cache status file.", zap.Error(err))
			return err
		}
	}

	if !force && time.Now().Before(status.LastRefresh.Add(c.refreshInterval)) {
		c.log.Sugar().Debugf("Not refreshing the catalog cache. Last refresh was at %v and the refresh interval is %v.", status.LastRefresh, c.refreshInterval)
		return nil
	}

	if err = c.remote.Fetch(c.storage); err != nil {
		return err
	}
	c.log.Sugar().Infof("Refreshed the catalog cache from %v.", c.remote)

	status.LastRefresh = time.Now()
	if raw, err = yaml.Marshal(&status); err != nil {
		c.log.Error("Unable to marshal the new catalog cache status.", zap.Error(err))
		return err
	}
	if err = util.WriteFile(c.storage, cacheStatusFile, raw, 0o644); err != nil {
		c.log.Error("Unable to update the catalog cache status file.", zap.Error(err))
		return err
	}
	return nil
}

type gitRemote struct {
	log *zap.Logger
	url string
}

func (r *gitRemote) String() string { return r.url }

func (r *gitRemote) Fetch(target billy.Filesystem) error {
	checkout := memfs.New()
	if _, err := git.Clone(memory.NewStorage(), checkout, &git.CloneOptions{
		URL:          r.url,
		SingleBranch: true,
		Depth:        1,
	}); err != nil {
		r.log.Error("Failed to clone the catalog remote.", zap.Error(err))
		return err
	}
	return copyCatalogLayers(checkout, target)
}

type localRemote struct {
	storage billy.Filesystem
	path    string
}

func (r *localRemote) String() string { return r.path }

func (r *localRemote) Fetch(target billy.Filesystem) error {
	return copyCatalogLayers(r.storage, target)
}

func copyCatalogLayers(src billy.Filesystem, dst billy.Filesystem) error {
	infos, err := src.ReadDir(".")
	if err != nil {
		return err
	}

	for _, info := range infos {
		// Anything that is not a catalog layer is skipped, including the
		// cache status file of a local remote that is itself a cache.
		if info.IsDir() || filepath.Ext(info.Name()) != ".yaml" || info.Name() == cacheStatusFile {
			continue
		}

		if err = copyFile(src, dst, info.Name()); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src billy.Filesystem, dst billy.Filesystem, name string) error {
	in, err := src.Open(name)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := dst.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
