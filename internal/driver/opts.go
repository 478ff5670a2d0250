package driver

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/verikit/verikit/internal/catalog"
	"github.com/verikit/verikit/internal/config"
	"github.com/verikit/verikit/internal/logger"
)

var (
	ErrNoCatalog      = errors.New("no catalog layers were found")
	ErrNoTarget       = errors.New("target unknown in current catalog")
	ErrNoVariantSet   = errors.New("no variant or target set")
	ErrPinRequired    = fmt.Errorf("configuration enforces pinned versions (%s_conf.yaml: force_pinned)", config.DriverName)
	ErrNoRemoteSet    = errors.New("no catalog remote configured")
	ErrMixedSelection = errors.New("a destination override requires a single target or variant")
)

type CommonOpts struct {
	LogBuilder *logger.Builder
	Log        *zap.Logger
	Config     *config.Global
	Catalog    *catalog.Catalog
	Verbose    []string
}

func NewCommonOpts() *CommonOpts {
	return &CommonOpts{
		LogBuilder: logger.NewBuilder(os.Stderr),
		Config:     &config.Global{},
		Catalog:    catalog.New(),
	}
}

func (c *CommonOpts) Parse() error {
	for _, domain := range c.Verbose {
		c.LogBuilder.SetDomainLevel(domain, zapcore.DebugLevel)
	}
	c.Log = c.LogBuilder.Domain(logger.CLIDomain)

	if err := config.Parse(c.LogBuilder.Domain(logger.InitDomain), c.Config); err != nil {
		return err
	}

	if err := catalog.Load(c.Config, c.Catalog); err != nil {
		return err
	}
	return nil
}
