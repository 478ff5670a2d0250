package config

import (
	"fmt"
	"runtime"
)

// Artifact identifies one concrete downloadable build of the verification
// tool: the tool name, its version and the OS variant / architecture the
// build targets.
type Artifact struct {
	Tool    string
	Version string
	Variant Variant
	Arch    Arch
}

func (a *Artifact) String() string {
	return fmt.Sprintf("%s-%s-%s@%s", a.Tool, a.Variant, a.Arch, a.Version)
}

// Variant selects which OS / distribution build of the tool to install,
// e.g. "ubuntu1804". The set of valid variants is defined by the catalog.
type Variant string

type Arch string

const (
	ArchARM32 Arch = "arm32"
	ArchARM64 Arch = "arm64"
	ArchX86   Arch = "x86"
	ArchX64   Arch = "x86_64"
)

func CurrentArch() Arch {
	switch runtime.GOARCH {
	case "386":
		return ArchX86
	case "amd64":
		return ArchX64
	case "arm":
		return ArchARM32
	case "arm64":
		return ArchARM64
	default:
		panic("unsupported GOARCH " + runtime.GOARCH)
	}
}
