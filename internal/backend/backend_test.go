//nolint:gochecknoglobals // Shared test variables.
package backend

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	"go.uber.org/zap"

	"github.com/verikit/verikit/internal/config"
)

const stdTestTemplate = "{tool}_{version}_{variant}_{arch}"

var (
	stdTestArtifact = config.Artifact{
		Tool:    "inspec",
		Version: "4.18.100",
		Variant: config.Variant("ubuntu1804"),
		Arch:    config.ArchX64,
	}
	stdTestArtifactContent = []byte("tool-artifact-content")
)

func TestInstantiateTemplate(t *testing.T) {
	t.Parallel()

	testArtifact := func(v config.Variant, a config.Arch) config.Artifact {
		return config.Artifact{
			Tool:    "inspec",
			Version: "4.18.100",
			Variant: v,
			Arch:    a,
		}
	}
	strPtr := func(s string) *string {
		c := s
		return &c
	}

	testcases := map[string]struct {
		in       string
		artifact config.Artifact
		mappings TemplateMappings
		out      string
	}{
		"NoPlaceholders": {
			in:       "my-template/without_any.placeholders{in}it",
			artifact: testArtifact("ubuntu1604", config.ArchX64),
			out:      "my-template/without_any.placeholders{in}it",
		},
		"OnlyToolPlaceholder": {
			in:       "my-template/with_a.{tool}@placeholder",
			artifact: testArtifact("ubuntu1604", config.ArchX64),
			out:      "my-template/with_a.inspec@placeholder",
		},
		"Ubuntu1604X64": {
			in:       stdTestTemplate,
			artifact: testArtifact("ubuntu1604", config.ArchX64),
			out:      "inspec_4.18.100_ubuntu1604_x86_64",
		},
		"Debian9ARM64": {
			in:       stdTestTemplate,
			artifact: testArtifact("debian9", config.ArchARM64),
			out:      "inspec_4.18.100_debian9_arm64",
		},
		"Ubuntu1804X64Mapped": {
			in:       stdTestTemplate,
			artifact: testArtifact("ubuntu1804", config.ArchX64),
			mappings: TemplateMappings{X8664: strPtr("amd64")},
			out:      "inspec_4.18.100_ubuntu1804_amd64",
		},
		"Debian10ARM32Mapped": {
			in:       stdTestTemplate,
			artifact: testArtifact("debian10", config.ArchARM32),
			mappings: TemplateMappings{ARM32: strPtr("armhf")},
			out:      "inspec_4.18.100_debian10_armhf",
		},
		"CentOS7X86Mapped": {
			in:       stdTestTemplate,
			artifact: testArtifact("el7", config.ArchX86),
			mappings: TemplateMappings{X86: strPtr("i386")},
			out:      "inspec_4.18.100_el7_i386",
		},
		"NonStandardArch": {
			in:       stdTestTemplate,
			artifact: testArtifact("el8", config.Arch("rv64i")),
			out:      "inspec_4.18.100_el8_rv64i",
		},
	}

	for name := range testcases {
		tc := testcases[name]
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c := CommonConfig{Mappings: tc.mappings}
			out := c.instantiateTemplate(tc.artifact, tc.in)
			assert.Equal(t, tc.out, out)
		})
	}
}

func TestArchiveExtractionNoTemplate(t *testing.T) {
	t.Parallel()

	conf := &CommonConfig{}

	b, err := conf.extractFromArchive(zap.NewNop(), stdTestArtifactContent, "inspec", config.Artifact{})
	require.NoError(t, err)
	assert.Equal(t, stdTestArtifactContent, b)
}

func TestArchiveExtractionUnknownFormat(t *testing.T) {
	t.Parallel()

	conf := &CommonConfig{ArchivePathTemplate: "foo/bar"}

	b, err := conf.extractFromArchive(zap.NewNop(), nil, "archive.unknown", config.Artifact{})
	require.Error(t, err)
	assert.Nil(t, b)
}

func TestArchiveExtractionZIP(t *testing.T) {
	t.Parallel()

	var (
		testArchive bytes.Buffer
		conf        = &CommonConfig{ArchivePathTemplate: "{variant}/{arch}/{tool}"}
	)

	b, err := conf.extractFromArchive(zap.NewNop(), testArchive.Bytes(), "archive.zip", stdTestArtifact)
	require.Error(t, err)
	assert.Nil(t, b)

	archiveWriter := zip.NewWriter(&testArchive)
	require.NoError(t, archiveWriter.Close())
	b, err = conf.extractFromArchive(zap.NewNop(), testArchive.Bytes(), "archive.zip", stdTestArtifact)
	require.Error(t, err)
	assert.Nil(t, b)

	testArchive.Reset()
	archiveWriter = zip.NewWriter(&testArchive)
	contentWriter, err := archiveWriter.Create("ubuntu1804/x86_64/inspec")
	require.NoError(t, err)
	_, err = contentWriter.Write(stdTestArtifactContent)
	require.NoError(t, err)
	require.NoError(t, archiveWriter.Close())

	b, err = conf.extractFromArchive(zap.NewNop(), testArchive.Bytes(), "archive.zip", stdTestArtifact)
	require.NoError(t, err)
	assert.Equal(t, stdTestArtifactContent, b)
}

func TestArchiveExtractionGzipTAR(t *testing.T) {
	t.Parallel()

	var (
		testArchive bytes.Buffer
		conf        = &CommonConfig{ArchivePathTemplate: "{variant}/{arch}/{tool}"}
	)

	b, err := conf.extractFromArchive(zap.NewNop(), testArchive.Bytes(), "archive.tar.gz", stdTestArtifact)
	require.Error(t, err)
	assert.Nil(t, b)

	compressor := gzip.NewWriter(&testArchive)
	archiveWriter := tar.NewWriter(compressor)
	require.NoError(t, archiveWriter.WriteHeader(&tar.Header{
		Name: "ubuntu1804/x86_64/inspec",
		Size: int64(len(stdTestArtifactContent)),
		Mode: 0o755,
	}))
	_, err = archiveWriter.Write(stdTestArtifactContent)
	require.NoError(t, err)
	require.NoError(t, archiveWriter.Close())
	require.NoError(t, compressor.Close())

	b, err = conf.extractFromArchive(zap.NewNop(), testArchive.Bytes(), "archive.tar.gz", stdTestArtifact)
	require.NoError(t, err)
	assert.Equal(t, stdTestArtifactContent, b)
}

func TestArchiveExtractionXzTAR(t *testing.T) {
	t.Parallel()

	var (
		testArchive bytes.Buffer
		conf        = &CommonConfig{ArchivePathTemplate: "{variant}/{arch}/{tool}"}
	)

	compressor, err := xz.NewWriter(&testArchive)
	require.NoError(t, err)
	archiveWriter := tar.NewWriter(compressor)
	require.NoError(t, archiveWriter.WriteHeader(&tar.Header{
		Name: "ubuntu1804/x86_64/inspec",
		Size: int64(len(stdTestArtifactContent)),
		Mode: 0o755,
	}))
	_, err = archiveWriter.Write(stdTestArtifactContent)
	require.NoError(t, err)
	require.NoError(t, archiveWriter.Close())
	require.NoError(t, compressor.Close())

	b, err := conf.extractFromArchive(zap.NewNop(), testArchive.Bytes(), "archive.tar.xz", stdTestArtifact)
	require.NoError(t, err)
	assert.Equal(t, stdTestArtifactContent, b)
}
