package catalog

import (
	"github.com/verikit/verikit/internal/config"
)

// Target is one platform instance of the harness scenario: the image the
// orchestrator provisions, the variant key selecting which tool build it
// receives and the variable overrides injected into its provisioning run.
type Target struct {
	Name          string         `yaml:"name"`
	Variant       config.Variant `yaml:"variant"`
	CommunityRepo bool           `yaml:"community_repo"`

	Vars map[string]string `yaml:"vars"`
}

// PinnedVersion returns the tool version pinned for this target through its
// variable overrides, or an empty string when the target follows the
// catalog's highest published version.
func (t *Target) PinnedVersion() string {
	return t.Vars["version"]
}
