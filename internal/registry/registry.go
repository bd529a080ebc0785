// Package registry describes the image registries a component can push to.
// The harness never talks to the registry directly; it hands the
// coordinates to the developer hub template and to CI variables.
package registry

import (
	"fmt"

	"github.com/redhat-appstudio/tssc-test/internal/config"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
)

// Registry carries the coordinates of one image registry organization.
type Registry struct {
	Type tssc.RegistryType
	Host string
	Org  string
}

// ImageName is the repository path a component's images are pushed to.
func (r *Registry) ImageName(component string) string {
	return fmt.Sprintf("%s/%s/%s", r.Host, r.Org, component)
}

// ImageURL is the full pullable reference for a tag.
func (r *Registry) ImageURL(component, tag string) string {
	return fmt.Sprintf("%s:%s", r.ImageName(component), tag)
}

// GetURL is the https endpoint of the registry API.
func (r *Registry) GetURL() string {
	return "https://" + r.Host
}

// GetImageRegistryUser returns the push account name from the
// environment.
func (r *Registry) GetImageRegistryUser() (string, error) {
	return config.Require(config.EnvImageRegistryUser)
}

// GetImageRegistryPassword returns the push account password from the
// environment.
func (r *Registry) GetImageRegistryPassword() (string, error) {
	return config.Require(config.EnvImageRegistryPassword)
}

// GetToken returns the registry API auth token, empty when none is
// configured; only quay exposes one.
func (r *Registry) GetToken() string {
	return config.Optional(config.EnvImageRegistryToken, "")
}

// hosts per registry flavour; quay is the hosted default, the others run
// in-cluster behind a route.
const (
	quayHost        = "quay.io"
	artifactoryHost = "artifactory-jcr.tssc.svc.cluster.local"
	nexusHost       = "nexus.tssc.svc.cluster.local"
)

// New resolves the registry coordinates for the given type. The
// organization comes from IMAGE_REGISTRY_ORG.
func New(registryType tssc.RegistryType) (*Registry, error) {
	org, err := config.Require(config.EnvImageRegistryOrg)
	if err != nil {
		return nil, err
	}
	switch registryType {
	case tssc.RegistryQuay:
		return &Registry{Type: registryType, Host: quayHost, Org: org}, nil
	case tssc.RegistryArtifactory:
		return &Registry{Type: registryType, Host: artifactoryHost, Org: org}, nil
	case tssc.RegistryNexus:
		return &Registry{Type: registryType, Host: nexusHost, Org: org}, nil
	default:
		return nil, errkind.New(errkind.InvalidConfig, "unsupported registry %q", registryType)
	}
}
