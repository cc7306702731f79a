package imagelist

import (
	"fmt"
	"strings"

	"oras.land/oras-go/v2/registry"
)

const (
	// DockerHubRegistry is assumed for references without a registry.
	DockerHubRegistry = "docker.io"
	// DefaultTag is assumed for references without tag or digest.
	DefaultTag = "latest"

	dockerHubLibrary = "library"
)

// isRegistry reports whether the first path segment of a reference names a registry.
func isRegistry(segment string) bool {
	return strings.ContainsAny(segment, ".:") || segment == "localhost"
}

func segments(image string) []string {
	var s []string
	for _, v := range strings.Split(image, "/") {
		if v != "" {
			s = append(s, v)
		}
	}
	return s
}

// ConstructRegistry sets the registry of image.
//
// If registryOverride is empty, a missing registry defaults to DockerHubRegistry:
//
//	nginx -> docker.io/nginx
//	reg.io/user/nginx -> reg.io/user/nginx
//
// Otherwise the registry is replaced or added:
//
//	nginx -> ${registryOverride}/nginx
//	reg.io/user/nginx -> ${registryOverride}/user/nginx
func ConstructRegistry(image, registryOverride string) string {
	s := segments(image)
	if len(s) == 0 {
		return image
	}
	hasRegistry := len(s) > 1 && isRegistry(s[0])
	switch {
	case hasRegistry && registryOverride != "":
		s[0] = registryOverride
	case hasRegistry:
	case registryOverride != "":
		s = append([]string{registryOverride}, s...)
	default:
		s = append([]string{DockerHubRegistry}, s...)
	}
	return strings.Join(s, "/")
}

// ReplaceProjectName replaces the project (the first path segment after the registry) of image.
//
// If project is empty, the project is removed:
//
//	reg.io/user/nginx -> reg.io/nginx
//
// Otherwise it is replaced or added:
//
//	nginx -> ${project}/nginx
//	reg.io/nginx -> reg.io/${project}/nginx
//	reg.io/user/nginx -> reg.io/${project}/nginx
func ReplaceProjectName(image, project string) string {
	s := segments(image)
	switch len(s) {
	case 1:
		if project != "" {
			s = []string{project, s[0]}
		}
	case 2:
		if project == "" {
			break
		}
		if isRegistry(s[0]) {
			s = []string{s[0], project, s[1]}
		} else {
			s = []string{project, s[1]}
		}
	case 0:
	default:
		if project != "" {
			s[1] = project
		} else {
			s = append([]string{s[0]}, s[2:]...)
		}
	}
	return strings.Join(s, "/")
}

// ProjectName returns the project of image, or an empty string if it has none.
func ProjectName(image string) string {
	s := segments(image)
	switch {
	case len(s) == 2 && !isRegistry(s[0]):
		return s[0]
	case len(s) >= 3:
		return s[1]
	default:
		return ""
	}
}

// Split separates a reference into its repository and its tag or digest.
// A reference without either gets DefaultTag.
func Split(reference string) (repository, tagOrDigest string) {
	if i := strings.LastIndex(reference, "@"); i >= 0 {
		return reference[:i], reference[i+1:]
	}
	i := strings.LastIndex(reference, ":")
	if i < 0 || strings.Contains(reference[i:], "/") {
		return reference, DefaultTag
	}
	return reference[:i], reference[i+1:]
}

// Normalize turns image into a fully qualified reference with registry and tag or digest,
// validated by the OCI distribution grammar. Docker Hub images without a namespace are
// placed in the library namespace.
func Normalize(image, registryOverride string) (string, error) {
	repository, tag := Split(ConstructRegistry(image, registryOverride))
	if s := segments(repository); len(s) == 2 && s[0] == DockerHubRegistry {
		repository = strings.Join([]string{s[0], dockerHubLibrary, s[1]}, "/")
	}
	sep := ":"
	if strings.Contains(tag, ":") {
		sep = "@"
	}
	normalized := repository + sep + tag
	ref, err := registry.ParseReference(normalized)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", image, err)
	}
	return ref.String(), nil
}
