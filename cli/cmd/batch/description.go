package batch

import "fmt"

// Endpoint is where the images of a batch command are read from or written to.
type Endpoint int

const (
	EndpointRegistry Endpoint = iota
	EndpointArchive
)

func (e Endpoint) String() string {
	if e == EndpointArchive {
		return "archive"
	}
	return "registry"
}

// Description tags one batch command. Every batch command runs the same transfer.Runner,
// the description only decides which endpoints are wired and which flags are offered.
type Description struct {
	Name    string
	Short   string
	Long    string
	Example string

	Source      Endpoint
	Destination Endpoint
	// Merge adds to an existing destination archive instead of creating a new one.
	Merge bool
	// ProjectFlag is the name of the flag replacing the project of destinations, if any.
	ProjectFlag string
	// Policy offers the provenance and signature flags.
	Policy bool
	// FailedList is the default path the failed images are written to.
	FailedList string
}

var (
	Save = Description{
		Name:  "save",
		Short: "Save images from registries into an archive",
		Long: `Save copies the images of an image list from their registries into a new archive.

The platforms of manifest lists are filtered by --os and --arch. The archive is written as
gzip or zstd compressed TAR stream or as a plain directory, optionally split into parts.
Images that failed are written to the failed list, which can be passed to sync to resume.`,
		Example: `hangar save -f images.txt -d saved-images.tar.gz -j 4
hangar save -f images.txt --compress zstd --part --part-size 1G`,
		Source:      EndpointRegistry,
		Destination: EndpointArchive,
		FailedList:  "save-failed.txt",
	}

	Sync = Description{
		Name:  "sync",
		Short: "Add images from registries to an existing archive",
		Long: `Sync copies the images of an image list from their registries into an existing archive.

Images which are already part of the archive are extended by the platforms that are copied,
blobs which are already present are not copied again. Sync is typically used to resume a save
with its failed list.`,
		Example:     `hangar sync -f save-failed.txt -d saved-images.tar.gz`,
		Source:      EndpointRegistry,
		Destination: EndpointArchive,
		Merge:       true,
		FailedList:  "sync-failed.txt",
	}

	Load = Description{
		Name:  "load",
		Short: "Load images from an archive into a registry",
		Long: `Load pushes the images of an image list from an archive into a destination registry.

Images are looked up in the archive by their source reference. Manifest lists at the destination
are extended by the loaded platforms, platforms that are already present stay untouched.`,
		Example:     `hangar load -f images.txt -s saved-images.tar.gz -d registry.example.com --project library`,
		Source:      EndpointArchive,
		Destination: EndpointRegistry,
		ProjectFlag: "project",
		FailedList:  "load-failed.txt",
	}

	Mirror = Description{
		Name:  "mirror",
		Short: "Mirror images from one registry to another",
		Long: `Mirror copies the images of an image list directly between registries.

List entries are either a single image, a source and destination image or a source repository,
destination repository and tag. Manifest list digests are kept if every platform is copied.`,
		Example:     `hangar mirror -f images.txt -d registry.example.com --destination-project mirror -j 8`,
		Source:      EndpointRegistry,
		Destination: EndpointRegistry,
		ProjectFlag: "destination-project",
		Policy:      true,
		FailedList:  "mirror-failed.txt",
	}
)

// Descriptions lists all batch commands.
var Descriptions = []Description{Save, Sync, Load, Mirror}

func (d Description) validateShort() string {
	return fmt.Sprintf("Validate the images of a %s without transferring them", d.Name)
}

func (d Description) validateLong() string {
	return fmt.Sprintf(`Validate compares the images of an image list with the %[1]s they were transferred to by %[2]s.

The manifest digest of every selected platform at the source must equal the digest at the
destination. Each image is logged as PASS or FAILED, failed images are written to the failed list.`,
		d.Destination, d.Name)
}
