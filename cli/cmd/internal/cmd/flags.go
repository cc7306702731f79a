package cmd

import (
	"time"
)

const (
	// TempFolderFlag Flag to specify a custom temporary folder path TAR based archives are extracted into.
	TempFolderFlag = "temp-folder"
	// TLSVerifyFlag Flag to require valid TLS certificates of registries.
	TLSVerifyFlag = "tls-verify"
	// PlainHTTPFlag Flag to talk to registries over plain HTTP.
	PlainHTTPFlag = "plain-http"
	// DockerConfigFlag Flag to specify the docker config file registry credentials are read from.
	DockerConfigFlag = "docker-config"
	// TimeoutFlag Flag to specify the maximum duration of a command.
	TimeoutFlag = "timeout"
	// TimeoutDefault Default maximum duration of a command.
	TimeoutDefault = 10 * time.Minute
)

const (
	FileFlag               = "file"
	SourceFlag             = "source"
	DestinationFlag        = "destination"
	JobsFlag               = "jobs"
	OSFlag                 = "os"
	ArchFlag               = "arch"
	CompressFlag           = "compress"
	PartFlag               = "part"
	PartSizeFlag           = "part-size"
	AutoYesFlag            = "auto-yes"
	FailedFlag             = "failed"
	ProjectFlag            = "project"
	SourceRegistryFlag     = "source-registry"
	DestinationProjectFlag = "destination-project"
	ProvenanceFlag         = "provenance"
	RemoveSignaturesFlag   = "remove-signatures"
	SignKeyFlag            = "sign-key"
)

const (
	OutputFlag      = "output"
	NameFlag        = "name"
	ObjectFlag      = "object"
	AllowEmptyFlag  = "allow-empty"
	OverwriteFlag   = "overwrite"
	DescriptionFlag = "description"
	VendorFlag      = "vendor"
	FormatFlag      = "format"
	InputFlag       = "input"
	DryRunFlag      = "dry-run"
	ImagesFlag      = "images"
)
