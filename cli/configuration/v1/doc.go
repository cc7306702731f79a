// Package v1 contains the configuration file of the hangar CLI.
//
// The file format is YAML. Every field is optional and only serves as the default of the
// corresponding command line flag, for example:
//
//	jobs: 4
//	os: [linux]
//	arch: [amd64, arm64]
//	tlsVerify: false
//	dockerConfig: ~/.docker/config.json
//	tempDir: /var/tmp/hangar
//	timeout: 30m
package v1
