package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/hangar/bindings/go/registry/testimage"
	"ocm.software/open-component-model/hangar/bindings/go/transfer"
	"ocm.software/open-component-model/hangar/cli/cmd"
	"ocm.software/open-component-model/hangar/cli/integration/internal"
)

func Test_Integration_Transfer(t *testing.T) {
	r := require.New(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	user := "hangar"
	password := internal.GenerateRandomPassword(t, 20)
	address := internal.StartDockerContainerRegistry(t, "transfer-oci-registry", internal.GenerateHtpasswd(t, user, password))
	dockerConfig := internal.WriteDockerConfig(t, address, user, password)

	index, _ := testimage.MultiArch(t, internal.Repository(t, address, "library/nginx", user, password), "1.25",
		testimage.Platform("linux", "amd64", ""), testimage.Platform("linux", "arm64", ""))
	busybox := testimage.Single(t, internal.Repository(t, address, "library/busybox", user, password), "1.36",
		testimage.Platform("linux", "amd64", ""))

	dir := t.TempDir()
	images := filepath.Join(dir, "images.txt")
	r.NoError(os.WriteFile(images, fmt.Appendf(nil, "%[1]s/library/nginx:1.25\n%[1]s/library/busybox:1.36\n", address), 0o600))

	hangar := func(t *testing.T, args ...string) error {
		t.Helper()
		root := cmd.New()
		root.SetArgs(append(args, "--plain-http", "--docker-config", dockerConfig, "--logformat", "json"))
		return root.ExecuteContext(t.Context())
	}
	digestOf := func(t *testing.T, name, tag string) ocispec.Descriptor {
		t.Helper()
		desc, err := internal.Repository(t, address, name, user, password).Resolve(t.Context(), tag)
		require.NoError(t, err)
		return desc
	}

	t.Run("mirror", func(t *testing.T) {
		r := require.New(t)
		failed := filepath.Join(dir, "mirror-failed.txt")
		r.NoError(hangar(t, "mirror", "-f", images, "-d", address, "--destination-project", "mirror", "-j", "4", "-o", failed))
		r.Equal(index.Digest, digestOf(t, "mirror/nginx", "1.25").Digest)
		r.Equal(busybox.Digest, digestOf(t, "mirror/busybox", "1.36").Digest)
		r.NoError(hangar(t, "mirror", "validate", "-f", images, "-d", address, "--destination-project", "mirror", "-o", failed))
		r.NoFileExists(failed)
	})

	t.Run("save and load", func(t *testing.T) {
		r := require.New(t)
		saved := filepath.Join(dir, "saved.tar.zst")
		r.NoError(hangar(t, "save", "-f", images, "-d", saved, "-j", "2", "-o", filepath.Join(dir, "save-failed.txt")))
		r.NoError(hangar(t, "save", "validate", "-f", images, "-d", saved, "-o", filepath.Join(dir, "save-failed.txt")))

		failed := filepath.Join(dir, "load-failed.txt")
		r.NoError(hangar(t, "load", "-f", images, "-s", saved, "-d", address, "--project", "loaded", "-o", failed))
		r.Equal(index.Digest, digestOf(t, "loaded/nginx", "1.25").Digest)
		r.Equal(busybox.Digest, digestOf(t, "loaded/busybox", "1.36").Digest)
		r.NoError(hangar(t, "load", "validate", "-f", images, "-s", saved, "-d", address, "--project", "loaded", "-o", failed))
	})

	t.Run("signed mirror", func(t *testing.T) {
		r := require.New(t)
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		r.NoError(err)
		der, err := x509.MarshalPKCS8PrivateKey(key)
		r.NoError(err)
		keyPath := filepath.Join(dir, "key.pem")
		r.NoError(os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))

		failed := filepath.Join(dir, "signed-failed.txt")
		r.NoError(hangar(t, "mirror", "-f", images, "-d", address, "--destination-project", "signed", "--sign-key", keyPath, "-o", failed))
		r.NoError(hangar(t, "mirror", "validate", "-f", images, "-d", address, "--destination-project", "signed", "--sign-key", keyPath, "-o", failed))

		// images mirrored without a key carry no signature
		err = hangar(t, "mirror", "validate", "-f", images, "-d", address, "--destination-project", "mirror", "--sign-key", keyPath, "-o", failed)
		r.ErrorIs(err, transfer.ErrPartialFailure)
		r.FileExists(failed)
	})
}
