// Package size provides a flag for byte sizes such as "2G" or "512MiB".
// Units are binary, "1G" is 1024³ bytes.
package size

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"
)

const Type = "size"

// Bounds of part sizes accepted by the CLI.
const (
	MinPartSize int64 = units.MiB
	MaxPartSize int64 = 100 * units.GiB
)

// Flag is a pflag.Value holding a size in bytes within [min, max].
type Flag struct {
	value    int64
	min, max int64
}

// New returns a Flag with the default value def accepting sizes within [minimum, maximum].
func New(def, minimum, maximum int64) *Flag {
	return &Flag{value: def, min: minimum, max: maximum}
}

func (f *Flag) Type() string {
	return Type
}

func (f *Flag) String() string {
	return units.BytesSize(float64(f.value))
}

func (f *Flag) Set(s string) error {
	v, err := units.RAMInBytes(s)
	if err != nil {
		return err
	}
	if v < f.min || v > f.max {
		return fmt.Errorf("size %s must be between %s and %s", s,
			units.BytesSize(float64(f.min)), units.BytesSize(float64(f.max)))
	}
	f.value = v
	return nil
}

// Bytes returns the size in bytes.
func (f *Flag) Bytes() int64 {
	return f.value
}

// PartSizeVar registers a part size flag with the bounds MinPartSize and MaxPartSize.
func PartSizeVar(f *pflag.FlagSet, name string, def int64, usage string) {
	f.Var(New(def, MinPartSize, MaxPartSize), name, usage)
}

func Get(f *pflag.FlagSet, name string) (int64, error) {
	flag := f.Lookup(name)
	if flag == nil {
		return 0, fmt.Errorf("flag accessed but not defined: %s", name)
	}
	val, ok := flag.Value.(*Flag)
	if !ok {
		return 0, fmt.Errorf("trying to get %s value of flag of type %s", Type, flag.Value.Type())
	}
	return val.Bytes(), nil
}
