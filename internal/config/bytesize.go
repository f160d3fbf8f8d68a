package config

import (
	"reflect"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/mapstructure"
)

// ByteSize is a byte count that accepts "200MiB" style strings in config files and env vars.
type ByteSize int64

const (
	KiB ByteSize = 1 << (10 * (iota + 1))
	MiB
	GiB
)

// String renders the size in IEC units.
func (b ByteSize) String() string {
	if b < 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(b))
}

func stringToByteSizeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		n, err := humanize.ParseBytes(data.(string))
		if err != nil {
			return nil, err
		}
		return ByteSize(n), nil
	}
}

// MarshalYAML writes the size in IEC units so generated files stay readable.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}
