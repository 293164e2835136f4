package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/zkbarchive/zkb/internal/common/zkberrors"
)

// DateLayout is the layout of calendar dates in configuration files and on the command line.
const DateLayout = "2006-01-02"

// CustomHooks must be passed to viper.Unmarshal for every component configuration.
// viper only keeps the last DecodeHook option, so all hooks are composed into one.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		PulsarCompressionTypeHookFunc(),
		PulsarCompressionLevelHookFunc(),
		DateHookFunc(),
	)),
}

func PulsarCompressionTypeHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || t != reflect.TypeOf(pulsar.NoCompression) {
			return data, nil
		}
		return ParsePulsarCompressionType(data.(string))
	}
}

func PulsarCompressionLevelHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(pulsar.Default) {
			return data, nil
		}
		return ParsePulsarCompressionLevel(data.(string))
	}
}

// DateHookFunc decodes calendar dates such as "2022-01-01" into a UTC time.Time.
func DateHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Time{}) {
			return data, nil
		}
		return ParseDate(data.(string))
	}
}

// ParseDate parses a YYYY-MM-DD calendar date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	date, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, errors.WithStack(&zkberrors.ErrInvalidArgument{
			Name:    "date",
			Value:   s,
			Message: "dates must use the YYYY-MM-DD format",
		})
	}
	return date, nil
}

func ParsePulsarCompressionType(compressionType string) (pulsar.CompressionType, error) {
	switch strings.ToLower(compressionType) {
	case "", "none":
		return pulsar.NoCompression, nil
	case "zlib":
		return pulsar.ZLib, nil
	case "lz4":
		return pulsar.LZ4, nil
	case "zstd":
		return pulsar.ZSTD, nil
	default:
		return pulsar.NoCompression, errors.WithStack(&zkberrors.ErrInvalidArgument{
			Name:    "pulsar.CompressionType",
			Value:   compressionType,
			Message: "Unknown Pulsar compression type",
		})
	}
}

func ParsePulsarCompressionLevel(compressionLevel string) (pulsar.CompressionLevel, error) {
	switch strings.ToLower(compressionLevel) {
	case "", "default":
		return pulsar.Default, nil
	case "faster":
		return pulsar.Faster, nil
	case "better":
		return pulsar.Better, nil
	default:
		return pulsar.Default, errors.WithStack(&zkberrors.ErrInvalidArgument{
			Name:    "pulsar.CompressionLevel",
			Value:   compressionLevel,
			Message: "Unknown Pulsar compression level",
		})
	}
}
