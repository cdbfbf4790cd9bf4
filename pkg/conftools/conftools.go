// Package conftools merges configuration from command line flags,
// environment variables, and an optional configuration file.
package conftools

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Load populates cfg from all configuration sources. Flags take
// precedence over environment variables, which take precedence over a
// file named <application>.<ext> in the working directory. Environment
// variables are prefixed with the upper-cased application name. Settings
// map onto cfg through json struct tags; settings that match no field
// are an error.
func Load(application string, cfg interface{}) error {
	viper.SetConfigName(application)
	viper.AddConfigPath(".")
	viper.SetEnvPrefix(strings.ToUpper(application))
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}

	flag.Parse()

	if err := viper.BindPFlags(flag.CommandLine); err != nil {
		return err
	}

	return viper.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
		dc.ErrorUnused = true
	})
}

// Format renders every setting as a "key: value" line for the startup
// log, masking the values of the given keys.
func Format(maskedKeys []string) []string {
	masked := make(map[string]bool, len(maskedKeys))
	for _, key := range maskedKeys {
		masked[key] = true
	}

	keys := viper.AllKeys()
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		value := fmt.Sprintf("%v", viper.Get(key))
		if masked[key] {
			value = "***REDACTED***"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", key, value))
	}

	return lines
}
