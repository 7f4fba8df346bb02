package commands

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/hllvc/airvane/internal/app"
)

const (
	// envPrefix marks environment variables as configuration, with `__`
	// separating nesting levels:
	//
	//	AIRVANE_AUTH__AUDIENCE          → auth.audience
	//	AIRVANE_AUTH__REFRESH_INTERVAL  → auth.refresh_interval
	//	AIRVANE_AIRFLOW__BASE_URL       → airflow.base_url
	envPrefix = "AIRVANE_"

	// delim separates nesting levels in config keys.
	delim = "."
)

// loadConfig assembles the configuration from its sources, later sources
// overriding earlier ones: config file, then environment, then CLI flags.
// Fields no source sets fall back to defaults, and the result is validated
// before anything is built from it.
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(delim)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	envProvider := env.Provider(delim, env.Opt{
		Prefix:        envPrefix,
		TransformFunc: envTransform,
		EnvironFunc:   environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if cmd != nil {
		if err := k.Load(confmap.Provider(flagOverrides(cmd), delim), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// envTransform maps an environment variable onto its config key: the prefix
// is stripped, `__` becomes the nesting delimiter, and the rest is
// lower-cased to match the field names (which keep their own underscores,
// e.g. refresh_interval).
func envTransform(key, value string) (string, any) {
	stripped := strings.TrimPrefix(key, envPrefix)
	return strings.ToLower(strings.ReplaceAll(stripped, "__", delim)), value
}

// flagOverrides collects the flags set on the command (its parents included)
// as config values. Flag names encode nesting with a double dash and
// underscores with a single one:
//
//	--auth--audience     → auth.audience
//	--airflow--base-url  → airflow.base_url
//	--log-format         → log_format
//
// Unset flags are skipped so flag defaults cannot shadow file or environment
// values.
func flagOverrides(cmd *cli.Command) map[string]any {
	values := make(map[string]any)
	for _, name := range cmd.FlagNames() {
		if !cmd.IsSet(name) {
			continue
		}
		if value := cmd.Value(name); value != nil {
			key := strings.ReplaceAll(name, "--", delim)
			values[strings.ReplaceAll(key, "-", "_")] = value
		}
	}
	return values
}
