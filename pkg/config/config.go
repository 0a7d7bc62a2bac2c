// Kache uses flags and a single config file for configuration.
// A config file is stored in .txtpb format and contains the values that can be set via flags.

package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/types/dynamicpb"
)

var configFilePath = flag.String("config_file", "config.txtpb", "Path to the configuration file.")

// InitFlags initializes the flags from the config file specified by the -config_file flag.
// It should be called after defining all flags and before using them. Flags given on the command line win over
// the config file.
func InitFlags() {
	flag.Parse()

	if *configFilePath == "" {
		slog.Info("Config file not specified. Skipping config initialization.")
		return
	}
	err := loadConfigFile(*configFilePath)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Config file does not exist.", "path", *configFilePath, "error", err)
		return
	}
	if err != nil { // Default flag values are used if the config file is unusable.
		slog.Error("Failed to apply config file.", "path", *configFilePath, "error", err)
		return
	}
}

// loadConfigFile parses the txtpb file at `path` and sets every flag it mentions, except those already set on the
// command line.
func loadConfigFile(path string) error {
	configBytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	conf, err := parseConfig(configBytes)
	if err != nil {
		return err
	}
	explicitFlags := make(map[string]struct{})
	flag.Visit(func(f *flag.Flag) { explicitFlags[f.Name] = struct{}{} })
	return setConfigFlags(conf, explicitFlags)
}

// parseConfig parses txtpb config content against the Config schema.
func parseConfig(content []byte) (*dynamicpb.Message, error) {
	md, err := configDescriptor()
	if err != nil {
		return nil, err
	}
	conf := dynamicpb.NewMessage(md)
	if err := prototext.Unmarshal(content, conf); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return conf, nil
}
