package cli

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// PublisherConfig represents the relevant parts of the backend publisher's
// config.json. Only the data-channels section is parsed. JSON is valid YAML,
// so the same decoder reads either format.
type PublisherConfig struct {
	DataChannels map[string]PublisherChannel `yaml:"data-channels"`
}

// PublisherChannel is one configured data channel.
type PublisherChannel struct {
	Key      string `yaml:"-"`
	Name     string `yaml:"name"`
	Address  string `yaml:"zmq-address"`
	PerBatch int    `yaml:"publishes-per-batch"`
}

// ParsePublisherConfig reads a publisher config file and returns its data
// channels sorted by name. Channels without a name or address are skipped:
// the publisher never exposes them.
func ParsePublisherConfig(configPath string) ([]PublisherChannel, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read publisher config: %w", err)
	}

	var config PublisherConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse publisher config: %w", err)
	}

	channels := make([]PublisherChannel, 0, len(config.DataChannels))
	for key, ch := range config.DataChannels {
		if ch.Name == "" || ch.Address == "" {
			continue
		}
		ch.Key = key
		channels = append(channels, ch)
	}

	sort.Slice(channels, func(i, j int) bool {
		if channels[i].Name != channels[j].Name {
			return channels[i].Name < channels[j].Name
		}
		return channels[i].Address < channels[j].Address
	})
	return channels, nil
}
