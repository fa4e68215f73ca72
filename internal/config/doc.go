// Package config loads the service configuration and the agent deployment
// descriptors. The service file is read through viper with INITIATOR_
// environment overrides; deployment descriptors are decoded with yaml.v3,
// which accepts both YAML and JSON documents.
package config
