// Package config handles application configuration management.
//
// The config package loads the client configuration from YAML files and
// environment defaults using viper. It covers the admin service
// connection, the sandbox template, group orchestration settings and
// logging, and validates everything before use.
package config
