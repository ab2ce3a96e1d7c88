// Package config loads agneticd settings from an optional config file and the
// process environment through viper, fills defaults, and reports every missing
// required variable in a single CONFIGURATION_INVALID error.
package config
