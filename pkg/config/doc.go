/*
Package config loads the control plane's environment-driven configuration.

All knobs are plain environment variables with defaults, bound through
viper so deployments can override any subset without a config file.
Duration-valued keys carry milliseconds (the _MS suffix); Load converts
them to time.Duration once so the rest of the codebase never handles raw
millisecond integers.
*/
package config
