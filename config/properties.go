package config

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/viper"
)

// DefaultPropertiesFile is looked up in the application's working directory.
const DefaultPropertiesFile = "opssat-sidloc.properties"

// PropertiesSource exposes a viper instance loaded from a .properties file as a Source.
type PropertiesSource struct {
	v *viper.Viper
}

// Load reads a .properties file from path.
func Load(path string) (*PropertiesSource, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read properties %s: %w", path, err)
	}
	log.Printf("loaded configuration properties from file %s", path)
	return &PropertiesSource{v: v}, nil
}

// FromReader reads .properties content from r.
func FromReader(r io.Reader) (*PropertiesSource, error) {
	v := viper.New()
	v.SetConfigType("properties")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read properties: %w", err)
	}
	return &PropertiesSource{v: v}, nil
}

// Lookup reports the raw string for key. Keys are case-insensitive.
func (p *PropertiesSource) Lookup(key string) (string, bool) {
	if !p.v.IsSet(key) {
		return "", false
	}
	return p.v.GetString(key), true
}
