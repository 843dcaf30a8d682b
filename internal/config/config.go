package config

import (
	"fmt"
	"net/url"
	"strings"
)

type Config struct {
	ServerAddr     string
	DataFile       string
	BaseURL        string
	AllowedOrigins []string
}

func NewConfig(serverAddr, dataFile, baseURL string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if dataFile == "" {
		return nil, fmt.Errorf("data file cannot be empty")
	}

	// BaseURL is optional; when unset invite links are derived from the
	// incoming request.
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("base url must be absolute")
		}
		baseURL = strings.TrimRight(baseURL, "/")
	}

	return &Config{
		ServerAddr:     serverAddr,
		DataFile:       dataFile,
		BaseURL:        baseURL,
		AllowedOrigins: allowedOrigins,
	}, nil
}
