// Package storage wraps the MinIO client used for s3:// locations.
package storage

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Scheme is the location scheme served by object storage.
const Scheme = "s3"

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

// NewClient creates a MinIO client from the configuration.
func NewClient(cfg Config) (*minio.Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("object storage endpoint not configured")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	return client, nil
}

// ParseLocation splits "s3://bucket/path/to/object" into bucket and object key.
func ParseLocation(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("invalid object location %q: %w", location, err)
	}

	if u.Scheme != Scheme {
		return "", "", fmt.Errorf("object location %q must use the %s scheme", location, Scheme)
	}

	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("object location %q must name a bucket and an object", location)
	}

	return u.Host, key, nil
}
