// Package s3 implements provider.Store for AWS S3 and S3-compatible storage.
package s3

import (
	"net/url"
	"strings"
)

// Config selects the bucket reports are written to.
//
// Credentials come from the AWS SDK default chain unless AccessKeyID and
// SecretAccessKey are both set. S3-compatible stores (MinIO, Wasabi) set
// Endpoint and usually ForcePathStyle.
type Config struct {
	Bucket string

	// Region falls back to us-east-1 for AWS when the SDK resolves none.
	// Compatible endpoints get no fallback.
	Region string

	// Endpoint is an absolute http(s) URL. Empty means AWS.
	Endpoint string

	Profile string

	AccessKeyID     string
	SecretAccessKey string

	ForcePathStyle bool

	// MaxKeys is the List page size, clamped to 1..1000.
	MaxKeys int

	// KeyPrefix scopes every key so deployments can share a bucket. It must
	// not contain dot segments.
	KeyPrefix string
}

const (
	DefaultMaxKeys   = 1000
	MaxAllowedKeys   = 1000
	DefaultAWSRegion = "us-east-1"
)

// Validate reports the first unusable field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return &ConfigError{Field: "Endpoint", Message: "endpoint must be an absolute http or https URL"}
		}
	}
	for _, seg := range strings.Split(normalizePrefix(c.KeyPrefix), "/") {
		if seg == "." || seg == ".." {
			return &ConfigError{Field: "KeyPrefix", Message: "key prefix must not contain dot segments"}
		}
	}
	return nil
}

// ConfigError names the field Validate rejected.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

// normalizePrefix trims slashes and appends exactly one, or returns "".
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func clampMaxKeys(requested, fallback int) int {
	switch {
	case requested <= 0:
		return fallback
	case requested > MaxAllowedKeys:
		return MaxAllowedKeys
	default:
		return requested
	}
}

// resolveRegion keeps whatever the SDK resolved from config, environment or
// profile. Only AWS itself gets the us-east-1 fallback.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" || endpoint != "" {
		return sdkRegion
	}
	return DefaultAWSRegion
}
