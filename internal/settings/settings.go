package settings

import (
	"errors"
	"fmt"
)

var ErrInvalidSettings = errors.New("invalid settings")

const defaultHost = "0.0.0.0"
const defaultPort = 8080
const defaultThreads = 4
const defaultTlsEnabled = false
const defaultMaxBodyBytes = int64(268435456)
const defaultBasePath = "data"
const defaultTempPath = "data/tmp"
const defaultSqlitePath = "data/metadata.db"
const defaultMultipartMaxUploadTtlSeconds = 86400
const defaultMultipartMaxParts = 10000
const defaultMultipartMaxPartBytes = int64(5368709120)
const defaultCleanupEnabled = true
const defaultCleanupSweepIntervalSeconds = 300
const defaultCleanupGracePeriodSeconds = 60
const defaultCleanupMaxUploadsPerSweep = 200
const defaultLogLevel = "information"
const defaultAuthEnabled = false
const defaultAuthCacheTtlSeconds = 300
const defaultAuthClockSkewSeconds = 60
const defaultAuthAllowedAlg = "RS256"
const defaultAuthMetricsPublic = false

type Settings struct {
	host                         *string
	port                         *int
	threads                      *int
	tlsEnabled                   *bool
	tlsCertificate               *string
	tlsPrivateKey                *string
	maxBodyBytes                 *int64
	basePath                     *string
	tempPath                     *string
	sqlitePath                   *string
	multipartMaxUploadTtlSeconds *int
	multipartMaxParts            *int
	multipartMaxPartBytes        *int64
	cleanupEnabled               *bool
	cleanupSweepIntervalSeconds  *int
	cleanupGracePeriodSeconds    *int
	cleanupMaxUploadsPerSweep    *int
	logLevel                     *string
	authEnabled                  *bool
	authIssuer                   *string
	authAudience                 *string
	authJwksUrl                  *string
	authCacheTtlSeconds          *int
	authClockSkewSeconds         *int
	authAllowedAlg               *string
	authMetricsPublic            *bool
}

func valueOrDefault[V any](v *V, defaultValue V) V {
	if v == nil {
		return defaultValue
	}
	return *v
}

func (s *Settings) Host() string {
	return valueOrDefault(s.host, defaultHost)
}

func (s *Settings) Port() int {
	return valueOrDefault(s.port, defaultPort)
}

func (s *Settings) Threads() int {
	return valueOrDefault(s.threads, defaultThreads)
}

func (s *Settings) TlsEnabled() bool {
	return valueOrDefault(s.tlsEnabled, defaultTlsEnabled)
}

func (s *Settings) TlsCertificate() string {
	return valueOrDefault(s.tlsCertificate, "")
}

func (s *Settings) TlsPrivateKey() string {
	return valueOrDefault(s.tlsPrivateKey, "")
}

func (s *Settings) MaxBodyBytes() int64 {
	return valueOrDefault(s.maxBodyBytes, defaultMaxBodyBytes)
}

func (s *Settings) BasePath() string {
	return valueOrDefault(s.basePath, defaultBasePath)
}

func (s *Settings) TempPath() string {
	return valueOrDefault(s.tempPath, defaultTempPath)
}

func (s *Settings) SqlitePath() string {
	return valueOrDefault(s.sqlitePath, defaultSqlitePath)
}

func (s *Settings) MultipartMaxUploadTtlSeconds() int {
	return valueOrDefault(s.multipartMaxUploadTtlSeconds, defaultMultipartMaxUploadTtlSeconds)
}

func (s *Settings) MultipartMaxParts() int {
	return valueOrDefault(s.multipartMaxParts, defaultMultipartMaxParts)
}

func (s *Settings) MultipartMaxPartBytes() int64 {
	return valueOrDefault(s.multipartMaxPartBytes, defaultMultipartMaxPartBytes)
}

func (s *Settings) CleanupEnabled() bool {
	return valueOrDefault(s.cleanupEnabled, defaultCleanupEnabled)
}

func (s *Settings) CleanupSweepIntervalSeconds() int {
	return valueOrDefault(s.cleanupSweepIntervalSeconds, defaultCleanupSweepIntervalSeconds)
}

func (s *Settings) CleanupGracePeriodSeconds() int {
	return valueOrDefault(s.cleanupGracePeriodSeconds, defaultCleanupGracePeriodSeconds)
}

func (s *Settings) CleanupMaxUploadsPerSweep() int {
	return valueOrDefault(s.cleanupMaxUploadsPerSweep, defaultCleanupMaxUploadsPerSweep)
}

func (s *Settings) LogLevel() string {
	return valueOrDefault(s.logLevel, defaultLogLevel)
}

func (s *Settings) AuthEnabled() bool {
	return valueOrDefault(s.authEnabled, defaultAuthEnabled)
}

func (s *Settings) AuthIssuer() string {
	return valueOrDefault(s.authIssuer, "")
}

func (s *Settings) AuthAudience() string {
	return valueOrDefault(s.authAudience, "")
}

func (s *Settings) AuthJwksUrl() string {
	return valueOrDefault(s.authJwksUrl, "")
}

func (s *Settings) AuthCacheTtlSeconds() int {
	return valueOrDefault(s.authCacheTtlSeconds, defaultAuthCacheTtlSeconds)
}

func (s *Settings) AuthClockSkewSeconds() int {
	return valueOrDefault(s.authClockSkewSeconds, defaultAuthClockSkewSeconds)
}

func (s *Settings) AuthAllowedAlg() string {
	return valueOrDefault(s.authAllowedAlg, defaultAuthAllowedAlg)
}

func (s *Settings) AuthMetricsPublic() bool {
	return valueOrDefault(s.authMetricsPublic, defaultAuthMetricsPublic)
}

func mergeField[V any](target **V, other *V) {
	if other != nil {
		*target = other
	}
}

func (s *Settings) merge(other *Settings) {
	mergeField(&s.host, other.host)
	mergeField(&s.port, other.port)
	mergeField(&s.threads, other.threads)
	mergeField(&s.tlsEnabled, other.tlsEnabled)
	mergeField(&s.tlsCertificate, other.tlsCertificate)
	mergeField(&s.tlsPrivateKey, other.tlsPrivateKey)
	mergeField(&s.maxBodyBytes, other.maxBodyBytes)
	mergeField(&s.basePath, other.basePath)
	mergeField(&s.tempPath, other.tempPath)
	mergeField(&s.sqlitePath, other.sqlitePath)
	mergeField(&s.multipartMaxUploadTtlSeconds, other.multipartMaxUploadTtlSeconds)
	mergeField(&s.multipartMaxParts, other.multipartMaxParts)
	mergeField(&s.multipartMaxPartBytes, other.multipartMaxPartBytes)
	mergeField(&s.cleanupEnabled, other.cleanupEnabled)
	mergeField(&s.cleanupSweepIntervalSeconds, other.cleanupSweepIntervalSeconds)
	mergeField(&s.cleanupGracePeriodSeconds, other.cleanupGracePeriodSeconds)
	mergeField(&s.cleanupMaxUploadsPerSweep, other.cleanupMaxUploadsPerSweep)
	mergeField(&s.logLevel, other.logLevel)
	mergeField(&s.authEnabled, other.authEnabled)
	mergeField(&s.authIssuer, other.authIssuer)
	mergeField(&s.authAudience, other.authAudience)
	mergeField(&s.authJwksUrl, other.authJwksUrl)
	mergeField(&s.authCacheTtlSeconds, other.authCacheTtlSeconds)
	mergeField(&s.authClockSkewSeconds, other.authClockSkewSeconds)
	mergeField(&s.authAllowedAlg, other.authAllowedAlg)
	mergeField(&s.authMetricsPublic, other.authMetricsPublic)
}

func mergeSettings(settings ...*Settings) *Settings {
	var result *Settings = &Settings{}
	for _, setting := range settings {
		if setting == nil {
			continue
		}
		result.merge(setting)
	}
	return result
}

// Validate enforces the load-time configuration rules.
func (s *Settings) Validate() error {
	if s.AuthEnabled() {
		if s.AuthIssuer() == "" {
			return fmt.Errorf("%w: auth.issuer must be set when auth is enabled", ErrInvalidSettings)
		}
		if s.AuthJwksUrl() == "" {
			return fmt.Errorf("%w: auth.jwks_url must be set when auth is enabled", ErrInvalidSettings)
		}
	}
	if s.MultipartMaxUploadTtlSeconds() <= 0 {
		return fmt.Errorf("%w: storage.multipart.max_upload_ttl_seconds must be positive", ErrInvalidSettings)
	}
	if s.MultipartMaxParts() <= 0 {
		return fmt.Errorf("%w: storage.multipart.max_parts must be positive", ErrInvalidSettings)
	}
	if s.MultipartMaxPartBytes() <= 0 {
		return fmt.Errorf("%w: storage.multipart.max_part_bytes must be positive", ErrInvalidSettings)
	}
	if s.CleanupSweepIntervalSeconds() <= 0 {
		return fmt.Errorf("%w: cleanup.sweep_interval_seconds must be positive", ErrInvalidSettings)
	}
	if s.CleanupMaxUploadsPerSweep() <= 0 {
		return fmt.Errorf("%w: cleanup.max_uploads_per_sweep must be positive", ErrInvalidSettings)
	}
	return nil
}

// LoadSettings merges the JSON config file, command-line flags and NEBULAFS_*
// environment variables, later sources winning, then validates the result.
func LoadSettings(args []string) (*Settings, error) {
	cmdArgsSettings, configPath, err := loadSettingsFromCmdArgs(args)
	if err != nil {
		return nil, err
	}
	jsonSettings, _ := loadSettingsFromJson(configPath)
	envSettings, _ := loadSettingsFromEnv()
	settings := mergeSettings(jsonSettings, cmdArgsSettings, envSettings)
	err = settings.Validate()
	if err != nil {
		return nil, err
	}
	return settings, nil
}
