package settings

import (
	"encoding/json"
	"os"
)

type jsonTlsSettings struct {
	Enabled     *bool   `json:"enabled"`
	Certificate *string `json:"certificate"`
	PrivateKey  *string `json:"private_key"`
}

type jsonLimitsSettings struct {
	MaxBodyBytes *int64 `json:"max_body_bytes"`
}

type jsonServerSettings struct {
	Host    *string             `json:"host"`
	Port    *int                `json:"port"`
	Threads *int                `json:"threads"`
	Tls     *jsonTlsSettings    `json:"tls"`
	Limits  *jsonLimitsSettings `json:"limits"`
}

type jsonMultipartSettings struct {
	MaxUploadTtlSeconds *int   `json:"max_upload_ttl_seconds"`
	MaxParts            *int   `json:"max_parts"`
	MaxPartBytes        *int64 `json:"max_part_bytes"`
}

type jsonStorageSettings struct {
	BasePath  *string                `json:"base_path"`
	TempPath  *string                `json:"temp_path"`
	Multipart *jsonMultipartSettings `json:"multipart"`
}

type jsonCleanupSettings struct {
	Enabled              *bool `json:"enabled"`
	SweepIntervalSeconds *int  `json:"sweep_interval_seconds"`
	GracePeriodSeconds   *int  `json:"grace_period_seconds"`
	MaxUploadsPerSweep   *int  `json:"max_uploads_per_sweep"`
}

type jsonObservabilitySettings struct {
	LogLevel *string `json:"log_level"`
}

type jsonAuthSettings struct {
	Enabled          *bool   `json:"enabled"`
	Issuer           *string `json:"issuer"`
	Audience         *string `json:"audience"`
	JwksUrl          *string `json:"jwks_url"`
	CacheTtlSeconds  *int    `json:"cache_ttl_seconds"`
	ClockSkewSeconds *int    `json:"clock_skew_seconds"`
	AllowedAlg       *string `json:"allowed_alg"`
	MetricsPublic    *bool   `json:"metrics_public"`
}

type jsonSqliteSettings struct {
	Path *string `json:"path"`
}

type jsonSettings struct {
	Server        *jsonServerSettings        `json:"server"`
	Storage       *jsonStorageSettings       `json:"storage"`
	Cleanup       *jsonCleanupSettings       `json:"cleanup"`
	Observability *jsonObservabilitySettings `json:"observability"`
	Auth          *jsonAuthSettings          `json:"auth"`
	Sqlite        *jsonSqliteSettings        `json:"sqlite"`
}

func (js *jsonSettings) toSettings() *Settings {
	settings := &Settings{}
	if js.Server != nil {
		settings.host = js.Server.Host
		settings.port = js.Server.Port
		settings.threads = js.Server.Threads
		if js.Server.Tls != nil {
			settings.tlsEnabled = js.Server.Tls.Enabled
			settings.tlsCertificate = js.Server.Tls.Certificate
			settings.tlsPrivateKey = js.Server.Tls.PrivateKey
		}
		if js.Server.Limits != nil {
			settings.maxBodyBytes = js.Server.Limits.MaxBodyBytes
		}
	}
	if js.Storage != nil {
		settings.basePath = js.Storage.BasePath
		settings.tempPath = js.Storage.TempPath
		if js.Storage.Multipart != nil {
			settings.multipartMaxUploadTtlSeconds = js.Storage.Multipart.MaxUploadTtlSeconds
			settings.multipartMaxParts = js.Storage.Multipart.MaxParts
			settings.multipartMaxPartBytes = js.Storage.Multipart.MaxPartBytes
		}
	}
	if js.Cleanup != nil {
		settings.cleanupEnabled = js.Cleanup.Enabled
		settings.cleanupSweepIntervalSeconds = js.Cleanup.SweepIntervalSeconds
		settings.cleanupGracePeriodSeconds = js.Cleanup.GracePeriodSeconds
		settings.cleanupMaxUploadsPerSweep = js.Cleanup.MaxUploadsPerSweep
	}
	if js.Observability != nil {
		settings.logLevel = js.Observability.LogLevel
	}
	if js.Auth != nil {
		settings.authEnabled = js.Auth.Enabled
		settings.authIssuer = js.Auth.Issuer
		settings.authAudience = js.Auth.Audience
		settings.authJwksUrl = js.Auth.JwksUrl
		settings.authCacheTtlSeconds = js.Auth.CacheTtlSeconds
		settings.authClockSkewSeconds = js.Auth.ClockSkewSeconds
		settings.authAllowedAlg = js.Auth.AllowedAlg
		settings.authMetricsPublic = js.Auth.MetricsPublic
	}
	if js.Sqlite != nil {
		settings.sqlitePath = js.Sqlite.Path
	}
	return settings
}

func loadSettingsFromJson(jsonFile string) (*Settings, error) {
	jsonData, err := os.ReadFile(jsonFile)
	if err != nil {
		return nil, err
	}
	parsed := jsonSettings{}
	err = json.Unmarshal(jsonData, &parsed)
	if err != nil {
		return nil, err
	}
	return parsed.toSettings(), nil
}
