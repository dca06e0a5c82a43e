package settings

import (
	"os"
	"strconv"
	"strings"
)

const envKeyPrefix string = "NEBULAFS"

const hostEnvKey string = envKeyPrefix + "_HOST"
const portEnvKey string = envKeyPrefix + "_PORT"
const threadsEnvKey string = envKeyPrefix + "_THREADS"
const tlsEnabledEnvKey string = envKeyPrefix + "_TLS_ENABLED"
const tlsCertificateEnvKey string = envKeyPrefix + "_TLS_CERTIFICATE"
const tlsPrivateKeyEnvKey string = envKeyPrefix + "_TLS_PRIVATE_KEY"
const maxBodyBytesEnvKey string = envKeyPrefix + "_MAX_BODY_BYTES"
const basePathEnvKey string = envKeyPrefix + "_STORAGE_BASE_PATH"
const tempPathEnvKey string = envKeyPrefix + "_STORAGE_TEMP_PATH"
const sqlitePathEnvKey string = envKeyPrefix + "_SQLITE_PATH"
const multipartMaxUploadTtlSecondsEnvKey string = envKeyPrefix + "_MULTIPART_MAX_UPLOAD_TTL_SECONDS"
const multipartMaxPartsEnvKey string = envKeyPrefix + "_MULTIPART_MAX_PARTS"
const multipartMaxPartBytesEnvKey string = envKeyPrefix + "_MULTIPART_MAX_PART_BYTES"
const cleanupEnabledEnvKey string = envKeyPrefix + "_CLEANUP_ENABLED"
const cleanupSweepIntervalSecondsEnvKey string = envKeyPrefix + "_CLEANUP_SWEEP_INTERVAL_SECONDS"
const cleanupGracePeriodSecondsEnvKey string = envKeyPrefix + "_CLEANUP_GRACE_PERIOD_SECONDS"
const cleanupMaxUploadsPerSweepEnvKey string = envKeyPrefix + "_CLEANUP_MAX_UPLOADS_PER_SWEEP"
const logLevelEnvKey string = envKeyPrefix + "_LOG_LEVEL"
const authEnabledEnvKey string = envKeyPrefix + "_AUTH_ENABLED"
const authIssuerEnvKey string = envKeyPrefix + "_AUTH_ISSUER"
const authAudienceEnvKey string = envKeyPrefix + "_AUTH_AUDIENCE"
const authJwksUrlEnvKey string = envKeyPrefix + "_AUTH_JWKS_URL"
const authCacheTtlSecondsEnvKey string = envKeyPrefix + "_AUTH_CACHE_TTL_SECONDS"
const authClockSkewSecondsEnvKey string = envKeyPrefix + "_AUTH_CLOCK_SKEW_SECONDS"
const authAllowedAlgEnvKey string = envKeyPrefix + "_AUTH_ALLOWED_ALG"
const authMetricsPublicEnvKey string = envKeyPrefix + "_AUTH_METRICS_PUBLIC"

func getStringFromEnv(envKey string) *string {
	val := os.Getenv(envKey)
	if val == "" {
		return nil
	}
	return &val
}

func getIntFromEnv(envKey string) *int {
	val := os.Getenv(envKey)
	if val == "" {
		return nil
	}
	int64Val, err := strconv.ParseInt(val, 10, 32)
	if err != nil {
		return nil
	}
	intVal := int(int64Val)
	return &intVal
}

func getInt64FromEnv(envKey string) *int64 {
	val := os.Getenv(envKey)
	if val == "" {
		return nil
	}
	int64Val, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil
	}
	return &int64Val
}

func getBoolFromEnv(envKey string) *bool {
	val := os.Getenv(envKey)
	val = strings.ToLower(val)
	if val == "" {
		return nil
	}
	retval := val == "1" || val == "t" || val == "true"
	return &retval
}

func loadSettingsFromEnv() (*Settings, error) {
	return &Settings{
		host:                         getStringFromEnv(hostEnvKey),
		port:                         getIntFromEnv(portEnvKey),
		threads:                      getIntFromEnv(threadsEnvKey),
		tlsEnabled:                   getBoolFromEnv(tlsEnabledEnvKey),
		tlsCertificate:               getStringFromEnv(tlsCertificateEnvKey),
		tlsPrivateKey:                getStringFromEnv(tlsPrivateKeyEnvKey),
		maxBodyBytes:                 getInt64FromEnv(maxBodyBytesEnvKey),
		basePath:                     getStringFromEnv(basePathEnvKey),
		tempPath:                     getStringFromEnv(tempPathEnvKey),
		sqlitePath:                   getStringFromEnv(sqlitePathEnvKey),
		multipartMaxUploadTtlSeconds: getIntFromEnv(multipartMaxUploadTtlSecondsEnvKey),
		multipartMaxParts:            getIntFromEnv(multipartMaxPartsEnvKey),
		multipartMaxPartBytes:        getInt64FromEnv(multipartMaxPartBytesEnvKey),
		cleanupEnabled:               getBoolFromEnv(cleanupEnabledEnvKey),
		cleanupSweepIntervalSeconds:  getIntFromEnv(cleanupSweepIntervalSecondsEnvKey),
		cleanupGracePeriodSeconds:    getIntFromEnv(cleanupGracePeriodSecondsEnvKey),
		cleanupMaxUploadsPerSweep:    getIntFromEnv(cleanupMaxUploadsPerSweepEnvKey),
		logLevel:                     getStringFromEnv(logLevelEnvKey),
		authEnabled:                  getBoolFromEnv(authEnabledEnvKey),
		authIssuer:                   getStringFromEnv(authIssuerEnvKey),
		authAudience:                 getStringFromEnv(authAudienceEnvKey),
		authJwksUrl:                  getStringFromEnv(authJwksUrlEnvKey),
		authCacheTtlSeconds:          getIntFromEnv(authCacheTtlSecondsEnvKey),
		authClockSkewSeconds:         getIntFromEnv(authClockSkewSecondsEnvKey),
		authAllowedAlg:               getStringFromEnv(authAllowedAlgEnvKey),
		authMetricsPublic:            getBoolFromEnv(authMetricsPublicEnvKey),
	}, nil
}
