package settings

import (
	"flag"
)

const defaultConfigPath = "config.json"

func registerStringFlag(flagSet *flag.FlagSet, name string, description string) func() *string {
	stringVar := flagSet.String(name, "", description)
	return func() *string {
		if !flagWasSet(flagSet, name) {
			return nil
		}
		return stringVar
	}
}

func registerIntFlag(flagSet *flag.FlagSet, name string, description string) func() *int {
	intVar := flagSet.Int(name, 0, description)
	return func() *int {
		if !flagWasSet(flagSet, name) {
			return nil
		}
		return intVar
	}
}

func registerInt64Flag(flagSet *flag.FlagSet, name string, description string) func() *int64 {
	int64Var := flagSet.Int64(name, 0, description)
	return func() *int64 {
		if !flagWasSet(flagSet, name) {
			return nil
		}
		return int64Var
	}
}

func registerBoolFlag(flagSet *flag.FlagSet, name string, description string) func() *bool {
	boolVar := flagSet.Bool(name, false, description)
	return func() *bool {
		if !flagWasSet(flagSet, name) {
			return nil
		}
		return boolVar
	}
}

func flagWasSet(flagSet *flag.FlagSet, name string) bool {
	found := false
	flagSet.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// loadSettingsFromCmdArgs parses args and returns the flag-provided settings
// along with the config file path (-config, default config.json).
func loadSettingsFromCmdArgs(args []string) (*Settings, string, error) {
	flagSet := flag.NewFlagSet("nebulafs", flag.ContinueOnError)

	configPath := flagSet.String("config", defaultConfigPath, "path to the JSON config file")
	host := registerStringFlag(flagSet, "host", "bind address")
	port := registerIntFlag(flagSet, "port", "listen port")
	threads := registerIntFlag(flagSet, "threads", "worker threads")
	tlsEnabled := registerBoolFlag(flagSet, "tls-enabled", "serve with TLS")
	tlsCertificate := registerStringFlag(flagSet, "tls-certificate", "TLS certificate file")
	tlsPrivateKey := registerStringFlag(flagSet, "tls-private-key", "TLS private key file")
	maxBodyBytes := registerInt64Flag(flagSet, "max-body-bytes", "request body size cap")
	basePath := registerStringFlag(flagSet, "storage-base-path", "blob storage base path")
	tempPath := registerStringFlag(flagSet, "storage-temp-path", "blob staging path")
	sqlitePath := registerStringFlag(flagSet, "sqlite-path", "metadata database path")
	multipartMaxUploadTtlSeconds := registerIntFlag(flagSet, "multipart-max-upload-ttl-seconds", "multipart upload ttl")
	multipartMaxParts := registerIntFlag(flagSet, "multipart-max-parts", "max parts per multipart upload")
	multipartMaxPartBytes := registerInt64Flag(flagSet, "multipart-max-part-bytes", "max bytes per multipart part")
	cleanupEnabled := registerBoolFlag(flagSet, "cleanup-enabled", "run the expiry sweeper")
	cleanupSweepIntervalSeconds := registerIntFlag(flagSet, "cleanup-sweep-interval-seconds", "seconds between sweeps")
	cleanupGracePeriodSeconds := registerIntFlag(flagSet, "cleanup-grace-period-seconds", "grace period before reaping")
	cleanupMaxUploadsPerSweep := registerIntFlag(flagSet, "cleanup-max-uploads-per-sweep", "max uploads reaped per sweep")
	logLevel := registerStringFlag(flagSet, "log-level", "log level (trace|debug|information|error)")
	authEnabled := registerBoolFlag(flagSet, "auth-enabled", "require bearer tokens")
	authIssuer := registerStringFlag(flagSet, "auth-issuer", "expected token issuer")
	authAudience := registerStringFlag(flagSet, "auth-audience", "expected token audience")
	authJwksUrl := registerStringFlag(flagSet, "auth-jwks-url", "JWKS document url")
	authCacheTtlSeconds := registerIntFlag(flagSet, "auth-cache-ttl-seconds", "JWKS cache ttl")
	authClockSkewSeconds := registerIntFlag(flagSet, "auth-clock-skew-seconds", "token clock skew")
	authAllowedAlg := registerStringFlag(flagSet, "auth-allowed-alg", "allowed token algorithm")
	authMetricsPublic := registerBoolFlag(flagSet, "auth-metrics-public", "expose /metrics without auth")

	err := flagSet.Parse(args)
	if err != nil {
		return nil, "", err
	}

	settings := &Settings{
		host:                         host(),
		port:                         port(),
		threads:                      threads(),
		tlsEnabled:                   tlsEnabled(),
		tlsCertificate:               tlsCertificate(),
		tlsPrivateKey:                tlsPrivateKey(),
		maxBodyBytes:                 maxBodyBytes(),
		basePath:                     basePath(),
		tempPath:                     tempPath(),
		sqlitePath:                   sqlitePath(),
		multipartMaxUploadTtlSeconds: multipartMaxUploadTtlSeconds(),
		multipartMaxParts:            multipartMaxParts(),
		multipartMaxPartBytes:        multipartMaxPartBytes(),
		cleanupEnabled:               cleanupEnabled(),
		cleanupSweepIntervalSeconds:  cleanupSweepIntervalSeconds(),
		cleanupGracePeriodSeconds:    cleanupGracePeriodSeconds(),
		cleanupMaxUploadsPerSweep:    cleanupMaxUploadsPerSweep(),
		logLevel:                     logLevel(),
		authEnabled:                  authEnabled(),
		authIssuer:                   authIssuer(),
		authAudience:                 authAudience(),
		authJwksUrl:                  authJwksUrl(),
		authCacheTtlSeconds:          authCacheTtlSeconds(),
		authClockSkewSeconds:         authClockSkewSeconds(),
		authAllowedAlg:               authAllowedAlg(),
		authMetricsPublic:            authMetricsPublic(),
	}
	return settings, *configPath, nil
}
