package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/partnerbilling/internal/config"
)

const defaultServiceName = "partnerbilling"

// Config holds observability settings for one partnerbilling deployment.
// Role is the APP_MODE the process runs in (all, api or scheduler).
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Role        string
	InstanceID  string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig derives observability settings from the application config.
// Without APP_NAME the service is named after its role, so api and scheduler
// deployments report separately.
func LoadConfig(cfg config.Config) Config {
	role := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if role == "" {
		role = config.ModeAll
	}

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
		if role != config.ModeAll {
			serviceName += "-" + role
		}
	}

	protocol := lower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	if traces := lower(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          getenv("DEPLOYMENT_ENV", strings.TrimSpace(cfg.Environment)),
		Version:              getenv("SERVICE_VERSION", strings.TrimSpace(cfg.AppVersion)),
		Role:                 role,
		InstanceID:           strconv.FormatInt(cfg.Scheduler.SnowflakeNode, 10),
		LogLevel:             lower(getenv("LOG_LEVEL", "info")),
		LogFormat:            lower(getenv("LOG_FORMAT", "json")),
		OtelEnabled:          getenvBool("OTEL_ENABLED", false),
		OtelExporterEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

// Debug enables verbose access logs and stack traces outside production.
func (c Config) Debug() bool {
	if lower(c.LogLevel) == "debug" {
		return true
	}
	switch lower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func lower(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvBool(key string, def bool) bool {
	switch lower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getenvFloat(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return parsed
}
