/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package xrpc

import (
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/identity"
	"github.com/pkg/errors"
	"github.com/xrpc-go/xrpc/admission"
	"github.com/xrpc-go/xrpc/encoding"
	"gopkg.in/yaml.v3"
)

const (
	MinTLSVersion = tls.VersionTLS12
	MaxTLSVersion = tls.VersionTLS13

	DefaultHttpWriteTimeout = time.Second * 10
	DefaultHttpReadTimeout  = time.Second * 5
	DefaultHttpIdleTimeout  = time.Second * 60

	DefaultName                 = "xrpc"
	DefaultBind                 = "0.0.0.0:8443"
	DefaultMaxPayloadBytes      = 4 << 20
	DefaultContentType          = encoding.ContentTypeJSON
	DefaultShutdownRetries      = 3
	DefaultMaxConcurrentStreams = 250
	DefaultMetricsPollingRate   = time.Minute

	AdminServiceName = "admin"
)

// TlsVersionMap is a map of configuration strings to TLS version identifiers
var TlsVersionMap = map[string]int{
	"TLS1.0": tls.VersionTLS10,
	"TLS1.1": tls.VersionTLS11,
	"TLS1.2": tls.VersionTLS12,
	"TLS1.3": tls.VersionTLS13,
}

// ReverseTlsVersionMap is a map of TLS version identifiers to configuration strings
var ReverseTlsVersionMap = map[int]string{
	tls.VersionTLS10: "TLS1.0",
	tls.VersionTLS11: "TLS1.1",
	tls.VersionTLS12: "TLS1.2",
	tls.VersionTLS13: "TLS1.3",
}

// Config is everything a Server needs to listen and serve. Use NewConfig for a defaulted instance, then Parse
// and/or set fields directly before calling Validate.
type Config struct {
	SourceConfig map[interface{}]interface{}

	Name string
	Bind string

	// Identity supplies the server certificate. TLSConfig, when set, is used instead.
	Identity  identity.Identity
	TLSConfig *tls.Config

	MaxConnections     int
	MaxPayloadBytes    int64
	DefaultContentType string

	RateLimit admission.RateLimit
	Services  []*ServiceConfig

	IPAllowList []string
	IPDenyList  []string
	Firewall    []*FirewallRuleConfig

	AdminRoutes AdminRoutesConfig
	Options     ServerOptions
	Metrics     MetricsConfig

	Compression      bool
	CompressionLevel int
}

func NewConfig() *Config {
	config := &Config{}
	config.Default()
	return config
}

// Default provides defaults for all necessary values
func (config *Config) Default() {
	config.Name = DefaultName
	config.Bind = DefaultBind
	config.MaxPayloadBytes = DefaultMaxPayloadBytes
	config.DefaultContentType = DefaultContentType
	config.CompressionLevel = DefaultCompressionLevel
	config.AdminRoutes.Default()
	config.Options.Default()
	config.Metrics.Default()
}

// Parse reads a configuration map over the current values. Keys that are absent keep their current value.
func (config *Config) Parse(configMap map[interface{}]interface{}) error {
	config.SourceConfig = configMap

	if err := parseString(configMap, "name", &config.Name); err != nil {
		return err
	}

	if err := parseString(configMap, "bind", &config.Bind); err != nil {
		return err
	}

	if identityInterface, ok := configMap["identity"]; ok {
		if identityMap, ok := identityInterface.(map[interface{}]interface{}); ok {
			identityConfig, err := parseIdentityConfig(identityMap, "identity")
			if err != nil {
				return errors.Wrap(err, "error parsing identity section")
			}

			if config.Identity, err = identity.LoadIdentity(*identityConfig); err != nil {
				return errors.Wrap(err, "error loading identity")
			}

			if err = config.Identity.WatchFiles(); err != nil {
				pfxlog.Logger().Warnf("could not enable file watching on server identity: %v", err)
			}
		} else {
			return errors.New("identity section must be a map if defined")
		}
	}

	if val, ok := configMap["maxConnections"]; ok {
		maxConnections, err := toInt64(val)
		if err != nil {
			return errors.Wrap(err, "could not use value for maxConnections")
		}
		config.MaxConnections = int(maxConnections)
	}

	if val, ok := configMap["maxPayloadBytes"]; ok {
		maxPayload, err := toInt64(val)
		if err != nil {
			return errors.Wrap(err, "could not use value for maxPayloadBytes")
		}
		config.MaxPayloadBytes = maxPayload
	}

	if err := parseString(configMap, "defaultContentType", &config.DefaultContentType); err != nil {
		return err
	}

	if val, ok := configMap["rateLimit"]; ok {
		rateLimit, err := parseRateLimit(val)
		if err != nil {
			return errors.Wrap(err, "error parsing rateLimit")
		}
		config.RateLimit = *rateLimit
	}

	if val, ok := configMap["services"]; ok {
		entries, ok := val.([]interface{})
		if !ok {
			return errors.New("services must be an array")
		}
		for i, entry := range entries {
			serviceMap, ok := entry.(map[interface{}]interface{})
			if !ok {
				return errors.Errorf("error parsing service configuration at index [%d]: not a map", i)
			}
			service := &ServiceConfig{}
			if err := service.Parse(serviceMap); err != nil {
				return errors.Wrapf(err, "error parsing service configuration at index [%d]", i)
			}
			config.Services = append(config.Services, service)
		}
	}

	var err error
	if config.IPAllowList, err = parseStringList(configMap, "ipAllowList", config.IPAllowList); err != nil {
		return err
	}

	if config.IPDenyList, err = parseStringList(configMap, "ipDenyList", config.IPDenyList); err != nil {
		return err
	}

	if val, ok := configMap["firewall"]; ok {
		entries, ok := val.([]interface{})
		if !ok {
			return errors.New("firewall must be an array")
		}
		for i, entry := range entries {
			ruleMap, ok := entry.(map[interface{}]interface{})
			if !ok {
				return errors.Errorf("error parsing firewall rule at index [%d]: not a map", i)
			}
			rule := &FirewallRuleConfig{}
			if err := rule.Parse(ruleMap); err != nil {
				return errors.Wrapf(err, "error parsing firewall rule at index [%d]", i)
			}
			config.Firewall = append(config.Firewall, rule)
		}
	}

	if val, ok := configMap["adminRoutes"]; ok {
		adminMap, ok := val.(map[interface{}]interface{})
		if !ok {
			return errors.New("adminRoutes must be a map")
		}
		if err := config.AdminRoutes.Parse(adminMap); err != nil {
			return errors.Wrap(err, "error parsing adminRoutes section")
		}
	}

	if val, ok := configMap["options"]; ok {
		if optionMap, ok := val.(map[interface{}]interface{}); ok {
			if err := config.Options.Parse(optionMap); err != nil {
				return errors.Wrap(err, "error parsing options section")
			}
		} //no else, options are optional
	}

	if val, ok := configMap["metrics"]; ok {
		metricsMap, ok := val.(map[interface{}]interface{})
		if !ok {
			return errors.New("metrics must be a map")
		}
		if err := config.Metrics.Parse(metricsMap); err != nil {
			return errors.Wrap(err, "error parsing metrics section")
		}
	}

	if val, ok := configMap["compression"]; ok {
		switch compression := val.(type) {
		case bool:
			config.Compression = compression
		case map[interface{}]interface{}:
			config.Compression = true
			if err := parseBool(compression, "enabled", &config.Compression); err != nil {
				return errors.Wrap(err, "error parsing compression section")
			}
			if levelVal, ok := compression["level"]; ok {
				level, err := toInt64(levelVal)
				if err != nil {
					return errors.Wrap(err, "could not use value for compression level")
				}
				config.CompressionLevel = int(level)
			}
		default:
			return errors.New("compression must be a boolean or a map")
		}
	}

	return nil
}

// Validate all Config values
func (config *Config) Validate() error {
	if config.Name == "" {
		return errors.New("name must not be empty")
	}

	if err := validateHostPort(config.Bind); err != nil {
		return errors.Wrapf(err, "invalid bind address [%s]", config.Bind)
	}

	if config.Identity == nil && config.TLSConfig == nil {
		return errors.New("no identity specified, an identity or tls configuration is required")
	}

	if config.MaxConnections < 0 {
		return errors.Errorf("value [%d] for maxConnections too low, must be zero (unlimited) or positive", config.MaxConnections)
	}

	if config.MaxPayloadBytes <= 0 {
		return errors.Errorf("value [%d] for maxPayloadBytes too low, must be positive", config.MaxPayloadBytes)
	}

	if encoding.NormalizeContentType(config.DefaultContentType) == "" {
		return errors.New("defaultContentType must not be empty")
	}

	if config.RateLimit.Rate < 0 || config.RateLimit.Burst < 0 {
		return errors.New("rateLimit rate and burst must not be negative")
	}

	serviceNames := map[string]struct{}{}
	for i, service := range config.Services {
		if err := service.Validate(); err != nil {
			return errors.Wrapf(err, "invalid service at index [%d]", i)
		}
		if _, found := serviceNames[service.Name]; found {
			return errors.Errorf("invalid service at index [%d]: duplicate name [%s]", i, service.Name)
		}
		serviceNames[service.Name] = struct{}{}
	}

	if _, err := admission.ParsePrefixes(config.IPAllowList); err != nil {
		return errors.Wrap(err, "invalid ipAllowList")
	}

	if _, err := admission.ParsePrefixes(config.IPDenyList); err != nil {
		return errors.Wrap(err, "invalid ipDenyList")
	}

	for i, rule := range config.Firewall {
		if err := rule.Validate(); err != nil {
			return errors.Wrapf(err, "invalid firewall rule at index [%d]", i)
		}
	}

	if err := config.Options.Validate(); err != nil {
		return err
	}

	if err := config.Metrics.Validate(); err != nil {
		return errors.Wrap(err, "invalid metrics option")
	}

	return nil
}

// RateLimitOverrides returns the per service rate limits keyed by service name.
func (config *Config) RateLimitOverrides() map[string]admission.RateLimit {
	overrides := map[string]admission.RateLimit{}
	for _, service := range config.Services {
		if service.RateLimit != nil {
			overrides[service.Name] = *service.RateLimit
		}
	}
	return overrides
}

// Describe returns the effective configuration with credentials left out, as served by the admin config route.
func (config *Config) Describe() map[string]interface{} {
	services := make([]map[string]interface{}, 0, len(config.Services))
	for _, service := range config.Services {
		entry := map[string]interface{}{"name": service.Name}
		if service.RateLimit != nil {
			entry["rateLimit"] = describeRateLimit(*service.RateLimit)
		}
		services = append(services, entry)
	}

	firewall := make([]map[string]interface{}, 0, len(config.Firewall))
	for _, rule := range config.Firewall {
		firewall = append(firewall, map[string]interface{}{
			"expression": rule.Expression,
			"header":     rule.Header,
			"values":     rule.Values,
			"status":     rule.Status,
			"code":       rule.Code,
		})
	}

	return map[string]interface{}{
		"name":               config.Name,
		"bind":               config.Bind,
		"maxConnections":     config.MaxConnections,
		"maxPayloadBytes":    config.MaxPayloadBytes,
		"defaultContentType": config.DefaultContentType,
		"rateLimit":          describeRateLimit(config.RateLimit),
		"services":           services,
		"ipAllowList":        append([]string{}, config.IPAllowList...),
		"ipDenyList":         append([]string{}, config.IPDenyList...),
		"firewall":           firewall,
		"adminRoutes": map[string]interface{}{
			"enableInfo":   config.AdminRoutes.EnableInfo,
			"enableUnsafe": config.AdminRoutes.EnableUnsafe,
		},
		"options": map[string]interface{}{
			"readTimeout":          config.Options.ReadTimeout.String(),
			"writeTimeout":         config.Options.WriteTimeout.String(),
			"idleTimeout":          config.Options.IdleTimeout.String(),
			"handshakeTimeout":     config.Options.HandshakeTimeout.String(),
			"shutdownRetries":      config.Options.ShutdownRetries,
			"maxConcurrentStreams": config.Options.MaxConcurrentStreams,
			"minTLSVersion":        ReverseTlsVersionMap[config.Options.MinTLSVersion],
			"maxTLSVersion":        ReverseTlsVersionMap[config.Options.MaxTLSVersion],
		},
		"metrics": map[string]interface{}{
			"logReporter": config.Metrics.LogReporter,
			"pollingRate": config.Metrics.PollingRate.String(),
		},
		"compression": config.Compression,
	}
}

func describeRateLimit(limit admission.RateLimit) map[string]interface{} {
	return map[string]interface{}{
		"rate":  limit.Rate,
		"burst": limit.Burst,
	}
}

// AdminRoutesConfig toggles the built-in admin route sets.
type AdminRoutesConfig struct {
	EnableInfo   bool
	EnableUnsafe bool
}

func (adminRoutes *AdminRoutesConfig) Default() {
	adminRoutes.EnableInfo = true
	adminRoutes.EnableUnsafe = false
}

func (adminRoutes *AdminRoutesConfig) Parse(config map[interface{}]interface{}) error {
	if err := parseBool(config, "enableInfo", &adminRoutes.EnableInfo); err != nil {
		return err
	}
	return parseBool(config, "enableUnsafe", &adminRoutes.EnableUnsafe)
}

// MetricsConfig controls the periodic metrics log report.
type MetricsConfig struct {
	LogReporter bool
	PollingRate time.Duration
}

func (metricsConfig *MetricsConfig) Default() {
	metricsConfig.LogReporter = false
	metricsConfig.PollingRate = DefaultMetricsPollingRate
}

func (metricsConfig *MetricsConfig) Parse(config map[interface{}]interface{}) error {
	if err := parseBool(config, "logReporter", &metricsConfig.LogReporter); err != nil {
		return err
	}
	return parseDuration(config, "pollingRate", &metricsConfig.PollingRate)
}

func (metricsConfig *MetricsConfig) Validate() error {
	if metricsConfig.LogReporter && metricsConfig.PollingRate <= 0 {
		return fmt.Errorf("value [%s] for pollingRate too low, must be positive", metricsConfig.PollingRate)
	}
	return nil
}

// ServerOptions is the shared transport options for a Config.
type ServerOptions struct {
	TimeoutOptions
	TlsVersionOptions

	HandshakeTimeout     time.Duration
	ShutdownRetries      int
	MaxConcurrentStreams uint32
}

// Default provides defaults for all necessary values
func (options *ServerOptions) Default() {
	options.TimeoutOptions.Default()
	options.TlsVersionOptions.Default()
	options.HandshakeTimeout = DefaultHandshakeTimeout
	options.ShutdownRetries = DefaultShutdownRetries
	options.MaxConcurrentStreams = DefaultMaxConcurrentStreams
}

// Parse parses a configuration map
func (options *ServerOptions) Parse(optionsMap map[interface{}]interface{}) error {
	if err := options.TimeoutOptions.Parse(optionsMap); err != nil {
		return errors.Wrap(err, "error parsing options")
	}

	if err := options.TlsVersionOptions.Parse(optionsMap); err != nil {
		return errors.Wrap(err, "error parsing options")
	}

	if err := parseDuration(optionsMap, "handshakeTimeout", &options.HandshakeTimeout); err != nil {
		return errors.Wrap(err, "error parsing options")
	}

	if val, ok := optionsMap["shutdownRetries"]; ok {
		retries, err := toInt64(val)
		if err != nil {
			return errors.Wrap(err, "could not use value for shutdownRetries")
		}
		options.ShutdownRetries = int(retries)
	}

	if val, ok := optionsMap["maxConcurrentStreams"]; ok {
		streams, err := toInt64(val)
		if err != nil {
			return errors.Wrap(err, "could not use value for maxConcurrentStreams")
		}
		if streams < 0 || streams > math.MaxUint32 {
			return errors.Errorf("value [%d] for maxConcurrentStreams out of range", streams)
		}
		options.MaxConcurrentStreams = uint32(streams)
	}

	return nil
}

func (options *ServerOptions) Validate() error {
	if err := options.TlsVersionOptions.Validate(); err != nil {
		return errors.Wrap(err, "invalid TLS version option")
	}

	if err := options.TimeoutOptions.Validate(); err != nil {
		return errors.Wrap(err, "invalid timeout option")
	}

	if options.HandshakeTimeout <= 0 {
		return errors.Errorf("value [%s] for handshakeTimeout too low, must be positive", options.HandshakeTimeout)
	}

	if options.ShutdownRetries < 1 {
		return errors.Errorf("value [%d] for shutdownRetries too low, must be at least 1", options.ShutdownRetries)
	}

	return nil
}

// TimeoutOptions represents http timeout options
type TimeoutOptions struct {
	ReadTimeout  time.Duration
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

// Default defaults all HTTP timeout options
func (timeoutOptions *TimeoutOptions) Default() {
	timeoutOptions.WriteTimeout = DefaultHttpWriteTimeout
	timeoutOptions.ReadTimeout = DefaultHttpReadTimeout
	timeoutOptions.IdleTimeout = DefaultHttpIdleTimeout
}

// Parse parses a config map
func (timeoutOptions *TimeoutOptions) Parse(config map[interface{}]interface{}) error {
	if err := parseDuration(config, "readTimeout", &timeoutOptions.ReadTimeout); err != nil {
		return err
	}

	if err := parseDuration(config, "idleTimeout", &timeoutOptions.IdleTimeout); err != nil {
		return err
	}

	return parseDuration(config, "writeTimeout", &timeoutOptions.WriteTimeout)
}

// Validate validates all settings and return nil or an error
func (timeoutOptions *TimeoutOptions) Validate() error {
	if timeoutOptions.WriteTimeout <= 0 {
		return fmt.Errorf("value [%s] for writeTimeout too low, must be positive", timeoutOptions.WriteTimeout.String())
	}

	if timeoutOptions.ReadTimeout <= 0 {
		return fmt.Errorf("value [%s] for readTimeout too low, must be positive", timeoutOptions.ReadTimeout.String())
	}

	if timeoutOptions.IdleTimeout <= 0 {
		return fmt.Errorf("value [%s] for idleTimeout too low, must be positive", timeoutOptions.IdleTimeout.String())
	}

	return nil
}

// TlsVersionOptions represents TLS version options
type TlsVersionOptions struct {
	MinTLSVersion int
	MaxTLSVersion int
}

// Default defaults TLS versions
func (tlsVersionOptions *TlsVersionOptions) Default() {
	tlsVersionOptions.MinTLSVersion = MinTLSVersion
	tlsVersionOptions.MaxTLSVersion = MaxTLSVersion
}

// Parse parses a config map
func (tlsVersionOptions *TlsVersionOptions) Parse(config map[interface{}]interface{}) error {
	if err := parseTLSVersion(config, "minTLSVersion", &tlsVersionOptions.MinTLSVersion); err != nil {
		return err
	}
	return parseTLSVersion(config, "maxTLSVersion", &tlsVersionOptions.MaxTLSVersion)
}

// Validate validates the configuration values and returns nil or error
func (tlsVersionOptions *TlsVersionOptions) Validate() error {
	if tlsVersionOptions.MinTLSVersion > tlsVersionOptions.MaxTLSVersion {
		return fmt.Errorf("minTLSVersion [%s] must be less than or equal to maxTLSVersion [%s]",
			ReverseTlsVersionMap[tlsVersionOptions.MinTLSVersion], ReverseTlsVersionMap[tlsVersionOptions.MaxTLSVersion])
	}

	return nil
}

func parseTLSVersion(config map[interface{}]interface{}, key string, target *int) error {
	interfaceVal, ok := config[key]
	if !ok {
		return nil
	}

	versionStr, ok := interfaceVal.(string)
	if !ok {
		return errors.Errorf("could not use value for %s, not a string", key)
	}

	version, ok := TlsVersionMap[versionStr]
	if !ok {
		return errors.Errorf("could not use value for %s, invalid value [%s]", key, versionStr)
	}

	*target = version
	return nil
}

func parseIdentityConfig(identityMap map[interface{}]interface{}, pathContext string) (*identity.Config, error) {
	idConfig, err := identity.NewConfigFromMap(identityMap)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing identity")
	}

	if err = idConfig.ValidateWithPathContext(pathContext); err != nil {
		return nil, errors.Wrap(err, "error parsing identity")
	}

	return idConfig, nil
}

func parseString(config map[interface{}]interface{}, key string, target *string) error {
	if interfaceVal, ok := config[key]; ok {
		if value, ok := interfaceVal.(string); ok {
			*target = value
		} else {
			return errors.Errorf("could not use value for %s, not a string", key)
		}
	}
	return nil
}

func parseBool(config map[interface{}]interface{}, key string, target *bool) error {
	if interfaceVal, ok := config[key]; ok {
		if value, ok := interfaceVal.(bool); ok {
			*target = value
		} else {
			return errors.Errorf("could not use value for %s, not a boolean", key)
		}
	}
	return nil
}

func parseDuration(config map[interface{}]interface{}, key string, target *time.Duration) error {
	interfaceVal, ok := config[key]
	if !ok {
		return nil
	}

	durationStr, ok := interfaceVal.(string)
	if !ok {
		return errors.Errorf("could not use value for %s, not a string", key)
	}

	duration, err := time.ParseDuration(durationStr)
	if err != nil {
		return errors.Errorf("could not parse %s %s as a duration (e.g. 1m): %v", key, durationStr, err)
	}

	*target = duration
	return nil
}

func parseStringList(config map[interface{}]interface{}, key string, current []string) ([]string, error) {
	interfaceVal, ok := config[key]
	if !ok {
		return current, nil
	}

	entries, ok := interfaceVal.([]interface{})
	if !ok {
		return nil, errors.Errorf("%s must be an array", key)
	}

	result := make([]string, 0, len(entries))
	for i, entry := range entries {
		value, ok := entry.(string)
		if !ok {
			return nil, errors.Errorf("%s entry at index [%d] is not a string", key, i)
		}
		result = append(result, value)
	}
	return result, nil
}

func parseRateLimit(val interface{}) (*admission.RateLimit, error) {
	rateMap, ok := val.(map[interface{}]interface{})
	if !ok {
		return nil, errors.New("rateLimit must be a map")
	}

	result := &admission.RateLimit{}
	if rateVal, ok := rateMap["rate"]; ok {
		rate, err := toFloat64(rateVal)
		if err != nil {
			return nil, errors.Wrap(err, "could not use value for rate")
		}
		result.Rate = rate
	}

	if burstVal, ok := rateMap["burst"]; ok {
		burst, err := toInt64(burstVal)
		if err != nil {
			return nil, errors.Wrap(err, "could not use value for burst")
		}
		result.Burst = int(burst)
	}

	return result, nil
}

func toInt64(val interface{}) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, errors.Errorf("value %d out of range", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.Errorf("value %v is not an integer", v)
		}
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, errors.Errorf("value %q is not an integer", v)
		}
		return parsed, nil
	}
	return 0, errors.Errorf("value of type %T is not an integer", val)
}

func toFloat64(val interface{}) (float64, error) {
	switch v := val.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, errors.Errorf("value %q is not a number", v)
		}
		return parsed, nil
	}
	return 0, errors.Errorf("value of type %T is not a number", val)
}

// validateHostPort checks an <interface>:<port> address. Port 0 selects an ephemeral port.
func validateHostPort(address string) error {
	address = strings.TrimSpace(address)

	if address == "" {
		return errors.New("must not be an empty string or unspecified")
	}

	host, port, err := net.SplitHostPort(address)

	if err != nil {
		return errors.Errorf("could not split host and port: %v", err)
	}

	if host == "" {
		return errors.New("host must be specified")
	}

	if port == "" {
		return errors.New("port must be specified")
	}

	if port, err := strconv.ParseInt(port, 10, 32); err != nil {
		return errors.New("invalid port, must be a integer")
	} else if port < 0 || port > 65535 {
		return errors.New("invalid port, must 0-65535")
	}

	return nil
}

// LoadConfigMap parses YAML into the map form accepted by Config.Parse.
func LoadConfigMap(data []byte) (map[interface{}]interface{}, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration")
	}

	result := map[interface{}]interface{}{}
	for key, value := range raw {
		result[key] = normalizeYAML(value)
	}
	return result, nil
}

func normalizeYAML(val interface{}) interface{} {
	switch v := val.(type) {
	case map[string]interface{}:
		result := make(map[interface{}]interface{}, len(v))
		for key, value := range v {
			result[key] = normalizeYAML(value)
		}
		return result
	case map[interface{}]interface{}:
		result := make(map[interface{}]interface{}, len(v))
		for key, value := range v {
			result[fmt.Sprint(key)] = normalizeYAML(value)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, value := range v {
			result[i] = normalizeYAML(value)
		}
		return result
	}
	return val
}
