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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xrpc-go/xrpc/admission"
)

const fullConfig = `
name: widgets
bind: 127.0.0.1:9443
maxConnections: 100
maxPayloadBytes: 1024
defaultContentType: application/yaml
rateLimit:
  rate: 50
  burst: 10
services:
  - name: widgets
    rateLimit:
      rate: 2.5
      burst: 5
  - name: admin
ipAllowList:
  - 10.0.0.0/8
  - 127.0.0.1
ipDenyList:
  - 10.9.9.9
firewall:
  - expression: method == "DELETE"
    status: 405
    code: NoDeletes
  - header: X-Debug
    values: ["on", "true"]
adminRoutes:
  enableInfo: false
  enableUnsafe: true
options:
  readTimeout: 3s
  writeTimeout: 4s
  idleTimeout: 1m
  handshakeTimeout: 2s
  shutdownRetries: 5
  maxConcurrentStreams: 64
  minTLSVersion: TLS1.3
  maxTLSVersion: TLS1.3
metrics:
  logReporter: true
  pollingRate: 30s
compression:
  level: 4
`

func parsedConfig(t *testing.T, data string) *Config {
	configMap, err := LoadConfigMap([]byte(data))
	require.NoError(t, err)

	config := NewConfig()
	require.NoError(t, config.Parse(configMap))
	return config
}

func TestConfigDefaults(t *testing.T) {
	config := NewConfig()

	req := require.New(t)
	req.Equal(DefaultName, config.Name)
	req.Equal(DefaultBind, config.Bind)
	req.Equal(int64(DefaultMaxPayloadBytes), config.MaxPayloadBytes)
	req.Equal(DefaultContentType, config.DefaultContentType)
	req.True(config.AdminRoutes.EnableInfo)
	req.False(config.AdminRoutes.EnableUnsafe)
	req.IsType(ServerOptions{}, config.Options)
	req.Equal(DefaultHttpReadTimeout, config.Options.ReadTimeout)
	req.Equal(DefaultHandshakeTimeout, config.Options.HandshakeTimeout)
	req.Equal(DefaultShutdownRetries, config.Options.ShutdownRetries)
	req.Equal(tls.VersionTLS12, config.Options.MinTLSVersion)
	req.Equal(tls.VersionTLS13, config.Options.MaxTLSVersion)
	req.False(config.Compression)
}

func TestConfigParse(t *testing.T) {
	t.Run("every section is read", func(t *testing.T) {
		config := parsedConfig(t, fullConfig)

		req := require.New(t)
		req.Equal("widgets", config.Name)
		req.Equal("127.0.0.1:9443", config.Bind)
		req.Equal(100, config.MaxConnections)
		req.Equal(int64(1024), config.MaxPayloadBytes)
		req.Equal("application/yaml", config.DefaultContentType)
		req.Equal(admission.RateLimit{Rate: 50, Burst: 10}, config.RateLimit)

		req.Len(config.Services, 2)
		req.Equal("widgets", config.Services[0].Name)
		req.Equal(&admission.RateLimit{Rate: 2.5, Burst: 5}, config.Services[0].RateLimit)
		req.Nil(config.Services[1].RateLimit)
		req.Equal(map[string]admission.RateLimit{"widgets": {Rate: 2.5, Burst: 5}}, config.RateLimitOverrides())

		req.Equal([]string{"10.0.0.0/8", "127.0.0.1"}, config.IPAllowList)
		req.Equal([]string{"10.9.9.9"}, config.IPDenyList)

		req.Len(config.Firewall, 2)
		req.Equal(`method == "DELETE"`, config.Firewall[0].Expression)
		req.Equal(405, config.Firewall[0].Status)
		req.Equal("NoDeletes", config.Firewall[0].Code)
		req.Equal("X-Debug", config.Firewall[1].Header)
		req.Equal([]string{"on", "true"}, config.Firewall[1].Values)

		req.False(config.AdminRoutes.EnableInfo)
		req.True(config.AdminRoutes.EnableUnsafe)

		req.Equal(3*time.Second, config.Options.ReadTimeout)
		req.Equal(4*time.Second, config.Options.WriteTimeout)
		req.Equal(time.Minute, config.Options.IdleTimeout)
		req.Equal(2*time.Second, config.Options.HandshakeTimeout)
		req.Equal(5, config.Options.ShutdownRetries)
		req.Equal(uint32(64), config.Options.MaxConcurrentStreams)
		req.Equal(tls.VersionTLS13, config.Options.MinTLSVersion)

		req.True(config.Metrics.LogReporter)
		req.Equal(30*time.Second, config.Metrics.PollingRate)

		req.True(config.Compression)
		req.Equal(4, config.CompressionLevel)
	})

	t.Run("absent keys keep their defaults", func(t *testing.T) {
		config := parsedConfig(t, "name: minimal\n")

		req := require.New(t)
		req.Equal("minimal", config.Name)
		req.Equal(DefaultBind, config.Bind)
		req.Equal(int64(DefaultMaxPayloadBytes), config.MaxPayloadBytes)
	})

	t.Run("a boolean compression flag is accepted", func(t *testing.T) {
		config := parsedConfig(t, "compression: true\n")
		require.True(t, config.Compression)
		require.Equal(t, DefaultCompressionLevel, config.CompressionLevel)
	})

	t.Run("malformed values are rejected", func(t *testing.T) {
		cases := map[string]string{
			"name that is not a string":    "name: [a]\n",
			"non numeric maxConnections":   "maxConnections: lots\n",
			"fractional maxPayloadBytes":   "maxPayloadBytes: 1.5\n",
			"services that are not a list": "services: widgets\n",
			"a service without a name":     "services:\n  - rateLimit: {rate: 1}\n",
			"an unknown tls version":       "options:\n  minTLSVersion: SSL3\n",
			"an unparseable duration":      "options:\n  readTimeout: soon\n",
			"an allow list of maps":        "ipAllowList:\n  - {ip: 1.2.3.4}\n",
			"a non boolean admin toggle":   "adminRoutes:\n  enableInfo: sometimes\n",
			"a compression string":         "compression: fast\n",
		}

		for name, data := range cases {
			configMap, err := LoadConfigMap([]byte(data))
			require.NoError(t, err, name)
			require.Error(t, NewConfig().Parse(configMap), name)
		}
	})

	t.Run("invalid yaml is an error", func(t *testing.T) {
		_, err := LoadConfigMap([]byte("name: [unterminated"))
		require.Error(t, err)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		config := NewConfig()
		config.Bind = "127.0.0.1:0"
		config.TLSConfig = &tls.Config{}
		return config
	}

	t.Run("a defaulted config with a tls configuration is valid", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	t.Run("the parsed sample is valid once it has a tls configuration", func(t *testing.T) {
		config := parsedConfig(t, fullConfig)
		config.TLSConfig = &tls.Config{}
		require.NoError(t, config.Validate())
	})

	cases := map[string]func(config *Config){
		"a missing identity":                func(config *Config) { config.TLSConfig = nil },
		"an empty name":                     func(config *Config) { config.Name = "" },
		"a bind address without a port":     func(config *Config) { config.Bind = "127.0.0.1" },
		"a bind address without a host":     func(config *Config) { config.Bind = ":8443" },
		"a bind port out of range":          func(config *Config) { config.Bind = "127.0.0.1:70000" },
		"negative max connections":          func(config *Config) { config.MaxConnections = -1 },
		"a zero payload limit":              func(config *Config) { config.MaxPayloadBytes = 0 },
		"an empty default content type":     func(config *Config) { config.DefaultContentType = " " },
		"a negative rate":                   func(config *Config) { config.RateLimit.Rate = -1 },
		"duplicate services":                func(config *Config) { config.Services = []*ServiceConfig{{Name: "a"}, {Name: "a"}} },
		"an unparseable allow list entry":   func(config *Config) { config.IPAllowList = []string{"not-an-ip"} },
		"an unparseable deny list entry":    func(config *Config) { config.IPDenyList = []string{"10.0.0.0/99"} },
		"a firewall rule of both kinds":     func(config *Config) { config.Firewall = []*FirewallRuleConfig{{Expression: "true", Header: "X"}} },
		"a firewall rule of neither kind":   func(config *Config) { config.Firewall = []*FirewallRuleConfig{{}} },
		"a non boolean firewall expression": func(config *Config) { config.Firewall = []*FirewallRuleConfig{{Expression: `path + "x"`}} },
		"a firewall status below 400":       func(config *Config) { config.Firewall = []*FirewallRuleConfig{{Header: "X", Status: 302}} },
		"inverted tls versions": func(config *Config) {
			config.Options.MinTLSVersion = tls.VersionTLS13
			config.Options.MaxTLSVersion = tls.VersionTLS12
		},
		"a zero handshake timeout":  func(config *Config) { config.Options.HandshakeTimeout = 0 },
		"zero shutdown retries":     func(config *Config) { config.Options.ShutdownRetries = 0 },
		"a zero read timeout":       func(config *Config) { config.Options.ReadTimeout = 0 },
		"a reporter without a rate": func(config *Config) { config.Metrics = MetricsConfig{LogReporter: true} },
	}

	for name, mutate := range cases {
		t.Run(name+" is invalid", func(t *testing.T) {
			config := valid()
			mutate(config)
			require.Error(t, config.Validate())
		})
	}
}

func TestConfigDescribe(t *testing.T) {
	config := parsedConfig(t, fullConfig)
	config.TLSConfig = &tls.Config{}

	description := config.Describe()

	req := require.New(t)
	req.Equal("widgets", description["name"])
	req.Equal("127.0.0.1:9443", description["bind"])
	req.NotContains(description, "identity")

	options := description["options"].(map[string]interface{})
	req.Equal("TLS1.3", options["minTLSVersion"])
	req.Equal("3s", options["readTimeout"])

	services := description["services"].([]map[string]interface{})
	req.Len(services, 2)
	req.Equal("widgets", services[0]["name"])

	firewall := description["firewall"].([]map[string]interface{})
	req.Len(firewall, 2)
	req.Equal("X-Debug", firewall[1]["header"])
	req.Equal([]string{"on", "true"}, firewall[1]["values"])
	req.Empty(firewall[1]["expression"])
}

func TestFirewallRuleConfigBuild(t *testing.T) {
	t.Run("an expression rule builds an expression rule", func(t *testing.T) {
		rule, err := (&FirewallRuleConfig{Expression: `method == "DELETE"`}).Build()
		require.NoError(t, err)
		require.IsType(t, &admission.ExpressionRule{}, rule)
	})

	t.Run("a header rule builds a header rule", func(t *testing.T) {
		rule, err := (&FirewallRuleConfig{Header: "X-Debug", Values: []string{"on"}, Status: 400}).Build()
		require.NoError(t, err)
		require.Equal(t, admission.HeaderRule{Header: "X-Debug", Values: []string{"on"}, Status: 400}, rule)
	})
}
