package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/dispatch"
)

// RuntimeEnvironment represents the execution environment
type RuntimeEnvironment string

const (
	RuntimeKubernetes RuntimeEnvironment = "kubernetes"
	RuntimeContainer  RuntimeEnvironment = "container"
	RuntimeVM         RuntimeEnvironment = "vm"
)

// DiscoveryMode represents how the proxy target is turned into an address
type DiscoveryMode string

const (
	DiscoveryDNS        DiscoveryMode = "dns"
	DiscoveryKubernetes DiscoveryMode = "kubernetes"
	DiscoveryStatic     DiscoveryMode = "static"
)

const (
	defaultPort      = 8000
	defaultProxyPort = 80
	defaultChunkSize = 4 << 10
)

// Config holds all application configuration. It is built once by Load and
// never modified afterwards.
type Config struct {
	// Core
	Debug     bool   `yaml:"debug"`
	LogFormat string `yaml:"log_format"`

	// Handler selection, exactly one is set
	FilesDir    string           `yaml:"files"`
	ProxyTarget string           `yaml:"proxy"`
	Proxy       core.ProxyTarget `yaml:"-"`

	// Server
	ServerPort       int               `yaml:"port"`
	Strategy         dispatch.Strategy `yaml:"strategy"`
	NumThreads       int               `yaml:"num_threads"`
	HealthServerPort string            `yaml:"health_port"`

	// I/O
	ChunkSize   SizeBytes     `yaml:"chunk_size"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// Runtime
	Runtime   RuntimeEnvironment `yaml:"runtime"`
	Namespace string             `yaml:"namespace"`

	// Target discovery
	DiscoveryMode  DiscoveryMode `yaml:"discovery"`
	StaticTargets  string        `yaml:"static_targets"`
	KubeConfigPath string        `yaml:"kubeconfig"`
	KubeContext    string        `yaml:"kube_context"`
}

// SizeBytes is a byte count read from strings like "4KiB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int() int { return int(s) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// BindFlags registers every command line flag understood by Load.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML config file (env XRELAY_CONFIG)")
	fs.String("files", "", "serve files from this directory")
	fs.String("proxy", "", "relay requests to HOST[:PORT]")
	fs.Int("port", defaultPort, "listening port")
	fs.Int("num-threads", 0, "worker pool size (pool strategy)")
	fs.String("strategy", string(dispatch.StrategyThread), "dispatch strategy: inline, process, thread or pool")
	fs.String("discovery", string(DiscoveryDNS), "proxy target discovery: dns, kubernetes or static")
	fs.String("static-targets", "", "static target mapping host=addr[:port],...")
	fs.String("kubeconfig", "", "kubeconfig path for kubernetes discovery")
	fs.String("kube-context", "", "kubeconfig context")
	fs.String("namespace", "", "default namespace for kubernetes discovery")
	fs.String("health-port", "", "health and metrics port (disabled when empty)")
	fs.String("chunk-size", "4KiB", "I/O chunk size")
	fs.Duration("dial-timeout", 5*time.Second, "upstream dial timeout")
	fs.String("log-format", "text", "log format: text or json")
	fs.Bool("debug", false, "enable debug logging")
}

// Load builds the configuration. Later sources win:
// defaults, YAML file, .env and environment, explicitly set flags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := defaults()

	path := getEnv("XRELAY_CONFIG", "")
	if fs != nil && fs.Changed("config") {
		path, _ = fs.GetString("config")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// .env never overrides variables that are already set
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if fs != nil {
		if err := cfg.applyFlags(fs); err != nil {
			return nil, err
		}
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	// Validation
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LogFormat:     "text",
		ServerPort:    defaultPort,
		Strategy:      dispatch.StrategyThread,
		ChunkSize:     defaultChunkSize,
		DialTimeout:   5 * time.Second,
		DiscoveryMode: DiscoveryDNS,
	}
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Debug = getEnvBool("DEBUG", c.Debug)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.FilesDir = getEnv("FILES_DIR", c.FilesDir)
	c.ProxyTarget = getEnv("PROXY_TARGET", c.ProxyTarget)

	c.ServerPort = getEnvInt("SERVER_PORT", c.ServerPort)
	c.Strategy = dispatch.Strategy(strings.ToLower(getEnv("STRATEGY", string(c.Strategy))))
	c.NumThreads = getEnvInt("NUM_THREADS", c.NumThreads)
	c.HealthServerPort = getEnv("HEALTH_SERVER_PORT", c.HealthServerPort)

	if raw := getEnv("CHUNK_SIZE", ""); raw != "" {
		v, err := parseSize(raw)
		if err != nil {
			return fmt.Errorf("CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = v
	}
	c.DialTimeout = getEnvDuration("DIAL_TIMEOUT", c.DialTimeout)

	c.Namespace = getEnv("NAMESPACE", c.Namespace)
	// Legacy: POD_NAMESPACE
	if podNS := getEnv("POD_NAMESPACE", ""); podNS != "" && c.Namespace == "" {
		c.Namespace = podNS
	}

	c.DiscoveryMode = DiscoveryMode(strings.ToLower(getEnv("DISCOVERY_MODE", string(c.DiscoveryMode))))
	c.StaticTargets = getEnv("STATIC_TARGETS", c.StaticTargets)
	c.KubeConfigPath = getEnv("KUBECONFIG", c.KubeConfigPath)
	c.KubeContext = getEnv("KUBE_CONTEXT", c.KubeContext)
	return nil
}

func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetInt(name)
		}
	}

	str("files", &c.FilesDir)
	str("proxy", &c.ProxyTarget)
	num("port", &c.ServerPort)
	num("num-threads", &c.NumThreads)
	str("health-port", &c.HealthServerPort)
	str("static-targets", &c.StaticTargets)
	str("kubeconfig", &c.KubeConfigPath)
	str("kube-context", &c.KubeContext)
	str("namespace", &c.Namespace)
	str("log-format", &c.LogFormat)

	var strategy, discovery, chunk string
	str("strategy", &strategy)
	str("discovery", &discovery)
	str("chunk-size", &chunk)
	if err != nil {
		return err
	}
	if strategy != "" {
		c.Strategy = dispatch.Strategy(strings.ToLower(strategy))
	}
	if discovery != "" {
		c.DiscoveryMode = DiscoveryMode(strings.ToLower(discovery))
	}
	if chunk != "" {
		v, err := parseSize(chunk)
		if err != nil {
			return fmt.Errorf("--chunk-size: %w", err)
		}
		c.ChunkSize = v
	}

	if fs.Changed("dial-timeout") {
		if c.DialTimeout, err = fs.GetDuration("dial-timeout"); err != nil {
			return err
		}
	}
	if fs.Changed("debug") {
		if c.Debug, err = fs.GetBool("debug"); err != nil {
			return err
		}
	}
	return nil
}

// finalize fills derived fields once every source has been applied.
func (c *Config) finalize() error {
	if c.Runtime == "" || os.Getenv("RUNTIME") != "" {
		c.Runtime = determineRuntime()
	}
	if c.Namespace == "" {
		c.Namespace = determineNamespace()
	}

	if c.ProxyTarget != "" {
		// kubernetes discovery picks the service's first port when none is given
		port := defaultProxyPort
		if c.DiscoveryMode == DiscoveryKubernetes {
			port = 0
		}
		target, err := ParseProxyTarget(c.ProxyTarget, port)
		if err != nil {
			return err
		}
		c.Proxy = target
	}
	return nil
}

// validate ensures configuration is coherent
func (c *Config) validate() error {
	if (c.FilesDir == "") == (c.ProxyTarget == "") {
		return fmt.Errorf("exactly one of --files (FILES_DIR) or --proxy (PROXY_TARGET) must be set")
	}

	if c.FilesDir != "" {
		info, err := os.Stat(c.FilesDir)
		if err != nil {
			return fmt.Errorf("files directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("files directory %s is not a directory", c.FilesDir)
		}
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid port %d (must be 1-65535)", c.ServerPort)
	}

	validStrategies := make([]string, 0, len(dispatch.Strategies))
	for _, s := range dispatch.Strategies {
		validStrategies = append(validStrategies, string(s))
	}
	if !contains(validStrategies, string(c.Strategy)) {
		return fmt.Errorf("unsupported strategy: %s (supported: %s)",
			c.Strategy, strings.Join(validStrategies, ", "))
	}
	if c.Strategy == dispatch.StrategyPool && c.NumThreads < 1 {
		return fmt.Errorf("pool strategy requires --num-threads >= 1, got %d", c.NumThreads)
	}

	validModes := []string{string(DiscoveryDNS), string(DiscoveryKubernetes), string(DiscoveryStatic)}
	if !contains(validModes, string(c.DiscoveryMode)) {
		return fmt.Errorf("unsupported discovery mode: %s (supported: %s)",
			c.DiscoveryMode, strings.Join(validModes, ", "))
	}
	if c.DiscoveryMode == DiscoveryStatic && c.ProxyTarget != "" && c.StaticTargets == "" {
		return fmt.Errorf("static discovery requires STATIC_TARGETS")
	}
	if c.DiscoveryMode == DiscoveryKubernetes && c.Runtime == RuntimeContainer && c.KubeConfigPath == "" && c.ProxyTarget != "" {
		return fmt.Errorf("kubernetes discovery in container runtime requires KUBECONFIG path")
	}

	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be at least 1 byte")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive, got %s", c.DialTimeout)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unsupported log format: %s (supported: text, json)", c.LogFormat)
	}
	return nil
}

// ParseProxyTarget splits "host[:port]". A missing port becomes defaultPort.
func ParseProxyTarget(s string, defaultPort int) (core.ProxyTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.ProxyTarget{}, fmt.Errorf("empty proxy target")
	}

	host, portStr := s, ""
	if i := strings.LastIndex(s, ":"); i >= 0 && !strings.Contains(s[i+1:], "]") {
		host, portStr = s[:i], s[i+1:]
		// bare IPv6 literal without brackets
		if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
			host, portStr = s, ""
		}
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return core.ProxyTarget{}, fmt.Errorf("proxy target %q has no host", s)
	}

	port := defaultPort
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p < 1 || p > 65535 {
			return core.ProxyTarget{}, fmt.Errorf("proxy target %q has invalid port", s)
		}
		port = p
	}
	return core.ProxyTarget{Host: host, Port: port}, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func determineRuntime() RuntimeEnvironment {
	// Explicit runtime setting
	if runtime := os.Getenv("RUNTIME"); runtime != "" {
		switch strings.ToLower(runtime) {
		case "kubernetes", "k8s":
			return RuntimeKubernetes
		case "container", "docker":
			return RuntimeContainer
		case "vm", "virtual-machine", "bare-metal":
			return RuntimeVM
		}
	}

	// Auto-detect: Check if running in Kubernetes
	if _, err := os.Stat("/var/run/secrets/kubernetes.io/serviceaccount"); err == nil {
		return RuntimeKubernetes
	}

	// Auto-detect: Check if running in container
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return RuntimeContainer
	}

	// Default to VM
	return RuntimeVM
}

func determineNamespace() string {
	// Read from service account (in-cluster)
	if data, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace"); err == nil {
		return strings.TrimSpace(string(data))
	}

	return "default"
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
