// Package config loads and merges Artemis's layered YAML configuration and
// resolves per-task defaults and per-task config variants.
//
// This consolidates what the originating system kept as two parallel
// modules (a class-based manager and an older global-dict implementation
// that task units actually called into) into one component, matching the
// single Config Manager this system names.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPathVar = "ARTEMIS_CONFIG"
	EnvConfigEnvVar  = "ARTEMIS_ENV"
	overrideFilePat  = "config.%s.yaml"
)

type ServerCfg struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AccessLog bool   `yaml:"access_log"`
}

type LoggingFileCfg struct {
	Dir      string `yaml:"dir"`
	Filename string `yaml:"filename"`
}

type LoggingRotateCfg struct {
	Enabled         bool   `yaml:"enabled"`
	RotateInterval  string `yaml:"rotate_interval"`
	MaxAge          string `yaml:"max_age"`
	CleanupEnabled  bool   `yaml:"cleanup_enabled"`
}

type LoggingCfg struct {
	Enabled       bool             `yaml:"enabled"`
	Level         string           `yaml:"level"`
	Format        string           `yaml:"format"`
	Output        string           `yaml:"output"`
	IncludeCaller bool             `yaml:"include_caller"`
	FileConfig    LoggingFileCfg   `yaml:"file_config"`
	RotateConfig  LoggingRotateCfg `yaml:"rotate_config"`
}

type TelemetryOtlpCfg struct {
	Protocol  string            `yaml:"protocol"`
	Endpoint  string            `yaml:"endpoint"`
	Headers   map[string]string `yaml:"headers"`
	TimeoutMs int               `yaml:"timeout_ms"`
}

type TelemetryCfg struct {
	Enabled     bool             `yaml:"enabled"`
	ServiceName string           `yaml:"service_name"`
	Sampling    string           `yaml:"sampling"`
	Otlp        TelemetryOtlpCfg `yaml:"otlp"`
}

type HTTPClientCfg struct {
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	VerifySSL      bool              `yaml:"verify_ssl"`
	Headers        map[string]string `yaml:"headers"`
}

type CallbackCfg struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	OverrideHost string `yaml:"override_host"`
	OverridePort int    `yaml:"override_port"`
}

type DeptServiceCfg struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Config struct {
	Env          string                    `yaml:"env"`
	Server       ServerCfg                 `yaml:"server"`
	Logging      LoggingCfg                `yaml:"logging"`
	Telemetry    TelemetryCfg              `yaml:"telemetry"`
	HTTPClient   HTTPClientCfg             `yaml:"http_client"`
	Callback     CallbackCfg               `yaml:"callback"`
	DeptServices map[string]DeptServiceCfg `yaml:"dept_services"`
	TaskDefaults map[string]map[string]any `yaml:"task_defaults"`
	OutputDefaults map[string]any          `yaml:"output_defaults"`
}

// Variant is one conditional config block for a task code.
type Variant struct {
	Match  map[string]any `yaml:"match"`
	When   map[string]any `yaml:"when"`
	Config map[string]any `yaml:"config"`
}

func (v Variant) condition() map[string]any {
	if len(v.Match) > 0 {
		return v.Match
	}
	if len(v.When) > 0 {
		return v.When
	}
	return map[string]any{}
}

type taskYamlRoot struct {
	Tasks map[string]struct {
		Variants []Variant `yaml:"variants"`
	} `yaml:"tasks"`
}

// Manager owns the loaded config and resolves task defaults/variants. It is
// safe for concurrent reads; Init replaces the cached config atomically.
type Manager struct {
	mu sync.RWMutex

	cfg          Config
	cfgPath      string
	envName      string
	taskVariants map[string][]Variant

	defPaths  []string
	taskPaths []string
}

// NewManager constructs a Manager with the given candidate default paths for
// the base config and the task-variants file, searched in order.
func NewManager(defPaths, taskPaths []string) *Manager {
	return &Manager{defPaths: defPaths, taskPaths: taskPaths}
}

// Init loads the base config (and optional env overlay), applying the
// legacy callback->dept_services mapping when the modern key is absent.
// A missing base file degrades to an empty config rather than failing,
// matching the intent that early imports must not be blocked by config
// absence.
func (m *Manager) Init(path, env string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !force && m.cfgPath != "" && !m.needsReloadLocked(path, env) {
		return nil
	}

	resolvedPath := resolvePath(path, m.defPaths)
	resolvedEnv := resolveEnv(env, "")

	base := Config{}
	if resolvedPath != "" {
		data, err := os.ReadFile(resolvedPath)
		if err == nil {
			if err := yaml.Unmarshal(data, &base); err != nil {
				return fmt.Errorf("config: malformed yaml at %s: %w", resolvedPath, err)
			}
		}
		// missing file: fall through with empty config
	}

	resolvedEnv = resolveEnv(env, base.Env)

	merged := base
	if resolvedPath != "" {
		overridePath := filepath.Join(filepath.Dir(resolvedPath), fmt.Sprintf(overrideFilePat, resolvedEnv))
		if data, err := os.ReadFile(overridePath); err == nil {
			var overlay Config
			if err := yaml.Unmarshal(data, &overlay); err != nil {
				return fmt.Errorf("config: malformed overlay yaml at %s: %w", overridePath, err)
			}
			merged = shallowMerge(base, overlay)
		}
	}
	merged.Env = resolvedEnv

	if len(merged.DeptServices) == 0 {
		host := merged.Callback.Host
		if merged.Callback.OverrideHost != "" {
			host = merged.Callback.OverrideHost
		}
		port := merged.Callback.Port
		if merged.Callback.OverridePort != 0 {
			port = merged.Callback.OverridePort
		}
		if host != "" || port != 0 {
			merged.DeptServices = map[string]DeptServiceCfg{
				"cronjob": {Host: host, Port: port},
			}
		}
	}

	m.cfg = merged
	m.cfgPath = resolvedPath
	m.envName = resolvedEnv
	m.taskVariants = nil
	return nil
}

func (m *Manager) needsReloadLocked(newPath, newEnv string) bool {
	resolved := resolvePath(newPath, m.defPaths)
	if resolved != m.cfgPath {
		return true
	}
	if newEnv != "" && newEnv != m.envName {
		return true
	}
	return false
}

func resolvePath(explicit string, defaults []string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv(EnvConfigPathVar); v != "" {
		return v
	}
	for _, d := range defaults {
		if _, err := os.Stat(d); err == nil {
			return d
		}
	}
	return ""
}

func resolveEnv(explicit, fromBase string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv(EnvConfigEnvVar); v != "" {
		return v
	}
	if fromBase != "" {
		return fromBase
	}
	return "development"
}

// shallowMerge overlays top-level fields of overlay onto base. Struct zero
// values are treated as "unset" for the scalar blocks we care about
// overriding wholesale; maps merge key-by-key with overlay winning.
func shallowMerge(base, overlay Config) Config {
	merged := base
	if overlay.Env != "" {
		merged.Env = overlay.Env
	}
	if overlay.Server != (ServerCfg{}) {
		merged.Server = overlay.Server
	}
	if overlay.Logging.Level != "" || overlay.Logging.Format != "" || overlay.Logging.Output != "" {
		merged.Logging = overlay.Logging
	}
	if overlay.Telemetry.ServiceName != "" {
		merged.Telemetry = overlay.Telemetry
	}
	if overlay.HTTPClient.TimeoutSeconds != 0 {
		merged.HTTPClient = overlay.HTTPClient
	}
	if overlay.Callback != (CallbackCfg{}) {
		merged.Callback = overlay.Callback
	}
	if len(overlay.DeptServices) > 0 {
		if merged.DeptServices == nil {
			merged.DeptServices = map[string]DeptServiceCfg{}
		}
		for k, v := range overlay.DeptServices {
			merged.DeptServices[k] = v
		}
	}
	if len(overlay.TaskDefaults) > 0 {
		if merged.TaskDefaults == nil {
			merged.TaskDefaults = map[string]map[string]any{}
		}
		for k, v := range overlay.TaskDefaults {
			merged.TaskDefaults[k] = v
		}
	}
	if len(overlay.OutputDefaults) > 0 {
		merged.OutputDefaults = overlay.OutputDefaults
	}
	return merged
}

// Snapshot returns a copy of the currently loaded config.
func (m *Manager) Snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Environment returns the resolved environment name.
func (m *Manager) Environment() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.envName
}

// TaskDefault returns the static default config map for a task code, or an
// empty map if none is configured.
func (m *Manager) TaskDefault(taskCode string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.cfg.TaskDefaults[taskCode]; ok {
		return cloneMap(d)
	}
	return map[string]any{}
}

// TaskVariant resolves the variant config for taskCode given the incoming
// params, per the candidate-count policy: zero candidates -> empty config;
// one candidate -> it always applies; N candidates -> exactly one full
// match of its condition against incoming is required.
func (m *Manager) TaskVariant(taskCode string, incoming map[string]any) (map[string]any, error) {
	variants, err := m.loadTaskVariants()
	if err != nil {
		return nil, err
	}
	candidates := variants[taskCode]
	if len(candidates) == 0 {
		return map[string]any{}, nil
	}
	if len(candidates) == 1 {
		return cloneMap(candidates[0].Config), nil
	}

	var matches []Variant
	for _, v := range candidates {
		if matchesCondition(v.condition(), incoming) {
			matches = append(matches, v)
		}
	}
	switch len(matches) {
	case 1:
		return cloneMap(matches[0].Config), nil
	case 0:
		return nil, fmt.Errorf("no variant matched for task %q", taskCode)
	default:
		return nil, fmt.Errorf("multiple variants matched for task %q", taskCode)
	}
}

func matchesCondition(cond map[string]any, incoming map[string]any) bool {
	for k, want := range cond {
		got, ok := incoming[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func (m *Manager) loadTaskVariants() (map[string][]Variant, error) {
	m.mu.RLock()
	cached := m.taskVariants
	m.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.taskVariants != nil {
		return m.taskVariants, nil
	}

	result := map[string][]Variant{}
	for _, p := range m.taskPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		var root taskYamlRoot
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("config: malformed task.yaml at %s: %w", p, err)
		}
		for code, node := range root.Tasks {
			result[code] = node.Variants
		}
		break
	}
	m.taskVariants = result
	return result, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NormalizeTaskCode trims whitespace and rejects empty codes, mirroring the
// registry's key-normalization policy so config lookups use the same keys.
func NormalizeTaskCode(code string) (string, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "", errors.New("config: task code must not be empty")
	}
	return trimmed, nil
}
