// Package config loads and validates the hatchdbpool configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/mugiliam/hatchdbpool/internal/db/dberror"
	"github.com/mugiliam/hatchdbpool/internal/types"
	"sigs.k8s.io/yaml"
)

// Attach points and detach events understood by the server.
const (
	AttachOnRequest    = "onRequest"
	AttachOnPreHandler = "onPreHandler"
	DetachOnResponse   = "response"
	DetachOnTail       = "tail"
)

type ConfigParam struct {
	Server ServerConfig `toml:"server" json:"server"`
	Pool   PoolConfig   `toml:"pool" json:"pool"`
	Log    LogConfig    `toml:"log" json:"log"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr" json:"listen_addr" validate:"required"`
	HandleCORS bool   `toml:"handle_cors" json:"handle_cors"`
	CORSOrigin string `toml:"cors_origin" json:"cors_origin"`
}

type LogConfig struct {
	Level  string `toml:"level" json:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Pretty bool   `toml:"pretty" json:"pretty"`
}

// PoolConfig carries the options recognised by the scoped db plugin. Connection
// parameters are passed to the driver verbatim.
type PoolConfig struct {
	Driver           types.DbDriver `toml:"driver" json:"driver" validate:"required,oneof=postgresql firebird"`
	MaxPool          int            `toml:"maxpool" json:"maxpool" validate:"min=1,max=1024"`
	Host             string         `toml:"host" json:"host" validate:"required"`
	Port             int            `toml:"port" json:"port" validate:"min=1,max=65535"`
	Database         string         `toml:"database" json:"database" validate:"required"`
	User             string         `toml:"user" json:"user" validate:"required"`
	Password         string         `toml:"password" json:"password"`
	Attach           string         `toml:"attach" json:"attach" validate:"oneof=onRequest onPreHandler"`
	Detach           string         `toml:"detach" json:"detach" validate:"oneof=response tail"`
	AcquireTimeout   *Duration      `toml:"acquire_timeout" json:"acquire_timeout" validate:"omitnil,gte=0"`
	LeaseTimeout     Duration       `toml:"lease_timeout" json:"lease_timeout" validate:"gte=0"`
	VerifyOnRegister bool           `toml:"verify_on_register" json:"verify_on_register"`
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Driver:         types.DbDriverPostgresql,
		MaxPool:        5,
		Host:           "localhost",
		Attach:         AttachOnPreHandler,
		Detach:         DetachOnTail,
		AcquireTimeout: NewDuration(defaultAcquireTimeout),
	}
}

func DefaultConfig() ConfigParam {
	return ConfigParam{
		Server: ServerConfig{
			ListenAddr: ":8190",
			CORSOrigin: "http://localhost:8190",
		},
		Pool: DefaultPoolConfig(),
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Merge fills every unset option of p from the documented defaults. Port and
// user defaults depend on the driver, so they are resolved after the merge.
// An acquire timeout that was set, even to zero, is kept; zero disables it.
func (p PoolConfig) Merge() (PoolConfig, error) {
	merged := p
	if err := mergo.Merge(&merged, DefaultPoolConfig(), mergo.WithoutDereference); err != nil {
		return p, dberror.ErrInvalidConfig.Err(err)
	}
	if merged.Port == 0 {
		merged.Port = defaultPort(merged.Driver)
	}
	if merged.User == "" {
		merged.User = defaultUser(merged.Driver)
	}
	return merged, nil
}

// AcquireWait is the bound on a single checkout. Zero means wait until the
// request context ends.
func (p PoolConfig) AcquireWait() time.Duration {
	if p.AcquireTimeout == nil {
		return 0
	}
	return p.AcquireTimeout.Duration()
}

func (p PoolConfig) Validate() error {
	if err := validate().Struct(p); err != nil {
		return dberror.ErrInvalidConfig.MsgErr("invalid pool configuration", err)
	}
	return nil
}

func defaultPort(d types.DbDriver) int {
	if d == types.DbDriverFirebird {
		return 3050
	}
	return 5432
}

func defaultUser(d types.DbDriver) string {
	switch d {
	case types.DbDriverFirebird:
		return "SYSDBA"
	case types.DbDriverPostgresql:
		return "postgres"
	}
	return ""
}

var (
	validatorOnce sync.Once
	v             *validator.Validate
)

func validate() *validator.Validate {
	validatorOnce.Do(func() {
		v = validator.New()
	})
	return v
}

var (
	mu  sync.RWMutex
	cfg = DefaultConfig()
)

// Config returns the process-wide configuration.
func Config() *ConfigParam {
	mu.RLock()
	defer mu.RUnlock()
	c := cfg
	return &c
}

// Init loads the file at path, if any, and installs it as the process-wide
// configuration.
func Init(path string) error {
	c := DefaultConfig()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return err
		}
		c = *loaded
	}
	mu.Lock()
	cfg = c
	mu.Unlock()
	return nil
}

// Load reads a TOML, YAML or JSON file, chosen by extension, over the defaults
// and validates the result.
func Load(path string) (*ConfigParam, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, dberror.ErrInvalidConfig.MsgErr("unable to read config file", err)
	}
	return Parse(b, filepath.Ext(path))
}

func Parse(b []byte, ext string) (*ConfigParam, error) {
	var c ConfigParam
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(b), &c); err != nil {
			return nil, dberror.ErrInvalidConfig.MsgErr("unable to parse toml config", err)
		}
	case ".yaml", ".yml", ".json":
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, dberror.ErrInvalidConfig.MsgErr("unable to parse yaml config", err)
		}
	default:
		return nil, dberror.ErrInvalidConfig.Msg(fmt.Sprintf("unsupported config format %q", ext))
	}

	defaults := DefaultConfig()
	if err := mergo.Merge(&c.Server, defaults.Server); err != nil {
		return nil, dberror.ErrInvalidConfig.Err(err)
	}
	if err := mergo.Merge(&c.Log, defaults.Log); err != nil {
		return nil, dberror.ErrInvalidConfig.Err(err)
	}
	pool, err := c.Pool.Merge()
	if err != nil {
		return nil, err
	}
	c.Pool = pool

	if err := validate().Struct(c.Server); err != nil {
		return nil, dberror.ErrInvalidConfig.MsgErr("invalid server configuration", err)
	}
	if err := validate().Struct(c.Log); err != nil {
		return nil, dberror.ErrInvalidConfig.MsgErr("invalid log configuration", err)
	}
	if err := c.Pool.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
