package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source and sink types.
const (
	TypeNATS  = "nats"
	TypeKafka = "kafka"
	TypeFile  = "file"
)

// Sink record formats.
const (
	SinkFormatChangelog = "changelog"
	SinkFormatMaxwell   = "maxwell"
)

type Config struct {
	Source     SourceConfig      `yaml:"source"`
	Sink       SinkConfig        `yaml:"sink"`
	Format     map[string]string `yaml:"format"`
	Schema     SchemaConfig      `yaml:"schema"`
	Processor  ProcessorConfig   `yaml:"processor"`
	Checkpoint CheckpointConfig  `yaml:"checkpoint"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Logging    LoggingConfig     `yaml:"logging"`
}

type SourceConfig struct {
	Type  string      `yaml:"type"` // nats, kafka, file
	NATS  NATSConfig  `yaml:"nats"`
	Kafka KafkaConfig `yaml:"kafka"`
	File  FileConfig  `yaml:"file"`
}

type SinkConfig struct {
	Type   string      `yaml:"type"`
	Format string      `yaml:"format"` // changelog, maxwell
	NATS   NATSConfig  `yaml:"nats"`
	Kafka  KafkaConfig `yaml:"kafka"`
	File   FileConfig  `yaml:"file"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	Subject       string        `yaml:"subject"`
	Queue         string        `yaml:"queue"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic"`
	GroupID        string        `yaml:"group_id"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxWait        time.Duration `yaml:"max_wait"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
}

type FileConfig struct {
	Path string `yaml:"path"` // "-" is stdin for sources and stdout for sinks
}

// SchemaConfig declares the target row schema, either statically or by
// looking the table up in MySQL.
type SchemaConfig struct {
	Columns []ColumnConfig `yaml:"columns"`
	MySQL   MySQLConfig    `yaml:"mysql"`
}

type ColumnConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // logical type (INT, STRING, ...) or MySQL column type
}

type MySQLConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ProcessorConfig configures the optional transformation step
type ProcessorConfig struct {
	Enabled bool            `yaml:"enabled"`
	Script  string          `yaml:"script"` // path to a JavaScript file exporting a transform function
	Rules   []TransformRule `yaml:"rules"`
}

type TransformRule struct {
	Database  string            `yaml:"database"`
	Table     string            `yaml:"table"`
	Include   []string          `yaml:"include"`
	Exclude   []string          `yaml:"exclude"`
	Rename    map[string]string `yaml:"rename"`
	AddFields map[string]string `yaml:"add_fields"`
}

type CheckpointConfig struct {
	PositionFile string `yaml:"position_file"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9108", empty disables the endpoint
	Path   string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse reads a YAML document, fills in defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Source.Type == "" {
		c.Source.Type = TypeFile
	}
	if c.Source.Type == TypeFile && c.Source.File.Path == "" {
		c.Source.File.Path = "-"
	}
	if c.Sink.Type == "" {
		c.Sink.Type = TypeFile
	}
	if c.Sink.Type == TypeFile && c.Sink.File.Path == "" {
		c.Sink.File.Path = "-"
	}
	if c.Sink.Format == "" {
		c.Sink.Format = SinkFormatChangelog
	}
	for _, n := range []*NATSConfig{&c.Source.NATS, &c.Sink.NATS} {
		if n.ReconnectWait == 0 {
			n.ReconnectWait = 2 * time.Second
		}
		if n.MaxReconnect == 0 {
			n.MaxReconnect = -1
		}
	}
	for _, k := range []*KafkaConfig{&c.Source.Kafka, &c.Sink.Kafka} {
		if k.ConnectTimeout == 0 {
			k.ConnectTimeout = 10 * time.Second
		}
		if k.MaxWait == 0 {
			k.MaxWait = time.Second
		}
		if k.BatchTimeout == 0 {
			k.BatchTimeout = 10 * time.Millisecond
		}
	}
	if c.Schema.MySQL.Port == 0 {
		c.Schema.MySQL.Port = 3306
	}
	if c.Schema.MySQL.Timeout == 0 {
		c.Schema.MySQL.Timeout = 5 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the settings that can be checked without connecting anywhere.
// Format options are validated by the format itself.
func (c *Config) Validate() error {
	if err := validateEndpoint("source", c.Source.Type, c.Source.NATS, c.Source.Kafka, c.Source.File); err != nil {
		return err
	}
	if c.Source.Type == TypeNATS && c.Source.NATS.Subject == "" {
		return fmt.Errorf("source.nats.subject is required")
	}
	if c.Source.Type == TypeKafka && c.Source.Kafka.GroupID == "" {
		return fmt.Errorf("source.kafka.group_id is required")
	}

	if err := validateEndpoint("sink", c.Sink.Type, c.Sink.NATS, c.Sink.Kafka, c.Sink.File); err != nil {
		return err
	}
	if c.Sink.Type == TypeNATS && c.Sink.NATS.Subject == "" {
		return fmt.Errorf("sink.nats.subject is required")
	}

	switch c.Sink.Format {
	case SinkFormatChangelog, SinkFormatMaxwell:
	default:
		return fmt.Errorf("unsupported sink.format %q, supported are %s and %s", c.Sink.Format, SinkFormatChangelog, SinkFormatMaxwell)
	}

	for i, col := range c.Schema.Columns {
		if strings.TrimSpace(col.Name) == "" {
			return fmt.Errorf("schema column %d: name is required", i)
		}
		if strings.TrimSpace(col.Type) == "" {
			return fmt.Errorf("schema column %q: type is required", col.Name)
		}
	}
	if len(c.Schema.Columns) == 0 && c.Schema.MySQL.Host == "" {
		return fmt.Errorf("either schema.columns or schema.mysql.host must be set")
	}

	if c.Processor.Enabled && c.Processor.Script != "" && len(c.Processor.Rules) > 0 {
		return fmt.Errorf("cannot specify both 'script' and 'rules' - script takes precedence")
	}

	return nil
}

func validateEndpoint(name, typ string, n NATSConfig, k KafkaConfig, f FileConfig) error {
	switch typ {
	case TypeNATS:
		if n.URL == "" {
			return fmt.Errorf("%s.nats.url is required", name)
		}
	case TypeKafka:
		if len(k.Brokers) == 0 {
			return fmt.Errorf("%s.kafka.brokers is required", name)
		}
		if k.Topic == "" {
			return fmt.Errorf("%s.kafka.topic is required", name)
		}
	case TypeFile:
		if f.Path == "" {
			return fmt.Errorf("%s.file.path is required", name)
		}
	default:
		return fmt.Errorf("unsupported %s.type %q", name, typ)
	}
	return nil
}
