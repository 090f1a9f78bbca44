package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/znsio/pubsub-relay-go/internal/logger"
)

const (
	ModePubsubToKafka = "pubsub-to-kafka"
	ModeKafkaToPubsub = "kafka-to-pubsub"
	ModeNone          = "none"
)

type Config struct {
	ServerPort string

	PubsubEmulatorHost   string
	PubsubEndpoint       string
	PubsubProject        string
	PubsubTopic          string
	PubsubSubscription   string
	PubsubToken          string
	PubsubAckDeadline    int
	PubsubMaxMessages    int
	PubsubRetryDelay     int
	PubsubEncoding       string
	BatchMaxEvents       int
	BatchMaxBytes        int
	BatchTimeout         int
	KafkaHost            string
	KafkaPort            string
	KafkaTopic           string
	KafkaGroup           string
	RelayMode            string
	BufferMaxEvents      int
	BufferWhenFull       string
	FilterField          string
	FilterSuffix         string
	FilterCaseSensitive  bool
	ExtractField         string
	ExtractPattern       string
	ExtractNumericGroups bool
	LogLevel             string
	ProvisionOnStartup   bool
	ManagementExposeInfo string
}

var (
	AppConfig     Config
	configLoaded  bool
	configLoadMux sync.Mutex
)

var defaults = map[string]interface{}{
	"server.port":                  "8080",
	"pubsub.emulator_host":         "",
	"pubsub.endpoint":              "https://pubsub.googleapis.com",
	"pubsub.project":               "testproject",
	"pubsub.topic":                 "topic1",
	"pubsub.subscription":          "subscription1",
	"pubsub.ack_deadline_secs":     600,
	"pubsub.max_messages":          100,
	"pubsub.retry_delay_secs":      1,
	"pubsub.encoding":              "json",
	"pubsub.batch.max_events":      1000,
	"pubsub.batch.max_bytes":       10000000,
	"pubsub.batch.timeout_secs":    1,
	"pubsub.provision":             true,
	"kafka.host":                   "",
	"kafka.port":                   "9092",
	"kafka.topic":                  "events",
	"kafka.group":                  "pubsub-relay",
	"relay.mode":                   ModeNone,
	"relay.filter.field":           "",
	"relay.filter.suffix":          "",
	"relay.filter.case_sensitive":  true,
	"relay.extract.field":          "",
	"relay.extract.pattern":        "",
	"relay.extract.numeric_groups": false,
	"buffer.max_events":            500,
	"buffer.when_full":             "block",
	"log.level":                    "info",
	"management.expose.info":       "health,stats",
}

// LoadConfig reads config.yaml from configPath and applies environment
// overrides. A missing file is not an error; every key has a default.
func LoadConfig(configPath string) error {
	var paths []string
	file := filepath.Join(configPath, "config.yaml")
	if _, err := os.Stat(file); err == nil {
		paths = append(paths, file)
	}
	return load(paths)
}

// LoadConfigFiles merges every file matched by patterns, in sorted order,
// on top of the defaults. Each pattern must match at least one file.
func LoadConfigFiles(patterns []string) error {
	paths, err := ProcessPaths(patterns)
	if err != nil {
		return err
	}
	return load(paths)
}

func load(paths []string) error {
	configLoadMux.Lock()
	defer configLoadMux.Unlock()

	if configLoaded {
		return nil
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	vars := environ()
	for _, path := range paths {
		if err := mergeFile(v, path, vars); err != nil {
			return err
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	AppConfig = cfg
	configLoaded = true
	return nil
}

func mergeFile(v *viper.Viper, path string, vars map[string]string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	expanded, warnings := Interpolate(string(raw), vars)
	for _, w := range warnings {
		logger.Warnf("%s: %s", path, w)
	}

	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if format == "" || format == "yml" {
		format = "yaml"
	}
	v.SetConfigType(format)
	if err := v.MergeConfig(strings.NewReader(expanded)); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}

func fromViper(v *viper.Viper) (Config, error) {
	var errs []error
	getInt := func(key, envVar string) int {
		n, err := getConfigInt(v, key, envVar)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}
	getBool := func(key, envVar string) bool {
		b, err := getConfigBool(v, key, envVar)
		if err != nil {
			errs = append(errs, err)
		}
		return b
	}

	cfg := Config{
		ServerPort:           getConfigString(v, "server.port", "SERVER_PORT"),
		PubsubEmulatorHost:   getConfigString(v, "pubsub.emulator_host", "PUBSUB_EMULATOR_HOST"),
		PubsubEndpoint:       getConfigString(v, "pubsub.endpoint", "PUBSUB_ENDPOINT"),
		PubsubProject:        getConfigString(v, "pubsub.project", "PUBSUB_PROJECT"),
		PubsubTopic:          getConfigString(v, "pubsub.topic", "PUBSUB_TOPIC"),
		PubsubSubscription:   getConfigString(v, "pubsub.subscription", "PUBSUB_SUBSCRIPTION"),
		PubsubToken:          os.Getenv("PUBSUB_TOKEN"),
		PubsubAckDeadline:    getInt("pubsub.ack_deadline_secs", "PUBSUB_ACK_DEADLINE_SECS"),
		PubsubMaxMessages:    getInt("pubsub.max_messages", "PUBSUB_MAX_MESSAGES"),
		PubsubRetryDelay:     getInt("pubsub.retry_delay_secs", "PUBSUB_RETRY_DELAY_SECS"),
		PubsubEncoding:       getConfigString(v, "pubsub.encoding", "PUBSUB_ENCODING"),
		BatchMaxEvents:       getInt("pubsub.batch.max_events", "PUBSUB_BATCH_MAX_EVENTS"),
		BatchMaxBytes:        getInt("pubsub.batch.max_bytes", "PUBSUB_BATCH_MAX_BYTES"),
		BatchTimeout:         getInt("pubsub.batch.timeout_secs", "PUBSUB_BATCH_TIMEOUT_SECS"),
		ProvisionOnStartup:   getConfigString(v, "pubsub.provision", "PUBSUB_PROVISION") != "false",
		KafkaHost:            getConfigString(v, "kafka.host", "KAFKA_HOST"),
		KafkaPort:            getConfigString(v, "kafka.port", "KAFKA_PORT"),
		KafkaTopic:           getConfigString(v, "kafka.topic", "KAFKA_TOPIC"),
		KafkaGroup:           getConfigString(v, "kafka.group", "KAFKA_GROUP"),
		RelayMode:            getConfigString(v, "relay.mode", "RELAY_MODE"),
		FilterField:          getConfigString(v, "relay.filter.field", "RELAY_FILTER_FIELD"),
		FilterSuffix:         getConfigString(v, "relay.filter.suffix", "RELAY_FILTER_SUFFIX"),
		FilterCaseSensitive:  getBool("relay.filter.case_sensitive", "RELAY_FILTER_CASE_SENSITIVE"),
		ExtractField:         getConfigString(v, "relay.extract.field", "RELAY_EXTRACT_FIELD"),
		ExtractPattern:       getConfigString(v, "relay.extract.pattern", "RELAY_EXTRACT_PATTERN"),
		ExtractNumericGroups: getBool("relay.extract.numeric_groups", "RELAY_EXTRACT_NUMERIC_GROUPS"),
		BufferMaxEvents:      getInt("buffer.max_events", "BUFFER_MAX_EVENTS"),
		BufferWhenFull:       getConfigString(v, "buffer.when_full", "BUFFER_WHEN_FULL"),
		LogLevel:             getConfigString(v, "log.level", "LOG_LEVEL"),
		ManagementExposeInfo: getConfigString(v, "management.expose.info", "MANAGEMENT_EXPOSE_INFO"),
	}

	return cfg, errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.PubsubProject == "" {
		errs = append(errs, errors.New("pubsub project is required"))
	}
	if c.PubsubTopic == "" {
		errs = append(errs, errors.New("pubsub topic is required"))
	}
	if c.PubsubSubscription == "" {
		errs = append(errs, errors.New("pubsub subscription is required"))
	}
	switch c.PubsubEncoding {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown encoding %q, expected json or text", c.PubsubEncoding))
	}
	switch c.RelayMode {
	case ModePubsubToKafka, ModeKafkaToPubsub, ModeNone:
	default:
		errs = append(errs, fmt.Errorf("unknown relay mode %q", c.RelayMode))
	}
	switch c.BufferWhenFull {
	case "block", "drop_newest":
	default:
		errs = append(errs, fmt.Errorf("unknown when_full %q, expected block or drop_newest", c.BufferWhenFull))
	}
	if c.BufferMaxEvents <= 0 {
		errs = append(errs, errors.New("buffer max_events must be greater than zero"))
	}
	if c.PubsubMaxMessages <= 0 {
		errs = append(errs, errors.New("pubsub max_messages must be greater than zero"))
	}
	if c.BatchMaxEvents <= 0 || c.BatchMaxBytes <= 0 {
		errs = append(errs, errors.New("pubsub batch limits must be greater than zero"))
	}
	return errors.Join(errs...)
}

// UsesEmulator reports whether requests go to a local emulator.
func (c *Config) UsesEmulator() bool {
	return c.PubsubEmulatorHost != ""
}

func getConfigString(v *viper.Viper, key string, envVar string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	return v.GetString(key)
}

func getConfigBool(v *viper.Viper, key string, envVar string) (bool, error) {
	if value := os.Getenv(envVar); value != "" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean: %w", envVar, err)
		}
		return b, nil
	}
	return v.GetBool(key), nil
}

func getConfigInt(v *viper.Viper, key string, envVar string) (int, error) {
	if value := os.Getenv(envVar); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer: %w", envVar, err)
		}
		return n, nil
	}
	return v.GetInt(key), nil
}

func GetConfig() *Config {
	return &AppConfig
}

func SetEmulatorHost(host string) {
	configLoadMux.Lock()
	defer configLoadMux.Unlock()

	AppConfig.PubsubEmulatorHost = host
}

func SetKafkaPort(port string) {
	configLoadMux.Lock()
	defer configLoadMux.Unlock()

	AppConfig.KafkaPort = port
}

func ResetConfig() {
	configLoadMux.Lock()
	defer configLoadMux.Unlock()

	configLoaded = false
	AppConfig = Config{}
}
