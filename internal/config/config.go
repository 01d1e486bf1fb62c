package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// DefaultStorageName is the storage entry synthesized from the environment
// when the config file declares none.
const DefaultStorageName = "default"

type Config struct {
	Version       int                  `mapstructure:"version" validate:"gt=0"`
	Table         TableConfig          `mapstructure:"table"`
	Archive       ArchiveConfig        `mapstructure:"archive"`
	Storage       []StorageConfig      `mapstructure:"storage" validate:"dive"`
	Notifications []NotificationConfig `mapstructure:"notifications" validate:"dive"`
	Log           LogConfig            `mapstructure:"log"`
}

type TableConfig struct {
	Name               string `mapstructure:"name" validate:"required"`
	Region             string `mapstructure:"region" validate:"required"`
	Endpoint           string `mapstructure:"endpoint" validate:"omitempty,url"`
	AccessKey          string `mapstructure:"access_key"`
	SecretKey          string `mapstructure:"secret_key"`
	KeyAttribute       string `mapstructure:"key_attribute" validate:"required"`
	TimestampAttribute string `mapstructure:"timestamp_attribute" validate:"required"`
}

type ArchiveConfig struct {
	Storage     string           `mapstructure:"storage" validate:"required"`
	Prefix      string           `mapstructure:"prefix"`
	MaxAge      time.Duration    `mapstructure:"max_age" validate:"gt=0"`
	Schedule    string           `mapstructure:"schedule"`
	Compression bool             `mapstructure:"compression"`
	Encryption  EncryptionConfig `mapstructure:"encryption"`
	Retention   RetentionConfig  `mapstructure:"retention"`
}

type EncryptionConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Password string `mapstructure:"password" validate:"required_if=Enabled true"`
}

// RetentionConfig expires whole archive objects. Every archive holds records
// that were removed from the table, so an expired archive is the permanent
// loss of those records.
type RetentionConfig struct {
	// MaxAge deletes archives written more than MaxAge ago. Zero keeps all.
	MaxAge time.Duration `mapstructure:"max_age" validate:"gte=0"`
}

func (r RetentionConfig) Enabled() bool {
	return r.MaxAge > 0
}

type StorageConfig struct {
	Name  string       `mapstructure:"name" validate:"required"`
	Type  string       `mapstructure:"type" validate:"required,oneof=s3 local"`
	S3    *S3Config    `mapstructure:"s3"`
	Local *LocalConfig `mapstructure:"local"`
}

type S3Config struct {
	Bucket         string `mapstructure:"bucket" validate:"required"`
	Region         string `mapstructure:"region" validate:"required"`
	Prefix         string `mapstructure:"prefix"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	Endpoint       string `mapstructure:"endpoint" validate:"omitempty,url"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	// PartSizeMB switches archives larger than it to multipart uploads.
	PartSizeMB int `mapstructure:"part_size_mb" validate:"omitempty,gte=5"`
}

type LocalConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type NotificationConfig struct {
	Type   string              `mapstructure:"type" validate:"required,oneof=webhook email"`
	On     []string            `mapstructure:"on" validate:"min=1"`
	Config NotificationDetails `mapstructure:"config"`
}

type NotificationDetails struct {
	SMTPHost string            `mapstructure:"smtp_host"`
	SMTPPort int               `mapstructure:"smtp_port"`
	From     string            `mapstructure:"from"`
	To       string            `mapstructure:"to"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	URL      string            `mapstructure:"url"`
	Headers  map[string]string `mapstructure:"headers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// LoadConfig reads the YAML file at path. An empty path builds the config from
// defaults and the environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ModifyConfig(&cfg)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", 1)
	v.SetDefault("table.key_attribute", "itemId")
	v.SetDefault("table.timestamp_attribute", "createdAt")
	v.SetDefault("archive.storage", DefaultStorageName)
	v.SetDefault("archive.max_age", 30*24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"table.name":   {"ITEM_TABLE"},
		"table.region": {"ITEM_TABLE_REGION", "AWS_REGION"},
		"log.level":    {"ARCHIVEKIT_LOG_LEVEL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// ModifyConfig expands ${VAR} references and fills the archive storage from
// the environment when none is declared.
func ModifyConfig(cfg *Config) {
	t := &cfg.Table
	t.Name = os.ExpandEnv(t.Name)
	t.Region = os.ExpandEnv(t.Region)
	t.Endpoint = os.ExpandEnv(t.Endpoint)
	t.AccessKey = os.ExpandEnv(t.AccessKey)
	t.SecretKey = os.ExpandEnv(t.SecretKey)

	a := &cfg.Archive
	a.Storage = os.ExpandEnv(a.Storage)
	a.Prefix = os.ExpandEnv(a.Prefix)
	a.Schedule = os.ExpandEnv(a.Schedule)
	a.Encryption.Password = os.ExpandEnv(a.Encryption.Password)

	if len(cfg.Storage) == 0 {
		cfg.Storage = []StorageConfig{storageFromEnv()}
	}

	for i := range cfg.Storage {
		st := &cfg.Storage[i]
		st.Name = os.ExpandEnv(st.Name)
		st.Type = os.ExpandEnv(st.Type)
		if st.S3 != nil {
			st.S3.Bucket = os.ExpandEnv(st.S3.Bucket)
			st.S3.Region = os.ExpandEnv(st.S3.Region)
			st.S3.Prefix = os.ExpandEnv(st.S3.Prefix)
			st.S3.AccessKey = os.ExpandEnv(st.S3.AccessKey)
			st.S3.SecretKey = os.ExpandEnv(st.S3.SecretKey)
			st.S3.Endpoint = os.ExpandEnv(st.S3.Endpoint)
		}
		if st.Local != nil {
			st.Local.Path = os.ExpandEnv(st.Local.Path)
		}
	}

	for i := range cfg.Notifications {
		nt := &cfg.Notifications[i]
		nt.Type = os.ExpandEnv(nt.Type)
		for j := range nt.On {
			nt.On[j] = os.ExpandEnv(nt.On[j])
		}
		nt.Config.SMTPHost = os.ExpandEnv(nt.Config.SMTPHost)
		nt.Config.From = os.ExpandEnv(nt.Config.From)
		nt.Config.To = os.ExpandEnv(nt.Config.To)
		nt.Config.Username = os.ExpandEnv(nt.Config.Username)
		nt.Config.Password = os.ExpandEnv(nt.Config.Password)
		nt.Config.URL = os.ExpandEnv(nt.Config.URL)
		for k, v := range nt.Config.Headers {
			nt.Config.Headers[k] = os.ExpandEnv(v)
		}
	}
}

func storageFromEnv() StorageConfig {
	region := os.Getenv("ITEM_ARCHIVE_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	return StorageConfig{
		Name: DefaultStorageName,
		Type: "s3",
		S3: &S3Config{
			Bucket:    os.Getenv("ITEM_ARCHIVE_BUCKET"),
			Region:    region,
			AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		},
	}
}
