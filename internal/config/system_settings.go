package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const DATABASE_TYPE = "CLIENTFLOW_DATABASE_TYPE"
const DATABASE_URL = "CLIENTFLOW_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "CLIENTFLOW_DATABASE_SQLLITE_FILE_NAME"
const ENGINE_SERVER_WEB_PORT = "CLIENTFLOW_ENGINE_SERVER_WEB_PORT"
const ENGINE_SWEEP_INTERVAL = "CLIENTFLOW_ENGINE_SWEEP_INTERVAL" //how often scheduled runs are checked for being due
const ENGINE_STUCK_RUNS_INTERVAL = "CLIENTFLOW_ENGINE_STUCK_RUNS_INTERVAL"
const ENGINE_STUCK_RUNS_REPAIR_AFTER_MINUTES = "CLIENTFLOW_ENGINE_STUCK_RUNS_REPAIR_AFTER_MINUTES"
const ENGINE_STUCK_RUNS_STALL_AFTER_MINUTES = "CLIENTFLOW_ENGINE_STUCK_RUNS_STALL_AFTER_MINUTES"
const ENGINE_HEARTBEAT_INTERVAL = "CLIENTFLOW_ENGINE_HEARTBEAT_INTERVAL"
const ENGINE_BATCH_SIZE = "CLIENTFLOW_ENGINE_BATCH_SIZE"       //number of due runs to pull from the database at a time
const ENGINE_EXECUTOR_SIZE = "CLIENTFLOW_ENGINE_EXECUTOR_SIZE" //number of workers executing runs in parallel
const ENGINE_EXECUTOR_NAME = "CLIENTFLOW_ENGINE_EXECUTOR_NAME"
const ACTION_WEBHOOK_TIMEOUT = "CLIENTFLOW_ACTION_WEBHOOK_TIMEOUT"
const SMTP_HOST = "CLIENTFLOW_SMTP_HOST"
const SMTP_PORT = "CLIENTFLOW_SMTP_PORT"
const SMTP_USERNAME = "CLIENTFLOW_SMTP_USERNAME"
const SMTP_PASSWORD = "CLIENTFLOW_SMTP_PASSWORD"
const SMTP_FROM = "CLIENTFLOW_SMTP_FROM"
const LOG_LEVEL = "CLIENTFLOW_LOG_LEVEL"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

var settings = newSettings()

func newSettings() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault(DATABASE_TYPE, DATABASE_TYPE_SQLLITE)
	v.SetDefault(DATABASE_SQLLITE_FILE_NAME, "./clientflow.db")
	v.SetDefault(ENGINE_SERVER_WEB_PORT, "8080")
	v.SetDefault(ENGINE_SWEEP_INTERVAL, "1m")
	v.SetDefault(ENGINE_STUCK_RUNS_INTERVAL, "60s")
	v.SetDefault(ENGINE_STUCK_RUNS_REPAIR_AFTER_MINUTES, "5")
	v.SetDefault(ENGINE_STUCK_RUNS_STALL_AFTER_MINUTES, "60")
	v.SetDefault(ENGINE_HEARTBEAT_INTERVAL, "30s")
	v.SetDefault(ENGINE_BATCH_SIZE, "20")
	v.SetDefault(ENGINE_EXECUTOR_SIZE, "5")
	v.SetDefault(ACTION_WEBHOOK_TIMEOUT, "10s")
	v.SetDefault(SMTP_PORT, "587")
	v.SetDefault(SMTP_FROM, "no-reply@clientflow.local")
	v.SetDefault(LOG_LEVEL, "INFO")
	return v
}

// LoadFile merges a YAML config file into the settings. Environment variables still win.
func LoadFile(path string) error {
	settings.SetConfigFile(path)
	settings.SetConfigType("yaml")
	if err := settings.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

func GetSystemSettingInteger(settingKey string) int {
	return settings.GetInt(settingKey)
}

func GetSystemSettingString(settingKey string) string {
	return settings.GetString(settingKey)
}

// GetSystemSettingDuration parses the setting as a Go duration, returning fallback when it is
// missing or malformed.
func GetSystemSettingDuration(settingKey string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(settings.GetString(settingKey))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// SetSystemSetting overrides a setting for the lifetime of the process.
func SetSystemSetting(settingKey string, value string) {
	settings.Set(settingKey, value)
}
