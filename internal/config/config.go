package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// Upload
	ServerAddress   string
	UploadMode      string // "bulk" or "record"
	UploadUser      string
	UploadPassword  string
	UploadTimeoutMS int

	// Local persistence
	OutputDir    string
	OutputNaming string // "timestamp" or "fixed"

	// Collection
	DeviceName      string
	SensorSource    string   // "mock" or "hardware"
	SensorAllowlist []string // empty offers every sensor of the source

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// BMP Hardware
	BMPSPIDevice string

	// GPS
	GPSSerialPort string
	GPSBaudRate   int

	// MQTT
	MQTTBroker          string
	MQTTClientIDWeb     string
	MQTTClientIDConsole string

	// Topics
	TopicStatus string

	// Web Server
	WebServerPort int

	// Redis archive, disabled when RedisAddr is empty
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisTTLS     int // seconds an archived session is kept, 0 keeps it forever

	// Display, disabled when 0
	DisplayI2CAddr uint16
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		UploadMode:          "bulk",
		UploadUser:          "user",
		UploadPassword:      "password",
		UploadTimeoutMS:     30000,
		OutputDir:           "data",
		OutputNaming:        "timestamp",
		SensorSource:        "mock",
		GPSBaudRate:         9600,
		MQTTBroker:          "tcp://localhost:1883",
		MQTTClientIDWeb:     "sensor-collector-web",
		MQTTClientIDConsole: "sensor-collector-console",
		TopicStatus:         "collector/status",
		WebServerPort:       8080,
		RedisPrefix:         "sensor_collector",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Upload
	case "SERVER_ADDRESS":
		c.ServerAddress = value
	case "UPLOAD_MODE":
		if value != "bulk" && value != "record" {
			return fmt.Errorf("UPLOAD_MODE must be bulk or record, got %q", value)
		}
		c.UploadMode = value
	case "UPLOAD_USER":
		c.UploadUser = value
	case "UPLOAD_PASSWORD":
		c.UploadPassword = value
	case "UPLOAD_TIMEOUT_MS":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid UPLOAD_TIMEOUT_MS %q: %w", value, err)
		}
		if ms <= 0 {
			return fmt.Errorf("UPLOAD_TIMEOUT_MS must be positive, got %d", ms)
		}
		c.UploadTimeoutMS = ms

	// Local persistence
	case "OUTPUT_DIR":
		c.OutputDir = value
	case "OUTPUT_NAMING":
		if value != "timestamp" && value != "fixed" {
			return fmt.Errorf("OUTPUT_NAMING must be timestamp or fixed, got %q", value)
		}
		c.OutputNaming = value

	// Collection
	case "DEVICE_NAME":
		c.DeviceName = value
	case "SENSOR_SOURCE":
		if value != "mock" && value != "hardware" {
			return fmt.Errorf("SENSOR_SOURCE must be mock or hardware, got %q", value)
		}
		c.SensorSource = value
	case "SENSOR_ALLOWLIST":
		c.SensorAllowlist = nil
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.SensorAllowlist = append(c.SensorAllowlist, name)
			}
		}

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value

	// IMU Sensor Ranges
	case "IMU_ACCEL_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_GYRO_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_GYRO_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_GYRO_RANGE must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", rangeVal)
		}
		c.IMUGyroRange = byte(rangeVal)

	// BMP Hardware
	case "BMP_SPI_DEVICE":
		c.BMPSPIDevice = value

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_BAUD_RATE %q: %w", value, err)
		}
		c.GPSBaudRate = rate

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_STATUS":
		c.TopicStatus = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		if port <= 0 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", port)
		}
		c.WebServerPort = port

	// Redis
	case "REDIS_ADDR":
		c.RedisAddr = value
	case "REDIS_PASSWORD":
		c.RedisPassword = value
	case "REDIS_DB":
		db, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", value, err)
		}
		if db < 0 {
			return fmt.Errorf("REDIS_DB must not be negative, got %d", db)
		}
		c.RedisDB = db
	case "REDIS_PREFIX":
		c.RedisPrefix = value
	case "REDIS_TTL_S":
		ttl, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid REDIS_TTL_S %q: %w", value, err)
		}
		if ttl < 0 {
			return fmt.Errorf("REDIS_TTL_S must not be negative, got %d", ttl)
		}
		c.RedisTTLS = ttl

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.DisplayI2CAddr = uint16(addr)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if c.SensorSource == "hardware" && c.IMUSPIDevice == "" && c.BMPSPIDevice == "" && c.GPSSerialPort == "" {
		return fmt.Errorf("SENSOR_SOURCE=hardware needs IMU_SPI_DEVICE, BMP_SPI_DEVICE or GPS_SERIAL_PORT")
	}
	if c.GPSSerialPort != "" && c.GPSBaudRate <= 0 {
		return fmt.Errorf("GPS_BAUD_RATE is required")
	}
	if c.TopicStatus == "" {
		return fmt.Errorf("TOPIC_STATUS is required")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
