package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	internalhttp "github.com/EternisAI/silo-kiosk/internal/api/http"
	"github.com/EternisAI/silo-kiosk/internal/kiosk"
)

type Config struct {
	Log   LogConfig           `mapstructure:"log"`
	Http  internalhttp.Config `mapstructure:"http"`
	Kiosk kiosk.Config        `mapstructure:",squash"`
}

var config Config

func InitConfig(path string) error {
	_ = godotenv.Load()

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("application")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./cmd/silo-kiosk-agent")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("log.level", LOG_LEVEL_INFO)
	viper.SetDefault("http.host", internalhttp.DefaultHost)
	viper.SetDefault("http.port", 8090)
	viper.SetDefault("storage.data_dir", "./data")
	viper.SetDefault("backend.timeout", "5s")

	_ = viper.BindEnv("storage.passphrase", "KIOSK_PASSPHRASE")
	_ = viper.BindEnv("backend.device_token", "KIOSK_DEVICE_TOKEN")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := viper.Unmarshal(&config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		redacted := config
		redacted.Kiosk.Storage.Passphrase = "<redacted>"
		redacted.Kiosk.Backend.DeviceToken = "<redacted>"
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
	return nil
}
