package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/EternisAI/silo-kiosk/internal/devbackend"
)

type Config struct {
	Log     LogConfig         `mapstructure:"log"`
	Http    HttpConfig        `mapstructure:"http"`
	Backend devbackend.Config `mapstructure:",squash"`
}

type HttpConfig struct {
	Port uint `mapstructure:"port"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/silo-kiosk-devbackend")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("jwt_secret", "DEVBACKEND_JWT_SECRET")
	_ = viper.BindEnv("admin_api_key", "DEVBACKEND_ADMIN_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
