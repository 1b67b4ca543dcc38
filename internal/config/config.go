package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/push"
)

// Поддерживаемые хранилища документов.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"
)

// loadEnv читает .env только вне production (в контейнере/prod конфиг только из env).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	// Уже заданные переменные окружения не перезаписываются.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warnf("config: .env: %v", err)
	}
}

// StorageConfig — где живут сообщения, уведомления и отзывы.
type StorageConfig struct {
	Backend          string `yaml:"backend"`
	RedisURL         string `yaml:"redis_url"`
	PebbleDir        string `yaml:"pebble_dir"`
	DatabaseURL      string `yaml:"database_url"`
	DBMaxConnections int    `yaml:"db_max_connections"`
}

// CallConfig — звонки: таймаут «звонит» и период имитации качества сети.
type CallConfig struct {
	RingTimeout           time.Duration
	NetworkSampleInterval time.Duration
}

// ChatConfig — правила чата.
type ChatConfig struct {
	DeleteWindow    time.Duration
	BannedWords     []string
	MediatorHistory int
}

// AdvisoryConfig — внешний генеративный API. Пустой APIKey — всегда ответы-заглушки.
type AdvisoryConfig struct {
	// URL — корень API без версии (версию добавляет клиент).
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Config содержит настройки сервисов.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	ServerAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Storage  StorageConfig
	Call     CallConfig
	Chat     ChatConfig
	Advisory AdvisoryConfig

	MaxWSConnections   int
	CORSAllowedOrigins string
	LogLevel           string

	// APIURL — адрес API для валидации сессий микросервисом звонков.
	APIURL string
	// PushServiceURL — URL микросервиса пуш-уведомлений. Пустой — пуши отключены.
	PushServiceURL     string
	PushVAPIDPublicKey string
	// InternalSecret открывает служебные эндпоинты (/internal/*, /notify) вне приватной сети.
	InternalSecret string

	// Users — демо-пользователи (пароли открытым текстом).
	Users []model.User
}

// yamlConfig — промежуточная структура для парсинга YAML (длительности в секундах).
type yamlConfig struct {
	ServerAddr            string        `yaml:"server_addr"`
	ReadTimeout           int           `yaml:"read_timeout"`
	WriteTimeout          int           `yaml:"write_timeout"`
	IdleTimeout           int           `yaml:"idle_timeout"`
	Storage               StorageConfig `yaml:"storage"`
	CallRingTimeout       int           `yaml:"call_ring_timeout"`
	NetworkSampleInterval int           `yaml:"network_sample_interval"`
	DeleteWindow          int           `yaml:"delete_window"`
	BannedWords           []string      `yaml:"banned_words"`
	MediatorHistory       int           `yaml:"mediator_history"`
	AdvisoryURL           string        `yaml:"advisory_url"`
	AdvisoryModel         string        `yaml:"advisory_model"`
	AdvisoryTimeout       int           `yaml:"advisory_timeout"`
	MaxWSConnections      int           `yaml:"max_ws_connections"`
	CORSAllowedOrigins    string        `yaml:"cors_allowed_origins"`
	LogLevel              string        `yaml:"log_level"`
	Users                 []model.User  `yaml:"users"`
}

// DefaultUsers — учётные записи демо-стенда.
func DefaultUsers() []model.User {
	return []model.User{
		{ID: "owner1", Name: "nithin", Role: model.RoleOwner, Location: "Headquarters", Password: "0987",
			Avatar: "https://ui-avatars.com/api/?name=Nithin&background=000000&color=fff"},
		{ID: "u1", Name: "farmer", Role: model.RoleFarmer, Location: "Mandya, India", Password: "1234",
			Avatar: "https://picsum.photos/seed/farmer1/200/200"},
		{ID: "u2", Name: "Ram", Role: model.RoleBuyer, Location: "Banglore, India", Password: "1234",
			Avatar: "https://picsum.photos/seed/buyer1/200/200"},
	}
}

func defaults() yamlConfig {
	return yamlConfig{
		ServerAddr:            ":8080",
		ReadTimeout:           15,
		WriteTimeout:          15,
		IdleTimeout:           60,
		Storage:               StorageConfig{Backend: BackendMemory, RedisURL: "redis://localhost:6379", PebbleDir: "./data/kv", DBMaxConnections: 10},
		CallRingTimeout:       30,
		NetworkSampleInterval: 8,
		DeleteWindow:          120,
		MediatorHistory:       10,
		AdvisoryURL:           "https://generativelanguage.googleapis.com/",
		AdvisoryModel:         "gemini-2.5-flash",
		AdvisoryTimeout:       15,
		MaxWSConnections:      10000,
		CORSAllowedOrigins:    "*",
		LogLevel:              "info",
	}
}

// Load загружает конфигурацию.
// Сначала подгружаются переменные из .env (если есть), затем YAML и env (env имеет приоритет).
func Load() *Config {
	loadEnv()
	yc := defaults()

	for _, path := range []string{os.Getenv("CONFIG_PATH"), "config/api.yaml"} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (using defaults)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}

	users := yc.Users
	if len(users) == 0 {
		users = DefaultUsers()
	}
	banned := yc.BannedWords
	if raw := os.Getenv("BANNED_WORDS"); raw != "" {
		banned = splitList(raw)
	}

	pushVAPIDPublic := envStr("PUSH_VAPID_PUBLIC_KEY", "")
	pushServiceURL := envStr("PUSH_SERVICE_URL", "")
	if pushVAPIDPublic == "" && pushServiceURL != "" {
		if keys, err := push.EnsureVAPIDKeys(""); err == nil {
			pushVAPIDPublic = keys.PublicKey
		}
	}

	cfg := &Config{
		ServerAddr:   envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:  envSeconds("READ_TIMEOUT", yc.ReadTimeout),
		WriteTimeout: envSeconds("WRITE_TIMEOUT", yc.WriteTimeout),
		IdleTimeout:  envSeconds("IDLE_TIMEOUT", yc.IdleTimeout),
		Storage: StorageConfig{
			Backend:          strings.ToLower(envStr("STORAGE_BACKEND", yc.Storage.Backend)),
			RedisURL:         envStr("REDIS_URL", yc.Storage.RedisURL),
			PebbleDir:        envStr("PEBBLE_DIR", yc.Storage.PebbleDir),
			DatabaseURL:      envStr("DATABASE_URL", yc.Storage.DatabaseURL),
			DBMaxConnections: envInt("DB_MAX_CONNECTIONS", yc.Storage.DBMaxConnections),
		},
		Call: CallConfig{
			RingTimeout:           envSeconds("CALL_RING_TIMEOUT", yc.CallRingTimeout),
			NetworkSampleInterval: envSeconds("NETWORK_SAMPLE_INTERVAL", yc.NetworkSampleInterval),
		},
		Chat: ChatConfig{
			DeleteWindow:    envSeconds("DELETE_WINDOW", yc.DeleteWindow),
			BannedWords:     banned,
			MediatorHistory: envInt("MEDIATOR_HISTORY", yc.MediatorHistory),
		},
		Advisory: AdvisoryConfig{
			URL:     envStr("ADVISORY_URL", yc.AdvisoryURL),
			APIKey:  envStr("ADVISORY_API_KEY", envStr("API_KEY", "")),
			Model:   envStr("ADVISORY_MODEL", yc.AdvisoryModel),
			Timeout: envSeconds("ADVISORY_TIMEOUT", yc.AdvisoryTimeout),
		},
		MaxWSConnections:   envInt("MAX_WS_CONNECTIONS", yc.MaxWSConnections),
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
		APIURL:             envStr("API_URL", "http://localhost:8080"),
		PushServiceURL:     pushServiceURL,
		PushVAPIDPublicKey: pushVAPIDPublic,
		InternalSecret:     envStr("INTERNAL_SECRET", ""),
		Users:              users,
	}
	if cfg.Storage.DBMaxConnections <= 0 {
		cfg.Storage.DBMaxConnections = 10
	}
	if cfg.Chat.MediatorHistory <= 0 {
		cfg.Chat.MediatorHistory = 10
	}

	if os.Getenv("APP_ENV") == "production" {
		if cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*" {
			logger.Errorf("config: set CORS_ALLOWED_ORIGINS in production (explicit origins, not *)")
		}
		if cfg.Storage.Backend == BackendMemory {
			logger.Warnf("config: memory storage in production loses data on restart")
		}
	}
	return cfg
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
