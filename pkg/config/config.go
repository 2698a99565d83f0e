package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	LLM      LLMConfig
	OCR      OCRConfig
	Workflow WorkflowConfig
	Function FunctionConfig
	Ingest   IngestConfig
	Storage  StorageConfig
	Chat     ChatConfig
	Inbox    InboxConfig
	Logger   LoggerConfig
}

type LoggerConfig struct {
	Level string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey  string
	Expiration time.Duration
	RefreshExp time.Duration
}

// LLMConfig selects the completion provider. Provider is one of gigachat,
// gemini, openai or none; none keeps every extractor on its rule-based path.
type LLMConfig struct {
	Provider           string
	APIKey             string
	Model              string
	BaseURL            string
	Scope              string
	InsecureSkipVerify bool
	Timeout            time.Duration
	Temperature        float64
	BatchWorkers       int
	CacheTTL           time.Duration
}

// OCRConfig selects the OCR engine: tesseract (local) or gigachat (vision API).
type OCRConfig struct {
	Provider  string
	Languages []string
	BaseURL   string
	OAuthURL  string
	Timeout   time.Duration
}

// WorkflowConfig is the primary document provider, a long-running workflow
// service reached by webhook.
type WorkflowConfig struct {
	URL            string
	HealthTimeout  time.Duration
	RequestTimeout time.Duration
	MaxAttempts    int
	RetryDelay     time.Duration
}

// FunctionConfig is the secondary document provider, a managed function.
type FunctionConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type IngestConfig struct {
	MaxUploadBytes int64
	MinOCRChars    int
	TotalBudget    time.Duration
	LocalPDF       bool
}

type StorageConfig struct {
	UploadDir     string
	PublicBaseURL string
}

type ChatConfig struct {
	HistoryLimit int
	SessionTTL   time.Duration
}

type InboxConfig struct {
	Dir     string
	UserID  string
	Workers int
}

func Load() (*Config, error) {
	// .env is optional; plain environment variables work too (Docker/K8s)
	for _, envFile := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getSeconds("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getSeconds("SERVER_WRITE_TIMEOUT", 120),
			BodyLimit:    getInt("SERVER_BODY_LIMIT_BYTES", 12*1024*1024),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "expense_intake"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey:  getEnv("JWT_SECRET_KEY", "your-secret-key-change-in-production"),
			Expiration: time.Duration(getInt("JWT_EXPIRATION_HOURS", 24)) * time.Hour,
			RefreshExp: time.Duration(getInt("JWT_REFRESH_EXPIRATION_HOURS", 168)) * time.Hour,
		},
		LLM: LLMConfig{
			Provider:           strings.ToLower(getEnv("LLM_PROVIDER", "none")),
			APIKey:             getEnv("LLM_API_KEY", ""),
			Model:              getEnv("LLM_MODEL", ""),
			BaseURL:            getEnv("LLM_BASE_URL", ""),
			Scope:              getEnv("GIGACHAT_SCOPE", "GIGACHAT_API_PERS"),
			InsecureSkipVerify: getEnv("GIGACHAT_INSECURE_SKIP_VERIFY", "false") == "true",
			Timeout:            getSeconds("LLM_TIMEOUT", 20),
			Temperature:        getFloat("LLM_TEMPERATURE", 0.2),
			BatchWorkers:       getInt("LLM_BATCH_WORKERS", 8),
			CacheTTL:           time.Duration(getInt("LLM_CACHE_TTL_MINUTES", 15)) * time.Minute,
		},
		OCR: OCRConfig{
			Provider:  strings.ToLower(getEnv("OCR_PROVIDER", "tesseract")),
			Languages: strings.Split(getEnv("OCR_LANGUAGES", "eng"), ","),
			BaseURL:   getEnv("GIGACHAT_BASE_URL", "https://gigachat.devices.sberbank.ru/api/v1"),
			OAuthURL:  getEnv("GIGACHAT_OAUTH_URL", "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"),
			Timeout:   getSeconds("OCR_TIMEOUT", 30),
		},
		Workflow: WorkflowConfig{
			URL:            getEnv("WORKFLOW_WEBHOOK_URL", ""),
			HealthTimeout:  getSeconds("WORKFLOW_HEALTH_TIMEOUT", 5),
			RequestTimeout: getSeconds("WORKFLOW_REQUEST_TIMEOUT", 30),
			MaxAttempts:    getInt("WORKFLOW_MAX_ATTEMPTS", 3),
			RetryDelay:     getSeconds("WORKFLOW_RETRY_DELAY", 2),
		},
		Function: FunctionConfig{
			URL:     getEnv("FUNCTION_URL", ""),
			APIKey:  getEnv("FUNCTION_API_KEY", ""),
			Timeout: getSeconds("FUNCTION_TIMEOUT", 30),
		},
		Ingest: IngestConfig{
			MaxUploadBytes: int64(getInt("INGEST_MAX_UPLOAD_BYTES", 10*1024*1024)),
			MinOCRChars:    getInt("INGEST_MIN_OCR_CHARS", 10),
			TotalBudget:    getSeconds("INGEST_TOTAL_BUDGET", 90),
			LocalPDF:       getEnv("INGEST_LOCAL_PDF", "false") == "true",
		},
		Storage: StorageConfig{
			UploadDir:     getEnv("STORAGE_UPLOAD_DIR", "uploads"),
			PublicBaseURL: getEnv("STORAGE_PUBLIC_BASE_URL", "/uploads"),
		},
		Chat: ChatConfig{
			HistoryLimit: getInt("CHAT_HISTORY_LIMIT", 10),
			SessionTTL:   time.Duration(getInt("CHAT_SESSION_TTL_MINUTES", 30)) * time.Minute,
		},
		Inbox: InboxConfig{
			Dir:     getEnv("INBOX_DIR", ""),
			UserID:  getEnv("INBOX_USER_ID", ""),
			Workers: getInt("INBOX_WORKERS", 2),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getInt(key, defaultValue)) * time.Second
}
