package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		Port                      int
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	CheckoutConfig struct {
		WebhookSecret      string
		SignatureTolerance time.Duration
	}

	RateLimitConfig struct {
		Backend     string // memory | redis
		Window      time.Duration
		MaxRequests int
		PruneEvery  int
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	AWSConfig struct {
		Region          string
		AnomalyQueueURL string
	}

	LLMConfig struct {
		BaseURL         string
		APIKey          string
		Model           string
		Timeout         time.Duration
		MaxHistory      int
		MonthlyLimit    int // questions per user and calendar month, 0 for no limit
		DemoPrompt      string
		AssistantPrompt string
	}

	CourseConfig struct {
		CurriculumPath string
	}

	CertificateConfig struct {
		Timeout time.Duration
	}

	NotebookConfig struct {
		MaxFileSize    int64 // bytes
		MaxEntries     int   // per user
		ArchiveTimeout time.Duration
	}

	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		defaultFromEmail string
		SendgridApiKey   string
		RollbarToken     string
		WorkDir          string

		Server      ServerConfig
		Database    DatabaseConfig
		Checkout    CheckoutConfig
		RateLimit   RateLimitConfig
		Redis       RedisConfig
		AWS         AWSConfig
		LLM         LLMConfig
		Course      CourseConfig
		Certificate CertificateConfig
		Notebook    NotebookConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultFromEmail parses the configured sender address, falling back to a bare address on error.
func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
	}
	return *addr
}

// NewConfig reads the configuration from defaults, the optional config/.env.<env> file and
// environment variables prefixed with the env name (e.g. PROD_DATABASE_HOST).
func NewConfig() *Config {
	v := viper.New()

	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Coursekit")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "n4^g=k0b!z7$w2qv+h8y(e@m5x)3r1dt&l6c*j9p#sufa-ioe")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Coursekit <noreply@localhost>")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("workDir", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.debugHost", "0.0.0.0:4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 30*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "coursekit")
	v.SetDefault("database.user", "coursekit")
	v.SetDefault("database.password", "coursekit")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("checkout.webhookSecret", "whsec_local")
	v.SetDefault("checkout.signatureTolerance", 5*time.Minute)

	v.SetDefault("rateLimit.backend", "memory")
	v.SetDefault("rateLimit.window", time.Minute)
	v.SetDefault("rateLimit.maxRequests", 10)
	v.SetDefault("rateLimit.pruneEvery", 100)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.anomalyQueueURL", "")

	v.SetDefault("llm.baseURL", "https://api.openai.com")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.maxHistory", 6)
	v.SetDefault("llm.monthlyLimit", 300)
	v.SetDefault("llm.demoPrompt", "You are a friendly course assistant. Answer briefly and invite the user to enroll for more.")
	v.SetDefault("llm.assistantPrompt", "You are a course assistant helping an enrolled student with the lessons.")

	v.SetDefault("course.curriculumPath", "")
	v.SetDefault("certificate.timeout", 5*time.Second)
	v.SetDefault("notebook.maxFileSize", 5<<20)
	v.SetDefault("notebook.maxEntries", 100)
	v.SetDefault("notebook.archiveTimeout", 10*time.Second)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	case "QA", "PROD":
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	workDir := os.Getenv(env + "_WORKDIR")
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("config.os.Getwd(): %v", err)
		}
		workDir = wd
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		defaultFromEmail: v.GetString("defaultFromEmail"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		WorkDir:          workDir,
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Port:                      v.GetInt("server.port"),
			DebugHost:                 v.GetString("server.debugHost"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Checkout: CheckoutConfig{
			WebhookSecret:      v.GetString("checkout.webhookSecret"),
			SignatureTolerance: v.GetDuration("checkout.signatureTolerance"),
		},
		RateLimit: RateLimitConfig{
			Backend:     strings.ToLower(v.GetString("rateLimit.backend")),
			Window:      v.GetDuration("rateLimit.window"),
			MaxRequests: v.GetInt("rateLimit.maxRequests"),
			PruneEvery:  v.GetInt("rateLimit.pruneEvery"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		AWS: AWSConfig{
			Region:          v.GetString("aws.region"),
			AnomalyQueueURL: v.GetString("aws.anomalyQueueURL"),
		},
		LLM: LLMConfig{
			BaseURL:         strings.TrimRight(v.GetString("llm.baseURL"), "/"),
			APIKey:          v.GetString("llm.apiKey"),
			Model:           v.GetString("llm.model"),
			Timeout:         v.GetDuration("llm.timeout"),
			MaxHistory:      v.GetInt("llm.maxHistory"),
			MonthlyLimit:    v.GetInt("llm.monthlyLimit"),
			DemoPrompt:      v.GetString("llm.demoPrompt"),
			AssistantPrompt: v.GetString("llm.assistantPrompt"),
		},
		Course: CourseConfig{
			CurriculumPath: v.GetString("course.curriculumPath"),
		},
		Certificate: CertificateConfig{
			Timeout: v.GetDuration("certificate.timeout"),
		},
		Notebook: NotebookConfig{
			MaxFileSize:    v.GetInt64("notebook.maxFileSize"),
			MaxEntries:     v.GetInt("notebook.maxEntries"),
			ArchiveTimeout: v.GetDuration("notebook.archiveTimeout"),
		},
	}
}

// NewTestConfig returns the configuration used by tests: test mode on, no outside services.
func NewTestConfig() *Config {
	conf := NewConfig()
	conf.TestMode = true
	conf.Checkout.WebhookSecret = "whsec_test"
	conf.RateLimit.Backend = "memory"
	conf.AWS.AnomalyQueueURL = ""
	return conf
}
