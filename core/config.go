package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env              string
		AppName          string
		Build            string
		Debug            bool
		TestMode         bool
		WorkDir          string
		DefaultFromEmail mail.Address
		ReportRecipients []mail.Address
		RollbarToken     string
		SendgridApiKey   string

		Database   DatabaseConfig
		Server     ServerConfig
		Classroom  ClassroomConfig
		RateLimit  RateLimitConfig
		Retry      RetryConfig
		Cache      CacheConfig
		Mapping    MappingConfig
		Assessment AssessmentConfig
		Progress   ProgressThresholds
		Gemini     GeminiConfig
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	ServerConfig struct {
		Host            string
		Address         string
		DebugHost       string
		APIKeyHash      string // bcrypt hash of the API key
		ShutdownTimeout time.Duration
	}

	ClassroomConfig struct {
		CredentialsFile string   // service account key (JSON)
		Subject         string   // admin impersonated through domain-wide delegation
		OwnerID         string   // default course owner
		Domains         []string // allowed user email domains
		PageSize        int64
	}

	RateLimitConfig struct {
		MinInterval   time.Duration
		PerMinute     int
		PerDay        int
		QuotaWait     time.Duration
		MaxQuotaWaits int
	}

	RetryConfig struct {
		MaxAttempts      int
		QuotaDelay       time.Duration
		UnavailableDelay time.Duration
		DefaultDelay     time.Duration
	}

	CacheConfig struct {
		TTL time.Duration
	}

	MappingConfig struct {
		Strategy      string
		Store         string // sheets | database | memory
		SpreadsheetID string
		SheetName     string
		TaxonomyFile  string
	}

	AssessmentConfig struct {
		FormativeCount  int
		SummativeCount  int
		IncludeFinal    bool
		FormativeWeight float64
		SummativeWeight float64
		FinalWeight     float64
		GradebookSheet  string
	}

	ProgressThresholds struct {
		Excellent float64
		Good      float64
		Normal    float64
	}

	GeminiConfig struct {
		APIKey string
		Model  string
	}
)

func (dbc DatabaseConfig) Address() string {
	return dbc.Host + ":" + dbc.Port
}

// NewConfig loads the configuration of the current ENV (DEV by default) from the environment,
// after loading `config/.env.<env>` if it exists.
func NewConfig() *Config {
	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	v := viper.New()
	setDefaults(v, env)
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	conf := newConfigFromViper(v)
	conf.Env = env
	conf.WorkDir = wd
	return conf
}

func setDefaults(v *viper.Viper, env string) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("debug", true)
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("appName", "Gradebook")
	v.SetDefault("build", "dev")
	v.SetDefault("defaultFromEmail", "Gradebook <noreply@localhost>")
	v.SetDefault("reportRecipients", []string{})
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "gradebook")
	v.SetDefault("database.user", "gradebook")
	v.SetDefault("database.password", "gradebook")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.apiKeyHash", "")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)

	v.SetDefault("classroom.credentialsFile", "")
	v.SetDefault("classroom.subject", "")
	v.SetDefault("classroom.ownerId", "me")
	v.SetDefault("classroom.domains", []string{})
	v.SetDefault("classroom.pageSize", 50)

	v.SetDefault("rateLimit.minInterval", 1200*time.Millisecond)
	v.SetDefault("rateLimit.perMinute", 50)
	v.SetDefault("rateLimit.perDay", 50000)
	v.SetDefault("rateLimit.quotaWait", time.Minute)
	v.SetDefault("rateLimit.maxQuotaWaits", 5)

	v.SetDefault("retry.maxAttempts", 3)
	v.SetDefault("retry.quotaDelay", time.Minute)
	v.SetDefault("retry.unavailableDelay", 5*time.Second)
	v.SetDefault("retry.defaultDelay", time.Second)

	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("mapping.strategy", "BALANCED")
	v.SetDefault("mapping.store", "memory")
	v.SetDefault("mapping.spreadsheetId", "")
	v.SetDefault("mapping.sheetName", "Course Mapping")
	v.SetDefault("mapping.taxonomyFile", "")

	v.SetDefault("assessment.formativeCount", 8)
	v.SetDefault("assessment.summativeCount", 4)
	v.SetDefault("assessment.includeFinal", true)
	v.SetDefault("assessment.formativeWeight", 0.15)
	v.SetDefault("assessment.summativeWeight", 0.20)
	v.SetDefault("assessment.finalWeight", 0.10)
	v.SetDefault("assessment.gradebookSheet", "Gradebook")

	v.SetDefault("progress.excellent", 0.90)
	v.SetDefault("progress.good", 0.80)
	v.SetDefault("progress.normal", 0.60)

	v.SetDefault("gemini.apiKey", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
}

func newConfigFromViper(v *viper.Viper) *Config {
	return &Config{
		AppName:          v.GetString("appName"),
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		DefaultFromEmail: parseAddress(v.GetString("defaultFromEmail")),
		ReportRecipients: parseAddressList(v.GetStringSlice("reportRecipients")),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Address:         v.GetString("server.address"),
			DebugHost:       v.GetString("server.debugHost"),
			APIKeyHash:      v.GetString("server.apiKeyHash"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
		},
		Classroom: ClassroomConfig{
			CredentialsFile: v.GetString("classroom.credentialsFile"),
			Subject:         v.GetString("classroom.subject"),
			OwnerID:         v.GetString("classroom.ownerId"),
			Domains:         cleanList(v.GetStringSlice("classroom.domains"), true),
			PageSize:        v.GetInt64("classroom.pageSize"),
		},
		RateLimit: RateLimitConfig{
			MinInterval:   v.GetDuration("rateLimit.minInterval"),
			PerMinute:     v.GetInt("rateLimit.perMinute"),
			PerDay:        v.GetInt("rateLimit.perDay"),
			QuotaWait:     v.GetDuration("rateLimit.quotaWait"),
			MaxQuotaWaits: v.GetInt("rateLimit.maxQuotaWaits"),
		},
		Retry: RetryConfig{
			MaxAttempts:      v.GetInt("retry.maxAttempts"),
			QuotaDelay:       v.GetDuration("retry.quotaDelay"),
			UnavailableDelay: v.GetDuration("retry.unavailableDelay"),
			DefaultDelay:     v.GetDuration("retry.defaultDelay"),
		},
		Cache: CacheConfig{TTL: v.GetDuration("cache.ttl")},
		Mapping: MappingConfig{
			Strategy:      strings.ToUpper(v.GetString("mapping.strategy")),
			Store:         strings.ToLower(v.GetString("mapping.store")),
			SpreadsheetID: v.GetString("mapping.spreadsheetId"),
			SheetName:     v.GetString("mapping.sheetName"),
			TaxonomyFile:  v.GetString("mapping.taxonomyFile"),
		},
		Assessment: AssessmentConfig{
			FormativeCount:  v.GetInt("assessment.formativeCount"),
			SummativeCount:  v.GetInt("assessment.summativeCount"),
			IncludeFinal:    v.GetBool("assessment.includeFinal"),
			FormativeWeight: v.GetFloat64("assessment.formativeWeight"),
			SummativeWeight: v.GetFloat64("assessment.summativeWeight"),
			FinalWeight:     v.GetFloat64("assessment.finalWeight"),
			GradebookSheet:  v.GetString("assessment.gradebookSheet"),
		},
		Progress: ProgressThresholds{
			Excellent: v.GetFloat64("progress.excellent"),
			Good:      v.GetFloat64("progress.good"),
			Normal:    v.GetFloat64("progress.normal"),
		},
		Gemini: GeminiConfig{
			APIKey: v.GetString("gemini.apiKey"),
			Model:  v.GetString("gemini.model"),
		},
	}
}

// Validate checks the settings the services cannot run without.
func (conf *Config) Validate() error {
	err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(conf.AppName, "appName"),
		vala.StringNotEmpty(conf.Classroom.OwnerID, "classroom.ownerId"),
		vala.StringNotEmpty(conf.Mapping.Strategy, "mapping.strategy"),
		vala.StringNotEmpty(conf.Mapping.SheetName, "mapping.sheetName"),
	).Check()
	if err != nil {
		return NewValidationError(errors.Wrap(err, "invalid configuration"))
	}

	var fields []FieldError
	if conf.RateLimit.PerMinute <= 0 {
		fields = append(fields, FieldError{Field: "rateLimit.perMinute", Error: "must be positive"})
	}
	if conf.Retry.MaxAttempts <= 0 {
		fields = append(fields, FieldError{Field: "retry.maxAttempts", Error: "must be positive"})
	}
	if total := conf.Assessment.TotalWeight(); total > 1.0 {
		fields = append(fields, FieldError{
			Field: "assessment.weights",
			Error: fmt.Sprintf("assessment weights exceed 100%% (%.0f%%)", total*100),
		})
	}
	if len(fields) > 0 {
		return NewValidationError(errors.New("invalid configuration"), fields...)
	}
	return nil
}

func (ac AssessmentConfig) TotalWeight() float64 {
	return ac.FormativeWeight + ac.SummativeWeight + ac.FinalWeight
}

func parseAddress(s string) mail.Address {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return mail.Address{Address: CleanString(s)}
	}
	return *addr
}

func parseAddressList(list []string) []mail.Address {
	addrs := make([]mail.Address, 0, len(list))
	for _, s := range cleanList(list, false) {
		addrs = append(addrs, parseAddress(s))
	}
	return addrs
}

// cleanList splits comma separated env values and drops blanks.
func cleanList(list []string, lower bool) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		for _, s := range strings.Split(item, ",") {
			if s = CleanString(s, lower); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
