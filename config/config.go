package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerConfig contains all of the server settings defined in the TOML file
type ServerConfig struct {
	ListenAddrIP       string
	ListenAddrPort     string
	DatabaseType       string // sqlite or postgres
	DatabaseConnString string `json:"-"`
	SearchIndexPath    string
	TesseractPath      string
	MaxUploadSize      int64
	LLMConfig
	AnalysisConfig
}

// LLMConfig holds the chat completion endpoint settings
type LLMConfig struct {
	APIKey      string `json:"-"`
	APIURL      string
	Model       string
	Timeout     time.Duration
	Concurrency int
	CacheTTL    time.Duration
}

// AnalysisConfig tunes problem grouping and report generation
type AnalysisConfig struct {
	SimilarityThreshold float64
	ReportDays          int
	ReportInterval      int // minutes between report snapshots, 0 disables
}

func setDefaults() {
	viper.SetDefault("serverConfig.ServerAddr", "")
	viper.SetDefault("serverConfig.ServerPort", "8000")
	viper.SetDefault("database.Type", "sqlite")
	viper.SetDefault("database.ConnString", "databases/feedback.db")
	viper.SetDefault("search.IndexPath", "databases/problems.bleve")
	viper.SetDefault("llm.APIURL", "https://api.deepseek.com/v1/chat/completions")
	viper.SetDefault("llm.Model", "deepseek-chat")
	viper.SetDefault("llm.Timeout", "30s")
	viper.SetDefault("llm.Concurrency", 4)
	viper.SetDefault("llm.CacheTTL", "10m")
	viper.SetDefault("analysis.SimilarityThreshold", 0.6)
	viper.SetDefault("analysis.ReportDays", 7)
	viper.SetDefault("analysis.ReportInterval", 60)
	viper.SetDefault("import.MaxUploadSize", "10MB")
	viper.SetDefault("logging.Level", "info")
	viper.SetDefault("logging.OutputPath", "stdout")
	viper.SetDefault("logging.LogFileLocation", "feedbackd.log")
	viper.SetDefault("logging.MaxSizeMB", 50)
	viper.SetDefault("logging.MaxBackups", 3)
}

func bindEnv() {
	viper.BindEnv("llm.APIKey", "LLM_API_KEY")
	viper.BindEnv("llm.APIURL", "LLM_API_URL")
	viper.BindEnv("llm.Model", "LLM_MODEL")
	viper.BindEnv("database.Type", "DATABASE_TYPE")
	viper.BindEnv("database.ConnString", "DATABASE_URI")
	viper.BindEnv("ocr.TesseractBin", "TESSERACT_BIN")
}

// SetupServer does the initial configuration. A missing config file is not
// fatal, defaults and environment variables are used instead.
func SetupServer() (ServerConfig, *slog.Logger) {
	var serverConfigLive ServerConfig
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Println("Unable to read .env file: ", err)
	}
	setDefaults()
	bindEnv()
	viper.AddConfigPath("config/")
	viper.AddConfigPath(".")
	viper.SetConfigName("serverConfig")
	err := viper.ReadInConfig() // Find and read the config file
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		panic(fmt.Errorf("fatal error config file: %s \n", err))
	}
	logger := setupLogging()
	if err != nil {
		logger.Info("No config file found, using defaults")
	}
	serverConfigLive.ListenAddrPort = viper.GetString("serverConfig.ServerPort")
	serverConfigLive.ListenAddrIP = viper.GetString("serverConfig.ServerAddr")
	serverConfigLive.DatabaseType = strings.ToLower(viper.GetString("database.Type"))
	serverConfigLive.DatabaseConnString = viper.GetString("database.ConnString")
	if serverConfigLive.DatabaseType == "sqlite" {
		dbDir := filepath.Dir(serverConfigLive.DatabaseConnString)
		os.MkdirAll(dbDir, os.ModePerm)
	}
	serverConfigLive.SearchIndexPath = filepath.Clean(filepath.ToSlash(viper.GetString("search.IndexPath")))

	maxUpload, err := units.FromHumanSize(viper.GetString("import.MaxUploadSize"))
	if err != nil {
		logger.Warn("Invalid import.MaxUploadSize, using 10MB", "value", viper.GetString("import.MaxUploadSize"), "error", err)
		maxUpload = 10 * units.MB
	}
	serverConfigLive.MaxUploadSize = maxUpload

	tesseractPathConfig := viper.GetString("ocr.TesseractBin")
	if tesseractPathConfig != "" {
		serverConfigLive.TesseractPath, err = filepath.Abs(filepath.ToSlash(tesseractPathConfig))
		if err != nil {
			logger.Warn("Failed creating absolute path for tesseract binary, OCR will be disabled", "error", err)
			serverConfigLive.TesseractPath = ""
		} else if err = checkExecutables(serverConfigLive.TesseractPath, logger); err != nil {
			logger.Warn("Tesseract executable not found, image import will be disabled", "path", serverConfigLive.TesseractPath)
			serverConfigLive.TesseractPath = ""
		} else {
			logger.Info("Tesseract found and validated, image import enabled", "path", serverConfigLive.TesseractPath)
		}
	} else {
		logger.Info("No Tesseract path configured, image import will be disabled")
	}

	serverConfigLive.LLMConfig = setupLLM(logger)
	serverConfigLive.AnalysisConfig = AnalysisConfig{
		SimilarityThreshold: viper.GetFloat64("analysis.SimilarityThreshold"),
		ReportDays:          viper.GetInt("analysis.ReportDays"),
		ReportInterval:      viper.GetInt("analysis.ReportInterval"),
	}
	if serverConfigLive.ReportDays <= 0 {
		serverConfigLive.ReportDays = 7
	}
	return serverConfigLive, logger
}

func setupLLM(logger *slog.Logger) LLMConfig {
	llmConfig := LLMConfig{
		APIKey:      viper.GetString("llm.APIKey"),
		APIURL:      viper.GetString("llm.APIURL"),
		Model:       viper.GetString("llm.Model"),
		Timeout:     viper.GetDuration("llm.Timeout"),
		Concurrency: viper.GetInt("llm.Concurrency"),
		CacheTTL:    viper.GetDuration("llm.CacheTTL"),
	}
	if llmConfig.Concurrency < 1 {
		llmConfig.Concurrency = 1
	}
	if llmConfig.APIKey == "" {
		logger.Warn("No LLM API key configured, feedback will be classified with keyword rules")
	}
	return llmConfig
}

func setupLogging() *slog.Logger {
	logLevelString := viper.GetString("logging.Level")
	var loglevel slog.Level
	switch logLevelString {
	case "Debug", "debug":
		loglevel = slog.LevelDebug
	case "Info", "info":
		loglevel = slog.LevelInfo
	case "Warn", "warn":
		loglevel = slog.LevelWarn
	case "Error", "error":
		loglevel = slog.LevelError
	default:
		loglevel = slog.LevelWarn
	}

	var logWriter io.Writer
	logOutput := viper.GetString("logging.OutputPath")
	if logOutput == "file" {
		logPath, err := filepath.Abs(filepath.ToSlash(viper.GetString("logging.LogFileLocation")))
		if err != nil {
			fmt.Println("Unable to create log file path: ", err)
			logPath = "output.log"
		}
		logWriter = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    viper.GetInt("logging.MaxSizeMB"),
			MaxBackups: viper.GetInt("logging.MaxBackups"),
		}
		fmt.Println("Logging to file: ", logPath)
	} else {
		logWriter = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: loglevel,
	}
	handler := slog.NewTextHandler(logWriter, opts)
	logger := slog.New(handler)
	return logger
}

func checkExecutables(tesseractPath string, logger *slog.Logger) error {
	_, err := os.Stat(tesseractPath)
	if err != nil {
		logger.Error("Cannot find tesseract executable at location specified", "path", tesseractPath)
		return err
	}
	logger.Debug("Tesseract executable found", "path", tesseractPath)
	return nil
}
