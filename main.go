package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/blevesearch/bleve"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	config "github.com/drummonds/feedbackd/config"
	database "github.com/drummonds/feedbackd/database"
	engine "github.com/drummonds/feedbackd/engine"
	"github.com/drummonds/feedbackd/llm"
	"github.com/drummonds/feedbackd/router"
	"github.com/drummonds/feedbackd/webapp"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	database.Logger = Logger
	config.Logger = Logger
	engine.Logger = Logger
	llm.Logger = Logger
}

// newServer builds the echo server with the web app pages and the API
func newServer(serverConfig config.ServerConfig, db database.DBInterface, searchDB bleve.Index) (*echo.Echo, *engine.ServerHandler, error) {
	client := llm.NewClient(serverConfig.APIKey, serverConfig.APIURL, serverConfig.Model, serverConfig.Timeout)
	analyzer, err := llm.NewAnalyzer(client, serverConfig.CacheTTL)
	if err != nil {
		return nil, nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelDebug
			if v.Error != nil || v.Status >= 500 {
				level = slog.LevelError
			}
			Logger.LogAttrs(context.Background(), level, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.String("request_id", v.RequestID),
			)
			return nil
		},
	}))

	pages := router.DefaultTable()
	serverHandler := &engine.ServerHandler{
		DB:           db,
		SearchDB:     searchDB,
		Echo:         e,
		ServerConfig: serverConfig,
		Analyzer:     analyzer,
		Metrics:      engine.NewMetrics(),
		Messages:     engine.NewMessages(),
		Pages:        pages,
	}

	Logger.Info("Setting up go-app WASM UI")
	appHandler, err := webapp.Handler(router.New(pages))
	if err != nil {
		analyzer.Close()
		return nil, nil, err
	}
	serverHandler.AddPageRoutes(appHandler)
	serverHandler.AddAPIRoutes()
	return e, serverHandler, nil
}

func main() {
	// Parse command-line flags
	devMode := flag.Bool("dev", false, "Run in development mode with ephemeral PostgreSQL")
	flag.Parse()

	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	// Setup database based on dev mode or configuration
	var db database.DBInterface
	if *devMode {
		fmt.Println("\n" + strings.Repeat("=", 50))
		fmt.Println("DEVELOPMENT MODE - Ephemeral PostgreSQL")
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println("• Database will be destroyed on exit")
		fmt.Println("• No persistent data storage")
		fmt.Println(strings.Repeat("=", 50) + "\n")

		Logger.Info("Starting ephemeral PostgreSQL for development")
		ephemeralDB, err := database.SetupEphemeralPostgresDatabase()
		if err != nil {
			Logger.Error("Failed to setup ephemeral PostgreSQL", "error", err)
			os.Exit(1)
		}
		db = ephemeralDB
		serverConfig.DatabaseType = "postgres"
		// Ensure cleanup happens on exit
		defer func() {
			Logger.Info("Shutting down ephemeral PostgreSQL...")
			ephemeralDB.Close()
		}()
	} else {
		Logger.Info("About to setup database", "type", serverConfig.DatabaseType)
		db = database.SetupDatabase(serverConfig.DatabaseType, serverConfig.DatabaseConnString)
		defer db.Close()
	}
	searchDB, err := database.SetupSearchDB(serverConfig.SearchIndexPath)
	if err != nil {
		Logger.Error("Unable to setup index database", "error", err)
		os.Exit(1)
	}
	defer searchDB.Close()
	Logger.Info("Search DB setup complete")

	e, serverHandler, err := newServer(serverConfig, db, searchDB)
	if err != nil {
		Logger.Error("Unable to setup server", "error", err)
		os.Exit(1)
	}
	defer serverHandler.Analyzer.Close()
	if scheduler := serverHandler.InitializeSchedules(); scheduler != nil { //initialize the report snapshots
		defer scheduler.Stop()
	}

	if serverConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}

	Logger.Info("Starting HTTP server")

	// Try to start server with automatic port increment if port is in use
	maxRetries := 5
	startPort := serverConfig.ListenAddrPort
	var startErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)

		startErr = e.Start(addr)

		// Check if error is "address already in use"
		if startErr != nil && isAddressInUse(startErr) {
			Logger.Warn("Port already in use, trying next port",
				"port", serverConfig.ListenAddrPort,
				"attempt", attempt+1,
				"max_attempts", maxRetries)

			portNum := 0
			fmt.Sscanf(serverConfig.ListenAddrPort, "%d", &portNum)
			portNum++
			serverConfig.ListenAddrPort = fmt.Sprintf("%d", portNum)

			if attempt == maxRetries-1 {
				Logger.Error("Failed to find available port after maximum retries",
					"start_port", startPort,
					"end_port", serverConfig.ListenAddrPort,
					"max_retries", maxRetries)
				os.Exit(1)
			}
		} else if startErr != nil {
			Logger.Error("Failed to start server", "error", startErr)
			os.Exit(1)
		} else {
			break
		}
	}

	if startErr == nil && serverConfig.ListenAddrPort != startPort {
		Logger.Warn("Server started on alternative port due to conflicts",
			"requested_port", startPort,
			"actual_port", serverConfig.ListenAddrPort)
	}
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "address already in use")
}
