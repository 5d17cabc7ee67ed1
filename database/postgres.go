package database

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
)

// EphemeralPostgresDB is a PostgreSQL database that lives only as long as
// the process, used by the -dev flag
type EphemeralPostgresDB struct {
	*SQLDB
	postgres *embeddedpostgres.EmbeddedPostgres
	dataDir  string
}

// SetupEphemeralPostgresDatabase starts an embedded PostgreSQL on a free
// port and connects to it
func SetupEphemeralPostgresDatabase() (*EphemeralPostgresDB, error) {
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("failed to find free port: %w", err)
	}
	dataDir, err := os.MkdirTemp("", "feedbackd-pg-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	var logWriter io.Writer = io.Discard
	pg := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		Username("postgres").
		Password("postgres").
		Database("feedbackd").
		Port(uint32(port)).
		RuntimePath(filepath.Join(dataDir, "runtime")).
		DataPath(filepath.Join(dataDir, "data")).
		Logger(logWriter))
	Logger.Info("Starting embedded PostgreSQL", "port", port, "dir", dataDir)
	if err := pg.Start(); err != nil {
		os.RemoveAll(dataDir)
		return nil, fmt.Errorf("failed to start embedded postgres: %w", err)
	}

	connString := fmt.Sprintf("host=localhost port=%d user=postgres password=postgres dbname=feedbackd sslmode=disable", port)
	sqlDB, err := SetupPostgresDatabase(connString)
	if err != nil {
		pg.Stop()
		os.RemoveAll(dataDir)
		return nil, err
	}
	return &EphemeralPostgresDB{SQLDB: sqlDB, postgres: pg, dataDir: dataDir}, nil
}

// Close closes the connection, stops PostgreSQL and removes its data
func (e *EphemeralPostgresDB) Close() error {
	e.SQLDB.Close()
	err := e.postgres.Stop()
	os.RemoveAll(e.dataDir)
	return err
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
