package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

func (serverHandler *ServerHandler) reportJobFunc() {
	// a failing snapshot must not take the server down
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in report job", "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := serverHandler.snapshotReport(ctx, time.Now()); err != nil {
		Logger.Error("Unable to store report snapshot", "error", err)
		return
	}
	Logger.Info("Report snapshot stored")
}

// InitializeSchedules starts the report snapshot job. The returned cron is
// nil when snapshots are disabled.
func (serverHandler *ServerHandler) InitializeSchedules() *cron.Cron {
	interval := serverHandler.ServerConfig.ReportInterval
	if interval <= 0 {
		Logger.Info("Report snapshots disabled")
		return nil
	}

	Logger.Info("Running report job at startup")
	go serverHandler.reportJobFunc()

	c := cron.New()
	var reportJob cron.Job
	reportJob = cron.FuncJob(serverHandler.reportJobFunc)
	reportJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(reportJob) //ensure we don't kick off another if old one is still running
	if _, err := c.AddJob(fmt.Sprintf("@every %dm", interval), reportJob); err != nil {
		Logger.Error("Unable to schedule report job", "error", err)
		return nil
	}
	Logger.Info("Adding report job scheduler", "interval_minutes", interval)
	c.Start()
	return c
}
