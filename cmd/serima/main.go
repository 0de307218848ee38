package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"serima/api/handlers"
	"serima/config"
	"serima/core/appbootstrap"
	"serima/core/utils"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	issueSession := flag.String("issue-session", "", "open a session for this username, print its cookies and exit")
	dev := flag.Bool("dev", false, "human readable logs")
	flag.Parse()

	logger := utils.NewLogger()
	if *dev {
		logger = utils.NewDevelopmentLogger()
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := appbootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("startup: %v", err)
		os.Exit(1)
	}
	defer app.Close()

	if *issueSession != "" {
		sess, err := app.IssueSession(ctx, *issueSession)
		if err != nil {
			logger.Errorf("issue session for %s: %v", *issueSession, err)
			os.Exit(1)
		}
		fmt.Printf("%s=%s\n%s=%s\nexpires=%s\n", handlers.SessionCookieName, sess.ID, handlers.CSRFCookieName, sess.CSRFToken, sess.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
		return
	}

	if err := app.Serve(ctx); err != nil {
		logger.Errorf("server: %v", err)
		os.Exit(1)
	}
	logger.Printf("serima stopped")
}
