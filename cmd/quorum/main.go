package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"quorum/internal/app"
	qcfg "quorum/internal/config"
	"quorum/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	cfgPath := flag.String("config", "", "path to the main config file")
	flag.Parse()

	// .env is optional; real deployments set the vars directly
	_ = godotenv.Load()

	path := strings.TrimSpace(*cfgPath)
	if path == "" {
		path = os.Getenv("QUORUM_CONFIG")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	cfg, err := qcfg.Load(path)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logFile, err := setupLogOutput(cfg.App.LogFile)
	if err != nil {
		log.Fatalf("init log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLLMWriter(nil)
	if cfg.App.DumpLLMPayload {
		f, err := setupLLMLogOutput(cfg.App.LLMLogFile)
		if err != nil {
			log.Fatalf("init llm log failed: %v", err)
		}
		if f != nil {
			defer f.Close()
		}
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.EnableLLMPayloadDump(cfg.App.DumpLLMPayload)
	logger.Infof("config loaded from %s (%d symbols, %d model presets)", path, len(cfg.Trading.Symbols), len(cfg.Models))

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("init app failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("run failed: %v", err)
	}
	logger.Infof("shutdown complete")
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func setupLLMLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetLLMWriter(f)
	return f, nil
}
