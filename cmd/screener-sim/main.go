// screener-sim: scripted screening backend for local runs
// Serves session bootstrap, progress and the interview websocket
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/teslashibe/go-screener/internal/config"
	"github.com/teslashibe/go-screener/internal/log"
	"github.com/teslashibe/go-screener/pkg/backendsim"
)

var (
	port      = flag.Int("port", 0, "HTTP server port (overrides SCREENER_SIM_PORT)")
	questions = flag.String("questions", "", "File with one screening question per line")
	speech    = flag.String("speech", "text", "Agent audio: text (UTF-8 payload) or wav (silent WAV)")
	delay     = flag.Duration("delay", 300*time.Millisecond, "Delay before each agent reply")
	logLevel  = flag.String("log-level", "", "Log level (overrides SCREENER_LOG_LEVEL)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.SimPort = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log.Init(cfg.LogLevel)
	logger := log.With("app", "screener-sim")

	opts := []backendsim.Option{
		backendsim.WithLogger(logger),
		backendsim.WithReplyDelay(*delay),
	}
	if *questions != "" {
		qs, err := readQuestions(*questions)
		if err != nil {
			logger.Error("reading questions failed", "path", *questions, "error", err)
			os.Exit(1)
		}
		opts = append(opts, backendsim.WithQuestions(qs...))
	}
	switch *speech {
	case "text":
	case "wav":
		opts = append(opts, backendsim.WithSpeech(backendsim.SilentSpeech(cfg.SampleRate)))
	default:
		logger.Error("unknown speech mode", "speech", *speech)
		os.Exit(1)
	}

	sim := backendsim.NewServer(opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := sim.Listen(fmt.Sprintf(":%d", cfg.SimPort)); err != nil {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	if err := sim.Shutdown(); err != nil {
		logger.Warn("shutdown failed", "error", err)
	}
	received, sent := sim.Stats()
	logger.Info("simulator stopped", "frames_received", received, "frames_sent", sent)
}

func readQuestions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var qs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			qs = append(qs, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("no questions in %s", path)
	}
	return qs, nil
}
