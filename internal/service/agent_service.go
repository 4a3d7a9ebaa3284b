package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/SteelMorgan/logship/internal/config"
	"github.com/SteelMorgan/logship/internal/offset"
	"github.com/SteelMorgan/logship/internal/publish"
	"github.com/SteelMorgan/logship/internal/tailer"
	"github.com/SteelMorgan/logship/internal/watcher"
	"github.com/rs/zerolog/log"
)

// ErrNoActiveTailers is returned by Start when every tailer exited on its own
var ErrNoActiveTailers = errors.New("no active tailers")

// AgentService runs one tailer per configured file, each in its own goroutine
type AgentService struct {
	cfg       *config.Config
	publisher publish.Publisher

	// newSubscriber builds the event source of one file
	newSubscriber func(fc config.FileConfig, filter *regexp.Regexp) watcher.Subscriber

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAgentService creates the agent service. The publisher is shared by all tailers.
func NewAgentService(cfg *config.Config, publisher publish.Publisher) (*AgentService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	return &AgentService{
		cfg:       cfg,
		publisher: publisher,
		newSubscriber: func(fc config.FileConfig, filter *regexp.Regexp) watcher.Subscriber {
			return watcher.NewFSNotify(time.Duration(fc.ForwardFrequencyMs)*time.Millisecond, filter)
		},
	}, nil
}

// Start launches the tailers and blocks until ctx is cancelled, Stop is called,
// or every tailer has exited
func (s *AgentService) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	log.Info().
		Int("files", len(s.cfg.Files)).
		Str("server", s.cfg.Settings.Server).
		Msg("Agent service starting...")

	for _, fc := range s.cfg.Files {
		s.wg.Add(1)
		go s.runFile(ctx, fc)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		<-done
		return nil
	case <-done:
		if ctx.Err() != nil {
			return nil
		}
		return ErrNoActiveTailers
	}
}

// Stop cancels every tailer and waits for them to release their stores
func (s *AgentService) Stop() error {
	log.Info().Msg("Agent service stopping...")

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.wg.Wait()
	log.Info().Msg("Agent service stopped")
	return nil
}

// runFile owns the store and tailer of one file. Failures end only this file.
func (s *AgentService) runFile(ctx context.Context, fc config.FileConfig) {
	defer s.wg.Done()

	filter, err := fc.Regex()
	if err != nil {
		log.Error().Err(err).Str("path", fc.Path).Msg("Invalid file filter, file will not be tailed")
		return
	}

	store, err := offset.Open(ctx, fc.PositionsFile)
	if err != nil {
		log.Error().
			Err(err).
			Str("path", fc.Path).
			Str("positions_file", fc.PositionsFile).
			Msg("Failed to open positions store, file will not be tailed")
		return
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Str("positions_file", fc.PositionsFile).Msg("Failed to close positions store")
		}
	}()

	tl := tailer.New(tailer.Config{
		Path:         fc.Path,
		Filter:       filter,
		BufferSize:   fc.BufferSize,
		Labels:       fc.Labels,
		ScanExisting: s.cfg.Settings.ScanExisting,
	}, store, s.newSubscriber(fc, filter), s.publisher)

	if err := tl.Run(ctx); err != nil {
		log.Error().Err(err).Str("path", fc.Path).Msg("Tailer failed")
	}
}
