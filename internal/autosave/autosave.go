package autosave

import (
	"context"
	"log"
	"sync"
	"time"
)

// Saver is the part of the hub the autosave loop drives.
type Saver interface {
	DirtyRooms() []string
	Checkpoint(ctx context.Context, roomKey string) error
}

type Config struct {
	Interval    time.Duration
	SaveTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		SaveTimeout: 10 * time.Second,
	}
}

// Service periodically checkpoints rooms whose history changed since the
// last save, and once more when stopped.
type Service struct {
	saver    Saver
	config   Config
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(saver Saver, config Config) *Service {
	if config.SaveTimeout <= 0 {
		config.SaveTimeout = DefaultConfig().SaveTimeout
	}
	return &Service{
		saver:  saver,
		config: config,
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("💾 Autosave service started (interval: %v)", s.config.Interval)
}

// Stop ends the loop after a final pass over dirty rooms.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.SaveDirty()
		log.Println("💾 Autosave service stopped")
	})
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.SaveDirty()
		}
	}
}

// SaveDirty checkpoints every dirty room and returns how many succeeded.
func (s *Service) SaveDirty() int {
	saved := 0
	for _, key := range s.saver.DirtyRooms() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.SaveTimeout)
		err := s.saver.Checkpoint(ctx, key)
		cancel()
		if err != nil {
			log.Printf("Autosave: failed for room %s: %v", key, err)
			continue
		}
		saved++
	}

	if saved > 0 {
		log.Printf("💾 Autosaved %d rooms", saved)
	}
	return saved
}
