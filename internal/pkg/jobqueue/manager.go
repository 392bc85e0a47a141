package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/env"
)

// OutboxRelay re-publishes payment events whose post-commit dispatch failed.
type OutboxRelay interface {
	Relay(ctx context.Context, minAge time.Duration, limit int) (int, error)
}

// Service is a background component started and stopped with the manager.
type Service interface {
	Start()
	Stop()
}

// ManagerConfig holds the relay schedule.
type ManagerConfig struct {
	RelayInterval time.Duration
	RelayMinAge   time.Duration
	RelayBatch    int
}

// ManagerConfigFromEnv reads OUTBOX_RELAY_INTERVAL_SECONDS,
// OUTBOX_RELAY_MIN_AGE_SECONDS and OUTBOX_RELAY_BATCH.
func ManagerConfigFromEnv() ManagerConfig {
	return ManagerConfig{
		RelayInterval: env.GetEnvSeconds("OUTBOX_RELAY_INTERVAL_SECONDS", 30*time.Second),
		RelayMinAge:   env.GetEnvSeconds("OUTBOX_RELAY_MIN_AGE_SECONDS", 60*time.Second),
		RelayBatch:    env.GetEnvInt("OUTBOX_RELAY_BATCH", 100),
	}
}

// Manager manages the job queue and background tasks
type Manager struct {
	queue       *Queue
	relay       OutboxRelay
	services    []Service
	cfg         ManagerConfig
	relayTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

func NewManager(queue *Queue, relay OutboxRelay, cfg ManagerConfig, services ...Service) *Manager {
	if cfg.RelayInterval <= 0 {
		cfg.RelayInterval = 30 * time.Second
	}
	if cfg.RelayBatch <= 0 {
		cfg.RelayBatch = 100
	}
	return &Manager{
		queue:    queue,
		relay:    relay,
		services: services,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.relay != nil {
		m.relayTicker = time.NewTicker(m.cfg.RelayInterval)
		m.wg.Add(1)
		go m.relayWorker()
	}

	for _, s := range m.services {
		s.Start()
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	for _, s := range m.services {
		s.Stop()
	}
	if m.relayTicker != nil {
		m.relayTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// relayWorker periodically hands unpublished outbox rows to the queue
func (m *Manager) relayWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started outbox relay (interval: %s)", m.cfg.RelayInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Outbox relay stopping")
			return
		case <-m.relayTicker.C:
			if _, err := m.RelayOnce(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Outbox relay failed: %v", err)
			}
		}
	}
}

// RelayOnce runs a single relay pass.
func (m *Manager) RelayOnce(ctx context.Context) (int, error) {
	if m.relay == nil {
		return 0, nil
	}
	return m.relay.Relay(ctx, m.cfg.RelayMinAge, m.cfg.RelayBatch)
}

// IsRunning reports whether the manager is running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
