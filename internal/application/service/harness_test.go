package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/shipment-workflow/internal/application/dispatcher"
	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"github.com/garyjia/shipment-workflow/internal/domain/event"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/lock"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/storage"
	"github.com/garyjia/shipment-workflow/internal/testutil"
	"github.com/garyjia/shipment-workflow/pkg/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockLogger records log calls
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Warn(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) hasError(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.errors {
		if e == msg {
			return true
		}
	}
	return false
}

// mockSink records intents and optionally fails
type mockSink struct {
	mu         sync.Mutex
	intents    []entity.NotificationIntent
	submitFunc func(ctx context.Context, intent entity.NotificationIntent) error
}

func (m *mockSink) Submit(ctx context.Context, intent entity.NotificationIntent) error {
	m.mu.Lock()
	m.intents = append(m.intents, intent)
	m.mu.Unlock()
	if m.submitFunc != nil {
		return m.submitFunc(ctx, intent)
	}
	return nil
}

func (m *mockSink) received() []entity.NotificationIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.NotificationIntent(nil), m.intents...)
}

// recordingPublisher wraps a dispatcher and keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
	next   dispatcher.Dispatcher
}

func (p *recordingPublisher) Publish(ctx context.Context, evt *event.Event) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
	p.next.Publish(ctx, evt)
}

func (p *recordingPublisher) ofType(t event.Type) []*event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*event.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// failingDetailRepo injects failures into detail persistence
type failingDetailRepo struct {
	port.StageDetailRepository
	createErr error
}

func (r *failingDetailRepo) Create(ctx context.Context, detail entity.StageDetail) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.StageDetailRepository.Create(ctx, detail)
}

// conflictingNodeRepo reports a sequence conflict for the first n appends
type conflictingNodeRepo struct {
	port.StatusNodeRepository
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (r *conflictingNodeRepo) Append(ctx context.Context, purchaseID string, stage entity.StageKey, label string) (*entity.StatusNode, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.conflicts
	r.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("append: %w", port.ErrSequenceConflict)
	}
	return r.StatusNodeRepository.Append(ctx, purchaseID, stage, label)
}

// blockingLocker never grants the lock before ctx expires
type blockingLocker struct{}

func (blockingLocker) Lock(ctx context.Context, purchaseID string) (func(), error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type harness struct {
	db        *database.DB
	base      string
	logger    *mockLogger
	sink      *mockSink
	publisher *recordingPublisher

	purchases port.PurchaseRepository
	nodes     port.StatusNodeRepository
	details   port.StageDetailRepository
	evidence  port.EvidenceRepository
	storage   *storage.LocalFileStorage
	folders   *storage.LocalFolderManager

	locker port.PurchaseLocker
	policy port.StageOrderPolicy
	cfg    TransitionConfig

	sequencer StatusSequencer
	factory   StageRecordFactory
	store     EvidenceStore
	notifier  NotificationDispatcher
	svc       StageTransitionService
}

type harnessOption func(h *harness)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	db := testutil.NewDB(t)
	base := t.TempDir()
	zl := zap.NewNop()

	h := &harness{
		db:        db,
		base:      base,
		logger:    &mockLogger{},
		sink:      &mockSink{},
		purchases: repository.NewPurchaseRepository(db.DB, zl),
		nodes:     repository.NewStatusNodeRepository(db.DB, zl),
		details:   repository.NewStageDetailRepository(db.DB, zl),
		evidence:  repository.NewEvidenceRepository(db.DB, zl),
		storage:   storage.NewLocalFileStorage(base, zl),
		folders:   storage.NewLocalFolderManager(base, "staging", "evidence", zl),
		locker:    lock.NewLocalLocker(),
		cfg:       TransitionConfig{TransitionTimeout: 5 * time.Second, FileOpTimeout: 5 * time.Second, SequenceRetries: 3},
	}
	for _, opt := range opts {
		opt(h)
	}

	d := dispatcher.NewDispatcher(dispatcher.WithLogger(h.logger))
	t.Cleanup(func() { _ = d.Close() })
	h.publisher = &recordingPublisher{next: d}

	h.sequencer = NewStatusSequencer(h.nodes, h.logger)
	h.factory = NewStageRecordFactory(h.nodes, h.details, h.evidence, h.logger)
	h.store = NewEvidenceStore(h.evidence, h.storage, h.folders, EvidenceStoreConfig{FileConcurrency: 2}, h.logger)
	h.notifier = NewNotificationDispatcher(h.purchases, h.sink, "https://ops.example.com/", h.logger)
	d.SubscribeNamed(event.TypeStageTransitioned, "notify-employee", "", h.notifier.HandleStageTransitioned)

	h.svc = NewStageTransitionService(
		h.purchases,
		h.nodes,
		sqlite.NewDB(db.DB, zl),
		h.locker,
		h.sequencer,
		h.factory,
		h.store,
		h.policy,
		h.publisher,
		h.cfg,
		h.logger,
	)
	return h
}

// stage writes a file into the staging area and returns its upload descriptor
func (h *harness) stage(t *testing.T, name, content string) entity.StagedUpload {
	t.Helper()
	rel := filepath.Join("req-"+name, name)
	full := filepath.Join(h.base, "staging", rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	return entity.StagedUpload{StagedPath: filepath.ToSlash(rel), OriginalName: name, Classification: "photo"}
}

func (h *harness) stagedExists(u entity.StagedUpload) bool {
	_, err := os.Stat(filepath.Join(h.base, "staging", filepath.FromSlash(u.StagedPath)))
	return !errors.Is(err, os.ErrNotExist)
}

func (h *harness) fileExists(rel string) bool {
	_, err := os.Stat(filepath.Join(h.base, rel))
	return err == nil
}

const (
	bookingPayload     = `{"booking_number":"BN-1","shipping_line":"Maersk","container_size":"40HQ","container_quantity":1}`
	receivingPayload   = `{"container_number":"MSKU1234567","received_at":"2024-03-01T08:00:00Z"}`
	loadingPayload     = `{"container_number":"MSKU1234567","loaded_at":"2024-03-02T08:00:00Z","line_items":[{"product_name":"Chairs","quantity":120,"unit":"pcs"}]}`
	releaseWaitPayload = `{"arrived_at":"2024-04-01T08:00:00Z","customs_declaration_number":"CD-77"}`
	deliveryPayload    = `{"delivery_date":"2024-04-05T08:00:00Z","destination_address":"1 Harbour Rd"}`
)
