package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"github.com/garyjia/shipment-workflow/internal/domain/event"
	"github.com/garyjia/shipment-workflow/internal/domain/failure"
	"github.com/garyjia/shipment-workflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_BookingWithTwoPhotos(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, h.db, "PO-2024-0001")

	photos := []entity.StagedUpload{h.stage(t, "front.jpg", "front"), h.stage(t, "seal.jpg", "seal")}

	outcome, err := h.svc.Run(ctx, StageTransitionRequest{
		PurchaseID: "PO-2024-0001",
		Stage:      entity.StageBooking,
		Payload:    json.RawMessage(bookingPayload),
		Files:      photos,
	})
	require.NoError(t, err)
	require.NoError(t, outcome.EvidenceError)
	assert.NotZero(t, outcome.StatusNodeID)
	assert.Contains(t, outcome.Confirmation, "Container Booked")

	history, err := h.svc.History(ctx, "PO-2024-0001")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].StageSequence)
	assert.Equal(t, entity.StageBooking, history[0].StageKey)

	assert.Equal(t, 1, testutil.CountRows(t, h.db, "booking_details"))
	assert.Equal(t, 2, testutil.CountRows(t, h.db, "booking_evidence"))

	record, err := h.svc.Get(ctx, entity.StageBooking, outcome.StatusNodeID)
	require.NoError(t, err)
	require.Len(t, record.Evidence, 2)
	names := []string{record.Evidence[0].FileName, record.Evidence[1].FileName}
	assert.ElementsMatch(t, []string{"front.jpg", "seal.jpg"}, names)
	for _, f := range record.Evidence {
		assert.True(t, f.IsStored())
		assert.Equal(t, filepath.Join("evidence", "booking", "PO-2024-0001", f.FileName), f.FilePath)
		assert.True(t, h.fileExists(f.FilePath))
	}
	for _, p := range photos {
		assert.False(t, h.stagedExists(p), "staged file must be moved")
	}

	intents := h.sink.received()
	require.Len(t, intents, 1)
	assert.Equal(t, "emp-PO-2024-0001", intents[0].Recipient)
	assert.Equal(t, "BK-PO-2024-0001: Container Booked", intents[0].Title)
	assert.Equal(t, "https://ops.example.com/purchases/PO-2024-0001", intents[0].Link)
	assert.Equal(t, "purchase:PO-2024-0001", intents[0].SubjectKey)

	purchase, err := h.purchases.GetByID(ctx, "PO-2024-0001")
	require.NoError(t, err)
	assert.Equal(t, "Container Booked", purchase.StatusLabel)
}

func TestRun_NextStageLeavesHistoryUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, h.db, "PO-2024-0001")

	first, err := h.svc.Run(ctx, StageTransitionRequest{PurchaseID: "PO-2024-0001", Stage: entity.StageBooking, Payload: json.RawMessage(bookingPayload)})
	require.NoError(t, err)
	before, err := h.svc.Get(ctx, entity.StageBooking, first.StatusNodeID)
	require.NoError(t, err)

	second, err := h.svc.Run(ctx, StageTransitionRequest{PurchaseID: "PO-2024-0001", Stage: entity.StageReceiving, Payload: json.RawMessage(receivingPayload)})
	require.NoError(t, err)

	history, err := h.svc.History(ctx, "PO-2024-0001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[1].StageSequence)
	assert.Equal(t, second.StatusNodeID, history[1].ID)

	after, err := h.svc.Get(ctx, entity.StageBooking, first.StatusNodeID)
	require.NoError(t, err)
	assert.Equal(t, before.Node, after.Node)
	assert.Equal(t, before.Detail.Meta().UpdatedAt, after.Detail.Meta().UpdatedAt)
	assert.Equal(t, "BN-1", after.Detail.(*entity.BookingDetail).BookingNumber)
}

func TestRun_SequencesStrictlyIncrease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, h.db, "PO-1")

	// repeats and notes are accepted in free-form mode
	stages := []struct {
		stage   entity.StageKey
		payload string
	}{
		{entity.StageBooking, bookingPayload},
		{entity.StageNotes, `{"note":"customer called"}`},
		{entity.StageBooking, bookingPayload},
		{entity.StageLoading, loadingPayload},
	}
	for _, s := range stages {
		_, err := h.svc.Run(ctx, StageTransitionRequest{PurchaseID: "PO-1", Stage: s.stage, Payload: json.RawMessage(s.payload)})
		require.NoError(t, err)
	}

	history, err := h.svc.History(ctx, "PO-1")
	require.NoError(t, err)
	require.Len(t, history, len(stages))
	for i, node := range history {
		assert.Equal(t, i+1, node.StageSequence)
	}
	assert.Equal(t, len(stages), testutil.CountRows(t, h.db, "status_nodes"))
	assert.Equal(t, 2, testutil.CountRows(t, h.db, "booking_details"))
}

func TestRun_ConcurrentSamePurchase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, h.db, "PO-1")

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Run(ctx, StageTransitionRequest{PurchaseID: "PO-1", Stage: entity.StageNotes, Payload: json.RawMessage(`{"note":"ping"}`)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := h.svc.History(ctx, "PO-1")
	require.NoError(t, err)
	require.Len(t, history, n)
	for i, node := range history {
		assert.Equal(t, i+1, node.StageSequence)
	}
}

func TestRun_DetailFailureRollsBackEverything(t *testing.T) {
	injected := errors.New("disk I/O error")
	h := newHarness(t, func(h *harness) {
		h.details = &failingDetailRepo{StageDetailRepository: h.details, createErr: injected}
	})
	ctx := context.Background()
	testutil.SeedPurchase(t, h.db, "PO-1")
	photo := h.stage(t, "front.jpg", "x")

	_, err := h.svc.Run(ctx, StageTransitionRequest{
		PurchaseID: "PO-1",
		Stage:      entity.StageBooking,
		Payload:    json.RawMessage(bookingPayload),
		Files:      []entity.StagedUpload{photo},
	})

	var transition *failure.StageTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, failure.ReasonPersistenceFailed, transition.ReasonCode())
	assert.ErrorIs(t, err, injected)

	assert.Equal(t, 0, testutil.CountRows(t, h.db, "status_nodes"))
	assert.Equal(t, 0, testutil.CountRows(t, h.db, "booking_details"))
	assert.Equal(t, 0, testutil.CountRows(t, h.db, "booking_evidence"))
	assert.False(t, h.stagedExists(photo), "staged files of a failed transition are discarded")
	assert.Empty(t, h.sink.received())

	purchase, err := h.purchases.GetByID(ctx, "PO-1")
	require.NoError(t, err)
	assert.Empty(t, purchase.StatusLabel)
}

func TestRun_DeliveryRequiresReleaseWait(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, h.db, "PO-1")

	_, err := h.svc.Run(ctx, StageTransitionRequest{PurchaseID: "PO-1", Stage: entity.StageDelivery, Payload: json.RawMessage(deliveryPayload)})

	var notFound *failure.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, failure.ReasonReleaseWaitNotFound, notFound.ReasonCode())
	assert.Equal(t, 0, testutil.CountRows(t, h.db, "status_nodes"))
	assert.Equal(t, 0, testutil.CountRows(t, h.db, "delivery_details"))

	first, err := h.svc.Run(ctx, StageTransitionRequest{PurchaseID: "PO-1", Stage: entity.StageReleaseWait, Payload: json.RawMessage(releaseWaitPayload)})
	require.NoError(t, err)
	latest, err := h.svc.Run(ctx, StageTransitionRequest{PurchaseID: "PO-1", Stage: entity.StageReleaseWait, Payload: json.RawMessage(releaseWaitPayload)})
	require.NoError(t, err)
	require.NotEqual(t, first.StatusNodeID, latest.StatusNodeID)

	delivered, err := h.svc.Run(ctx, StageTransitionRequest{PurchaseID: "PO-1", Stage: entity.StageDelivery, Payload: json.RawMessage(deliveryPayload)})
	require.NoError(t, err)

	record, err := h.svc.Get(ctx, entity.StageDelivery, delivered.StatusNodeID)
	require.NoError(t, err)
	waitRecord, err := h.svc.Get(ctx, entity.StageReleaseWait, latest.StatusNodeID)
	require.NoError(t, err)
	assert.Equal(t, waitRecord.Detail.Meta().ID, record.Detail.(*entity.DeliveryDetail).ReleaseWaitID)
}

func TestRun_FailsFastWithoutState(t *testing.T) {
	tests := []struct {
		name       string
		purchaseID string
		stage      entity.StageKey
		payload    string
		wantReason string
	}{
		{name: "unknown stage", purchaseID: "PO-1", stage: "customs_party", payload: `{}`, wantReason: failure.ReasonUnknownStage},
		{name: "missing fields", purchaseID: "PO-1", stage: entity.StageBooking, payload: `{"booking_number":"BN-1"}`, wantReason: failure.ReasonValidationFailed},
		{name: "unknown field", purchaseID: "PO-1", stage: entity.StageNotes, payload: `{"note":"x","colour":"red"}`, wantReason: failure.ReasonValidationFailed},
		{name: "unknown purchase", purchaseID: "PO-404", stage: entity.StageNotes, payload: `{"note":"x"}`, wantReason: failure.ReasonPurchaseNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			testutil.SeedPurchase(t, h.db, "PO-1")

			_, err := h.svc.Run(context.Background(), StageTransitionRequest{PurchaseID: tt.purchaseID, Stage: tt.stage, Payload: json.RawMessage(tt.payload)})
			require.Error(t, err)
			assert.Equal(t, tt.wantReason, failure.Describe(tt.stage, err).ReasonCode)
			assert.Equal(t, 0, testutil.CountRows(t, h.db, "status_nodes"))
		})
	}
}

func TestRun_RejectsMissingStagedFile(t *testing.T) {
	h := newHarness(t)
	testutil.SeedPurchase(t, h.db, "PO-1")

	_, err := h.svc.Run(context.Background(), StageTransitionRequest{
		PurchaseID: "PO-1",
		Stage:      entity.StageNotes,
		Payload:    json.RawMessage(`{"note":"x"}`),
		Files: []entity.StagedUpload{
			{StagedPath: "nope/ghost.jpg"},
			{StagedPath: "../../etc/passwd"},
		},
	})

	var validation *failure.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, []string{"files[0].staged_path", "files[1].staged_path"}, validation.Fields)
	assert.Equal(t, 0, testutil.CountRows(t, h.db, "status_nodes"))
}

func TestRun_NotificationFailureDoesNotFailTransition(t *testing.T) {
	h := newHarness(t)
	h.sink.submitFunc = func(ctx context.Context, intent entity.NotificationIntent) error {
		return errors.New("lark unavailable")
	}
	testutil.SeedPurchase(t, h.db, "PO-1")

	outcome, err := h.svc.Run(context.Background(), StageTransitionRequest{PurchaseID: "PO-1", Stage: entity.StageNotes, Payload: json.RawMessage(`{"note":"x"}`)})
	require.NoError(t, err)
	assert.NotZero(t, outcome.StatusNodeID)
	assert.True(t, h.logger.hasError("Stage notification failed"))
	assert.Len(t, h.publisher.ofType(event.TypeStageTransitioned), 1)
}

func TestRun_SequenceConflictIsRetried(t *testing.T) {
	var nodes *conflictingNodeRepo
	h := newHarness(t, func(h *harness) {
		nodes = &conflictingNodeRepo{StatusNodeRepository: h.nodes, conflicts: 2}
		h.nodes = nodes
	})
	testutil.SeedPurchase(t, h.db, "PO-1")

	outcome, err := h.svc.Run(context.Background(), StageTransitionRequest{PurchaseID: "PO-1", Stage: entity.StageNotes, Payload: json.RawMessage(`{"note":"x"}`)})
	require.NoError(t, err)
	assert.NotZero(t, outcome.StatusNodeID)
	assert.Equal(t, 3, nodes.calls)
	assert.Equal(t, 1, testutil.CountRows(t, h.db, "status_nodes"))
}

func TestRun_SequenceConflictExhaustsRetries(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.nodes = &conflictingNodeRepo{StatusNodeRepository: h.nodes, conflicts: 100}
		h.cfg.SequenceRetries = 1
	})
	testutil.SeedPurchase(t, h.db, "PO-1")

	_, err := h.svc.Run(context.Background(), StageTransitionRequest{PurchaseID: "PO-1", Stage: entity.StageNotes, Payload: json.RawMessage(`{"note":"x"}`)})

	var transition *failure.StageTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, failure.ReasonSequenceConflict, transition.ReasonCode())
	assert.Equal(t, 0, testutil.CountRows(t, h.db, "notes_details"))
}

func TestRun_TransactionalPhaseTimeout(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.locker = blockingLocker{}
		h.cfg.TransitionTimeout = 20 * time.Millisecond
	})
	testutil.SeedPurchase(t, h.db, "PO-1")

	_, err := h.svc.Run(context.Background(), StageTransitionRequest{PurchaseID: "PO-1", Stage: entity.StageNotes, Payload: json.RawMessage(`{"note":"x"}`)})

	var transition *failure.StageTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, failure.ReasonTimeout, transition.ReasonCode())
	assert.Equal(t, 0, testutil.CountRows(t, h.db, "status_nodes"))
}

func TestRun_StrictOrderPolicy(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.policy = NewStrictOrderPolicy()
	})
	ctx := context.Background()
	testutil.SeedPurchase(t, h.db, "PO-1")

	_, err := h.svc.Run(ctx, StageTransitionRequest{PurchaseID: "PO-1", Stage: entity.StageLoading, Payload: json.RawMessage(loadingPayload)})
	var validation *failure.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, failure.ReasonStageOutOfOrder, validation.ReasonCode())
	assert.Equal(t, 0, testutil.CountRows(t, h.db, "status_nodes"))

	for _, s := range []struct {
		stage   entity.StageKey
		payload string
	}{
		{entity.StageBooking, bookingPayload},
		{entity.StageNotes, `{"note":"x"}`},
		{entity.StageReceiving, receivingPayload},
		{entity.StageReceiving, receivingPayload},
		{entity.StageLoading, loadingPayload},
	} {
		_, err := h.svc.Run(ctx, StageTransitionRequest{PurchaseID: "PO-1", Stage: s.stage, Payload: json.RawMessage(s.payload)})
		require.NoError(t, err, s.stage)
	}
}

func TestRun_MoveFailureIsSurfacedNotRolledBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, h.db, "PO-1")
	photo := h.stage(t, "front.jpg", "x")

	committed, err := h.svc.Commit(ctx, StageTransitionRequest{
		PurchaseID: "PO-1",
		Stage:      entity.StageBooking,
		Payload:    json.RawMessage(bookingPayload),
		Files:      []entity.StagedUpload{photo},
	})
	require.NoError(t, err)
	require.Len(t, committed.Pending.Moves, 1)
	assert.Empty(t, h.sink.received(), "no side effect before ApplySideEffects")

	// the staged file disappears between commit and move
	require.NoError(t, os.Remove(filepath.Join(h.base, committed.Evidence[0].StagedPath)))

	err = h.svc.ApplySideEffects(ctx, committed)
	var inconsistent *failure.EvidenceConsistencyError
	require.ErrorAs(t, err, &inconsistent)
	require.Len(t, inconsistent.Problems, 1)
	assert.Equal(t, ResolutionRowDeleted, inconsistent.Problems[0].Resolution)

	assert.Equal(t, 1, testutil.CountRows(t, h.db, "status_nodes"))
	assert.Equal(t, 0, testutil.CountRows(t, h.db, "booking_evidence"))
	inconsistentEvents := h.publisher.ofType(event.TypeEvidenceInconsistent)
	require.Len(t, inconsistentEvents, 1)
	transitioned := h.publisher.ofType(event.TypeStageTransitioned)
	require.Len(t, transitioned, 1)
	assert.Equal(t, transitioned[0].CorrelationID, inconsistentEvents[0].CorrelationID)
	assert.Len(t, h.sink.received(), 1)
}

func TestEdit_KeepSetRemovesOtherFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, h.db, "PO-1")

	files := []entity.StagedUpload{h.stage(t, "f1.jpg", "1"), h.stage(t, "f2.jpg", "2"), h.stage(t, "f3.jpg", "3")}
	outcome, err := h.svc.Run(ctx, StageTransitionRequest{PurchaseID: "PO-1", Stage: entity.StageLoading, Payload: json.RawMessage(loadingPayload), Files: files})
	require.NoError(t, err)

	record, err := h.svc.Get(ctx, entity.StageLoading, outcome.StatusNodeID)
	require.NoError(t, err)
	require.Len(t, record.Evidence, 3)
	byName := map[string]*entity.EvidenceFile{}
	for _, f := range record.Evidence {
		byName[f.FileName] = f
	}

	edited, err := h.svc.Edit(ctx, StageEditRequest{
		Stage:        entity.StageLoading,
		StatusNodeID: outcome.StatusNodeID,
		Payload:      json.RawMessage(`{"container_number":"MSKU7654321","loaded_at":"2024-03-02T09:00:00Z","line_items":[{"product_name":"Tables","quantity":10}]}`),
		KeepFileIDs:  []int64{byName["f1.jpg"].ID},
	})
	require.NoError(t, err)
	require.NoError(t, edited.EvidenceError)
	assert.Equal(t, outcome.StatusNodeID, edited.StatusNodeID)

	after, err := h.svc.Get(ctx, entity.StageLoading, outcome.StatusNodeID)
	require.NoError(t, err)
	require.Len(t, after.Evidence, 1)
	assert.Equal(t, "f1.jpg", after.Evidence[0].FileName)
	assert.True(t, h.fileExists(byName["f1.jpg"].FilePath))
	assert.False(t, h.fileExists(byName["f2.jpg"].FilePath))
	assert.False(t, h.fileExists(byName["f3.jpg"].FilePath))

	loading := after.Detail.(*entity.LoadingDetail)
	assert.Equal(t, "MSKU7654321", loading.ContainerNumber)
	require.Len(t, loading.LineItems, 1)
	assert.Equal(t, "Tables", loading.LineItems[0].ProductName)

	assert.Equal(t, 1, testutil.CountRows(t, h.db, "status_nodes"), "edits never create nodes")
	assert.Len(t, h.publisher.ofType(event.TypeStageEdited), 1)
	assert.Len(t, h.sink.received(), 1, "edits do not notify")
}

func TestEdit_AddsNewFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, h.db, "PO-1")

	outcome, err := h.svc.Run(ctx, StageTransitionRequest{PurchaseID: "PO-1", Stage: entity.StageBooking, Payload: json.RawMessage(bookingPayload), Files: []entity.StagedUpload{h.stage(t, "a.jpg", "a")}})
	require.NoError(t, err)
	record, err := h.svc.Get(ctx, entity.StageBooking, outcome.StatusNodeID)
	require.NoError(t, err)

	_, err = h.svc.Edit(ctx, StageEditRequest{
		Stage:        entity.StageBooking,
		StatusNodeID: outcome.StatusNodeID,
		Payload:      json.RawMessage(bookingPayload),
		KeepFileIDs:  []int64{record.Evidence[0].ID},
		Files:        []entity.StagedUpload{h.stage(t, "b.jpg", "b")},
	})
	require.NoError(t, err)

	after, err := h.svc.Get(ctx, entity.StageBooking, outcome.StatusNodeID)
	require.NoError(t, err)
	require.Len(t, after.Evidence, 2)
	for _, f := range after.Evidence {
		assert.True(t, f.IsStored(), f.FileName)
		assert.True(t, h.fileExists(f.FilePath), f.FileName)
	}
}

func TestEdit_UnknownNode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, h.db, "PO-1")

	outcome, err := h.svc.Run(ctx, StageTransitionRequest{PurchaseID: "PO-1", Stage: entity.StageBooking, Payload: json.RawMessage(bookingPayload)})
	require.NoError(t, err)

	tests := []struct {
		name   string
		stage  entity.StageKey
		nodeID int64
	}{
		{name: "missing node", stage: entity.StageBooking, nodeID: 999},
		{name: "stage mismatch", stage: entity.StageNotes, nodeID: outcome.StatusNodeID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := bookingPayload
			if tt.stage == entity.StageNotes {
				payload = `{"note":"x"}`
			}
			_, err := h.svc.Edit(ctx, StageEditRequest{Stage: tt.stage, StatusNodeID: tt.nodeID, Payload: json.RawMessage(payload)})

			var notFound *failure.NotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, failure.ReasonStatusNodeNotFound, notFound.ReasonCode())
		})
	}
}
