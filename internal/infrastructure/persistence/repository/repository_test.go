package repository

import (
	"context"
	"testing"
	"time"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/domain/entity"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/shipment-workflow/internal/testutil"
	"github.com/garyjia/shipment-workflow/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type repos struct {
	db        *database.DB
	purchases port.PurchaseRepository
	nodes     port.StatusNodeRepository
	details   port.StageDetailRepository
	evidence  port.EvidenceRepository
	notices   port.NotificationRepository
}

func newRepos(t *testing.T) *repos {
	t.Helper()
	db := testutil.NewDB(t)
	logger := zap.NewNop()
	return &repos{
		db:        db,
		purchases: NewPurchaseRepository(db.DB, logger),
		nodes:     NewStatusNodeRepository(db.DB, logger),
		details:   NewStageDetailRepository(db.DB, logger),
		evidence:  NewEvidenceRepository(db.DB, logger),
		notices:   NewNotificationRepository(db.DB, logger),
	}
}

func TestPurchaseRepository(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()

	purchase := &entity.Purchase{
		ID:         "PO-2024-0001",
		BookNumber: "BK-778",
		Employees: []entity.Employee{
			{EmployeeID: "emp-2", OpenID: "ou_2"},
			{EmployeeID: "emp-1", OpenID: "ou_1"},
		},
	}
	require.NoError(t, r.purchases.Create(ctx, purchase))

	got, err := r.purchases.GetByID(ctx, "PO-2024-0001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "BK-778", got.BookNumber)
	require.Len(t, got.Employees, 2)
	assert.Equal(t, "emp-2", got.PrimaryEmployee().EmployeeID, "first assigned employee keeps position 0")

	require.NoError(t, r.purchases.UpdateStatusLabel(ctx, "PO-2024-0001", "Container Booked"))
	got, err = r.purchases.GetByID(ctx, "PO-2024-0001")
	require.NoError(t, err)
	assert.Equal(t, "Container Booked", got.StatusLabel)

	missing, err := r.purchases.GetByID(ctx, "PO-missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = r.purchases.UpdateStatusLabel(ctx, "PO-missing", "x")
	assert.ErrorIs(t, err, port.ErrNotFound)
}

func TestStatusNodeRepository_AppendAssignsIncreasingSequence(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, r.db, "PO-1")
	testutil.SeedPurchase(t, r.db, "PO-2")

	stages := []entity.StageKey{entity.StageBooking, entity.StageNotes, entity.StageBooking, entity.StageReceiving}
	for i, stage := range stages {
		node, err := r.nodes.Append(ctx, "PO-1", stage, stage.Label())
		require.NoError(t, err)
		assert.Equal(t, i+1, node.StageSequence)
		assert.Equal(t, stage, node.StageKey)
	}

	other, err := r.nodes.Append(ctx, "PO-2", entity.StageBooking, "Container Booked")
	require.NoError(t, err)
	assert.Equal(t, 1, other.StageSequence, "sequences are per purchase")

	history, err := r.nodes.ListByPurchase(ctx, "PO-1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].StageSequence, history[i-1].StageSequence)
	}
}

func TestStatusNodeRepository_AppendOnly(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, r.db, "PO-1")

	node, err := r.nodes.Append(ctx, "PO-1", entity.StageBooking, "Container Booked")
	require.NoError(t, err)

	_, err = r.db.Exec(`UPDATE status_nodes SET stage_label = 'x' WHERE id = ?`, node.ID)
	assert.Error(t, err)
	_, err = r.db.Exec(`DELETE FROM status_nodes WHERE id = ?`, node.ID)
	assert.Error(t, err)

	got, err := r.nodes.GetByID(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, "Container Booked", got.StageLabel)
}

func TestStatusNodeRepository_UnknownPurchase(t *testing.T) {
	r := newRepos(t)

	_, err := r.nodes.Append(context.Background(), "PO-ghost", entity.StageBooking, "Container Booked")
	assert.Error(t, err)
	assert.Equal(t, 0, testutil.CountRows(t, r.db, "status_nodes"))
}

func TestStageDetailRepository_RoundTrip(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, r.db, "PO-1")

	etd := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		detail entity.StageDetail
		check  func(t *testing.T, got entity.StageDetail)
	}{
		{
			name: "booking with optional time",
			detail: &entity.BookingDetail{
				BookingNumber: "BN-1", ShippingLine: "MSC", ContainerSize: "40HQ",
				ContainerQuantity: 2, ETD: &etd,
			},
			check: func(t *testing.T, got entity.StageDetail) {
				b := got.(*entity.BookingDetail)
				assert.Equal(t, "MSC", b.ShippingLine)
				assert.Equal(t, 2, b.ContainerQuantity)
				require.NotNil(t, b.ETD)
				assert.True(t, etd.Equal(*b.ETD))
			},
		},
		{
			name:   "booking without optional time",
			detail: &entity.BookingDetail{BookingNumber: "BN-2", ShippingLine: "ONE", ContainerSize: "20GP"},
			check: func(t *testing.T, got entity.StageDetail) {
				assert.Nil(t, got.(*entity.BookingDetail).ETD)
			},
		},
		{
			name: "loading with line items",
			detail: &entity.LoadingDetail{
				ContainerNumber: "MSCU1234567", LoadedAt: etd,
				LineItems: []entity.LineItem{
					{ProductName: "Chairs", Quantity: 40, Unit: "pcs"},
					{ProductName: "Tables", Quantity: 10, Unit: "pcs", WeightKG: 300},
				},
			},
			check: func(t *testing.T, got entity.StageDetail) {
				l := got.(*entity.LoadingDetail)
				require.Len(t, l.LineItems, 2)
				assert.Equal(t, "Tables", l.LineItems[1].ProductName)
				assert.Equal(t, l.ID, l.LineItems[0].DetailID)
			},
		},
		{
			name:   "notes",
			detail: &entity.NoteDetail{Title: "Call", Note: "Customer asked for ETA"},
			check: func(t *testing.T, got entity.StageDetail) {
				assert.Equal(t, "Customer asked for ETA", got.(*entity.NoteDetail).Note)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := r.nodes.Append(ctx, "PO-1", tt.detail.Stage(), tt.detail.Stage().Label())
			require.NoError(t, err)

			tt.detail.Meta().StatusNodeID = node.ID
			require.NoError(t, r.details.Create(ctx, tt.detail))
			assert.NotZero(t, tt.detail.Meta().ID)

			got, err := r.details.GetByStatusNode(ctx, node.StageKey, node.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.detail.Meta().ID, got.Meta().ID)
			tt.check(t, got)
		})
	}
}

func TestStageDetailRepository_EveryStageHasTables(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, r.db, "PO-1")

	for _, stage := range entity.AllStages {
		t.Run(stage.String(), func(t *testing.T) {
			if stage == entity.StageDelivery {
				seedReleaseWait(t, r, "PO-1")
			}
			node, err := r.nodes.Append(ctx, "PO-1", stage, stage.Label())
			require.NoError(t, err)

			detail, err := entity.NewStageDetail(stage)
			require.NoError(t, err)
			detail.Meta().StatusNodeID = node.ID
			if d, ok := detail.(*entity.DeliveryDetail); ok {
				rw, err := r.details.LatestReleaseWait(ctx, "PO-1")
				require.NoError(t, err)
				d.ReleaseWaitID = rw.ID
			}
			require.NoError(t, r.details.Create(ctx, detail))

			file := &entity.EvidenceFile{Stage: stage, DetailID: detail.Meta().ID, PurchaseID: "PO-1", FileName: "a.jpg", FilePath: "x/a.jpg"}
			require.NoError(t, r.evidence.Create(ctx, file))
		})
	}
}

func TestStageDetailRepository_Update(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, r.db, "PO-1")

	t.Run("loading replaces line items", func(t *testing.T) {
		node, err := r.nodes.Append(ctx, "PO-1", entity.StageLoading, "Container Loaded")
		require.NoError(t, err)
		loading := &entity.LoadingDetail{
			ContainerNumber: "C1", LoadedAt: time.Now().UTC(),
			LineItems: []entity.LineItem{{ProductName: "A", Quantity: 1}, {ProductName: "B", Quantity: 2}},
		}
		loading.StatusNodeID = node.ID
		require.NoError(t, r.details.Create(ctx, loading))
		createdID := loading.ID

		edit := &entity.LoadingDetail{
			ContainerNumber: "C2", LoadedAt: time.Now().UTC(),
			LineItems: []entity.LineItem{{ProductName: "C", Quantity: 3}},
		}
		edit.StatusNodeID = node.ID
		require.NoError(t, r.details.Update(ctx, edit))
		assert.Equal(t, createdID, edit.ID)

		got, err := r.details.GetByStatusNode(ctx, entity.StageLoading, node.ID)
		require.NoError(t, err)
		l := got.(*entity.LoadingDetail)
		assert.Equal(t, "C2", l.ContainerNumber)
		require.Len(t, l.LineItems, 1)
		assert.Equal(t, "C", l.LineItems[0].ProductName)
		assert.Equal(t, 1, testutil.CountRows(t, r.db, "loading_line_items"))
		assert.Equal(t, 1, countNodes(t, r, "PO-1", entity.StageLoading), "edits never add history")
	})

	t.Run("delivery keeps release wait reference", func(t *testing.T) {
		rw := seedReleaseWait(t, r, "PO-1")
		node, err := r.nodes.Append(ctx, "PO-1", entity.StageDelivery, "Out for Delivery")
		require.NoError(t, err)
		delivery := &entity.DeliveryDetail{ReleaseWaitID: rw.ID, DeliveryDate: time.Now().UTC(), DestinationAddress: "Dock 1"}
		delivery.StatusNodeID = node.ID
		require.NoError(t, r.details.Create(ctx, delivery))

		edit := &entity.DeliveryDetail{DeliveryDate: time.Now().UTC(), DestinationAddress: "Dock 2"}
		edit.StatusNodeID = node.ID
		require.NoError(t, r.details.Update(ctx, edit))
		assert.Equal(t, rw.ID, edit.ReleaseWaitID)

		got, err := r.details.GetByStatusNode(ctx, entity.StageDelivery, node.ID)
		require.NoError(t, err)
		assert.Equal(t, "Dock 2", got.(*entity.DeliveryDetail).DestinationAddress)
		assert.Equal(t, rw.ID, got.(*entity.DeliveryDetail).ReleaseWaitID)
	})

	t.Run("missing detail", func(t *testing.T) {
		edit := &entity.ReturnDetail{ReturnedAt: time.Now(), ReturnDepot: "D"}
		edit.StatusNodeID = 9999
		assert.ErrorIs(t, r.details.Update(ctx, edit), port.ErrNotFound)
	})
}

func TestStageDetailRepository_LatestReleaseWait(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, r.db, "PO-1")
	testutil.SeedPurchase(t, r.db, "PO-2")

	none, err := r.details.LatestReleaseWait(ctx, "PO-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	seedReleaseWait(t, r, "PO-1")
	second := seedReleaseWait(t, r, "PO-1")
	seedReleaseWait(t, r, "PO-2")

	got, err := r.details.LatestReleaseWait(ctx, "PO-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
}

func TestEvidenceRepository(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	testutil.SeedPurchase(t, r.db, "PO-1")

	node, err := r.nodes.Append(ctx, "PO-1", entity.StageBooking, "Container Booked")
	require.NoError(t, err)
	booking := &entity.BookingDetail{BookingNumber: "B", ShippingLine: "S", ContainerSize: "20GP"}
	booking.StatusNodeID = node.ID
	require.NoError(t, r.details.Create(ctx, booking))

	old := time.Now().UTC().Add(-time.Hour)
	first := &entity.EvidenceFile{Stage: entity.StageBooking, DetailID: booking.ID, PurchaseID: "PO-1",
		FileName: "a.jpg", FilePath: "evidence/booking/PO-1/a.jpg", StagedPath: "staging/u1.jpg",
		Classification: "container_photo", CreatedAt: old}
	second := &entity.EvidenceFile{Stage: entity.StageBooking, DetailID: booking.ID, PurchaseID: "PO-1",
		FileName: "b.jpg", FilePath: "evidence/booking/PO-1/b.jpg", StagedPath: "staging/u2.jpg"}
	require.NoError(t, r.evidence.Create(ctx, first))
	require.NoError(t, r.evidence.Create(ctx, second))
	assert.Equal(t, entity.EvidenceStateStaged, first.State)

	staged, err := r.evidence.ListStaged(ctx, entity.StageBooking, time.Now().UTC().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, first.ID, staged[0].ID)

	require.NoError(t, r.evidence.SetTarget(ctx, entity.StageBooking, first.ID, "evidence/booking/PO-1/a2.jpg"))
	got, err := r.evidence.GetByID(ctx, entity.StageBooking, first.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.EvidenceStateStaged, got.State)
	assert.Equal(t, "evidence/booking/PO-1/a2.jpg", got.FilePath)

	require.NoError(t, r.evidence.MarkStored(ctx, entity.StageBooking, first.ID, first.FilePath))
	assert.ErrorIs(t, r.evidence.SetTarget(ctx, entity.StageBooking, first.ID, "elsewhere.jpg"), port.ErrNotFound, "stored rows keep their path")
	got, err = r.evidence.GetByID(ctx, entity.StageBooking, first.ID)
	require.NoError(t, err)
	assert.True(t, got.IsStored())
	assert.NotNil(t, got.StoredAt)
	assert.Equal(t, first.FilePath, got.FilePath)
	assert.Equal(t, "container_photo", got.Classification)

	require.NoError(t, r.evidence.Delete(ctx, entity.StageBooking, second.ID))
	require.NoError(t, r.evidence.Delete(ctx, entity.StageBooking, second.ID), "delete is idempotent")

	files, err := r.evidence.ListByDetail(ctx, entity.StageBooking, booking.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.jpg", files[0].FileName)

	assert.ErrorIs(t, r.evidence.MarkStored(ctx, entity.StageBooking, second.ID, "x"), port.ErrNotFound)
}

func TestNotificationRepository(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()

	n := &entity.StoredNotification{NotificationIntent: entity.NotificationIntent{
		Recipient: "emp-1", Title: "BK-1: Container Booked", Message: "m", Link: "/purchases/PO-1", SubjectKey: "purchase:PO-1",
	}}
	require.NoError(t, r.notices.Create(ctx, n))
	assert.NotZero(t, n.ID)

	list, err := r.notices.ListBySubject(ctx, "purchase:PO-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "BK-1: Container Booked", list[0].Title)
}

func TestRepositories_JoinTransaction(t *testing.T) {
	r := newRepos(t)
	testutil.SeedPurchase(t, r.db, "PO-1")
	tx := sqlite.NewDB(r.db.DB, zap.NewNop())

	err := tx.WithTransaction(context.Background(), func(ctx context.Context) error {
		if _, err := r.nodes.Append(ctx, "PO-1", entity.StageBooking, "Container Booked"); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, testutil.CountRows(t, r.db, "status_nodes"), "rolled back with the transaction")
}

func seedReleaseWait(t *testing.T, r *repos, purchaseID string) *entity.ReleaseWaitDetail {
	t.Helper()
	ctx := context.Background()

	node, err := r.nodes.Append(ctx, purchaseID, entity.StageReleaseWait, "Awaiting Customs Release")
	require.NoError(t, err)
	rw := &entity.ReleaseWaitDetail{ArrivedAt: time.Now().UTC(), CustomsDeclarationNumber: "CD-1"}
	rw.StatusNodeID = node.ID
	require.NoError(t, r.details.Create(ctx, rw))
	return rw
}

func countNodes(t *testing.T, r *repos, purchaseID string, stage entity.StageKey) int {
	t.Helper()
	var n int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM status_nodes WHERE purchase_id = ? AND stage_key = ?`, purchaseID, string(stage)).Scan(&n))
	return n
}
