package repository

import (
	"fmt"
	"time"

	"github.com/garyjia/shipment-workflow/internal/domain/entity"
)

// stageTables names the detail and evidence tables of a stage
type stageTables struct {
	detail   string
	evidence string
}

func tablesFor(stage entity.StageKey) (stageTables, error) {
	switch stage {
	case entity.StageBooking:
		return stageTables{"booking_details", "booking_evidence"}, nil
	case entity.StageReceiving:
		return stageTables{"receiving_details", "receiving_evidence"}, nil
	case entity.StageLoading:
		return stageTables{"loading_details", "loading_evidence"}, nil
	case entity.StageDocumentation:
		return stageTables{"documentation_details", "documentation_evidence"}, nil
	case entity.StageDepartureConfirmation:
		return stageTables{"departure_confirmation_details", "departure_confirmation_evidence"}, nil
	case entity.StageDeparture:
		return stageTables{"departure_details", "departure_evidence"}, nil
	case entity.StageReleaseWait:
		return stageTables{"release_wait_details", "release_wait_evidence"}, nil
	case entity.StageReleaseConfirmation:
		return stageTables{"release_confirmation_details", "release_confirmation_evidence"}, nil
	case entity.StageDelivery:
		return stageTables{"delivery_details", "delivery_evidence"}, nil
	case entity.StageDeliveryConfirmation:
		return stageTables{"delivery_confirmation_details", "delivery_confirmation_evidence"}, nil
	case entity.StageReturn:
		return stageTables{"return_details", "return_evidence"}, nil
	case entity.StageNotes:
		return stageTables{"notes_details", "notes_evidence"}, nil
	}
	return stageTables{}, fmt.Errorf("no tables for stage %q", stage)
}

// column binds a table column to a field of a detail struct. ptr is the
// scan destination; arg() yields the value to bind.
type column struct {
	name string
	ptr  interface{}
	// createOnly columns are written on insert and never overwritten by edits
	createOnly bool
}

func (c column) arg() interface{} {
	switch p := c.ptr.(type) {
	case *string:
		return *p
	case *int:
		return *p
	case *int64:
		return *p
	case *float64:
		return *p
	case *time.Time:
		return *p
	case **time.Time:
		if *p == nil {
			return nil
		}
		return **p
	}
	panic(fmt.Sprintf("column %s: unsupported field type %T", c.name, c.ptr))
}

func detailColumns(detail entity.StageDetail) ([]column, error) {
	switch d := detail.(type) {
	case *entity.BookingDetail:
		return []column{
			{name: "booking_number", ptr: &d.BookingNumber},
			{name: "shipping_line", ptr: &d.ShippingLine},
			{name: "container_size", ptr: &d.ContainerSize},
			{name: "container_quantity", ptr: &d.ContainerQuantity},
			{name: "port_of_loading", ptr: &d.PortOfLoading},
			{name: "port_of_discharge", ptr: &d.PortOfDischarge},
			{name: "etd", ptr: &d.ETD},
			{name: "remark", ptr: &d.Remark},
		}, nil
	case *entity.ReceivingDetail:
		return []column{
			{name: "container_number", ptr: &d.ContainerNumber},
			{name: "seal_number", ptr: &d.SealNumber},
			{name: "received_at", ptr: &d.ReceivedAt},
			{name: "warehouse", ptr: &d.Warehouse},
			{name: "remark", ptr: &d.Remark},
		}, nil
	case *entity.LoadingDetail:
		return []column{
			{name: "container_number", ptr: &d.ContainerNumber},
			{name: "loaded_at", ptr: &d.LoadedAt},
			{name: "total_packages", ptr: &d.TotalPackages},
			{name: "total_weight_kg", ptr: &d.TotalWeightKG},
			{name: "remark", ptr: &d.Remark},
		}, nil
	case *entity.DocumentationDetail:
		return []column{
			{name: "bill_of_lading_number", ptr: &d.BillOfLadingNumber},
			{name: "invoice_number", ptr: &d.InvoiceNumber},
			{name: "packing_list_number", ptr: &d.PackingListNumber},
			{name: "certificate_of_origin", ptr: &d.CertificateOfOrigin},
			{name: "remark", ptr: &d.Remark},
		}, nil
	case *entity.DepartureConfirmationDetail:
		return []column{
			{name: "vessel_name", ptr: &d.VesselName},
			{name: "voyage_number", ptr: &d.VoyageNumber},
			{name: "confirmed_etd", ptr: &d.ConfirmedETD},
			{name: "remark", ptr: &d.Remark},
		}, nil
	case *entity.DepartureDetail:
		return []column{
			{name: "departed_at", ptr: &d.DepartedAt},
			{name: "vessel_name", ptr: &d.VesselName},
			{name: "eta", ptr: &d.ETA},
			{name: "remark", ptr: &d.Remark},
		}, nil
	case *entity.ReleaseWaitDetail:
		return []column{
			{name: "arrived_at", ptr: &d.ArrivedAt},
			{name: "customs_declaration_number", ptr: &d.CustomsDeclarationNumber},
			{name: "expected_release_date", ptr: &d.ExpectedReleaseDate},
			{name: "remark", ptr: &d.Remark},
		}, nil
	case *entity.ReleaseConfirmationDetail:
		return []column{
			{name: "released_at", ptr: &d.ReleasedAt},
			{name: "release_document_number", ptr: &d.ReleaseDocumentNumber},
			{name: "duty_amount", ptr: &d.DutyAmount},
			{name: "remark", ptr: &d.Remark},
		}, nil
	case *entity.DeliveryDetail:
		return []column{
			{name: "release_wait_id", ptr: &d.ReleaseWaitID, createOnly: true},
			{name: "delivery_date", ptr: &d.DeliveryDate},
			{name: "destination_address", ptr: &d.DestinationAddress},
			{name: "driver_name", ptr: &d.DriverName},
			{name: "truck_plate", ptr: &d.TruckPlate},
			{name: "remark", ptr: &d.Remark},
		}, nil
	case *entity.DeliveryConfirmationDetail:
		return []column{
			{name: "delivered_at", ptr: &d.DeliveredAt},
			{name: "receiver_name", ptr: &d.ReceiverName},
			{name: "remark", ptr: &d.Remark},
		}, nil
	case *entity.ReturnDetail:
		return []column{
			{name: "returned_at", ptr: &d.ReturnedAt},
			{name: "return_depot", ptr: &d.ReturnDepot},
			{name: "remark", ptr: &d.Remark},
		}, nil
	case *entity.NoteDetail:
		return []column{
			{name: "title", ptr: &d.Title},
			{name: "note", ptr: &d.Note},
		}, nil
	}
	return nil, fmt.Errorf("unsupported stage detail %T", detail)
}
