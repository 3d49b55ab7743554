package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// StageDetail is the stage-specific payload captured at a workflow point.
// The set of implementations is closed: one struct per StageKey.
type StageDetail interface {
	Stage() StageKey
	Meta() *DetailMeta
	stageDetail()
}

// DetailMeta holds the columns every detail table shares
type DetailMeta struct {
	ID           int64     `json:"id"`
	StatusNodeID int64     `json:"status_node_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Meta exposes the shared columns
func (m *DetailMeta) Meta() *DetailMeta { return m }

func (m *DetailMeta) stageDetail() {}

// BookingDetail records the container booking with the shipping line
type BookingDetail struct {
	DetailMeta        `json:"-"`
	BookingNumber     string     `json:"booking_number" validate:"required"`
	ShippingLine      string     `json:"shipping_line" validate:"required"`
	ContainerSize     string     `json:"container_size" validate:"required"`
	ContainerQuantity int        `json:"container_quantity"`
	PortOfLoading     string     `json:"port_of_loading"`
	PortOfDischarge   string     `json:"port_of_discharge"`
	ETD               *time.Time `json:"etd"`
	Remark            string     `json:"remark"`
}

// ReceivingDetail records the empty container arriving at the warehouse
type ReceivingDetail struct {
	DetailMeta      `json:"-"`
	ContainerNumber string    `json:"container_number" validate:"required"`
	SealNumber      string    `json:"seal_number"`
	ReceivedAt      time.Time `json:"received_at" validate:"required"`
	Warehouse       string    `json:"warehouse"`
	Remark          string    `json:"remark"`
}

// LoadingDetail records goods loaded into the container
type LoadingDetail struct {
	DetailMeta      `json:"-"`
	ContainerNumber string     `json:"container_number" validate:"required"`
	LoadedAt        time.Time  `json:"loaded_at" validate:"required"`
	TotalPackages   int        `json:"total_packages"`
	TotalWeightKG   float64    `json:"total_weight_kg"`
	Remark          string     `json:"remark"`
	LineItems       []LineItem `json:"line_items" validate:"dive"`
}

// LineItem is one product row of a loading record
type LineItem struct {
	ID          int64   `json:"id"`
	DetailID    int64   `json:"detail_id"`
	ProductName string  `json:"product_name" validate:"required"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	Unit        string  `json:"unit"`
	WeightKG    float64 `json:"weight_kg"`
}

// DocumentationDetail records the shipping documents prepared
type DocumentationDetail struct {
	DetailMeta          `json:"-"`
	BillOfLadingNumber  string `json:"bill_of_lading_number" validate:"required"`
	InvoiceNumber       string `json:"invoice_number"`
	PackingListNumber   string `json:"packing_list_number"`
	CertificateOfOrigin string `json:"certificate_of_origin"`
	Remark              string `json:"remark"`
}

// DepartureConfirmationDetail records the vessel confirmed for departure
type DepartureConfirmationDetail struct {
	DetailMeta   `json:"-"`
	VesselName   string    `json:"vessel_name" validate:"required"`
	VoyageNumber string    `json:"voyage_number"`
	ConfirmedETD time.Time `json:"confirmed_etd" validate:"required"`
	Remark       string    `json:"remark"`
}

// DepartureDetail records the actual departure
type DepartureDetail struct {
	DetailMeta `json:"-"`
	DepartedAt time.Time `json:"departed_at" validate:"required"`
	VesselName string    `json:"vessel_name"`
	ETA        time.Time `json:"eta" validate:"required"`
	Remark     string    `json:"remark"`
}

// ReleaseWaitDetail records arrival and the pending customs declaration
type ReleaseWaitDetail struct {
	DetailMeta               `json:"-"`
	ArrivedAt                time.Time  `json:"arrived_at" validate:"required"`
	CustomsDeclarationNumber string     `json:"customs_declaration_number" validate:"required"`
	ExpectedReleaseDate      *time.Time `json:"expected_release_date"`
	Remark                   string     `json:"remark"`
}

// ReleaseConfirmationDetail records customs release
type ReleaseConfirmationDetail struct {
	DetailMeta            `json:"-"`
	ReleasedAt            time.Time `json:"released_at" validate:"required"`
	ReleaseDocumentNumber string    `json:"release_document_number"`
	DutyAmount            float64   `json:"duty_amount"`
	Remark                string    `json:"remark"`
}

// DeliveryDetail records last-mile delivery. ReleaseWaitID points at the
// most recent release-wait record of the same purchase and is never taken
// from client input.
type DeliveryDetail struct {
	DetailMeta         `json:"-"`
	ReleaseWaitID      int64     `json:"-"`
	DeliveryDate       time.Time `json:"delivery_date" validate:"required"`
	DestinationAddress string    `json:"destination_address" validate:"required"`
	DriverName         string    `json:"driver_name"`
	TruckPlate         string    `json:"truck_plate"`
	Remark             string    `json:"remark"`
}

// DeliveryConfirmationDetail records receipt by the consignee
type DeliveryConfirmationDetail struct {
	DetailMeta   `json:"-"`
	DeliveredAt  time.Time `json:"delivered_at" validate:"required"`
	ReceiverName string    `json:"receiver_name" validate:"required"`
	Remark       string    `json:"remark"`
}

// ReturnDetail records the empty container returned to the depot
type ReturnDetail struct {
	DetailMeta  `json:"-"`
	ReturnedAt  time.Time `json:"returned_at" validate:"required"`
	ReturnDepot string    `json:"return_depot" validate:"required"`
	Remark      string    `json:"remark"`
}

// NoteDetail is a free-form note
type NoteDetail struct {
	DetailMeta `json:"-"`
	Title      string `json:"title"`
	Note       string `json:"note" validate:"required"`
}

func (*BookingDetail) Stage() StageKey               { return StageBooking }
func (*ReceivingDetail) Stage() StageKey             { return StageReceiving }
func (*LoadingDetail) Stage() StageKey               { return StageLoading }
func (*DocumentationDetail) Stage() StageKey         { return StageDocumentation }
func (*DepartureConfirmationDetail) Stage() StageKey { return StageDepartureConfirmation }
func (*DepartureDetail) Stage() StageKey             { return StageDeparture }
func (*ReleaseWaitDetail) Stage() StageKey           { return StageReleaseWait }
func (*ReleaseConfirmationDetail) Stage() StageKey   { return StageReleaseConfirmation }
func (*DeliveryDetail) Stage() StageKey              { return StageDelivery }
func (*DeliveryConfirmationDetail) Stage() StageKey  { return StageDeliveryConfirmation }
func (*ReturnDetail) Stage() StageKey                { return StageReturn }
func (*NoteDetail) Stage() StageKey                  { return StageNotes }

// NewStageDetail returns an empty detail of the concrete type for key
func NewStageDetail(key StageKey) (StageDetail, error) {
	switch key {
	case StageBooking:
		return &BookingDetail{}, nil
	case StageReceiving:
		return &ReceivingDetail{}, nil
	case StageLoading:
		return &LoadingDetail{}, nil
	case StageDocumentation:
		return &DocumentationDetail{}, nil
	case StageDepartureConfirmation:
		return &DepartureConfirmationDetail{}, nil
	case StageDeparture:
		return &DepartureDetail{}, nil
	case StageReleaseWait:
		return &ReleaseWaitDetail{}, nil
	case StageReleaseConfirmation:
		return &ReleaseConfirmationDetail{}, nil
	case StageDelivery:
		return &DeliveryDetail{}, nil
	case StageDeliveryConfirmation:
		return &DeliveryConfirmationDetail{}, nil
	case StageReturn:
		return &ReturnDetail{}, nil
	case StageNotes:
		return &NoteDetail{}, nil
	}
	return nil, fmt.Errorf("unknown stage %q", key)
}

// DecodeStageDetail decodes a JSON payload into the typed detail for key.
// Unknown fields are rejected.
func DecodeStageDetail(key StageKey, raw json.RawMessage) (StageDetail, error) {
	detail, err := NewStageDetail(key)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return detail, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(detail); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", key, err)
	}
	return detail, nil
}
