package labels

import (
	"time"
)

// Status is the lifecycle state of a label.
type Status string

const (
	StatusGenerated Status = "generated"
	StatusPrinted   Status = "printed"
	StatusScanned   Status = "scanned"
)

// PayloadVersion tags the payload schema embedded in every label.
const PayloadVersion = "2.3"

// Label is the persisted QR label of one box.
type Label struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	BoxID         int64      `gorm:"column:box_id;not null;index"`
	Code          string     `gorm:"column:code;size:255;not null;uniqueIndex"`
	PayloadJSON   string     `gorm:"column:payload_json;type:text;not null"`
	Status        Status     `gorm:"column:status;size:16;not null;default:generated"`
	ScanCount     int        `gorm:"column:scan_count;not null;default:0"`
	ScannedBy     *string    `gorm:"column:scanned_by;size:190"`
	ScannedAt     *time.Time `gorm:"column:scanned_at"`
	LastScannedBy *string    `gorm:"column:last_scanned_by;size:190"`
	LastScannedAt *time.Time `gorm:"column:last_scanned_at"`
	PrintedBy     *string    `gorm:"column:printed_by;size:190"`
	PrintedAt     *time.Time `gorm:"column:printed_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Label) TableName() string {
	return "qr_labels"
}

// Payload is the denormalized box snapshot stored with a label.
type Payload struct {
	Code        string   `json:"codigo_unico"`
	BoxNumber   int      `json:"numero_caja"`
	TotalBoxes  int      `json:"total_cajas"`
	CargoCode   string   `json:"codigo_carga"`
	Description string   `json:"descripcion"`
	Reference   string   `json:"ref_art"`
	Destination string   `json:"destino"`
	Weight      *float64 `json:"peso,omitempty"`
	Volume      *float64 `json:"cbm,omitempty"`
	ImageURL    string   `json:"imagen_url,omitempty"`
	Timestamp   string   `json:"timestamp"`
	Version     string   `json:"version"`
}

// View is a label with its payload decoded.
type View struct {
	Label   Label
	Payload Payload
}

// ScanResult reports the outcome of validating a scanned code.
type ScanResult struct {
	AlreadyScanned bool
	Label          Label
	Payload        Payload
}

// ScanEvent is published after every successful scan.
type ScanEvent struct {
	CargoID        int64     `json:"cargo_id"`
	LabelID        int64     `json:"label_id"`
	Code           string    `json:"codigo_unico"`
	BoxNumber      int       `json:"numero_caja"`
	TotalBoxes     int       `json:"total_cajas"`
	AlreadyScanned bool      `json:"ya_escaneado"`
	ScanCount      int       `json:"scan_count"`
	ScannedAt      time.Time `json:"scanned_at"`
}

// ScanObserver receives scan events. Implementations must not block.
type ScanObserver interface {
	PublishScan(event ScanEvent)
}

// OutcomeKind classifies the result for one box of a batch generation.
type OutcomeKind string

const (
	OutcomeCreated     OutcomeKind = "created"
	OutcomeRegenerated OutcomeKind = "regenerated"
	OutcomeExisting    OutcomeKind = "existing"
	OutcomeFailed      OutcomeKind = "failed"
)

// BoxOutcome is the per-box result of GenerateForCargo.
type BoxOutcome struct {
	BoxID   int64       `json:"box_id"`
	Kind    OutcomeKind `json:"resultado"`
	LabelID int64       `json:"qr_id,omitempty"`
	Code    string      `json:"codigo_unico,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Statistics summarizes label state for one cargo.
type Statistics struct {
	CargoID    int64 `json:"carga_id"`
	Boxes      int64 `json:"total_cajas"`
	Labels     int64 `json:"total_qrs"`
	Generated  int64 `json:"generados"`
	Printed    int64 `json:"impresos"`
	Scanned    int64 `json:"escaneados"`
	TotalScans int64 `json:"total_escaneos"`
	Unlabeled  int64 `json:"sin_qr"`
}
