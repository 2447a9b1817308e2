package quotes

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a persisted pricing result owned by a user.
type Quote struct {
	ID               int64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID           int64           `gorm:"column:user_id;not null;index" json:"usuario_id"`
	Mode             Mode            `gorm:"column:mode;size:16;not null" json:"tipo"`
	Destination      string          `gorm:"column:destination;size:64;not null" json:"destino"`
	LengthCM         decimal.Decimal `gorm:"column:length_cm;type:decimal(12,2);not null" json:"largo_cm"`
	WidthCM          decimal.Decimal `gorm:"column:width_cm;type:decimal(12,2);not null" json:"ancho_cm"`
	HeightCM         decimal.Decimal `gorm:"column:height_cm;type:decimal(12,2);not null" json:"alto_cm"`
	WeightKG         decimal.Decimal `gorm:"column:weight_kg;type:decimal(12,2);not null" json:"peso_kg"`
	VolumeM3         decimal.Decimal `gorm:"column:volume_m3;type:decimal(12,3);not null" json:"volumen_m3"`
	ChargeableWeight decimal.Decimal `gorm:"column:chargeable_weight;type:decimal(12,2);not null" json:"peso_cobrable"`
	TotalUSD         decimal.Decimal `gorm:"column:total_usd;type:decimal(14,2);not null" json:"valor_usd"`
	TotalCOP         decimal.Decimal `gorm:"column:total_cop;type:decimal(16,0);not null" json:"valor_cop"`
	DetailJSON       string          `gorm:"column:detail_json;type:text;not null" json:"-"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"fecha"`
}

// TableName provides the explicit table binding for GORM.
func (Quote) TableName() string {
	return "quotes"
}
