// Package quotes prices maritime (LCL/FCL) and air shipments and keeps a quote history.
package quotes

import (
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/cargo888/internal/apperr"
	"github.com/shopspring/decimal"
)

const opCalculate = "quotes.calculate"

// Mode is the transport mode of a quote.
type Mode string

const (
	ModeMaritime Mode = "maritime"
	ModeAir      Mode = "air"
)

const (
	basisVolume           = "volume"
	basisVolumePlusWeight = "volume+weight"
	basisActualWeight     = "actual_weight"
	basisVolumetric       = "volumetric_weight"
	basisMinimum          = "minimum"
	fallbackDestination   = "China"
)

var errNegativeMeasure = errors.New("dimensions and weight must not be negative")

// Rates holds the tariff table and surcharges used by the calculators.
type Rates struct {
	MaritimeFactor  decimal.Decimal
	AirFactor       decimal.Decimal
	MaritimePerM3   map[string]decimal.Decimal
	AirPerKG        map[string]decimal.Decimal
	TRM             decimal.Decimal
	MinimumM3       decimal.Decimal
	MinimumKG       decimal.Decimal
	ContainerM3     decimal.Decimal
	FCLDiscount     decimal.Decimal
	WeightFactorUSD decimal.Decimal
	InsuranceRate   decimal.Decimal
	HandlingUSD     decimal.Decimal
	DocumentsUSD    decimal.Decimal
	MaritimeTransit string
	AirTransit      string
}

// DefaultRates returns the published average tariffs.
func DefaultRates() Rates {
	return Rates{
		MaritimeFactor: decimal.NewFromInt(1000),
		AirFactor:      decimal.NewFromInt(167),
		MaritimePerM3: map[string]decimal.Decimal{
			"China":  decimal.RequireFromString("41.5"),
			"Miami":  decimal.RequireFromString("38.5"),
			"Europa": decimal.NewFromInt(60),
		},
		AirPerKG: map[string]decimal.Decimal{
			"China":  decimal.RequireFromString("5.15"),
			"Miami":  decimal.NewFromInt(3),
			"Europa": decimal.RequireFromString("4.5"),
		},
		TRM:             decimal.NewFromInt(4250),
		MinimumM3:       decimal.NewFromInt(1),
		MinimumKG:       decimal.NewFromInt(10),
		ContainerM3:     decimal.NewFromInt(68),
		FCLDiscount:     decimal.RequireFromString("0.30"),
		WeightFactorUSD: decimal.RequireFromString("0.10"),
		InsuranceRate:   decimal.RequireFromString("0.005"),
		HandlingUSD:     decimal.NewFromInt(20),
		DocumentsUSD:    decimal.NewFromInt(10),
		MaritimeTransit: "25-35 días",
		AirTransit:      "3-7 días",
	}
}

// Input describes the shipment to price. VolumeM3 wins over the dimensions when set.
type Input struct {
	LengthCM    decimal.Decimal `json:"largo_cm"`
	WidthCM     decimal.Decimal `json:"ancho_cm"`
	HeightCM    decimal.Decimal `json:"alto_cm"`
	WeightKG    decimal.Decimal `json:"peso_kg"`
	VolumeM3    decimal.Decimal `json:"volumen_m3"`
	Destination string          `json:"destino"`
}

// Result is a priced quote with the figures that produced it.
type Result struct {
	Mode             Mode            `json:"tipo"`
	Destination      string          `json:"destino"`
	VolumeM3         decimal.Decimal `json:"volumen_m3"`
	WeightKG         decimal.Decimal `json:"peso_kg"`
	ChargeableVolume decimal.Decimal `json:"volumen_cobrable"`
	VolumetricWeight decimal.Decimal `json:"peso_volumetrico"`
	ChargeableWeight decimal.Decimal `json:"peso_cobrable"`
	RateUSD          decimal.Decimal `json:"tarifa_usd"`
	Factor           decimal.Decimal `json:"factor_usado"`
	Basis            string          `json:"base_cobro"`
	FCLApplied       bool            `json:"fcl_aplicado"`
	FreightUSD       decimal.Decimal `json:"flete_usd"`
	InsuranceUSD     decimal.Decimal `json:"seguro_usd"`
	HandlingUSD      decimal.Decimal `json:"handling_usd"`
	DocumentsUSD     decimal.Decimal `json:"documentos_usd"`
	TotalUSD         decimal.Decimal `json:"valor_usd"`
	TotalCOP         decimal.Decimal `json:"valor_cop"`
	TRM              decimal.Decimal `json:"trm"`
	TransitTime      string          `json:"tiempo_estimado"`
}

var cubicCentimetersPerM3 = decimal.NewFromInt(1_000_000)

// Maritime prices an LCL shipment, switching to the discounted container rate
// when the volume fills a container. The larger of the volume-only and the
// volume-plus-weight charges is billed, plus insurance, handling and documents.
func Maritime(input Input, rates Rates) (Result, error) {
	if err := validateInput(input); err != nil {
		return Result{}, err
	}
	destination, rate := lookupRate(input.Destination, rates.MaritimePerM3)

	volume := shipmentVolume(input).Round(3)
	weight := input.WeightKG.Round(2)
	chargeable := decimal.Max(volume, rates.MinimumM3)

	byVolume := chargeable.Mul(rate)
	fclApplied := false
	if volume.GreaterThanOrEqual(rates.ContainerM3) {
		fcl := rate.Mul(rates.ContainerM3).Mul(decimal.NewFromInt(1).Sub(rates.FCLDiscount))
		if fcl.LessThan(byVolume) {
			byVolume = fcl
			fclApplied = true
		}
	}
	byVolume = byVolume.Round(2)
	weightCharge := weight.Mul(rates.WeightFactorUSD).Round(2)
	byVolumeAndWeight := byVolume.Add(weightCharge).Round(2)

	freight, basis := byVolume, basisVolume
	if byVolumeAndWeight.GreaterThan(byVolume) {
		freight, basis = byVolumeAndWeight, basisVolumePlusWeight
	}
	insurance := freight.Mul(rates.InsuranceRate).Round(2)
	total := freight.Add(insurance).Add(rates.HandlingUSD).Add(rates.DocumentsUSD).Round(2)

	return Result{
		Mode:             ModeMaritime,
		Destination:      destination,
		VolumeM3:         volume,
		WeightKG:         weight,
		ChargeableVolume: chargeable,
		VolumetricWeight: volume.Mul(rates.MaritimeFactor).Round(2),
		ChargeableWeight: weight,
		RateUSD:          rate,
		Factor:           rates.MaritimeFactor,
		Basis:            basis,
		FCLApplied:       fclApplied,
		FreightUSD:       freight,
		InsuranceUSD:     insurance,
		HandlingUSD:      rates.HandlingUSD,
		DocumentsUSD:     rates.DocumentsUSD,
		TotalUSD:         total,
		TotalCOP:         total.Mul(rates.TRM).Round(0),
		TRM:              rates.TRM,
		TransitTime:      rates.MaritimeTransit,
	}, nil
}

// Air bills the largest of actual weight, volumetric weight and the minimum.
func Air(input Input, rates Rates) (Result, error) {
	if err := validateInput(input); err != nil {
		return Result{}, err
	}
	destination, rate := lookupRate(input.Destination, rates.AirPerKG)

	volume := shipmentVolume(input)
	volumetric := volume.Mul(rates.AirFactor)
	chargeable, basis := input.WeightKG, basisActualWeight
	if volumetric.GreaterThan(chargeable) {
		chargeable, basis = volumetric, basisVolumetric
	}
	if rates.MinimumKG.GreaterThan(chargeable) {
		chargeable, basis = rates.MinimumKG, basisMinimum
	}
	cost := chargeable.Mul(rate)

	return Result{
		Mode:             ModeAir,
		Destination:      destination,
		VolumeM3:         volume.Round(3),
		WeightKG:         input.WeightKG,
		ChargeableVolume: volume.Round(3),
		VolumetricWeight: volumetric.Round(2),
		ChargeableWeight: chargeable.Round(2),
		RateUSD:          rate,
		Factor:           rates.AirFactor,
		Basis:            basis,
		FreightUSD:       cost.Round(2),
		InsuranceUSD:     decimal.Zero,
		HandlingUSD:      decimal.Zero,
		DocumentsUSD:     decimal.Zero,
		TotalUSD:         cost.Round(2),
		TotalCOP:         cost.Mul(rates.TRM).Round(0),
		TRM:              rates.TRM,
		TransitTime:      rates.AirTransit,
	}, nil
}

// Calculate dispatches on mode.
func Calculate(mode Mode, input Input, rates Rates) (Result, error) {
	switch mode {
	case ModeMaritime:
		return Maritime(input, rates)
	case ModeAir:
		return Air(input, rates)
	default:
		return Result{}, apperr.Validation(opCalculate, "unknown_mode", errors.New("mode must be maritime or air"))
	}
}

func shipmentVolume(input Input) decimal.Decimal {
	if input.VolumeM3.IsPositive() {
		return input.VolumeM3
	}
	return input.LengthCM.Mul(input.WidthCM).Mul(input.HeightCM).Div(cubicCentimetersPerM3)
}

// lookupRate matches the destination case-insensitively and falls back to China.
func lookupRate(destination string, table map[string]decimal.Decimal) (string, decimal.Decimal) {
	trimmed := strings.TrimSpace(destination)
	for name, rate := range table {
		if strings.EqualFold(name, trimmed) {
			return name, rate
		}
	}
	return fallbackDestination, table[fallbackDestination]
}

func validateInput(input Input) error {
	for _, value := range []decimal.Decimal{input.LengthCM, input.WidthCM, input.HeightCM, input.WeightKG, input.VolumeM3} {
		if value.IsNegative() {
			return apperr.Validation(opCalculate, "negative_measure", errNegativeMeasure)
		}
	}
	return nil
}
