package labels

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/apperr"
	"github.com/MarcoPoloResearchLab/cargo888/internal/cargo"
	"github.com/google/uuid"
)

const (
	opBuild = "labels.build"

	codePrefix      = "QRD"
	suffixLength    = 9
	placeholderText = "-"
)

var (
	errInvalidBoxNumber = errors.New("box number must be positive")
	errInvalidBoxTotal  = errors.New("box total must be positive")
	errBoxOutOfRange    = errors.New("box number exceeds box total")
	errMissingCargoCode = errors.New("cargo code is required")
)

// SuffixFunc returns the random tail of a label code.
type SuffixFunc func() string

// Draft is a label that has been built but not yet stored.
type Draft struct {
	Code        string
	Payload     Payload
	PayloadJSON string
}

// Builder assembles label codes and payloads from box records.
type Builder struct {
	clock  func() time.Time
	suffix SuffixFunc
}

// NewBuilder returns a Builder. Nil arguments select time.Now and RandomSuffix.
func NewBuilder(clock func() time.Time, suffix SuffixFunc) *Builder {
	if clock == nil {
		clock = time.Now
	}
	if suffix == nil {
		suffix = RandomSuffix
	}
	return &Builder{clock: clock, suffix: suffix}
}

// Build produces the code and payload for the box described by source.
func (b *Builder) Build(source cargo.BoxContext) (Draft, error) {
	if source.Box.Number <= 0 {
		return Draft{}, apperr.Validation(opBuild, "invalid_box_number", errInvalidBoxNumber)
	}
	if source.Box.Total <= 0 {
		return Draft{}, apperr.Validation(opBuild, "invalid_box_total", errInvalidBoxTotal)
	}
	if source.Box.Number > source.Box.Total {
		return Draft{}, apperr.Validation(opBuild, "box_out_of_range",
			fmt.Errorf("%w: %d of %d", errBoxOutOfRange, source.Box.Number, source.Box.Total))
	}
	cargoCode := strings.TrimSpace(source.Cargo.Code)
	if cargoCode == "" {
		return Draft{}, apperr.Validation(opBuild, "missing_cargo_code", errMissingCargoCode)
	}

	now := b.clock().UTC()
	code := fmt.Sprintf("%s_%s_%d_%d_%d_%s",
		codePrefix, cargoCode, source.Article.ID, source.Box.Number, now.UnixMilli(), b.suffix())

	fields := resolveLabelFields(source)
	payload := Payload{
		Code:        code,
		BoxNumber:   source.Box.Number,
		TotalBoxes:  source.Box.Total,
		CargoCode:   cargoCode,
		Description: fields.description,
		Reference:   fields.reference,
		Destination: fields.destination,
		Weight:      fields.weight,
		Volume:      fields.volume,
		ImageURL:    fields.imageURL,
		Timestamp:   now.Format(time.RFC3339),
		Version:     PayloadVersion,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return Draft{}, apperr.New(opBuild, "payload_encode_failed", apperr.KindStorage, err)
	}
	return Draft{Code: code, Payload: payload, PayloadJSON: string(encoded)}, nil
}

type labelFields struct {
	description string
	reference   string
	destination string
	weight      *float64
	volume      *float64
	imageURL    string
}

// resolveLabelFields applies the box, article and cargo fallbacks in one place.
func resolveLabelFields(source cargo.BoxContext) labelFields {
	return labelFields{
		description: firstNonEmpty(
			deref(source.Box.Description),
			source.Article.DescriptionES,
			source.Article.DescriptionZH,
		),
		reference: firstNonEmpty(
			deref(source.Box.Reference),
			source.Article.Reference,
		),
		destination: firstNonEmpty(
			source.Cargo.DestinationCity,
			source.Cargo.DestinationAddress,
		),
		weight:   firstPresent(source.Box.GrossWeight, source.Article.GrossWeight),
		volume:   firstPresent(source.Box.CBM, source.Article.CBM),
		imageURL: strings.TrimSpace(source.Article.ImageURL),
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return placeholderText
}

func firstPresent(values ...*float64) *float64 {
	for _, value := range values {
		if value != nil {
			copied := *value
			return &copied
		}
	}
	return nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// RandomSuffix returns nine lowercase base36 characters drawn from a random UUID.
func RandomSuffix() string {
	id := uuid.New()
	encoded := strconv.FormatUint(binary.BigEndian.Uint64(id[8:]), 36)
	if len(encoded) < suffixLength {
		encoded = strings.Repeat("0", suffixLength-len(encoded)) + encoded
	}
	return encoded[len(encoded)-suffixLength:]
}

// DecodePayload parses a stored payload.
func DecodePayload(raw string) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Payload{}, err
	}
	return payload, nil
}
