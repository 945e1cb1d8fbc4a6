package knowledge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alphacar/aichat-engine/engine/domain"
	"github.com/alphacar/aichat-engine/engine/semantic"
)

// MaxOptions bounds how many options a single document lists.
const MaxOptions = 50

// PriceUnknown is rendered wherever a price is zero or absent; the
// document must never show a misleading "0원".
const PriceUnknown = "가격 미정/정보 없음"

// FormatPrice renders a KRW amount as "N,NNN만원" (rounded to the
// nearest 만원), or PriceUnknown for zero/negative values.
func FormatPrice(won int64) string {
	if won <= 0 {
		return PriceUnknown
	}
	man := (won + 5000) / 10000
	return groupDigits(man) + "만원"
}

// groupDigits inserts thousands separators into a non-negative integer.
func groupDigits(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// BuildDocument composes the knowledge document for one catalog record.
// The section order is load-bearing: the prompt composer instructs the
// model to scan for these named sections, so it must not change.
// Returns domain.ErrNoTrims when the record has no trims; such records
// are skipped, not documented.
func BuildDocument(rec domain.VehicleRecord, cls domain.Classification) (semantic.Document, error) {
	if len(rec.Trims) == 0 {
		return semantic.Document{}, fmt.Errorf("knowledge: %s: %w", rec.ID, domain.ErrNoTrims)
	}

	maker := strings.TrimSpace(rec.Manufacturer)
	if maker == "" {
		maker = "Unknown Brand"
	}

	// Sort trims cheapest-first; stable sort keeps catalog order on
	// price ties. The first trim becomes the canonical base trim.
	trims := make([]domain.Trim, len(rec.Trims))
	copy(trims, rec.Trims)
	sort.SliceStable(trims, func(i, j int) bool { return trims[i].BasePrice < trims[j].BasePrice })
	baseTrimID := trims[0].ID

	minPrice, maxPrice := trims[0].BasePrice, trims[0].BasePrice
	for _, t := range trims[1:] {
		if t.BasePrice < minPrice {
			minPrice = t.BasePrice
		}
		if t.BasePrice > maxPrice {
			maxPrice = t.BasePrice
		}
	}

	modelYear := "최신"
	if rec.ModelYear > 0 {
		modelYear = fmt.Sprintf("%d", rec.ModelYear)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[차량 정보]\n")
	fmt.Fprintf(&b, "브랜드: %s\n", maker)
	fmt.Fprintf(&b, "모델명: %s (Model Year: %s)\n\n", rec.Name, modelYear)

	fmt.Fprintf(&b, "[상세 분류]\n")
	fmt.Fprintf(&b, "- 차종(형태): %s\n", cls.BodyType)
	fmt.Fprintf(&b, "- 차급(크기): %s\n", cls.SizeClass)
	fmt.Fprintf(&b, "- 연료 타입: %s\n\n", cls.FuelType)

	fmt.Fprintf(&b, "[가격 및 옵션 요약]\n")
	fmt.Fprintf(&b, "가격 범위: %s ~ %s\n", FormatPrice(minPrice), FormatPrice(maxPrice))
	fmt.Fprintf(&b, "이미지URL: %s\n\n", rec.ImageURL)

	fmt.Fprintf(&b, "[트림별 상세 정보 (ID 포함)]\n")
	for _, t := range trims {
		fmt.Fprintf(&b, "- %s (ID: %s): %s\n", t.Name, t.ID, FormatPrice(t.BasePrice))
	}
	b.WriteByte('\n')

	options := rec.Options
	if len(options) > MaxOptions {
		options = options[:MaxOptions]
	}
	if len(options) > 0 {
		fmt.Fprintf(&b, "[주요 옵션 및 가격]\n")
		for _, o := range options {
			price := "기본포함/정보없음"
			if o.Price > 0 {
				price = FormatPrice(o.Price)
			}
			fmt.Fprintf(&b, "- %s: %s\n", o.Name, price)
		}
	} else {
		fmt.Fprintf(&b, "옵션 정보 없음\n")
	}
	b.WriteByte('\n')

	fmt.Fprintf(&b, "[설명]\n%s\n\n", rec.Description)

	fmt.Fprintf(&b, "[시스템 데이터]\n")
	fmt.Fprintf(&b, "BaseTrimId: %s", baseTrimID)

	return semantic.Document{
		Text:   b.String(),
		Source: "car-" + rec.ID,
	}, nil
}
