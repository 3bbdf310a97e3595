package risk

import (
	"reflect"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"solana-pool-sentinel/internal/domain"
)

func cleanMeta() domain.TokenMetadata {
	return domain.TokenMetadata{
		Name:     "Harbor",
		Symbol:   "HBR",
		URI:      "https://arweave.net/harbor.json",
		Creators: []domain.Creator{{Address: "creator", Verified: true, Share: 100}},
	}
}

func cleanMint() domain.MintInfo {
	return domain.MintInfo{Decimals: 6, Supply: "1000000000000000"}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(m *domain.TokenMetadata, mi *domain.MintInfo)
		wantRisks []string
		wantLevel domain.RiskLevel
	}{
		{
			name:      "clean token",
			mutate:    func(*domain.TokenMetadata, *domain.MintInfo) {},
			wantRisks: []string{},
			wantLevel: domain.RiskLow,
		},
		{
			name: "missing symbol",
			mutate: func(m *domain.TokenMetadata, _ *domain.MintInfo) {
				m.Symbol = ""
			},
			wantRisks: []string{ReasonMissingMetadata},
			wantLevel: domain.RiskMedium,
		},
		{
			name: "supply exactly at threshold is not flagged",
			mutate: func(_ *domain.TokenMetadata, mi *domain.MintInfo) {
				mi.Supply = "1000000000000000000"
			},
			wantRisks: []string{},
			wantLevel: domain.RiskLow,
		},
		{
			name: "supply above threshold",
			mutate: func(_ *domain.TokenMetadata, mi *domain.MintInfo) {
				mi.Supply = "1000000000000000001"
			},
			wantRisks: []string{ReasonLargeSupply},
			wantLevel: domain.RiskMedium,
		},
		{
			name: "unparsable supply treated as zero",
			mutate: func(_ *domain.TokenMetadata, mi *domain.MintInfo) {
				mi.Supply = "lots"
			},
			wantRisks: []string{},
			wantLevel: domain.RiskLow,
		},
		{
			name: "ten decimals",
			mutate: func(_ *domain.TokenMetadata, mi *domain.MintInfo) {
				mi.Decimals = 10
			},
			wantRisks: []string{ReasonDecimals},
			wantLevel: domain.RiskMedium,
		},
		{
			name: "http shortener uri",
			mutate: func(m *domain.TokenMetadata, _ *domain.MintInfo) {
				m.URI = "http://bit.ly/x"
			},
			wantRisks: []string{ReasonNonHTTPS, ReasonShortener},
			wantLevel: domain.RiskMedium,
		},
		{
			name: "https tinyurl",
			mutate: func(m *domain.TokenMetadata, _ *domain.MintInfo) {
				m.URI = "https://tinyurl.com/x"
			},
			wantRisks: []string{ReasonShortener},
			wantLevel: domain.RiskMedium,
		},
		{
			name: "no creators",
			mutate: func(m *domain.TokenMetadata, _ *domain.MintInfo) {
				m.Creators = nil
			},
			wantRisks: []string{ReasonNoCreators},
			wantLevel: domain.RiskMedium,
		},
		{
			name: "keywords in name and symbol reported once each in list order",
			mutate: func(m *domain.TokenMetadata, _ *domain.MintInfo) {
				m.Name = "Free Moon"
				m.Symbol = "GEM100X"
			},
			wantRisks: []string{
				NamePatternReason("free"),
				NamePatternReason("moon"),
				NamePatternReason("gem"),
				NamePatternReason("100x"),
			},
			wantLevel: domain.RiskHigh,
		},
		{
			name: "1000x does not match 100x",
			mutate: func(m *domain.TokenMetadata, _ *domain.MintInfo) {
				m.Symbol = "1000X"
			},
			wantRisks: []string{NamePatternReason("1000x")},
			wantLevel: domain.RiskMedium,
		},
		{
			name: "free airdrop moon over http",
			mutate: func(m *domain.TokenMetadata, _ *domain.MintInfo) {
				m.Name = "FREE AIRDROP"
				m.Symbol = "MOON"
				m.URI = "http://x"
			},
			wantRisks: []string{
				ReasonNonHTTPS,
				NamePatternReason("free"),
				NamePatternReason("airdrop"),
				NamePatternReason("moon"),
			},
			wantLevel: domain.RiskHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, mint := cleanMeta(), cleanMint()
			tt.mutate(&meta, &mint)

			got := Score(meta, mint)

			assert.Equal(t, tt.wantRisks, got.Risks)
			assert.Equal(t, tt.wantLevel, got.RiskLevel)
			assert.Equal(t, mint.Supply, got.Supply)
			assert.Equal(t, mint.Decimals, got.Decimals)
		})
	}
}

func TestLevel(t *testing.T) {
	assert.Equal(t, domain.RiskLow, Level(0))
	assert.Equal(t, domain.RiskMedium, Level(1))
	assert.Equal(t, domain.RiskMedium, Level(2))
	assert.Equal(t, domain.RiskHigh, Level(3))
	assert.Equal(t, domain.RiskHigh, Level(12))
}

func TestScoreProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	build := func(name, symbol, uri string, decimals uint8, supply uint64, creators bool) (domain.TokenMetadata, domain.MintInfo) {
		meta := domain.TokenMetadata{Name: name, Symbol: symbol, URI: uri}
		if creators {
			meta.Creators = []domain.Creator{{Address: "c", Share: 100}}
		}
		return meta, domain.MintInfo{Decimals: decimals, Supply: strconv.FormatUint(supply, 10)}
	}

	properties.Property("score is deterministic", prop.ForAll(
		func(name, symbol, uri string, decimals uint8, supply uint64, creators bool) bool {
			meta, mint := build(name, symbol, uri, decimals, supply, creators)
			return reflect.DeepEqual(Score(meta, mint), Score(meta, mint))
		},
		gen.AlphaString(), gen.AlphaString(), gen.AlphaString(), gen.UInt8(), gen.UInt64(), gen.Bool(),
	))

	properties.Property("level follows reason count", prop.ForAll(
		func(name, symbol, uri string, decimals uint8, supply uint64, creators bool) bool {
			meta, mint := build(name, symbol, uri, decimals, supply, creators)
			got := Score(meta, mint)
			return got.RiskLevel == Level(len(got.Risks))
		},
		gen.AlphaString(), gen.AlphaString(), gen.AlphaString(), gen.UInt8(), gen.UInt64(), gen.Bool(),
	))

	properties.Property("appending a keyword never lowers the reason count", prop.ForAll(
		func(name, symbol string, kw int) bool {
			meta, mint := build(name, symbol, "https://a", 6, 1, true)
			before := len(Score(meta, mint).Risks)
			meta.Name += Keywords[kw]
			return len(Score(meta, mint).Risks) >= before
		},
		gen.AlphaString(), gen.AlphaString(), gen.IntRange(0, len(Keywords)-1),
	))

	properties.TestingRun(t)
}
