package processing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/strategy"
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sourceInfo struct {
	env types.Environment
	st  types.SourceType
}

type mapResolver map[string]sourceInfo

func (m mapResolver) Lookup(id string) (types.Environment, types.SourceType, bool) {
	info, ok := m[id]
	return info.env, info.st, ok
}

var resolver = mapResolver{
	"fw-1":    {types.EnvironmentIT, types.SourceFirewall},
	"siem-1":  {types.EnvironmentIT, types.SourceSIEM},
	"scada-1": {types.EnvironmentOT, types.SourceSCADA},
	"ct-1":    {types.EnvironmentCloud, types.SourceCloudTrail},
}

func batch(sourceID string, data ...map[string]interface{}) types.IngestionBatch {
	b := types.IngestionBatch{SourceID: sourceID, FetchedAt: time.Now()}
	for i, d := range data {
		b.Records = append(b.Records, types.RawRecord{
			ID:        sourceID + "-" + string(rune('0'+i)),
			SourceID:  sourceID,
			Timestamp: time.Now(),
			Data:      d,
		})
	}
	return b
}

func TestProcess_CountsAndEnrichment(t *testing.T) {
	s := New(resolver, zerolog.Nop())

	out, err := s.Process(context.Background(), batch("scada-1",
		map[string]interface{}{"device": "plc-01", "protocol": "Modbus"},
		map[string]interface{}{"device": "plc-02", "protocol": "bacnet"},
	))
	require.NoError(t, err)

	assert.Equal(t, types.EnvironmentOT, out.Environment)
	assert.Equal(t, types.SourceSCADA, out.SourceType)
	assert.Equal(t, 2, out.OriginalCount)
	assert.Equal(t, 2, out.NormalizedCount)
	assert.Equal(t, out.NormalizedCount, out.EnrichedCount)

	first := out.Records[0]
	assert.Equal(t, "scada-1-0", first.ID)
	assert.Equal(t, "plc-01", first.Data["asset"])
	assert.NotContains(t, first.Data, "device")
	assert.Contains(t, first.Enrichments, "asset_context")
	assert.Contains(t, first.Enrichments, "ot_protocol")
	assert.NotContains(t, first.Enrichments, "geo")
	assert.Equal(t, 502, first.Enrichments["ot_protocol"]["port"])
	assert.Equal(t, "critical", first.Enrichments["asset_context"]["criticality"])

	assert.Equal(t, false, out.Records[1].Enrichments["ot_protocol"]["known"])
}

func TestProcess_NormalizerFallbackOrder(t *testing.T) {
	s := New(resolver, zerolog.Nop(), WithoutBuiltins())
	tag := func(name string) Normalizer {
		return NormalizerFunc(func(raw types.RawRecord, env types.Environment, st types.SourceType) (types.NormalizedRecord, error) {
			rec, _ := DefaultNormalizer.Normalize(raw, env, st)
			rec.Data["normalizer"] = name
			return rec, nil
		})
	}
	s.RegisterNormalizer(strategy.Any(), tag("default"))
	s.RegisterNormalizer(strategy.ForEnvironment(types.EnvironmentIT), tag("it"))
	s.RegisterNormalizer(strategy.ForSource(types.EnvironmentIT, types.SourceFirewall), tag("it-firewall"))

	tests := []struct {
		source string
		want   string
	}{
		{"fw-1", "it-firewall"},
		{"siem-1", "it"},
		{"ct-1", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			out, err := s.Process(context.Background(), batch(tt.source, map[string]interface{}{"k": "v"}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Records[0].Data["normalizer"])
		})
	}
}

func TestProcess_RawRecordUntouched(t *testing.T) {
	s := New(resolver, zerolog.Nop())
	in := batch("fw-1", map[string]interface{}{"src_ip": "10.0.0.1", "dst_ip": "192.168.1.5"})

	out, err := s.Process(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", in.Records[0].Data["src_ip"])
	assert.NotContains(t, in.Records[0].Data, "source_ip")
	assert.Equal(t, "10.0.0.1", out.Records[0].Data["source_ip"])
	assert.Equal(t, "10.0.0.1", out.Records[0].Enrichments["geo"]["origin"])
}

type panicEnricher struct{}

func (panicEnricher) Name() string                                      { return "broken" }
func (panicEnricher) CanEnrich(types.Environment, types.SourceType) bool { return true }
func (panicEnricher) Enrich(context.Context, []types.NormalizedRecord) ([]types.NormalizedRecord, error) {
	panic("enricher blew up")
}

type dropEnricher struct{}

func (dropEnricher) Name() string                                      { return "drop" }
func (dropEnricher) CanEnrich(types.Environment, types.SourceType) bool { return true }
func (dropEnricher) Enrich(_ context.Context, r []types.NormalizedRecord) ([]types.NormalizedRecord, error) {
	return r[:0], nil
}

func TestProcess_FailingEnricherSkipped(t *testing.T) {
	s := New(resolver, zerolog.Nop())
	s.RegisterEnricher(panicEnricher{})
	s.RegisterEnricher(dropEnricher{})
	s.RegisterEnricher(OTProtocolEnricher{})

	out, err := s.Process(context.Background(), batch("siem-1",
		map[string]interface{}{"host": "ws-001"},
		map[string]interface{}{"host": "ws-002"},
	))
	require.NoError(t, err)
	assert.Equal(t, 2, out.EnrichedCount)
	assert.Equal(t, out.NormalizedCount, out.EnrichedCount)
	assert.NotContains(t, out.Records[0].Enrichments, "broken")
	assert.Contains(t, out.Records[0].Enrichments, "geo")
}

func TestHandleBatch_PublishesAndUnknownSource(t *testing.T) {
	s := New(resolver, zerolog.Nop())
	var got []types.ProcessedBatch
	s.Subscribe(func(b types.ProcessedBatch) { got = append(got, b) })

	require.NoError(t, s.HandleBatch(context.Background(), batch("ct-1", map[string]interface{}{"principal": "admin"})))
	require.Len(t, got, 1)
	assert.Equal(t, "admin", got[0].Records[0].Data["user"])

	err := s.HandleBatch(context.Background(), batch("ghost", map[string]interface{}{}))
	assert.True(t, errors.Is(err, perrors.ErrNotFound))
	assert.Len(t, got, 1)
}

func TestProcess_EmptyBatch(t *testing.T) {
	s := New(resolver, zerolog.Nop())
	out, err := s.Process(context.Background(), types.IngestionBatch{SourceID: "fw-1"})
	require.NoError(t, err)
	assert.Zero(t, out.OriginalCount)
	assert.Zero(t, out.EnrichedCount)
}

func TestGeoEnricher_Deterministic(t *testing.T) {
	g := GeoEnricher{}
	rec := types.NormalizedRecord{SourceID: "ct-1", Environment: types.EnvironmentCloud, Data: map[string]interface{}{"region": "eu-west-1"}}
	a, _ := g.Enrich(context.Background(), []types.NormalizedRecord{rec})
	b, _ := g.Enrich(context.Background(), []types.NormalizedRecord{rec})
	assert.Equal(t, a[0].Enrichments["geo"]["location"], b[0].Enrichments["geo"]["location"])
	assert.Nil(t, rec.Enrichments)
}

func TestFieldMapNormalizer_SanitizesStrings(t *testing.T) {
	long := strings.Repeat("x", maxFieldLength+50)
	rec, err := FirewallNormalizer.Normalize(types.RawRecord{
		ID:       "r1",
		SourceID: "fw-1",
		Data: map[string]interface{}{
			"src_ip": "10.0.0.1",
			"note":   "line one\nline two\r\n\tindented\x00",
			"body":   long,
			"bytes":  512,
		},
	}, types.EnvironmentIT, types.SourceFirewall)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", rec.Data["source_ip"])
	assert.Equal(t, "line one line two  indented", rec.Data["note"])
	assert.Len(t, rec.Data["body"], maxFieldLength+3)
	assert.Equal(t, 512, rec.Data["bytes"])
	assert.False(t, rec.Timestamp.IsZero())
}

func TestSanitize_MultiByteBoundary(t *testing.T) {
	// The last character straddles the byte limit.
	atEdge := sanitize(strings.Repeat("a", maxFieldLength-1) + "é")
	assert.True(t, utf8.ValidString(atEdge))
	assert.Equal(t, maxFieldLength, utf8.RuneCountInString(atEdge))
	assert.False(t, strings.HasSuffix(atEdge, "..."))

	over := sanitize(strings.Repeat("é", maxFieldLength+1))
	assert.True(t, utf8.ValidString(over))
	assert.Equal(t, strings.Repeat("é", maxFieldLength)+"...", over)

	fits := strings.Repeat("日", maxFieldLength)
	assert.Equal(t, fits, sanitize(fits))
}
