package processing

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/lucid-vigil/secops/pkg/types"
)

// Enricher attaches an annotation to each record it accepts. Annotations
// are stored under Name() in the record's Enrichments.
type Enricher interface {
	Name() string
	CanEnrich(env types.Environment, st types.SourceType) bool
	Enrich(ctx context.Context, records []types.NormalizedRecord) ([]types.NormalizedRecord, error)
}

// GeoEnricher tags IT and Cloud records with a location. The location is
// derived from the source address, or the source id when there is none, so
// the same origin always lands in the same place.
type GeoEnricher struct {
	Locations []string
}

var defaultLocations = []string{"us-east", "us-west", "eu-central", "eu-west", "ap-southeast", "sa-east"}

func (GeoEnricher) Name() string { return "geo" }

func (GeoEnricher) CanEnrich(env types.Environment, _ types.SourceType) bool {
	return env == types.EnvironmentIT || env == types.EnvironmentCloud
}

func (g GeoEnricher) Enrich(_ context.Context, records []types.NormalizedRecord) ([]types.NormalizedRecord, error) {
	locations := g.Locations
	if len(locations) == 0 {
		locations = defaultLocations
	}

	out := make([]types.NormalizedRecord, len(records))
	for i, r := range records {
		origin := r.SourceID
		for _, key := range []string{"source_ip", "region"} {
			if v, ok := r.Data[key].(string); ok && v != "" {
				origin = v
				break
			}
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(origin))
		out[i] = r.WithEnrichment(g.Name(), map[string]interface{}{
			"origin":   origin,
			"location": locations[h.Sum32()%uint32(len(locations))],
		})
	}
	return out, nil
}

// AssetContextEnricher looks up the criticality of the asset a record refers
// to. Unknown assets get the environment default: OT assets are critical.
type AssetContextEnricher struct {
	Criticality map[string]string
}

func (AssetContextEnricher) Name() string { return "asset_context" }

func (AssetContextEnricher) CanEnrich(types.Environment, types.SourceType) bool { return true }

func (a AssetContextEnricher) Enrich(_ context.Context, records []types.NormalizedRecord) ([]types.NormalizedRecord, error) {
	out := make([]types.NormalizedRecord, len(records))
	for i, r := range records {
		asset := assetOf(r)
		criticality, known := a.Criticality[asset]
		if !known {
			criticality = defaultCriticality(r.Environment)
		}
		out[i] = r.WithEnrichment(a.Name(), map[string]interface{}{
			"asset":       asset,
			"criticality": criticality,
			"known":       known,
		})
	}
	return out, nil
}

func assetOf(r types.NormalizedRecord) string {
	for _, key := range []string{"asset", "host", "resource", "destination_ip"} {
		if v, ok := r.Data[key].(string); ok && v != "" {
			return v
		}
	}
	return r.SourceID
}

func defaultCriticality(env types.Environment) string {
	switch env {
	case types.EnvironmentOT:
		return "critical"
	case types.EnvironmentCloud:
		return "high"
	default:
		return "medium"
	}
}

// OTProtocolEnricher tags OT records with details of their industrial
// protocol.
type OTProtocolEnricher struct{}

type protocolInfo struct {
	port   int
	family string
}

var otProtocols = map[string]protocolInfo{
	"modbus":   {502, "fieldbus"},
	"dnp3":     {20000, "scada"},
	"opcua":    {4840, "ua"},
	"profinet": {34964, "industrial_ethernet"},
}

func (OTProtocolEnricher) Name() string { return "ot_protocol" }

func (OTProtocolEnricher) CanEnrich(env types.Environment, _ types.SourceType) bool {
	return env == types.EnvironmentOT
}

func (e OTProtocolEnricher) Enrich(_ context.Context, records []types.NormalizedRecord) ([]types.NormalizedRecord, error) {
	out := make([]types.NormalizedRecord, len(records))
	for i, r := range records {
		name, _ := r.Data["protocol"].(string)
		name = strings.ToLower(name)
		ann := map[string]interface{}{"protocol": "unknown", "known": false}
		if info, ok := otProtocols[name]; ok {
			ann = map[string]interface{}{
				"protocol": name,
				"port":     info.port,
				"family":   info.family,
				"known":    true,
			}
		}
		out[i] = r.WithEnrichment(e.Name(), ann)
	}
	return out, nil
}
