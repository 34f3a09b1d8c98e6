package processing

import (
	"strings"
	"time"

	"github.com/lucid-vigil/secops/pkg/types"
)

// Normalizer maps one raw record to the canonical record shape.
type Normalizer interface {
	Normalize(raw types.RawRecord, env types.Environment, st types.SourceType) (types.NormalizedRecord, error)
}

// NormalizerFunc adapts a function to Normalizer.
type NormalizerFunc func(raw types.RawRecord, env types.Environment, st types.SourceType) (types.NormalizedRecord, error)

func (f NormalizerFunc) Normalize(raw types.RawRecord, env types.Environment, st types.SourceType) (types.NormalizedRecord, error) {
	return f(raw, env, st)
}

// maxFieldLength caps string payload values after sanitizing.
const maxFieldLength = 1000

var flatten = strings.NewReplacer("\x00", "", "\r\n", " ", "\n", " ", "\r", " ", "\t", " ")

// sanitize strips NUL bytes, folds line breaks and tabs into spaces and
// truncates to maxFieldLength characters, so payload text is safe to log as
// one line. Truncation never splits a multi-byte character.
func sanitize(v string) string {
	v = flatten.Replace(v)
	if len(v) > maxFieldLength {
		if r := []rune(v); len(r) > maxFieldLength {
			v = string(r[:maxFieldLength]) + "..."
		}
	}
	return strings.TrimSpace(v)
}

// FieldMapNormalizer copies the payload, renames vendor fields to their
// canonical names and sanitizes string values. A nil alias map makes it a
// plain copy.
type FieldMapNormalizer struct {
	Aliases map[string]string
}

func (n FieldMapNormalizer) Normalize(raw types.RawRecord, env types.Environment, st types.SourceType) (types.NormalizedRecord, error) {
	data := make(map[string]interface{}, len(raw.Data))
	for k, v := range raw.Data {
		if alias, ok := n.Aliases[k]; ok {
			k = alias
		}
		if str, ok := v.(string); ok {
			v = sanitize(str)
		}
		data[k] = v
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return types.NormalizedRecord{
		ID:          raw.ID,
		Timestamp:   ts,
		SourceID:    raw.SourceID,
		SourceType:  st,
		Environment: env,
		Data:        data,
	}, nil
}

// Built-in normalizers registered by New.
var (
	DefaultNormalizer = FieldMapNormalizer{}

	FirewallNormalizer = FieldMapNormalizer{Aliases: map[string]string{
		"src_ip":   "source_ip",
		"dst_ip":   "destination_ip",
		"dst_port": "destination_port",
	}}

	OTNormalizer = FieldMapNormalizer{Aliases: map[string]string{
		"device": "asset",
		"tag":    "measurement",
	}}

	CloudNormalizer = FieldMapNormalizer{Aliases: map[string]string{
		"principal": "user",
		"api_call":  "action",
	}}
)
