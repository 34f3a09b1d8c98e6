package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lucid-vigil/secops/pkg/simulate"
	"github.com/lucid-vigil/secops/pkg/types"
)

// ErrSimulatedFetch is returned when the simulated fetch draws a failure.
var ErrSimulatedFetch = errors.New("simulated connection failure")

// Fetcher pulls one batch of raw records from a source.
type Fetcher interface {
	Fetch(ctx context.Context, source types.DataSource) ([]types.RawRecord, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, source types.DataSource) ([]types.RawRecord, error)

func (f FetcherFunc) Fetch(ctx context.Context, source types.DataSource) ([]types.RawRecord, error) {
	return f(ctx, source)
}

// SimulatedFetcher fabricates type-specific records after a bounded random
// delay, failing with a fixed probability.
type SimulatedFetcher struct {
	Rand        *simulate.Source
	MaxDelay    time.Duration
	FailureRate float64
	MaxBatch    int
}

// NewSimulatedFetcher returns a fetcher with the given tuning.
func NewSimulatedFetcher(rng *simulate.Source, maxDelay time.Duration, failureRate float64, maxBatch int) *SimulatedFetcher {
	if rng == nil {
		rng = simulate.NewRandom()
	}
	if maxBatch <= 0 {
		maxBatch = 10
	}
	return &SimulatedFetcher{Rand: rng, MaxDelay: maxDelay, FailureRate: failureRate, MaxBatch: maxBatch}
}

func (f *SimulatedFetcher) Fetch(ctx context.Context, source types.DataSource) ([]types.RawRecord, error) {
	if delay := f.Rand.Duration(f.MaxDelay); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	if f.Rand.Chance(f.FailureRate) {
		return nil, fmt.Errorf("fetch %s: %w", source.ID, ErrSimulatedFetch)
	}

	n := f.Rand.Between(1, f.MaxBatch)
	now := time.Now().UTC()
	records := make([]types.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, types.RawRecord{
			ID:        uuid.New().String(),
			SourceID:  source.ID,
			Timestamp: now,
			Data:      f.payload(source.Type),
		})
	}
	return records, nil
}

func (f *SimulatedFetcher) payload(st types.SourceType) map[string]interface{} {
	r := f.Rand
	switch st {
	case types.SourceSCADA, types.SourcePLC, types.SourceHistorian:
		return map[string]interface{}{
			"device":   fmt.Sprintf("plc-%02d", r.Between(1, 24)),
			"tag":      simulate.Pick(r, []string{"pressure", "temperature", "flow_rate", "valve_position"}),
			"value":    float64(r.Between(0, 1000)) / 10,
			"protocol": simulate.Pick(r, []string{"modbus", "dnp3", "opcua", "profinet"}),
			"quality":  simulate.Pick(r, []string{"good", "good", "good", "uncertain", "bad"}),
		}
	case types.SourceFirewall, types.SourceIDS:
		return map[string]interface{}{
			"src_ip":   fmt.Sprintf("10.%d.%d.%d", r.Between(0, 255), r.Between(0, 255), r.Between(1, 254)),
			"dst_ip":   fmt.Sprintf("192.168.%d.%d", r.Between(0, 255), r.Between(1, 254)),
			"dst_port": simulate.Pick(r, []int{22, 80, 443, 445, 502, 3389, 8080}),
			"protocol": simulate.Pick(r, []string{"tcp", "udp"}),
			"action":   simulate.Pick(r, []string{"allow", "allow", "deny"}),
			"bytes":    r.Between(64, 1<<20),
		}
	case types.SourceCloudTrail, types.SourceCSPM:
		return map[string]interface{}{
			"account":   fmt.Sprintf("%012d", r.Between(100000, 999999)),
			"region":    simulate.Pick(r, []string{"us-east-1", "us-west-2", "eu-west-1"}),
			"api_call":  simulate.Pick(r, []string{"AssumeRole", "PutBucketPolicy", "RunInstances", "CreateAccessKey", "ListBuckets"}),
			"principal": simulate.Pick(r, []string{"ci-deployer", "admin", "analyst", "unknown"}),
			"resource":  fmt.Sprintf("arn:aws:s3:::bucket-%d", r.Between(1, 50)),
		}
	case types.SourceVulnScanner:
		return map[string]interface{}{
			"asset": fmt.Sprintf("host-%03d", r.Between(1, 200)),
			"cve":   fmt.Sprintf("CVE-2024-%04d", r.Between(1000, 9999)),
			"cvss":  float64(r.Between(10, 100)) / 10,
		}
	default:
		return map[string]interface{}{
			"host":    fmt.Sprintf("ws-%03d", r.Between(1, 500)),
			"user":    simulate.Pick(r, []string{"alice", "bob", "svc_backup", "administrator"}),
			"event":   simulate.Pick(r, []string{"login_success", "login_failure", "process_start", "file_write"}),
			"process": simulate.Pick(r, []string{"powershell.exe", "sshd", "chrome.exe", "python3"}),
		}
	}
}
