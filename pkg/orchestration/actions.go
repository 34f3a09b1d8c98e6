package orchestration

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
)

// Action is a named response step with an in-process effect. Steps naming
// an unregistered action only go through the executor.
type Action interface {
	// Name returns the unique name of the action.
	Name() string
	// Execute applies the action. params carries the step parameters merged
	// over the execution context (anomaly, source and asset ids).
	Execute(ctx context.Context, params map[string]interface{}) error
}

// Containment records the hosts and addresses responses have contained.
// Nothing outside the process is touched.
type Containment struct {
	blocked  map[string]struct{}
	isolated map[string]struct{}
	mu       sync.RWMutex
}

// NewContainment returns an empty containment record.
func NewContainment() *Containment {
	return &Containment{
		blocked:  make(map[string]struct{}),
		isolated: make(map[string]struct{}),
	}
}

// BlockedIPs returns the blocked addresses, sorted.
func (c *Containment) BlockedIPs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.blocked)
}

// IsolatedHosts returns the isolated assets, sorted.
func (c *Containment) IsolatedHosts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.isolated)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BlockIPAction adds the "ip" parameter to the blocklist.
type BlockIPAction struct {
	Containment *Containment
}

func (a *BlockIPAction) Name() string {
	return "block_ip"
}

func (a *BlockIPAction) Execute(_ context.Context, params map[string]interface{}) error {
	ip, ok := params["ip"].(string)
	if !ok || ip == "" {
		return fmt.Errorf("missing or invalid 'ip' in action data for block_ip action")
	}
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("invalid IP address format: %s", ip)
	}

	a.Containment.mu.Lock()
	a.Containment.blocked[ip] = struct{}{}
	a.Containment.mu.Unlock()
	return nil
}

// IsolateHostAction marks the affected asset as isolated. The target is the
// "asset_id" parameter, or "source_id" when the anomaly names no asset.
type IsolateHostAction struct {
	Containment *Containment
}

func (a *IsolateHostAction) Name() string {
	return "isolate_host"
}

func (a *IsolateHostAction) Execute(_ context.Context, params map[string]interface{}) error {
	target := ""
	for _, key := range []string{"asset_id", "source_id"} {
		if v, ok := params[key].(string); ok && v != "" {
			target = v
			break
		}
	}
	if target == "" {
		return fmt.Errorf("missing 'asset_id' or 'source_id' in action data for isolate_host action")
	}

	a.Containment.mu.Lock()
	a.Containment.isolated[target] = struct{}{}
	a.Containment.mu.Unlock()
	return nil
}
