package scenario

import (
	"fmt"

	"github.com/gateway-fm/rpcbench/internal/config"
	"github.com/gateway-fm/rpcbench/internal/rpc"
	"github.com/gateway-fm/rpcbench/pkg/types"
)

const (
	// protocolSweepConcurrency caps in-flight calls when sweeping one
	// provider's client profiles in isolation.
	protocolSweepConcurrency = 1000

	// crossProviderConcurrency is the gentler cap used when the sweep
	// visits every provider back to back.
	crossProviderConcurrency = 100

	// probeProvider is the endpoint whose admission ceiling the probe
	// scenario walks; probeFloor..probeCeil bracket the suspected limit.
	probeProvider = "chainstack"
	probeFloor    = 98
	probeCeil     = 102

	// Burst sweep shape: a fixed pool of H2 clients, rates climbing from
	// burstRateStep to burstRateMax in burstRateStep increments, each batch
	// sized at burstSizeFactor times its rate.
	burstPoolSize   = 5
	burstRateStep   = 5
	burstRateMax    = 120
	burstSizeFactor = 3
)

// protocolProfiles are the client configurations a protocol sweep visits,
// in order.
var protocolProfiles = []struct {
	proto    types.Protocol
	poolSize int
}{
	{types.ProtocolH1, 1},
	{types.ProtocolH1, 3},
	{types.ProtocolH2, 1},
	{types.ProtocolH2, 3},
}

func floodLabel(provider string, blocks, concurrency int, proto types.Protocol, poolSize int) string {
	return fmt.Sprintf("%s,b=%d,c=%d,p=%s,i=%d", provider, blocks, concurrency, proto, poolSize)
}

func probeLabel(provider string, n int) string {
	return fmt.Sprintf("%s,concurrency,limits,b=%d,c=%d", provider, n, n)
}

func burstLabel(provider string, blocks, rate int) string {
	return fmt.Sprintf("%s,burst,b=%d,c=%d,p=h2,i=%d", provider, blocks, rate, burstPoolSize)
}

// protocolSweep floods one provider through each client profile, pausing
// between profiles so pool warm-up and provider-side throttling do not
// bleed into the next measurement.
func protocolSweep(cfg *config.Config, scenario string, p config.Provider, concurrency int) Plan {
	var plan Plan
	for i, profile := range protocolProfiles {
		if i > 0 {
			plan = append(plan, pause(cfg.ProtocolCooldown))
		}
		plan = append(plan, batchStep(Batch{
			Scenario:    scenario,
			Label:       floodLabel(p.Name, cfg.NumBlocks, concurrency, profile.proto, profile.poolSize),
			Provider:    p,
			Protocol:    profile.proto,
			PoolSize:    profile.poolSize,
			Mode:        types.GateFlood,
			Concurrency: concurrency,
			Blocks:      cfg.NumBlocks,
		}))
	}
	return plan
}

// Protocols sweeps the first configured provider across client profiles at
// high concurrency.
func Protocols(cfg *config.Config) Plan {
	if len(cfg.Providers) == 0 {
		return nil
	}
	return protocolSweep(cfg, "protocols", cfg.Providers[0], protocolSweepConcurrency)
}

// Providers runs the protocol sweep for every configured provider, pausing
// between providers.
func Providers(cfg *config.Config) Plan {
	var plan Plan
	for i, p := range cfg.Providers {
		if i > 0 {
			plan = append(plan, pause(cfg.ProviderCooldown))
		}
		plan = append(plan, protocolSweep(cfg, "providers", p, crossProviderConcurrency)...)
	}
	return plan
}

// Probe floods closely spaced concurrency levels against one provider to
// locate its admission ceiling. The block count tracks the concurrency so
// every call in a step can be in flight at once.
func Probe(cfg *config.Config) Plan {
	p, err := cfg.ProviderByName(probeProvider)
	if err != nil {
		return nil
	}

	var plan Plan
	for n := probeFloor; n <= probeCeil; n++ {
		plan = append(plan,
			batchStep(Batch{
				Scenario:    "probe",
				Label:       probeLabel(p.Name, n),
				Provider:    p,
				Protocol:    types.ProtocolH2,
				PoolSize:    1,
				Mode:        types.GateFlood,
				Concurrency: n,
				Blocks:      n,
			}),
			pause(cfg.ProbeCooldown),
		)
	}
	return plan
}

// Limits ramps request rate against each provider over a shared pool of H2
// clients: a short warm-up batch opens the pool's connections, then
// rate-gated batches climb in fixed increments with burst sizes
// proportional to the rate. The pool is built once per provider and reused
// by every batch of that provider's ramp.
func Limits(cfg *config.Config) Plan {
	var plan Plan
	for _, p := range cfg.Providers {
		pool := rpc.NewClientProvider(types.ProtocolH2, p.URL, burstPoolSize, cfg.RequestTimeout)

		plan = append(plan,
			batchStep(Batch{
				Scenario: "limits",
				Label:    burstLabel(p.Name, burstPoolSize, burstPoolSize),
				Provider: p,
				Protocol: types.ProtocolH2,
				PoolSize: burstPoolSize,
				Mode:     types.GateLimit,
				Rate:     burstPoolSize,
				Blocks:   burstPoolSize,
				Clients:  pool,
			}),
			pause(cfg.ProbeCooldown),
		)

		for rate := burstRateStep; rate <= burstRateMax; rate += burstRateStep {
			plan = append(plan,
				batchStep(Batch{
					Scenario: "limits",
					Label:    burstLabel(p.Name, burstSizeFactor*rate, rate),
					Provider: p,
					Protocol: types.ProtocolH2,
					PoolSize: burstPoolSize,
					Mode:     types.GateLimit,
					Rate:     rate,
					Blocks:   burstSizeFactor * rate,
					Clients:  pool,
				}),
				pause(cfg.ProbeCooldown),
			)
		}
	}
	return plan
}
