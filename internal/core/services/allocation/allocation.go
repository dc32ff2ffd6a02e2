// Package allocation implements the deterministic, capacity-bounded
// bin-packing of DUT channel points into test batches against a Test Rig
// PLC's channel pools. It is a pure function: no locks, no I/O.
package allocation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"brokle/internal/core/domain/fat"
)

// maxRackNumber caps a parsed rack token to bound unbounded rack-token
// ranges.
const maxRackNumber = 1_000_000

// sentinelRack is the "last" rack used for tags whose leading token does not
// parse as an unsigned integer, or exceeds maxRackNumber.
const sentinelRack = ^uint64(0)

// kind is the DUT classification used by the pairing table.
type kind string

const (
	kindAI kind = "AI"
	kindAO kind = "AO"
	kindDI kind = "DI"
	kindDO kind = "DO"
)

// classified pairs a definition with its derived kind/powered/safety flags.
type classified struct {
	def     fat.ChannelPointDefinition
	kind    kind
	powered bool
	safety  bool
}

// Allocate is the entry point: (definitions, rig config, optional
// product/serial) -> (batches, instances, errors, summary).
func Allocate(
	definitions []fat.ChannelPointDefinition,
	rig fat.TestRigConfig,
	productModel, serial *string,
) fat.BatchAllocationResult {
	result := fat.BatchAllocationResult{
		Summary: fat.AllocationSummary{
			ByModuleType: make(map[fat.ModuleType]fat.ModuleTypeStats),
		},
	}
	result.Summary.TotalDefinitions = len(definitions)

	byRack := make(map[uint64][]classified)
	for _, def := range definitions {
		c, ok := classify(def)
		if !ok {
			result.Summary.SkippedDefinitions++
			continue
		}
		rack := rackNumber(def.Tag)
		byRack[rack] = append(byRack[rack], c)
	}

	racks := make([]uint64, 0, len(byRack))
	for r := range byRack {
		racks = append(racks, r)
	}
	sort.Slice(racks, func(i, j int) bool {
		if racks[i] == sentinelRack {
			return false
		}
		if racks[j] == sentinelRack {
			return true
		}
		return racks[i] < racks[j]
	})

	batchCounter := 1
	for _, rack := range racks {
		batches, instances, errs := allocateRack(byRack[rack], rig, &batchCounter, productModel, serial)
		result.Batches = append(result.Batches, batches...)
		result.AllocatedInstances = append(result.AllocatedInstances, instances...)
		result.Errors = append(result.Errors, errs...)
	}

	calculateSummary(&result, definitions)
	return result
}

// classify derives (kind, powered, safety) for a definition, or reports ok=false
// for module types outside {AI,AO,DI,DO}.
func classify(def fat.ChannelPointDefinition) (classified, bool) {
	var k kind
	switch def.ModuleType {
	case fat.ModuleAI:
		k = kindAI
	case fat.ModuleAO:
		k = kindAO
	case fat.ModuleDI:
		k = kindDI
	case fat.ModuleDO:
		k = kindDO
	default:
		return classified{}, false
	}

	safety := k == kindDI && isSafetyDI(def.ModuleName)
	var powered bool
	if safety {
		powered = false
	} else {
		powered = isPoweredChannel(def)
	}

	return classified{def: def, kind: k, powered: powered, safety: safety}, true
}

// isSafetyDI reproduces the source's over-broad heuristic verbatim: any DI
// whose module name, uppercased and stripped of whitespace, contains "S",
// "FS", or "F-DI" is treated as safety-rated. Flagged for product-team
// review but preserved for compatibility.
func isSafetyDI(moduleName string) bool {
	mdl := strings.ToUpper(strings.ReplaceAll(moduleName, " ", ""))
	return strings.Contains(mdl, "S") || strings.Contains(mdl, "FS") || strings.Contains(mdl, "F-DI")
}

// isPoweredChannel mirrors the source's power-supply inference: an explicit
// power_supply_type wins when present, otherwise the variable description is
// consulted. DI modules whose name marks them safety-rated are unpowered
// regardless (handled by the caller before this is reached for safety DI).
func isPoweredChannel(def fat.ChannelPointDefinition) bool {
	if def.PowerSupplyType != "" {
		return !strings.Contains(def.PowerSupplyType, "无源")
	}
	return !strings.Contains(def.VariableDescription, "无源")
}

// rackNumber parses the first underscore-delimited token of tag as an
// unsigned integer; unparseable or out-of-range tokens land in the sentinel
// rack, which is processed last.
func rackNumber(tag string) uint64 {
	token, _, _ := strings.Cut(tag, "_")
	n, err := strconv.ParseUint(token, 10, 64)
	if err != nil || n > maxRackNumber {
		return sentinelRack
	}
	return n
}

// pool is one of the eight (type, powered) rig channel buckets.
type pool struct {
	entries []fat.ChannelPointRigEntry
	used    int
}

func (p *pool) remaining() int { return len(p.entries) - p.used }

func (p *pool) take(n int) []fat.ChannelPointRigEntry {
	taken := p.entries[p.used : p.used+n]
	p.used += n
	return taken
}

// poolSet is the eight (type, powered) rig channel buckets for one batch.
type poolSet map[kind]map[bool]*pool

func (ps poolSet) remainingAt(k kind, powered bool) int {
	return ps[k][powered].remaining()
}

// buildPools groups rig entries into the eight (type, powered) buckets.
func buildPools(entries []fat.ChannelPointRigEntry) poolSet {
	pools := poolSet{
		kindAI: {true: &pool{}, false: &pool{}},
		kindAO: {true: &pool{}, false: &pool{}},
		kindDI: {true: &pool{}, false: &pool{}},
		kindDO: {true: &pool{}, false: &pool{}},
	}
	for _, e := range entries {
		var k kind
		switch e.ChannelType {
		case fat.ModuleAI:
			k = kindAI
		case fat.ModuleAO:
			k = kindAO
		case fat.ModuleDI:
			k = kindDI
		case fat.ModuleDO:
			k = kindDO
		default:
			continue
		}
		pools[k][e.IsPowered].entries = append(pools[k][e.IsPowered].entries, e)
	}
	return pools
}

// pairingStep is one of the eight fixed DUT/rig pairing rules.
type pairingStep struct {
	dutKind    kind
	dutPowered bool
	dutSafety  *bool // nil = ignore safety flag (non-DI pairs)
	rigKind    kind
	rigPowered bool
}

var pairingOrder = []pairingStep{
	{dutKind: kindAI, dutPowered: true, rigKind: kindAO, rigPowered: false},
	{dutKind: kindAI, dutPowered: false, rigKind: kindAO, rigPowered: true},
	{dutKind: kindAO, dutPowered: true, rigKind: kindAI, rigPowered: false},
	{dutKind: kindAO, dutPowered: false, rigKind: kindAI, rigPowered: true},
	{dutKind: kindDI, dutSafety: boolPtr(false), rigKind: kindDO, rigPowered: false},
	{dutKind: kindDI, dutSafety: boolPtr(true), rigKind: kindDO, rigPowered: true},
	{dutKind: kindDO, dutPowered: true, rigKind: kindDI, rigPowered: false},
	{dutKind: kindDO, dutPowered: false, rigKind: kindDI, rigPowered: true},
}

func boolPtr(b bool) *bool { return &b }

func (s pairingStep) matchesDUT(c classified) bool {
	if c.kind != s.dutKind {
		return false
	}
	if s.dutSafety != nil {
		return c.safety == *s.dutSafety
	}
	return c.powered == s.dutPowered
}

// allocateRack processes one rack's classified points, repeating batches
// until the working set is empty.
func allocateRack(
	points []classified,
	rig fat.TestRigConfig,
	batchCounter *int,
	productModel, serial *string,
) ([]fat.TestBatchInfo, []fat.ChannelTestInstance, []string) {
	var batches []fat.TestBatchInfo
	var instances []fat.ChannelTestInstance
	var errs []string

	remaining := append([]classified(nil), points...)
	entriesEmpty := len(rig.Entries) == 0

	for len(remaining) > 0 {
		capacity := 8
		var pools poolSet
		if !entriesEmpty {
			pools = buildPools(rig.Entries)
			capacity = calculateMaxChannelsPerBatch(pools)
		}

		batchID := uuid.New()
		batchInfo := fat.TestBatchInfo{
			BatchID:       batchID,
			BatchName:     fmt.Sprintf("批次%d", *batchCounter),
			ProductModel:  productModel,
			SerialNumber:  serial,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
			OverallStatus: fat.BatchSubmitted,
		}

		var batchInstances []fat.ChannelTestInstance
		var stationName *string
		usedIdx := make(map[int]bool)
		slotsLeft := capacity

		if entriesEmpty {
			// No rig configured: pack points in input order up to the default
			// capacity with no channel tag/address assignment.
			for i, c := range remaining {
				if slotsLeft <= 0 {
					break
				}
				usedIdx[i] = true
				if stationName == nil && c.def.StationName != "" {
					sn := c.def.StationName
					stationName = &sn
				}
				batchInstances = append(batchInstances, createInstance(c.def, batchID, batchInfo.BatchName, "", ""))
				slotsLeft--
			}
		} else {
			for _, step := range pairingOrder {
				if slotsLeft <= 0 {
					break
				}
				rigPool := pools[step.rigKind][step.rigPowered]

				var candidateIdx []int
				for i, c := range remaining {
					if usedIdx[i] {
						continue
					}
					if step.matchesDUT(c) {
						candidateIdx = append(candidateIdx, i)
					}
				}

				n := min3(len(candidateIdx), rigPool.remaining(), slotsLeft)
				if n <= 0 {
					continue
				}
				rigEntries := rigPool.take(n)
				for j := 0; j < n; j++ {
					idx := candidateIdx[j]
					usedIdx[idx] = true
					c := remaining[idx]
					if stationName == nil && c.def.StationName != "" {
						sn := c.def.StationName
						stationName = &sn
					}
					batchInstances = append(batchInstances, createInstance(c.def, batchID, batchInfo.BatchName, rigEntries[j].ChannelAddress, rigEntries[j].CommunicationAddress))
				}
				slotsLeft -= n
			}
		}

		if len(batchInstances) == 0 {
			errs = append(errs, fmt.Sprintf("rack batch %d: %d point(s) could not be allocated against the available rig pools", *batchCounter, len(remaining)))
			break
		}

		batchInfo.StationName = stationName
		batchInfo.TotalPoints = len(batchInstances)

		batches = append(batches, batchInfo)
		instances = append(instances, batchInstances...)

		next := remaining[:0:0]
		for i, c := range remaining {
			if !usedIdx[i] {
				next = append(next, c)
			}
		}
		remaining = next
		*batchCounter++
	}

	return batches, instances, errs
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// calculateMaxChannelsPerBatch sums the four cross-paired capacities (no
// artificial cap): ai_capacity = ao_unpowered + ao_powered counts the rig
// channels available to drive/sense AI points, and so on for the other three
// DUT kinds. Callers substitute the default capacity of 8 when no rig
// entries are configured, bypassing this function entirely.
func calculateMaxChannelsPerBatch(pools poolSet) int {
	aiCapacity := pools.remainingAt(kindAO, false) + pools.remainingAt(kindAO, true)
	aoCapacity := pools.remainingAt(kindAI, false) + pools.remainingAt(kindAI, true)
	diCapacity := pools.remainingAt(kindDO, false) + pools.remainingAt(kindDO, true)
	doCapacity := pools.remainingAt(kindDI, false) + pools.remainingAt(kindDI, true)
	return aiCapacity + aoCapacity + diCapacity + doCapacity
}

func createInstance(def fat.ChannelPointDefinition, batchID uuid.UUID, batchName, rigTag, rigAddr string) fat.ChannelTestInstance {
	now := time.Now()
	return fat.ChannelTestInstance{
		InstanceID:                  uuid.New(),
		DefinitionID:                def.ID,
		TestBatchID:                 batchID,
		TestBatchName:               batchName,
		TestPlcChannelTag:           rigTag,
		TestPlcCommunicationAddress: rigAddr,
		CreationTime:                now,
		LastUpdatedTime:             now,
		OverallStatus:               fat.StatusNotTested,
		SubTestResults:              make(map[fat.SubTestItem]fat.SubTestExecutionResult),
	}
}

func calculateSummary(result *fat.BatchAllocationResult, definitions []fat.ChannelPointDefinition) {
	byModuleDef := make(map[fat.ModuleType]int)
	for _, d := range definitions {
		byModuleDef[d.ModuleType]++
	}

	allocatedByDef := make(map[fat.ModuleType]int)
	batchesByModule := make(map[fat.ModuleType]map[uuid.UUID]bool)
	defByID := make(map[uuid.UUID]fat.ChannelPointDefinition, len(definitions))
	for _, d := range definitions {
		defByID[d.ID] = d
	}
	for _, inst := range result.AllocatedInstances {
		d := defByID[inst.DefinitionID]
		allocatedByDef[d.ModuleType]++
		if batchesByModule[d.ModuleType] == nil {
			batchesByModule[d.ModuleType] = make(map[uuid.UUID]bool)
		}
		batchesByModule[d.ModuleType][inst.TestBatchID] = true
	}

	for mt, count := range byModuleDef {
		result.Summary.ByModuleType[mt] = fat.ModuleTypeStats{
			DefinitionCount: count,
			AllocatedCount:  allocatedByDef[mt],
			BatchCount:      len(batchesByModule[mt]),
		}
	}
	result.Summary.AllocatedInstances = len(result.AllocatedInstances)
}
