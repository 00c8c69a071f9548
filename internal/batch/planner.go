package batch

// Byte units. Tier boundaries are binary.
const (
	MiB int64 = 1024 * 1024
	GiB int64 = 1024 * MiB
)

// Platform maxima for a single compute unit (Fargate).
const (
	MaxVCPU      = 16
	MaxMemoryMB  = 122880
	MaxStorageGB = 200
)

// storageHeadroomGB is added to 3x the largest file: room for the
// reference, the input, the output and scratch space.
const storageHeadroomGB = 10

// Tier is one step of the sizing table. A batch whose total size is at most
// MaxTotalGB gets this tier's allocation.
type Tier struct {
	MaxTotalGB int64
	VCPU       int
	MemoryMB   int
	StorageGB  int
}

// Tiers is the sizing table, ordered by MaxTotalGB. Batches larger than the
// last tier get the last tier's values.
var Tiers = []Tier{
	{MaxTotalGB: 5, VCPU: 1, MemoryMB: 2048, StorageGB: 30},
	{MaxTotalGB: 20, VCPU: 2, MemoryMB: 4096, StorageGB: 60},
	{MaxTotalGB: 50, VCPU: 4, MemoryMB: 8192, StorageGB: 120},
	{MaxTotalGB: 100, VCPU: 4, MemoryMB: 16384, StorageGB: 175},
	{MaxTotalGB: 200, VCPU: 8, MemoryMB: 30720, StorageGB: 200},
}

// Overrides are caller-supplied resource values. Each non-nil field
// replaces derivation of that field only.
type Overrides struct {
	VCPU      *int `json:"vcpu,omitempty"`
	MemoryMB  *int `json:"memory_mb,omitempty"`
	StorageGB *int `json:"storage_gb,omitempty"`
}

// Any reports whether at least one override is set.
func (o Overrides) Any() bool {
	return o.VCPU != nil || o.MemoryMB != nil || o.StorageGB != nil
}

// Validate rejects non-positive overrides.
func (o Overrides) Validate() error {
	check := func(name string, v *int) error {
		if v != nil && *v <= 0 {
			return Errorf(KindInvalidRequest, "%s must be a positive integer (got %d)", name, *v)
		}
		return nil
	}
	if err := check("vcpu", o.VCPU); err != nil {
		return err
	}
	if err := check("memory_mb", o.MemoryMB); err != nil {
		return err
	}
	return check("storage_gb", o.StorageGB)
}

// PlanResources sizes the compute unit for a batch.
//
// The tier is chosen from the total size of the files plus the reference.
// Memory is then raised to at least twice the largest file and storage to
// three times the largest file plus headroom. Everything is clamped to the
// platform maxima. Overridden fields skip derivation but are still clamped.
func PlanResources(files []CandidateFile, reference *CandidateFile, ov Overrides) (ResourcePlan, error) {
	if len(files) == 0 {
		return ResourcePlan{}, Errorf(KindEmptyBatch, "no files to repair besides the reference")
	}

	var total, largest int64
	all := files
	if reference != nil {
		all = append(append(make([]CandidateFile, 0, len(files)+1), files...), *reference)
	}
	for _, f := range all {
		total += f.SizeBytes
		if f.SizeBytes > largest {
			largest = f.SizeBytes
		}
	}

	tier := tierFor(total)
	memory := maxInt(tier.MemoryMB, int(largest*2/MiB))
	storage := maxInt(tier.StorageGB, int(largest*3/GiB)+storageHeadroomGB)

	plan := ResourcePlan{
		VCPU:       tier.VCPU,
		MemoryMB:   memory,
		StorageGB:  storage,
		AutoScaled: !ov.Any(),
	}
	if ov.VCPU != nil {
		plan.VCPU = *ov.VCPU
	}
	if ov.MemoryMB != nil {
		plan.MemoryMB = *ov.MemoryMB
	}
	if ov.StorageGB != nil {
		plan.StorageGB = *ov.StorageGB
	}

	plan.VCPU = minInt(plan.VCPU, MaxVCPU)
	plan.MemoryMB = minInt(plan.MemoryMB, MaxMemoryMB)
	plan.StorageGB = minInt(plan.StorageGB, MaxStorageGB)
	return plan, nil
}

func tierFor(totalBytes int64) Tier {
	for _, t := range Tiers {
		if totalBytes <= t.MaxTotalGB*GiB {
			return t
		}
	}
	return Tiers[len(Tiers)-1]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
