package dispatch

import "strconv"

// fargateSize is one Fargate vCPU value with its valid memory sizes (MiB).
type fargateSize struct {
	vcpu     float64
	memories []int
}

// fargateSizes lists the valid Fargate task sizes in ascending vCPU order.
var fargateSizes = []fargateSize{
	{0.25, []int{512, 1024, 2048}},
	{0.5, steps(1024, 4096, 1024)},
	{1, steps(2048, 8192, 1024)},
	{2, steps(4096, 16384, 1024)},
	{4, steps(8192, 30720, 1024)},
	{8, steps(16384, 61440, 4096)},
	{16, steps(32768, 122880, 8192)},
}

func steps(from, to, step int) []int {
	var out []int
	for m := from; m <= to; m += step {
		out = append(out, m)
	}
	return out
}

// SnapFargate returns the smallest valid Fargate size with at least vcpu
// and memoryMB. When no vCPU value can hold the memory, the largest size
// is used. The vCPU is formatted the way Batch expects ("0.25", "1").
func SnapFargate(vcpu, memoryMB int) (string, int) {
	size := fargateSizes[len(fargateSizes)-1]
	for _, s := range fargateSizes {
		if s.vcpu >= float64(vcpu) && s.memories[len(s.memories)-1] >= memoryMB {
			size = s
			break
		}
	}

	memory := size.memories[len(size.memories)-1]
	for _, m := range size.memories {
		if m >= memoryMB {
			memory = m
			break
		}
	}
	return strconv.FormatFloat(size.vcpu, 'f', -1, 64), memory
}
