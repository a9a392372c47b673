package clustering

// resolveOnHost finishes an unconverged device run. Core points are merged
// with a union-find over the device's partial labels and every core pair
// within eps; border points take the smallest adjacent core root, which is
// the fixpoint the device passes would have reached.
func resolveOnHost(points *PointSet, eps float64, labels, core []uint32) []uint32 {
	n := points.N
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		switch {
		case ra < rb:
			parent[rb] = ra
		case rb < ra:
			parent[ra] = rb
		}
	}

	eps2 := eps * eps
	near := func(i, j int) bool {
		pi, pj := points.Point(i), points.Point(j)
		var sum float64
		for k := range pi {
			d := pi[k] - pj[k]
			sum += d * d
		}
		return sum <= eps2
	}

	for i := 0; i < n; i++ {
		if core[i] != 0 && labels[i] != 0 {
			union(i, int(labels[i]-1))
		}
	}
	for i := 0; i < n; i++ {
		if core[i] == 0 {
			continue
		}
		for j := i + 1; j < n; j++ {
			if core[j] != 0 && find(i) != find(j) && near(i, j) {
				union(i, j)
			}
		}
	}

	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		if core[i] != 0 {
			out[i] = uint32(find(i) + 1)
		}
	}
	for j := 0; j < n; j++ {
		if core[j] != 0 {
			continue
		}
		for i := 0; i < n; i++ {
			if core[i] != 0 && near(i, j) {
				if l := out[i]; out[j] == 0 || l < out[j] {
					out[j] = l
				}
			}
		}
	}
	return out
}
