package life

// ResolveOwner picks the owner of a newborn cell from its neighbors, given
// in N..NW order: the owner with the most live owned neighbors wins and ties
// go to the owner seen first. With no owned neighbor the viewer is returned.
func ResolveOwner(neighbors *[8]State, viewer string) string {
	var (
		owners [8]string
		counts [8]int
		n      int
	)
	for _, s := range neighbors {
		if !s.Alive || s.Owner == "" {
			continue
		}
		k := 0
		for k < n && owners[k] != s.Owner {
			k++
		}
		if k == n {
			owners[n] = s.Owner
			n++
		}
		counts[k]++
	}
	best, most := viewer, 0
	for k := 0; k < n; k++ {
		if counts[k] > most {
			best, most = owners[k], counts[k]
		}
	}
	return best
}

func (e *Engine) neighborStates(i int32, dst *[8]State) (live int) {
	for k, nb := range e.neighbors[i] {
		c := &e.cells[nb]
		dst[k] = State{Alive: c.Alive, Owner: c.Owner}
		if c.Alive {
			live++
		}
	}
	return live
}
