package entries

// ReassignSpec maps source field names to their new names.
type ReassignSpec map[string]string

func NewReassignSpec() ReassignSpec {
	return ReassignSpec{}
}

func (s ReassignSpec) Move(source, target string) ReassignSpec {
	s[source] = target
	return s
}

// Reassign moves each source field that exists in entry to its target, overwriting any value already there.
// It returns the names of the fields that moved.
func Reassign(entry LogEntry, spec ReassignSpec) []string {
	var moved []string
	for source, target := range spec {
		val, ok := entry[source]
		if !ok || source == target {
			continue
		}
		entry[target] = val
		delete(entry, source)
		moved = append(moved, source)
	}
	return moved
}
