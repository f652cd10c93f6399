package akashic

import "fmt"

// LineageResult is the causal ancestry of one event. Truncated is set when
// the depth bound cut the walk short; the parents graph crosses streams
// and can in principle contain cycles, so the walk is always bounded.
type LineageResult struct {
	EventID   string   `json:"event_id"`
	Ancestors []*Event `json:"ancestors"`
	Truncated bool     `json:"truncated"`
}

// Lineage walks parents[] links from the given event across every stream
// in the vault, breadth-first, up to maxDepth levels.
func Lineage(log *Log, eventID string, maxDepth int) (*LineageResult, error) {
	if maxDepth <= 0 {
		maxDepth = 32
	}

	index, err := buildEventIndex(log)
	if err != nil {
		return nil, err
	}
	start, ok := index[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s not found in any stream", eventID)
	}

	result := &LineageResult{EventID: eventID}
	visited := map[string]bool{eventID: true}
	frontier := start.Parents

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxDepth {
			result.Truncated = true
			break
		}
		var next []string
		for _, pid := range frontier {
			if visited[pid] {
				continue
			}
			visited[pid] = true
			parent, ok := index[pid]
			if !ok {
				// Parent id not present in any stream; advisory links can
				// dangle and that is not an error.
				continue
			}
			result.Ancestors = append(result.Ancestors, parent)
			next = append(next, parent.Parents...)
		}
		frontier = next
	}
	return result, nil
}

func buildEventIndex(log *Log) (map[string]*Event, error) {
	ids, err := log.ListStreams()
	if err != nil {
		return nil, err
	}
	index := make(map[string]*Event)
	for _, id := range ids {
		events, err := log.Replay(id)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			index[e.ID] = e
		}
	}
	return index, nil
}
