package conquest

import "sort"

// Ranking returns the players ordered by points, highest first. The sort is
// stable so equal scores keep the original join order.
func Ranking(gs *GameState) []Player {
	ranked := make([]Player, len(gs.Players))
	copy(ranked, gs.Players)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Points > ranked[j].Points
	})
	return ranked
}
