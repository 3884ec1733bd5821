package conquest

// LastPhase is the final phase index within a turn. Phases run 0, 1, 2 and
// gate when AdvanceTurn becomes legal.
const LastPhase = 2

// advancePhase steps the phase forward. At LastPhase it is a no-op; the
// player must end the turn instead.
func advancePhase(gs *GameState) {
	if gs.Phase < LastPhase {
		gs.Phase++
	}
}

// advanceTurn hands the turn to the next non-surrendered player and pays
// that player's income. forced is set when the current player surrendered,
// which ends the turn regardless of phase. The skip loop terminates because
// victory detection ends the game before the last player could be alone.
func advanceTurn(gs *GameState, forced bool) {
	if gs.Phase != LastPhase && !forced {
		return
	}
	for {
		gs.Turn = (gs.Turn + 1) % len(gs.Players)
		if !gs.HasSurrendered(gs.Turn) {
			break
		}
	}
	coins := countPlayerCoins(gs, gs.Turn)
	gs.Players[gs.Turn].Coins += coins
	gs.Players[gs.Turn].Points += coins
	gs.Phase = 0
}

// countPlayerCoins computes the income of the given player: one coin per
// owned territory plus four per factory. Only the on-turn player is paid;
// anyone else computes to zero. Income is applied exactly once per turn
// advance, never accrued passively.
func countPlayerCoins(gs *GameState, idx int) int {
	count := 0
	if gs.Turn != idx {
		return count
	}
	for _, t := range gs.Map {
		if t.Owner == idx {
			count += TerritoryPay
			if t.Factories == MaxFactories {
				count += FactoryPay
			}
		}
	}
	return count
}
