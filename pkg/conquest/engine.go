package conquest

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrInvariant marks a state corruption that validated input should never
// produce. The coordinator flags the room invalid and refuses further
// actions; this is a backstop, not an expected path.
var ErrInvariant = errors.New("game state invariant violated")

// AssignTerritories builds the initial GameState for a freshly started room.
// Catalog IDs are shuffled with the caller's rng and dealt round-robin, so
// territory counts across players differ by at most one. Initial income runs
// once per player in seat order; countPlayerCoins only pays the on-turn
// player, so only player 0 receives starting coins while points follow the
// same computed amount for everyone.
func AssignTerritories(seats []Seat, catalog Catalog, rng *rand.Rand) *GameState {
	gs := &GameState{
		Turn:        0,
		Phase:       0,
		Players:     make([]Player, len(seats)),
		Surrendered: []int{},
		Map:         make(map[string]*Territory, len(catalog)),
		Winner:      -1,
	}
	for i, s := range seats {
		gs.Players[i] = Player{Email: s.Email, Name: s.Name, Picture: s.Picture}
	}

	ids := catalog.sortedIDs()
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	for j, id := range ids {
		gs.Map[id] = &Territory{
			Name:   catalog[id],
			Owner:  j % len(seats),
			Troops: InitialTroops,
		}
	}

	for i := range gs.Players {
		coins := countPlayerCoins(gs, i)
		if i == 0 {
			gs.Players[i].Coins += coins
		}
		gs.Players[i].Points += coins
	}

	return gs
}

// Apply validates and applies one action for the given actor. A rejected
// Outcome leaves the state untouched. A non-nil error means the state can no
// longer be trusted (invariant violation) and the room must be retired.
func Apply(gs *GameState, actor string, action Action, rng *rand.Rand) (Outcome, error) {
	if gs.Finished {
		return rejected(ReasonGameOver), nil
	}
	idx := gs.PlayerIndex(actor)
	if idx < 0 {
		return rejected(ReasonNotInGame), nil
	}

	switch a := action.(type) {
	case MoveTroops:
		return applyMove(gs, idx, a)
	case Attack:
		return applyAttack(gs, idx, a)
	case Surrender:
		return applySurrender(gs, idx, rng)
	case AdvancePhase:
		return applyAdvancePhase(gs, idx)
	case AdvanceTurn:
		return applyAdvanceTurn(gs, idx)
	case BuyActives:
		return applyBuy(gs, idx, a)
	default:
		return Outcome{}, fmt.Errorf("unhandled action type %T", action)
	}
}

func applyMove(gs *GameState, idx int, a MoveTroops) (Outcome, error) {
	if gs.Turn != idx {
		return rejected(ReasonNotYourTurn), nil
	}
	from, ok := gs.Map[a.From]
	if !ok {
		return rejected(ReasonUnknownTerritory), nil
	}
	to, ok := gs.Map[a.To]
	if !ok {
		return rejected(ReasonUnknownTerritory), nil
	}
	if a.Troops < 1 {
		return rejected(ReasonInvalidTroops), nil
	}
	if from.Troops-a.Troops < 1 {
		return rejected(ReasonInsufficientTroops), nil
	}
	if from.Owner != idx || to.Owner != idx {
		return rejected(ReasonNotOwner), nil
	}

	to.Troops += a.Troops
	from.Troops -= a.Troops
	if err := checkTroops(from, to); err != nil {
		return Outcome{}, err
	}
	return accepted(), nil
}

func applyAttack(gs *GameState, idx int, a Attack) (Outcome, error) {
	if gs.Turn != idx {
		return rejected(ReasonNotYourTurn), nil
	}
	from, ok := gs.Map[a.From]
	if !ok {
		return rejected(ReasonUnknownTerritory), nil
	}
	to, ok := gs.Map[a.To]
	if !ok {
		return rejected(ReasonUnknownTerritory), nil
	}
	if a.Troops < 1 {
		return rejected(ReasonInvalidTroops), nil
	}
	if from.Troops-a.Troops < 1 {
		return rejected(ReasonInsufficientTroops), nil
	}
	if from.Owner != idx {
		return rejected(ReasonNotOwner), nil
	}
	if to.Owner == idx {
		return rejected(ReasonTargetOwned), nil
	}

	out := accepted()
	if a.Troops > to.Troops {
		// Conquest: the surviving attackers garrison the territory.
		to.Troops = a.Troops - to.Troops
		to.Owner = idx
		out.Conquered = true
	} else {
		to.Troops -= a.Troops
		// An equal-strength attack would leave the defender at zero.
		// Ownership without a garrison is undefined, so hold at one.
		if to.Troops < 1 {
			to.Troops = 1
		}
	}
	from.Troops -= a.Troops
	if err := checkTroops(from, to); err != nil {
		return Outcome{}, err
	}

	if out.Conquered && allOwnedBy(gs, idx) {
		gs.Finished = true
		gs.Winner = idx
		out.Winner = playerRef(gs, idx)
	}
	return out, nil
}

func applySurrender(gs *GameState, idx int, rng *rand.Rand) (Outcome, error) {
	if gs.HasSurrendered(idx) {
		return rejected(ReasonAlreadySurrendered), nil
	}

	wasOnTurn := gs.Turn == idx
	gs.Surrendered = append(gs.Surrendered, idx)

	// Hand every owned territory to a uniformly random survivor,
	// resampling draws that land on the leaver or an earlier leaver.
	for _, t := range gs.Map {
		if t.Owner != idx {
			continue
		}
		j := rng.Intn(len(gs.Players))
		for j == idx || gs.HasSurrendered(j) {
			j = rng.Intn(len(gs.Players))
		}
		t.Owner = j
	}

	out := accepted()
	if winner := singleOwner(gs); winner >= 0 {
		gs.Finished = true
		gs.Winner = winner
		out.Winner = playerRef(gs, winner)
		return out, nil
	}

	// The turn must never rest on a surrendered player.
	if wasOnTurn {
		advanceTurn(gs, true)
	}
	return out, nil
}

func applyAdvancePhase(gs *GameState, idx int) (Outcome, error) {
	if gs.Turn != idx {
		return rejected(ReasonNotYourTurn), nil
	}
	advancePhase(gs)
	return accepted(), nil
}

func applyAdvanceTurn(gs *GameState, idx int) (Outcome, error) {
	if gs.Turn != idx {
		return rejected(ReasonNotYourTurn), nil
	}
	if gs.Phase != LastPhase {
		return rejected(ReasonPhaseNotComplete), nil
	}
	advanceTurn(gs, false)
	return accepted(), nil
}

func applyBuy(gs *GameState, idx int, a BuyActives) (Outcome, error) {
	if gs.Turn != idx {
		return rejected(ReasonNotYourTurn), nil
	}
	t, ok := gs.Map[a.Territory]
	if !ok {
		return rejected(ReasonUnknownTerritory), nil
	}
	if t.Owner != idx {
		return rejected(ReasonNotOwner), nil
	}

	var cost int
	switch a.Kind {
	case BuyFactory:
		cost = FactoryCost
	case BuyTroop:
		if a.Count < 1 {
			return rejected(ReasonInvalidPurchase), nil
		}
		cost = TroopCost * a.Count
	default:
		return rejected(ReasonInvalidPurchase), nil
	}

	if gs.Players[idx].Coins < cost {
		return rejected(ReasonInsufficientCoins), nil
	}

	switch a.Kind {
	case BuyFactory:
		if t.Factories != 0 {
			return rejected(ReasonFactoryExists), nil
		}
		t.Factories = MaxFactories
	case BuyTroop:
		if t.Troops+a.Count > MaxTroops {
			return rejected(ReasonTroopLimit), nil
		}
		t.Troops += a.Count
	}

	gs.Players[idx].Coins -= cost
	if gs.Players[idx].Coins < 0 {
		return Outcome{}, fmt.Errorf("%w: negative coins for player %d", ErrInvariant, idx)
	}
	return accepted(), nil
}

// checkTroops is the post-mutation backstop for combat and movement.
func checkTroops(territories ...*Territory) error {
	for _, t := range territories {
		if t.Troops < 1 {
			return fmt.Errorf("%w: territory %q left with %d troops", ErrInvariant, t.Name, t.Troops)
		}
	}
	return nil
}
