package conquest

import "strings"

// Game constants.
const (
	InitialTroops = 3  // garrison each territory starts with
	MaxTroops     = 99 // per-territory troop cap
	MaxFactories  = 1  // per-territory factory cap

	FactoryCost  = 15 // flat coin price of a factory
	TroopCost    = 2  // coin price per purchased troop
	TerritoryPay = 1  // income per owned territory
	FactoryPay   = 4  // extra income per owned factory
)

// Seat identifies a participant at game start. The email is the stable
// identity key; name and picture are display data from the auth provider.
type Seat struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Player is a participant's in-game record. Coins fund purchases; points
// only ever grow and decide the final ranking. A surrendered player keeps
// their record for ranking purposes.
type Player struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Coins   int    `json:"coins"`
	Points  int    `json:"points"`
}

// Territory is one map cell. Owner indexes GameState.Players. Troops stays
// in 1..MaxTroops while the game runs; normalization after combat restores
// the lower bound.
type Territory struct {
	Name      string `json:"name"`
	Owner     int    `json:"player"`
	Troops    int    `json:"troops"`
	Factories int    `json:"factories"`
}

// GameState is the authoritative state of one room's game. It is mutated
// only through Apply; the caller serializes access per room.
type GameState struct {
	Turn        int                   `json:"turn"`
	Phase       int                   `json:"phase"`
	Players     []Player              `json:"players"`
	Surrendered []int                 `json:"surrendered"`
	Map         map[string]*Territory `json:"map"`
	Finished    bool                  `json:"finished"`
	Winner      int                   `json:"winner"` // player index, valid only when Finished
}

// PlayerIndex resolves a player's index from their email, or -1.
// Emails are compared trimmed, tolerating sloppy client input.
func (gs *GameState) PlayerIndex(email string) int {
	email = strings.TrimSpace(email)
	for i := range gs.Players {
		if strings.TrimSpace(gs.Players[i].Email) == email {
			return i
		}
	}
	return -1
}

// HasSurrendered reports whether the player index is in the surrendered set.
func (gs *GameState) HasSurrendered(idx int) bool {
	for _, s := range gs.Surrendered {
		if s == idx {
			return true
		}
	}
	return false
}

// ActiveCount returns the number of players still in the game.
func (gs *GameState) ActiveCount() int {
	return len(gs.Players) - len(gs.Surrendered)
}

// TerritoryCount returns how many territories the player index owns.
func (gs *GameState) TerritoryCount(idx int) int {
	count := 0
	for _, t := range gs.Map {
		if t.Owner == idx {
			count++
		}
	}
	return count
}

// Clone returns a deep copy of the GameState. Mutations to the clone do not
// affect the original.
func (gs *GameState) Clone() *GameState {
	c := &GameState{
		Turn:     gs.Turn,
		Phase:    gs.Phase,
		Finished: gs.Finished,
		Winner:   gs.Winner,
	}
	if gs.Players != nil {
		c.Players = make([]Player, len(gs.Players))
		copy(c.Players, gs.Players)
	}
	if gs.Surrendered != nil {
		c.Surrendered = make([]int, len(gs.Surrendered))
		copy(c.Surrendered, gs.Surrendered)
	}
	if gs.Map != nil {
		c.Map = make(map[string]*Territory, len(gs.Map))
		for id, t := range gs.Map {
			tc := *t
			c.Map[id] = &tc
		}
	}
	return c
}

// allOwnedBy reports whether every territory is owned by the player index.
func allOwnedBy(gs *GameState, idx int) bool {
	for _, t := range gs.Map {
		if t.Owner != idx {
			return false
		}
	}
	return true
}

// singleOwner returns the sole owner across the map, or -1 when ownership
// is still split. Used after surrender redistribution, which can hand one
// survivor everything.
func singleOwner(gs *GameState) int {
	owner := -1
	for _, t := range gs.Map {
		if owner == -1 {
			owner = t.Owner
			continue
		}
		if t.Owner != owner {
			return -1
		}
	}
	return owner
}
