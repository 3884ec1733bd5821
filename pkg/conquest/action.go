package conquest

import (
	"encoding/json"
	"fmt"
)

// Action type names as they appear on the wire.
const (
	ActionMove         = "move"
	ActionAttack       = "attack"
	ActionSurrender    = "surrender"
	ActionAdvancePhase = "advance_phase"
	ActionAdvanceTurn  = "advance_turn"
	ActionBuy          = "buy"
)

// Purchase kinds for BuyActives.
const (
	BuyFactory = "factory"
	BuyTroop   = "troop"
)

// Rejection reason codes carried in Outcome.Reason. An illegal action is a
// rejected outcome, never an error: clients race against stale UI state and
// retries must not tear down the room.
const (
	ReasonGameOver           = "game_over"
	ReasonNotInGame          = "not_in_game"
	ReasonNotYourTurn        = "not_your_turn"
	ReasonUnknownTerritory   = "unknown_territory"
	ReasonNotOwner           = "not_owner"
	ReasonTargetOwned        = "target_owned"
	ReasonInvalidTroops      = "invalid_troops"
	ReasonInsufficientTroops = "insufficient_troops"
	ReasonInsufficientCoins  = "insufficient_coins"
	ReasonFactoryExists      = "factory_exists"
	ReasonTroopLimit         = "troop_limit"
	ReasonInvalidPurchase    = "invalid_purchase"
	ReasonPhaseNotComplete   = "phase_not_complete"
	ReasonAlreadySurrendered = "already_surrendered"
)

// Action is one player request against a game state.
type Action interface {
	Type() string
}

// MoveTroops relocates troops between two territories the actor owns.
type MoveTroops struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Troops int    `json:"troops"`
}

// Attack sends troops from an owned territory against a foreign one.
// Combat is deterministic: strictly more attackers than defenders conquer.
type Attack struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Troops int    `json:"troops"`
}

// Surrender removes the actor from active play and redistributes their
// territories among the survivors.
type Surrender struct{}

// AdvancePhase moves the actor's turn to its next phase.
type AdvancePhase struct{}

// AdvanceTurn ends the actor's turn once the last phase is reached.
type AdvanceTurn struct{}

// BuyActives purchases a factory or troops on an owned territory.
type BuyActives struct {
	Kind      string `json:"kind"`
	Territory string `json:"territory"`
	Count     int    `json:"count"`
}

func (MoveTroops) Type() string   { return ActionMove }
func (Attack) Type() string       { return ActionAttack }
func (Surrender) Type() string    { return ActionSurrender }
func (AdvancePhase) Type() string { return ActionAdvancePhase }
func (AdvanceTurn) Type() string  { return ActionAdvanceTurn }
func (BuyActives) Type() string   { return ActionBuy }

// ParseAction decodes a wire action by type name. Unknown types are a
// protocol error, not a rejected outcome.
func ParseAction(actionType string, payload json.RawMessage) (Action, error) {
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	switch actionType {
	case ActionMove:
		var a MoveTroops
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("decode move action: %w", err)
		}
		return a, nil
	case ActionAttack:
		var a Attack
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("decode attack action: %w", err)
		}
		return a, nil
	case ActionSurrender:
		return Surrender{}, nil
	case ActionAdvancePhase:
		return AdvancePhase{}, nil
	case ActionAdvanceTurn:
		return AdvanceTurn{}, nil
	case ActionBuy:
		var a BuyActives
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("decode buy action: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", actionType)
	}
}

// PlayerRef identifies a player in an outcome.
type PlayerRef struct {
	Index int    `json:"index"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Outcome describes the result of applying one action.
type Outcome struct {
	Accepted  bool       `json:"accepted"`
	Reason    string     `json:"reason,omitempty"`
	Conquered bool       `json:"conquered,omitempty"`
	Winner    *PlayerRef `json:"winner,omitempty"`
}

func rejected(reason string) Outcome {
	return Outcome{Accepted: false, Reason: reason}
}

func accepted() Outcome {
	return Outcome{Accepted: true}
}

func playerRef(gs *GameState, idx int) *PlayerRef {
	return &PlayerRef{Index: idx, Email: gs.Players[idx].Email, Name: gs.Players[idx].Name}
}
