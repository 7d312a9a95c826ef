// Package cart holds the cart state machine. State is owned by the client; the server only
// reduces it so every client computes totals the same way.
package cart

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type ActionType string

const (
	ActionAddItem        ActionType = "ADD_ITEM"
	ActionRemoveItem     ActionType = "REMOVE_ITEM"
	ActionUpdateQuantity ActionType = "UPDATE_QUANTITY"
	ActionClearCart      ActionType = "CLEAR_CART"
	ActionLoadCart       ActionType = "LOAD_CART"
)

func (t ActionType) Valid() bool {
	switch t {
	case ActionAddItem, ActionRemoveItem, ActionUpdateQuantity, ActionClearCart, ActionLoadCart:
		return true
	}
	return false
}

type Item struct {
	ProductID string  `json:"id"`
	Name      string  `json:"name"`
	Image     string  `json:"image"`
	Weight    string  `json:"weight"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Key identifies a line: the same product in two weights is two lines.
type Key struct {
	ProductID string `json:"id"`
	Weight    string `json:"weight"`
}

func (i Item) Key() Key {
	return Key{ProductID: i.ProductID, Weight: i.Weight}
}

type State struct {
	Items     []Item  `json:"items"`
	Total     float64 `json:"total"`
	ItemCount int     `json:"itemCount"`
}

type Action struct {
	Type     ActionType
	Item     Item   // ADD_ITEM
	Key      Key    // REMOVE_ITEM, UPDATE_QUANTITY
	Quantity int    // UPDATE_QUANTITY
	Items    []Item // LOAD_CART
}

// UnmarshalJSON reads the {"type": ..., "payload": ...} wire shape.
func (a *Action) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type    ActionType      `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*a = Action{Type: raw.Type}
	if len(raw.Payload) == 0 || string(raw.Payload) == "null" {
		switch raw.Type {
		case ActionAddItem, ActionRemoveItem, ActionUpdateQuantity:
			return fmt.Errorf("%s requires a payload", raw.Type)
		}
		return nil
	}

	var err error
	switch raw.Type {
	case ActionAddItem:
		err = json.Unmarshal(raw.Payload, &a.Item)
	case ActionRemoveItem:
		err = json.Unmarshal(raw.Payload, &a.Key)
	case ActionUpdateQuantity:
		var p struct {
			Key
			Quantity int `json:"quantity"`
		}
		err = json.Unmarshal(raw.Payload, &p)
		a.Key, a.Quantity = p.Key, p.Quantity
	case ActionLoadCart:
		err = json.Unmarshal(raw.Payload, &a.Items)
	}
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", raw.Type, err)
	}
	return nil
}

// Reduce returns the state after applying action. The input state is never modified.
func Reduce(state State, action Action) State {
	switch action.Type {
	case ActionAddItem:
		items := clone(state.Items)
		if i := indexOf(items, action.Item.Key()); i >= 0 {
			items[i].Quantity += action.Item.Quantity
		} else {
			items = append(items, action.Item)
		}
		return derive(items)

	case ActionRemoveItem:
		items := make([]Item, 0, len(state.Items))
		for _, it := range state.Items {
			if it.Key() != action.Key {
				items = append(items, it)
			}
		}
		return derive(items)

	case ActionUpdateQuantity:
		if action.Quantity <= 0 {
			return Reduce(state, Action{Type: ActionRemoveItem, Key: action.Key})
		}
		items := clone(state.Items)
		if i := indexOf(items, action.Key); i >= 0 {
			items[i].Quantity = action.Quantity
		}
		return derive(items)

	case ActionClearCart:
		return derive(nil)

	case ActionLoadCart:
		return derive(clone(action.Items))
	}

	return state
}

// Totals computes the derived fields for items.
func Totals(items []Item) (float64, int) {
	total := decimal.Zero
	count := 0
	for _, it := range items {
		total = total.Add(decimal.NewFromFloat(it.Price).Mul(decimal.NewFromInt(int64(it.Quantity))))
		count += it.Quantity
	}
	f, _ := total.Float64()
	return f, count
}

func derive(items []Item) State {
	if items == nil {
		items = []Item{}
	}
	total, count := Totals(items)
	return State{Items: items, Total: total, ItemCount: count}
}

func clone(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

func indexOf(items []Item, k Key) int {
	for i, it := range items {
		if it.Key() == k {
			return i
		}
	}
	return -1
}
