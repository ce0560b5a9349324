package lua

import (
	"errors"
	"fmt"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/samaelod/scpsim/engine"
	"github.com/samaelod/scpsim/types"
)

var ErrNotTable = errors.New("lua file did not return a table")

func ReadScenario(path string) (*types.Scenario, error) {
	L := lua.NewState()
	defer L.Close()

	// Execute Lua file
	if err := L.DoFile(path); err != nil {
		return nil, err
	}

	return mapScenario(L)
}

// ReadScenarioString is ReadScenario for in-memory sources.
func ReadScenarioString(src string) (*types.Scenario, error) {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoString(src); err != nil {
		return nil, err
	}

	return mapScenario(L)
}

func mapScenario(L *lua.LState) (*types.Scenario, error) {
	// Lua file returns scenario table
	lv := L.Get(-1)
	table, ok := lv.(*lua.LTable)
	if !ok {
		return nil, ErrNotTable
	}

	var sc types.Scenario

	// Map Lua table → Go struct
	if err := gluamapper.Map(table, &sc); err != nil {
		return nil, err
	}

	if err := ValidateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &sc, nil
}

func ValidateScenario(sc *types.Scenario) error {
	if err := engine.NetworkOf(sc).Validate(); err != nil {
		return err
	}

	for i, m := range sc.Messages {
		if !types.Role(m.Role).Valid() {
			return fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
		if m.AtMs < 0 {
			return fmt.Errorf("message %d: negative offset %dms", i, m.AtMs)
		}
	}

	for i, ch := range sc.Changes {
		if ch.AtMs < 0 {
			return fmt.Errorf("change %d: negative offset %dms", i, ch.AtMs)
		}
	}

	return nil
}
