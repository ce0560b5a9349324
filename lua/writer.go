package lua

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/samaelod/scpsim/types"
)

func WriteScenario(w io.Writer, sc *types.Scenario) error {
	fmt.Fprintln(w, "local scenario = {}")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "scenario.name = %s\n", luaQuote(sc.Name))
	if sc.Seed != 0 {
		fmt.Fprintf(w, "scenario.seed = %d\n", sc.Seed)
	}
	fmt.Fprintln(w)

	// Network
	fmt.Fprintln(w, "-- NETWORK ----------------------------------------")
	fmt.Fprintln(w, "scenario.network = {")
	fmt.Fprintf(w, "\tforward_delay_ms = %d,\n", sc.Network.ForwardDelayMs)
	fmt.Fprintf(w, "\tloss_enabled = %t,\n", sc.Network.LossEnabled)
	fmt.Fprintf(w, "\tloss_percent = %d,\n", sc.Network.LossPercent)
	fmt.Fprintf(w, "\tack_timeout_ms = %d,\n", sc.Network.AckTimeoutMs)
	fmt.Fprintf(w, "\tmax_retries = %d,\n", sc.Network.MaxRetries)
	fmt.Fprintln(w, "}")
	fmt.Fprintln(w)

	if len(sc.Drops) > 0 {
		fmt.Fprintln(w, "-- DROPS (one per frame, true = lost) -------------")
		fmt.Fprint(w, "scenario.drops = {")
		for i, d := range sc.Drops {
			if i > 0 {
				fmt.Fprint(w, ", ")
			}
			fmt.Fprintf(w, "%t", d)
		}
		fmt.Fprintln(w, "}")
		fmt.Fprintln(w)
	}

	if len(sc.Messages) > 0 {
		fmt.Fprintln(w, "-- MESSAGES ---------------------------------------")
		fmt.Fprintln(w, "scenario.messages = {")
		for _, m := range sc.Messages {
			fmt.Fprintln(w, "\t{")
			fmt.Fprintf(w, "\t\trole = %s,\n", luaQuote(m.Role))
			fmt.Fprintf(w, "\t\tpayload = %s,\n", luaQuote(m.Payload))
			fmt.Fprintf(w, "\t\tat_ms = %d,\n", m.AtMs)
			fmt.Fprintln(w, "\t},")
		}
		fmt.Fprintln(w, "}")
		fmt.Fprintln(w)
	}

	if len(sc.Changes) > 0 {
		fmt.Fprintln(w, "-- CHANGES ----------------------------------------")
		fmt.Fprintln(w, "scenario.changes = {")
		for _, ch := range sc.Changes {
			fmt.Fprintln(w, "\t{")
			fmt.Fprintf(w, "\t\tat_ms = %d,\n", ch.AtMs)
			writeInt(w, "forward_delay_ms", ch.ForwardDelayMs)
			if ch.LossEnabled != nil {
				fmt.Fprintf(w, "\t\tloss_enabled = %t,\n", *ch.LossEnabled)
			}
			writeInt(w, "loss_percent", ch.LossPercent)
			writeInt(w, "ack_timeout_ms", ch.AckTimeoutMs)
			writeInt(w, "max_retries", ch.MaxRetries)
			fmt.Fprintln(w, "\t},")
		}
		fmt.Fprintln(w, "}")
		fmt.Fprintln(w)
	}

	_, err := fmt.Fprintln(w, "return scenario")
	return err
}

func writeInt(w io.Writer, key string, v *int) {
	if v != nil {
		fmt.Fprintf(w, "\t\t%s = %d,\n", key, *v)
	}
}

// luaQuote renders s as a Lua 5.1 string literal. Lua has no \x or \u
// escapes, so control characters and invalid UTF-8 bytes use the three
// digit decimal form; valid UTF-8 is written as is.
func luaQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&b, "\\%03d", s[i])
		case r == '\\':
			b.WriteString(`\\`)
		case r == '"':
			b.WriteString(`\"`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, "\\%03d", r)
		default:
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	b.WriteByte('"')
	return b.String()
}
