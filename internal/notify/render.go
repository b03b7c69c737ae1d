// internal/notify/render.go
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/rovshanmuradov/solana-copybot/internal/events"
)

// Render turns an event into a title and Markdown body. ok is false for
// events that are not worth a message.
func Render(ev events.Event) (title, body string, ok bool) {
	switch e := ev.(type) {
	case events.PositionOpenedEvent:
		return renderOpened(e)
	case events.PositionClosedEvent:
		return renderClosed(e)
	case events.TradeFailedEvent:
		return "⚠️ Trade failed", lines(
			field("Token", code(e.TokenMint)),
			field("Side", e.Side),
			field("Venue", string(e.Venue)),
			field("Error", escape(errText(e.Err))),
		), true
	case events.ReconciliationNeededEvent:
		if e.Pending == nil {
			return "", "", false
		}
		return "🚨 Reconciliation needed", lines(
			field("Token", code(e.Pending.TokenMint)),
			field("Buy", code(e.Pending.Signature)),
			field("Spent", fmt.Sprintf("%.4f SOL", e.Pending.SolAmount)),
			field("Tokens", fmt.Sprintf("%.0f", e.Tokens)),
			field("Error", escape(errText(e.Err))),
		), true
	case events.FeeDragDetectedEvent:
		return "🧾 Fee drag", lines(
			field("Token", code(e.TokenMint)),
			field("Price move", fmt.Sprintf("%+.2f%%", e.PriceChangePercent)),
			field("PnL", fmt.Sprintf("%+.2f%%", e.PnLPercent)),
			field("Gap", fmt.Sprintf("%.2f pts", e.Gap)),
		), true
	case events.SellSignalObservedEvent:
		return "👀 Source wallet selling", lines(
			field("Token", code(e.TokenMint)),
			field("Wallet", code(e.SourceWallet)),
			field("Sellers", fmt.Sprintf("%d", e.Sellers)),
		), true
	}
	return "", "", false
}

func renderOpened(e events.PositionOpenedEvent) (string, string, bool) {
	p := e.Position
	if p == nil {
		return "", "", false
	}
	status := ""
	if p.Unconfirmed {
		status = " (unconfirmed)"
	}
	return "🟢 Copied " + displayName(p.Label, p.TokenMint), lines(
		field("Token", code(p.TokenMint)),
		field("Venue", string(p.EntryVenue)),
		field("Spent", fmt.Sprintf("%.4f SOL%s", p.SolSpent, status)),
		field("Entry", fmt.Sprintf("%.10g SOL", p.EntryPrice)),
		field("Mode", fmt.Sprintf("%s, %d upvotes, confidence %.0f%%", escape(e.Mode), p.Upvotes, e.Confidence*100)),
	), true
}

func renderClosed(e events.PositionClosedEvent) (string, string, bool) {
	r := e.Record
	if r == nil {
		return "", "", false
	}
	icon := "🔴"
	if r.PnL > 0 {
		icon = "💰"
	}
	title := fmt.Sprintf("%s Closed %s %+.2f%%", icon, displayName(r.Label, r.TokenMint), r.PnLPercent)
	if r.IntegrityClose {
		title += " (integrity)"
	}
	return title, lines(
		field("Token", code(r.TokenMint)),
		field("Reason", escape(r.Reason)),
		field("Venue", fmt.Sprintf("%s → %s", r.EntryVenue, r.ExitVenue)),
		field("PnL", fmt.Sprintf("%+.4f SOL", r.PnL)),
		field("In/Out", fmt.Sprintf("%.4f / %.4f SOL", r.SolSpent, r.SolReceived)),
		field("Held", r.HoldTime().Round(time.Second).String()),
	), true
}

func displayName(label, mint string) string {
	if label != "" {
		return label
	}
	if len(mint) > 8 {
		return mint[:4] + "…" + mint[len(mint)-4:]
	}
	return mint
}

func field(name, value string) string {
	if value == "" {
		return ""
	}
	return "*" + name + ":* " + value
}

func code(s string) string {
	if s == "" {
		return ""
	}
	return "`" + s + "`"
}

func lines(parts ...string) string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

func errText(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
