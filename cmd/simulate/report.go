package main

import (
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/xtding233/gacha-pity/internal/gacha"
)

var lang = language.English

// report renders a two-column table of one simulation run.
func report(title string, res gacha.SimResult) string {
	p := message.NewPrinter(lang)
	keys := []string{"draws"}
	msg := map[string]string{"draws": p.Sprintf("%d", res.Count)}

	for _, r := range gacha.Rarities() {
		k := r.String()
		f := res.Frequencies[r]
		keys = append(keys, k)
		msg[k] = p.Sprintf("%d  %.4f%% [%.4f%%, %.4f%%]",
			res.RarityDistribution[r], f.Observed*100, f.Lo*100, f.Hi*100)
	}

	keys = append(keys, "featured", "pulls/top-two mean", "pulls/top-two p50", "pulls/top-two p90", "pulls/top-two p99", "elapsed")
	st := res.PullsPerTopTwo
	msg["featured"] = p.Sprintf("%d", res.FeaturedCount)
	msg["pulls/top-two mean"] = p.Sprintf("%.2f", st.Mean)
	msg["pulls/top-two p50"] = p.Sprintf("%.0f", st.P50)
	msg["pulls/top-two p90"] = p.Sprintf("%.0f", st.P90)
	msg["pulls/top-two p99"] = p.Sprintf("%.0f", st.P99)
	msg["elapsed"] = res.Elapsed.String()

	return fmtTable(title, keys, msg)
}

func fmtTable(title string, keys []string, msg map[string]string) string {
	maxKeyLen := runewidth.StringWidth(title)
	maxValLen := 0
	for k, m := range msg {
		if w := runewidth.StringWidth(k); w > maxKeyLen {
			maxKeyLen = w
		}
		if w := runewidth.StringWidth(m); w > maxValLen {
			maxValLen = w
		}
	}
	maxKeyLen += 2
	maxValLen += 2

	divider := "+" + strings.Repeat("-", maxKeyLen) + "+" + strings.Repeat("-", maxValLen) + "+\n"
	top := "+" + strings.Repeat("-", maxKeyLen+1+maxValLen) + "+\n"

	totalInner := maxKeyLen + maxValLen + 1
	titleW := runewidth.StringWidth(title)
	left := (totalInner - titleW) / 2
	right := totalInner - titleW - left

	var sb strings.Builder
	sb.WriteString(top)
	sb.WriteString("|" + blank(left) + title + blank(right) + "|\n")
	sb.WriteString(divider)
	for _, k := range keys {
		v := msg[k]
		sb.WriteString("| " + k + blank(maxKeyLen-2-runewidth.StringWidth(k)) + " | " + v + blank(maxValLen-2-runewidth.StringWidth(v)) + " |\n")
	}
	sb.WriteString(divider)
	return sb.String()
}

func blank(w int) string {
	if w < 1 {
		return ""
	}
	return strings.Repeat(" ", w)
}
