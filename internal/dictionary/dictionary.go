// Package dictionary holds the display vocabularies clients render: category
// labels and the theme palette used by budgets, pots and bills.
package dictionary

import "github.com/tinoosan/fintrack/internal/ledger"

type CategoryDef struct {
	Code  ledger.Category `json:"code"`
	Label string          `json:"label"`
}

type ThemeDef struct {
	Code  string `json:"code"`
	Label string `json:"label"`
	Hex   string `json:"hex"`
}

var labels = map[ledger.Category]string{
	ledger.CategoryDiningOut:    "Dining Out",
	ledger.CategoryPersonalCare: "Personal Care",
}

// Label returns the display name of c.
func Label(c ledger.Category) string {
	if l, ok := labels[c]; ok {
		return l
	}
	return string(c)
}

// Categories lists every category with its label, in display order.
func Categories() []CategoryDef {
	out := make([]CategoryDef, 0, len(ledger.Categories))
	for _, c := range ledger.Categories {
		out = append(out, CategoryDef{Code: c, Label: Label(c)})
	}
	return out
}

// Themes is the palette, in display order.
var Themes = []ThemeDef{
	{Code: "green", Label: "Green", Hex: "#277C78"},
	{Code: "cyan", Label: "Cyan", Hex: "#82C9D7"},
	{Code: "yellow", Label: "Yellow", Hex: "#F2CDAC"},
	{Code: "navyGrey", Label: "Navy Grey", Hex: "#626070"},
	{Code: "purple", Label: "Purple", Hex: "#826CB0"},
	{Code: "red", Label: "Red", Hex: "#C94739"},
	{Code: "turquoise", Label: "Turquoise", Hex: "#57BEB8"},
	{Code: "brown", Label: "Brown", Hex: "#855744"},
	{Code: "magenta", Label: "Magenta", Hex: "#C76888"},
	{Code: "blue", Label: "Blue", Hex: "#3F88C5"},
	{Code: "navy", Label: "Navy", Hex: "#2B3C5E"},
	{Code: "armyGreen", Label: "Army Green", Hex: "#6A7C60"},
	{Code: "pink", Label: "Pink", Hex: "#D8A7B1"},
	{Code: "gold", Label: "Gold", Hex: "#E8B056"},
	{Code: "orange", Label: "Orange", Hex: "#E88D67"},
}

// Theme returns the hex colour for a palette code.
func Theme(code string) (string, bool) {
	for _, t := range Themes {
		if t.Code == code {
			return t.Hex, true
		}
	}
	return "", false
}
