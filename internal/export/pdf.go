// Package export renders printable artifacts from session data.
package export

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/jung-kurt/gofpdf/v2"

	"wartable/internal/game"
)

const (
	margin    = 40.0
	titleSize = 16
	headSize  = 11
	bodySize  = 9
	lineH     = 14.0
)

// BattleReport renders a battle as a one-or-more page PDF: header, initiative
// order (highest first), combatant roster and the full battle log.
func BattleReport(b *game.Battle) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("no battle to export")
	}

	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", titleSize)
	pdf.CellFormat(0, lineH+6, b.Name, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", bodySize)
	pdf.CellFormat(0, lineH, "Created "+b.CreatedAt.Format("2006-01-02 15:04 UTC"), "", 1, "L", false, 0, "")
	pdf.Ln(lineH / 2)

	if len(b.Initiative) > 0 {
		section(pdf, "Initiative")
		for _, name := range initiativeOrder(b.Initiative) {
			pdf.CellFormat(0, lineH, fmt.Sprintf("%2d  %s", b.Initiative[name], name), "", 1, "L", false, 0, "")
		}
		pdf.Ln(lineH / 2)
	}

	roster(pdf, "Monsters", b.Monsters)
	roster(pdf, "Allies", b.Allies)

	section(pdf, "Battle Log")
	if len(b.Log) == 0 {
		pdf.CellFormat(0, lineH, "(empty)", "", 1, "L", false, 0, "")
	}
	for _, line := range b.Log {
		pdf.MultiCell(0, lineH, line, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render battle report: %w", err)
	}
	return buf.Bytes(), nil
}

func section(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", headSize)
	pdf.CellFormat(0, lineH+2, title, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", bodySize)
}

func roster(pdf *gofpdf.Fpdf, title string, entities []game.Entity) {
	if len(entities) == 0 {
		return
	}
	section(pdf, title)
	for _, e := range entities {
		name, _ := e["name"].(string)
		if name == "" {
			name = "(unnamed)"
		}
		pdf.CellFormat(0, lineH, name, "", 1, "L", false, 0, "")
	}
	pdf.Ln(lineH / 2)
}

// initiativeOrder sorts names by score descending, name ascending on ties.
func initiativeOrder(init map[string]int) []string {
	names := make([]string, 0, len(init))
	for name := range init {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if init[names[i]] != init[names[j]] {
			return init[names[i]] > init[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
