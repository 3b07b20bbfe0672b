package parsers

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"atende/model"

	log "github.com/sirupsen/logrus"
)

// ParseCatalogCSV は品目カタログCSV (code,name,category,price,active) を解析します。
// 区切り文字はカンマとセミコロン (Excel pt-BR の既定) の両方を受け付けます。
func ParseCatalogCSV(r io.Reader, encoding string) ([]model.Item, error) {
	decoded, err := Decode(r, encoding)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	text := string(raw)

	reader := csv.NewReader(strings.NewReader(text))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	if firstLine, _, _ := strings.Cut(text, "\n"); strings.Count(firstLine, ";") > strings.Count(firstLine, ",") {
		reader.Comma = ';'
	}

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	colIndex, err := getColIndex(header, []string{"code", "name", "price"})
	if err != nil {
		return nil, err
	}

	var items []model.Item
	line := 1
	for {
		line++
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("WARN: catalog csv line %d read error (skipped): %v", line, err)
			continue
		}

		get := func(key string) string {
			if idx, ok := colIndex[key]; ok && idx < len(rec) {
				return strings.TrimSpace(rec[idx])
			}
			return ""
		}

		code := get("code")
		name := get("name")
		if code == "" || name == "" {
			log.Printf("WARN: catalog csv line %d has no code or name (skipped)", line)
			continue
		}
		cents, err := ParseCents(get("price"))
		if err != nil {
			log.Printf("WARN: catalog csv line %d (%s): %v (skipped)", line, code, err)
			continue
		}

		items = append(items, model.Item{
			Code:       code,
			Name:       name,
			Category:   get("category"),
			PriceCents: cents,
			Active:     parseActive(get("active")),
		})
	}
	return items, nil
}

// parseActive は空欄を有効とみなします。
func parseActive(s string) bool {
	switch strings.ToLower(s) {
	case "0", "false", "nao", "não", "n", "inativo":
		return false
	default:
		return true
	}
}
