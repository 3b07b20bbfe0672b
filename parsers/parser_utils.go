package parsers

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// SkipBOM はUTF-8 BOMをスキップします。
func SkipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	peeked, err := br.Peek(3)
	if err != nil {
		return br
	}
	if peeked[0] == 0xEF && peeked[1] == 0xBB && peeked[2] == 0xBF {
		br.Discard(3)
	}
	return br
}

// Decode は指定の文字コードから UTF-8 へ変換する Reader を返します。
// Excel (pt-BR) が出力する CSV は windows-1252 / latin1 のことが多い。
func Decode(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return SkipBOM(r), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), nil
	case "latin1", "iso-8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("unsupported csv encoding: %s", encoding)
	}
}

// getColIndex はヘッダー名から列インデックスを取得するヘルパーです。
func getColIndex(header []string, required []string) (map[string]int, error) {
	colIndex := make(map[string]int)
	for i, colName := range header {
		colIndex[strings.ToLower(strings.TrimSpace(colName))] = i
	}
	for _, req := range required {
		if _, ok := colIndex[req]; !ok {
			return nil, fmt.Errorf("required header not found: %s", req)
		}
	}
	return colIndex, nil
}

// maxPriceUnits はセント換算で int64 に収まる整数部の上限です。
const maxPriceUnits = (math.MaxInt64 - 99) / 100

// ParseCents は "1.234,56" / "1234.56" / "R$ 89,90" 形式の金額をセントに変換します。
// 浮動小数点を経由せず、小数第3位で四捨五入します。指数表記や Inf/NaN は受け付けません。
func ParseCents(s string) (int64, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimPrefix(v, "R$")
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("empty price")
	}
	if strings.HasPrefix(v, "-") {
		return 0, fmt.Errorf("negative price %q", s)
	}
	if strings.Contains(v, ",") {
		// pt-BR 表記: 千区切りの "." を捨て、小数点の "," を "." に
		v = strings.ReplaceAll(v, ".", "")
		v = strings.ReplaceAll(v, ",", ".")
	}
	whole, frac, _ := strings.Cut(v, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	var units int64
	if whole != "" {
		n, err := strconv.ParseInt(whole, 10, 64)
		if err != nil || n > maxPriceUnits {
			return 0, fmt.Errorf("price %q out of range", s)
		}
		units = n
	}
	frac += "000"
	cents := units*100 + int64(frac[0]-'0')*10 + int64(frac[1]-'0')
	if frac[2] >= '5' {
		cents++
	}
	return cents, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
