package loader

import (
	"fmt"
	"os"

	"atende/database"
	"atende/model"
	"atende/parsers"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// CatalogSeed は catalog.yaml の形式です。
//
//	items:
//	  - code: URNA-01
//	    name: Urna de madeira
//	    category: urna
//	    price: 350.00
//	plans:
//	  - code: BASICO
//	    name: Plano Básico
//	    price: 890.00
//	    items: [URNA-01]
type CatalogSeed struct {
	Items []struct {
		Code     string `yaml:"code"`
		Name     string `yaml:"name"`
		Category string `yaml:"category"`
		Price    Price  `yaml:"price"`
		Inactive bool   `yaml:"inactive"`
	} `yaml:"items"`
	Plans []struct {
		Code        string   `yaml:"code"`
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Price       Price    `yaml:"price"`
		Inactive    bool     `yaml:"inactive"`
		Items       []string `yaml:"items"`
	} `yaml:"plans"`
}

// LoadCatalogYAML は YAML のカタログを読み込み、コードをキーに登録・更新します。
// ファイルがない場合は何もしません。戻り値は (品目件数, プラン件数)。
func LoadCatalogYAML(db *sqlx.DB, path string) (int, int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("WARN: %s not found, skipping catalog seed.", path)
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("could not read %s: %w", path, err)
	}

	var seed CatalogSeed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return 0, 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	tx, err := db.Beginx()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, it := range seed.Items {
		if it.Code == "" || it.Name == "" {
			return 0, 0, fmt.Errorf("catalog item without code or name in %s", path)
		}
		item := model.Item{
			Code:       it.Code,
			Name:       it.Name,
			Category:   it.Category,
			PriceCents: int64(it.Price),
			Active:     !it.Inactive,
		}
		if err := database.UpsertItemInTx(tx, item); err != nil {
			return 0, 0, err
		}
	}
	for _, p := range seed.Plans {
		if p.Code == "" || p.Name == "" {
			return 0, 0, fmt.Errorf("catalog plan without code or name in %s", path)
		}
		plan := model.Plan{
			Code:        p.Code,
			Name:        p.Name,
			Description: p.Description,
			PriceCents:  int64(p.Price),
			Active:      !p.Inactive,
			ItemCodes:   p.Items,
		}
		if err := database.UpsertPlanInTx(tx, plan); err != nil {
			return 0, 0, fmt.Errorf("plan %s: %w", p.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit catalog seed: %w", err)
	}
	log.Printf("Catalog seed %s: %d items, %d plans", path, len(seed.Items), len(seed.Plans))
	return len(seed.Items), len(seed.Plans), nil
}

// Price は YAML の金額 (350.00 / "1.234,56") をセントで保持します。
// 負数、指数表記、.inf / .nan は読み込みエラーになります。
type Price int64

func (p *Price) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: price must be a scalar", node.Line)
	}
	cents, err := parsers.ParseCents(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*p = Price(cents)
	return nil
}
