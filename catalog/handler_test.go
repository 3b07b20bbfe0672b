package catalog

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"atende/config"
	"atende/mappers"
	"atende/testutil"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passthrough(next http.Handler) http.Handler { return next }

func setup(t *testing.T) (*sqlx.DB, *mux.Router) {
	t.Helper()
	db := testutil.NewDB(t)
	r := mux.NewRouter()
	RegisterRoutes(r, db, passthrough)
	return db, r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func createItem(t *testing.T, r http.Handler, body string) mappers.ItemView {
	t.Helper()
	rec := do(r, http.MethodPost, "/api/items", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var v mappers.ItemView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestItemCRUD(t *testing.T) {
	_, r := setup(t)

	v := createItem(t, r, `{"code":"URNA-01","name":"Urna de madeira","category":"urna","priceCents":35000}`)
	assert.Equal(t, "R$ 350,00", v.PriceLabel)
	assert.True(t, v.Active)

	rec := do(r, http.MethodPost, "/api/items", `{"code":"URNA-01","name":"Dup","priceCents":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	for _, body := range []string{`{"name":"x"}`, `{"code":"x"}`, `{"code":"x","name":"y","priceCents":-1}`} {
		rec = do(r, http.MethodPost, "/api/items", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec = do(r, http.MethodPut, "/api/items/"+v.ID, `{"code":"URNA-01","name":"Urna de cedro","priceCents":42000,"active":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(r, http.MethodGet, "/api/items?active=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var active []mappers.ItemView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	assert.Empty(t, active)

	rec = do(r, http.MethodGet, "/api/items", "")
	var all []mappers.ItemView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 1)
	assert.Equal(t, "Urna de cedro", all[0].Name)

	rec = do(r, http.MethodPut, "/api/items/missing", `{"code":"X","name":"Y"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodDelete, "/api/items/"+v.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(r, http.MethodDelete, "/api/items/"+v.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlanLifecycleAndItemProtection(t *testing.T) {
	_, r := setup(t)
	item := createItem(t, r, `{"code":"URNA-01","name":"Urna","priceCents":35000}`)
	createItem(t, r, `{"code":"PATA-01","name":"Pegada em gesso","priceCents":8000}`)

	rec := do(r, http.MethodPost, "/api/plans", `{"code":"BASICO","name":"Plano Básico","priceCents":89000,"itemCodes":["URNA-01","PATA-01"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var plan mappers.PlanView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, []string{"PATA-01", "URNA-01"}, plan.ItemCodes)
	assert.Equal(t, "R$ 890,00", plan.PriceLabel)

	rec = do(r, http.MethodPost, "/api/plans", `{"code":"X","name":"X","itemCodes":["NOPE"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// プランが参照している品目は削除もコード変更もできない
	rec = do(r, http.MethodDelete, "/api/items/"+item.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(r, http.MethodPut, "/api/items/"+item.ID, `{"code":"URNA-02","name":"Urna","priceCents":35000}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(r, http.MethodPut, "/api/items/"+item.ID, `{"code":"URNA-01","name":"Urna nova","priceCents":36000}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodPut, "/api/plans/"+plan.ID, `{"code":"BASICO","name":"Plano Básico","priceCents":99000,"itemCodes":["PATA-01"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, []string{"PATA-01"}, plan.ItemCodes)
	assert.EqualValues(t, 99000, plan.PriceCents)

	rec = do(r, http.MethodPut, "/api/plans/missing", `{"code":"Z","name":"Z"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodGet, "/api/plans/"+plan.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodDelete, "/api/items/"+item.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodDelete, "/api/plans/"+plan.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(r, http.MethodGet, "/api/plans/"+plan.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportCSVRawAndMultipart(t *testing.T) {
	_, r := setup(t)

	csvBody := "code;name;category;price\nURNA-01;Urna;urna;R$ 350,00\nPATA-01;Pegada;;80\n"
	rec := do(r, http.MethodPost, "/api/items/import", csvBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"imported":2`)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "catalog.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("code,name,price\nURNA-01,Urna premium,400\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/items/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(r, http.MethodGet, "/api/items", "")
	var items []mappers.ItemView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	byCode := map[string]mappers.ItemView{}
	for _, it := range items {
		byCode[it.Code] = it
	}
	assert.Equal(t, "Urna premium", byCode["URNA-01"].Name)
	assert.EqualValues(t, 40000, byCode["URNA-01"].PriceCents)

	rec = do(r, http.MethodPost, "/api/items/import", "nome,valor\nx,1\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/api/items/import?encoding=ebcdic", csvBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSeedFromConfiguredPath(t *testing.T) {
	_, r := setup(t)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
items:
  - code: URNA-01
    name: Urna de madeira
    price: 350.00
plans:
  - code: BASICO
    name: Plano Básico
    price: 890.00
    items: [URNA-01]
`), 0o644))

	cfg := config.GetConfig()
	cfg.CatalogSeedPath = path
	prev := config.Replace(cfg)
	t.Cleanup(func() { config.Replace(prev) })

	rec := do(r, http.MethodPost, "/api/catalog/seed", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"items":1,"plans":1}`, rec.Body.String())

	rec = do(r, http.MethodGet, "/api/plans", "")
	var plans []mappers.PlanView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plans))
	require.Len(t, plans, 1)
	assert.Equal(t, []string{"URNA-01"}, plans[0].ItemCodes)
}
