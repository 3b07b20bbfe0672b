package render

import (
	"fmt"
	"html"
	"strings"

	"atende/mappers"
	"atende/model"
)

// RenderTicketTableHTML は atendimento 一覧の <thead>/<tbody> 断片を生成します。
// 利用者が入力した文字列はすべてエスケープします。
func RenderTicketTableHTML(views []mappers.TicketView) string {
	var sb strings.Builder

	sb.WriteString(`<thead>
        <tr>
            <th class="col-protocol">Protocolo</th>
            <th class="col-status">Status</th>
            <th class="col-customer">Cliente</th>
            <th class="col-pet">Pet</th>
            <th class="col-channel">Canal</th>
            <th class="col-attendant">Atendente</th>
            <th class="col-wait">Espera (min)</th>
            <th class="col-handling">Atendimento (min)</th>
            <th class="col-created">Aberto em</th>
        </tr>
    </thead>`)

	sb.WriteString(`<tbody>`)
	if len(views) == 0 {
		sb.WriteString(`<tr><td colspan="9">Nenhum atendimento encontrado.</td></tr>`)
	}
	for _, v := range views {
		sb.WriteString(fmt.Sprintf(`<tr class="status-%s" data-id="%s">`, html.EscapeString(string(v.Status)), html.EscapeString(v.ID)))
		sb.WriteString(fmt.Sprintf(`<td class="col-protocol">%s</td>`, html.EscapeString(v.Protocol)))
		sb.WriteString(fmt.Sprintf(`<td class="center col-status">%s</td>`, html.EscapeString(v.StatusLabel)))
		sb.WriteString(fmt.Sprintf(`<td class="col-customer">%s</td>`, html.EscapeString(v.CustomerName)))
		sb.WriteString(fmt.Sprintf(`<td class="col-pet">%s</td>`, html.EscapeString(v.PetName)))
		sb.WriteString(fmt.Sprintf(`<td class="center col-channel">%s</td>`, html.EscapeString(v.Channel)))
		sb.WriteString(fmt.Sprintf(`<td class="col-attendant">%s</td>`, html.EscapeString(v.AttendantName)))
		sb.WriteString(fmt.Sprintf(`<td class="right col-wait">%d</td>`, v.WaitMinutes))
		sb.WriteString(fmt.Sprintf(`<td class="right col-handling">%d</td>`, v.HandlingMinutes))
		sb.WriteString(fmt.Sprintf(`<td class="center col-created">%s</td>`, html.EscapeString(v.CreatedAt)))
		sb.WriteString(`</tr>`)
	}
	sb.WriteString(`</tbody>`)

	return sb.String()
}

// RenderReceiptHTML は注文の領収書ページ (PDF化の元) を生成します。
func RenderReceiptHTML(o *model.Order, companyName string) string {
	var sb strings.Builder

	sb.WriteString(`<!DOCTYPE html><html lang="pt-BR"><head><meta charset="utf-8">`)
	sb.WriteString(fmt.Sprintf(`<title>Recibo %s</title>`, html.EscapeString(o.Number)))
	sb.WriteString(`<style>
        body { font-family: sans-serif; font-size: 12px; margin: 24px; }
        table { width: 100%; border-collapse: collapse; }
        th, td { border-bottom: 1px solid #ccc; padding: 4px; }
        .right { text-align: right; }
        .total { font-weight: bold; }
    </style></head><body>`)

	sb.WriteString(fmt.Sprintf(`<h1>%s</h1>`, html.EscapeString(companyName)))
	sb.WriteString(fmt.Sprintf(`<p>Pedido <strong>%s</strong> &middot; %s</p>`,
		html.EscapeString(o.Number), html.EscapeString(mappers.OrderStatusLabel(o.Status))))
	sb.WriteString(fmt.Sprintf(`<p>Cliente: %s`, html.EscapeString(o.CustomerName)))
	if o.CustomerEmail != "" {
		sb.WriteString(fmt.Sprintf(` &lt;%s&gt;`, html.EscapeString(o.CustomerEmail)))
	}
	sb.WriteString(`</p>`)
	sb.WriteString(fmt.Sprintf(`<p>Emitido em: %s`, html.EscapeString(o.CreatedAt)))
	if o.PaidAt != "" {
		sb.WriteString(fmt.Sprintf(` &middot; Pago em: %s`, html.EscapeString(o.PaidAt)))
	}
	sb.WriteString(`</p>`)

	sb.WriteString(`<table><thead><tr><th>Código</th><th>Descrição</th><th class="right">Qtd</th><th class="right">Unitário</th><th class="right">Subtotal</th></tr></thead><tbody>`)
	for _, l := range o.Lines {
		sb.WriteString(`<tr>`)
		sb.WriteString(fmt.Sprintf(`<td>%s</td>`, html.EscapeString(l.Code)))
		sb.WriteString(fmt.Sprintf(`<td>%s</td>`, html.EscapeString(l.Description)))
		sb.WriteString(fmt.Sprintf(`<td class="right">%d</td>`, l.Quantity))
		sb.WriteString(fmt.Sprintf(`<td class="right">%s</td>`, mappers.FormatBRL(l.UnitCents)))
		sb.WriteString(fmt.Sprintf(`<td class="right">%s</td>`, mappers.FormatBRL(l.UnitCents*int64(l.Quantity))))
		sb.WriteString(`</tr>`)
	}
	sb.WriteString(fmt.Sprintf(`<tr class="total"><td colspan="4" class="right">Total</td><td class="right">%s</td></tr>`,
		mappers.FormatBRL(o.TotalCents)))
	sb.WriteString(`</tbody></table></body></html>`)

	return sb.String()
}
