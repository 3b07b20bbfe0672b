package mappers

import (
	"fmt"

	"atende/model"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var brPrinter = message.NewPrinter(language.BrazilianPortuguese)

// FormatBRL はセント単位の金額を "R$ 1.234,50" 形式にします。
func FormatBRL(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	// 千区切りはロケールに任せ、小数部は整数演算で付ける
	return fmt.Sprintf("%sR$ %s,%02d", sign, brPrinter.Sprintf("%d", cents/100), cents%100)
}

var statusLabels = map[model.TicketStatus]string{
	model.StatusBot:       "Bot",
	model.StatusWaiting:   "Aguardando",
	model.StatusInService: "Em atendimento",
	model.StatusFinished:  "Finalizado",
	model.StatusCancelled: "Cancelado",
}

// StatusLabel は画面表示用の状態名です。未知の状態はそのまま返します。
func StatusLabel(s model.TicketStatus) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

var orderStatusLabels = map[model.OrderStatus]string{
	model.OrderPending: "Pendente",
	model.OrderPaid:    "Pago",
	model.OrderFailed:  "Falhou",
	model.OrderExpired: "Expirado",
}

func OrderStatusLabel(s model.OrderStatus) string {
	if label, ok := orderStatusLabels[s]; ok {
		return label
	}
	return string(s)
}
