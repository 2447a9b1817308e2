package notify

import "fmt"

// CargoRegistered tells a client their cargo was received.
func CargoRegistered(email, phone, clientName, cargoCode string, boxes int) Message {
	greeting := "Hola"
	if clientName != "" {
		greeting = "Hola " + clientName
	}
	return Message{
		Subject: fmt.Sprintf("888Cargo: carga %s registrada", cargoCode),
		Body: fmt.Sprintf("%s, tu carga %s fue registrada con %d cajas. "+
			"Te avisaremos cuando las etiquetas QR estén listas.", greeting, cargoCode, boxes),
		Email: email,
		Phone: phone,
	}
}

// LabelsReady tells a client the labels of a cargo can be printed.
func LabelsReady(email, phone, cargoCode string, labels int) Message {
	return Message{
		Subject: fmt.Sprintf("888Cargo: etiquetas de %s listas", cargoCode),
		Body:    fmt.Sprintf("Se generaron %d etiquetas QR para la carga %s.", labels, cargoCode),
		Email:   email,
		Phone:   phone,
	}
}

// QuoteIssued sends a quote summary.
func QuoteIssued(email, mode, destination, totalUSD, totalCOP string) Message {
	return Message{
		Subject: fmt.Sprintf("888Cargo: cotización %s a %s", mode, destination),
		Body:    fmt.Sprintf("Valor estimado: USD %s (COP %s). Cotización válida por 15 días.", totalUSD, totalCOP),
		Email:   email,
	}
}
