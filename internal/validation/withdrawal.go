// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// supportedNetworks — сети, в которые разрешён вывод usdt.
var supportedNetworks = map[string]struct{}{
	"trc20": {},
	"erc20": {},
	"bep20": {},
}

// IsValidWithdrawal проверяет сеть и адрес заявки на вывод средств.
func IsValidWithdrawal(network, address string) bool {
	if _, ok := supportedNetworks[strings.ToLower(network)]; !ok {
		return false
	}
	return isValidAddress(strings.ToLower(network), address)
}

func isValidAddress(network, address string) bool {
	switch network {
	case "trc20":
		// Адреса TRON: базовая проверка формата base58.
		return len(address) == 34 && address[0] == 'T' && isBase58(address)
	case "erc20", "bep20":
		// EVM-адреса: 0x и 40 шестнадцатеричных символов.
		if len(address) != 42 || !strings.HasPrefix(address, "0x") {
			return false
		}
		return isHex(address[2:])
	default:
		return false
	}
}

func isBase58(s string) bool {
	for _, ch := range s {
		switch {
		case ch >= '1' && ch <= '9':
		case ch >= 'A' && ch <= 'Z' && ch != 'I' && ch != 'O':
		case ch >= 'a' && ch <= 'z' && ch != 'l':
		default:
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'f':
		case ch >= 'A' && ch <= 'F':
		default:
			return false
		}
	}
	return true
}
