// Package base62 кодирует неотрицательные целые числа в короткие ключи.
//
// Порядок алфавита: строчные a-z, затем заглавные A-Z, затем цифры 0-9.
// От этого порядка зависят реальные сгенерированные ключи, менять его нельзя.
package base62

// Alphabet алфавит кодека, индекс символа равен значению цифры
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const base = uint64(len(Alphabet))

// Encode возвращает минимальное позиционное представление n в base62.
// Encode(0) возвращает первый символ алфавита.
func Encode(n uint64) string {
	if n == 0 {
		return Alphabet[:1]
	}

	// 11 символов хватает для любого uint64
	var buf [11]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = Alphabet[n%base]
		n /= base
	}
	return string(buf[i:])
}
