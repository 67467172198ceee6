package respond

import (
	"regexp"
)

var (
	// Telegram Bot API のトークンは URL パスに埋め込まれる
	telegramTokenPattern = regexp.MustCompile(`bot(\d+):[A-Za-z0-9_-]+`)

	// WhatsApp Cloud API のアクセストークン
	// bearerPattern より先に適用する
	metaTokenPattern = regexp.MustCompile(`EAA[A-Za-z0-9]{20,}`)

	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`)

	twilioSIDPattern = regexp.MustCompile(`AC[0-9a-fA-F]{32}`)

	// DSN や Basic 認証付き URL のパスワード
	userinfoPasswordPattern = regexp.MustCompile(`://([^:/@\s]+):([^@\s]+)@`)
)

// SanitizeError returns the error message with provider credentials masked.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString masks provider credentials in s.
func SanitizeString(s string) string {
	s = telegramTokenPattern.ReplaceAllString(s, "bot$1:****")
	s = metaTokenPattern.ReplaceAllString(s, "EAA****")
	s = bearerPattern.ReplaceAllString(s, "Bearer ****")
	s = twilioSIDPattern.ReplaceAllString(s, "AC****")
	s = userinfoPasswordPattern.ReplaceAllString(s, "://$1:****@")
	return s
}
