package cardauth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/cardauth/issuer"
)

// Locale selects a message catalog.
type Locale string

const (
	LocaleEnglish Locale = "en"
	LocalePolish  Locale = "pl"
)

// MsgPasswordMismatch is the catalog key for a failed confirmation check.
const MsgPasswordMismatch = "password_mismatch"

var catalogs = map[Locale]map[string]string{
	LocaleEnglish: {
		string(KindValidation):         "Please check the form and try again.",
		string(KindInvalidCredentials): "Invalid email or password.",
		string(KindUserNotFound):       "No account exists for this email.",
		string(KindEmailTaken):         "An account with this email already exists.",
		string(KindWeakPassword):       "Password is too weak.",
		string(KindSessionExpired):     "Your session has expired. Please sign in again.",
		string(KindInvalidToken):       "Your session is no longer valid. Please sign in again.",
		string(KindTokenExpired):       "Your session has expired. Please sign in again.",
		string(KindNetwork):            "Unable to reach the server. Check your connection.",
		string(KindTimeout):            "The server took too long to respond.",
		string(KindServer):             "Something went wrong on our side. Please try again.",
		string(KindRateLimited):        "Too many requests. Please wait and try again.",
		MsgPasswordMismatch:            "Passwords do not match.",
	},
	LocalePolish: {
		string(KindValidation):         "Sprawdź formularz i spróbuj ponownie.",
		string(KindInvalidCredentials): "Nieprawidłowy email lub hasło.",
		string(KindUserNotFound):       "Nie znaleziono konta dla tego adresu email.",
		string(KindEmailTaken):         "Konto z tym adresem email już istnieje.",
		string(KindWeakPassword):       "Hasło jest zbyt słabe.",
		string(KindSessionExpired):     "Sesja wygasła. Zaloguj się ponownie.",
		string(KindInvalidToken):       "Sesja jest nieważna. Zaloguj się ponownie.",
		string(KindTokenExpired):       "Sesja wygasła. Zaloguj się ponownie.",
		string(KindNetwork):            "Brak połączenia z serwerem.",
		string(KindTimeout):            "Serwer nie odpowiedział na czas.",
		string(KindServer):             "Wystąpił błąd serwera. Spróbuj ponownie.",
		string(KindRateLimited):        "Zbyt wiele żądań. Spróbuj ponownie później.",
		MsgPasswordMismatch:            "Hasła nie są identyczne.",
	},
}

// Localize returns the text for key in locale, falling back to English.
func Localize(locale Locale, key string) string {
	if msgs, ok := catalogs[locale]; ok {
		if m, ok := msgs[key]; ok {
			return m
		}
	}
	return catalogs[LocaleEnglish][key]
}

func newError(locale Locale, kind ErrorKind, detail string, cause error) *Error {
	return &Error{Kind: kind, Message: Localize(locale, string(kind)), Detail: detail, cause: cause}
}

var codeKinds = map[string]ErrorKind{
	issuer.CodeValidation:          KindValidation,
	issuer.CodeInvalidCredentials:  KindInvalidCredentials,
	issuer.CodeUserExists:          KindEmailTaken,
	issuer.CodeUserNotFound:        KindUserNotFound,
	issuer.CodeWeakPassword:        KindWeakPassword,
	issuer.CodeInvalidRefreshToken: KindSessionExpired,
	issuer.CodeSessionNotFound:     KindSessionExpired,
	issuer.CodeTokenExpired:        KindSessionExpired,
	issuer.CodeInvalidToken:        KindSessionExpired,
	issuer.CodeRateLimited:         KindRateLimited,
}

// messageKinds matches backends that report only free text. Order matters: the
// first matching fragment wins.
var messageKinds = []struct {
	fragment string
	kind     ErrorKind
}{
	{"invalid login credentials", KindInvalidCredentials},
	{"invalid credentials", KindInvalidCredentials},
	{"already registered", KindEmailTaken},
	{"already exists", KindEmailTaken},
	{"user not found", KindUserNotFound},
	{"password should be", KindWeakPassword},
	{"weak password", KindWeakPassword},
	{"refresh token", KindSessionExpired},
	{"session", KindSessionExpired},
	{"jwt expired", KindSessionExpired},
	{"rate limit", KindRateLimited},
}

// classify maps a backend failure onto the error taxonomy.
func classify(locale Locale, err error) *Error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return already
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(locale, KindTimeout, "", err)
	}

	be, ok := issuer.AsError(err)
	if !ok {
		return newError(locale, KindNetwork, err.Error(), err)
	}
	if kind, ok := codeKinds[be.Code]; ok {
		return newError(locale, kind, be.Message, err)
	}
	lower := strings.ToLower(be.Message)
	for _, m := range messageKinds {
		if strings.Contains(lower, m.fragment) {
			return newError(locale, m.kind, be.Message, err)
		}
	}
	if be.Status == http.StatusTooManyRequests {
		return newError(locale, KindRateLimited, be.Message, err)
	}
	if be.Message == "" {
		return newError(locale, KindServer, err.Error(), err)
	}
	// Unmapped text is shown as reported.
	return &Error{Kind: KindServer, Message: be.Message, Detail: be.Message, cause: err}
}
