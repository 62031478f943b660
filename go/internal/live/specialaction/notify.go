package specialaction

import (
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// NotificationKey is the session text override for the notification sent to
// affected participants.
const NotificationKey = "special_action.notification"

const defaultNotification = "An operator adjusted your resources."

// TextSource looks up session text overrides.
type TextSource interface {
	Text(key string) (string, bool)
}

// RenderNotification returns the message pushed to affected participants.
// An explicit message wins over the session override, which wins over the
// built-in default.
func RenderNotification(texts TextSource, locale, explicit string) string {
	if explicit != "" {
		return explicit
	}

	tag := language.English
	if locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			tag = parsed
		}
	}

	b := catalog.NewBuilder(catalog.Fallback(language.English))
	if err := b.SetString(language.English, NotificationKey, defaultNotification); err != nil {
		log.Error().Err(err).Msg("notification catalog rejected default text")
		return defaultNotification
	}
	if override, ok := texts.Text(NotificationKey); ok && override != "" {
		// Catalog entries are format strings; operator text is literal.
		if err := b.SetString(tag, NotificationKey, strings.ReplaceAll(override, "%", "%%")); err != nil {
			log.Warn().Err(err).Str("locale", tag.String()).Msg("notification override rejected")
			return override
		}
	}
	return message.NewPrinter(tag, message.Catalog(b)).Sprintf(NotificationKey)
}
