package notifications

import (
	"strconv"
	"strings"
	"time"

	"fructosahel/backend/internal/models"

	"golang.org/x/text/language"
)

type message struct {
	title string
	body  string
}

type localeMessages struct {
	tag          language.Tag
	untitled     string
	dueLayout    string
	defaultTitle string
	messages     map[models.NotificationType]message
}

// The first entry is the fallback locale.
var locales = []localeMessages{
	{
		tag:          language.French,
		untitled:     "Tâche",
		dueLayout:    "02/01 à 15h04",
		defaultTitle: "FructoSahel",
		messages: map[models.NotificationType]message{
			models.NotificationTaskDueSoon:     {"Tâche à venir", "« {title} » est prévue pour le {due}."},
			models.NotificationTaskOverdue:     {"Tâche en retard", "« {title} » est en retard (échéance le {due})."},
			models.NotificationNewTaskAssigned: {"Nouvelle tâche assignée", "On vous a assigné « {title} »."},
			models.NotificationUrgentAlert:     {"Alerte urgente", "« {title} » demande votre attention immédiate."},
			models.NotificationDailyDigest:     {"Vos tâches du jour", "Vous avez {count} tâche(s) prévue(s) aujourd'hui."},
			models.NotificationTest:            {"Notification de test", "Les notifications FructoSahel fonctionnent sur cet appareil."},
		},
	},
	{
		tag:          language.English,
		untitled:     "Task",
		dueLayout:    "Jan 2 at 15:04",
		defaultTitle: "FructoSahel",
		messages: map[models.NotificationType]message{
			models.NotificationTaskDueSoon:     {"Task due soon", "\"{title}\" is due on {due}."},
			models.NotificationTaskOverdue:     {"Task overdue", "\"{title}\" is overdue (was due {due})."},
			models.NotificationNewTaskAssigned: {"New task assigned", "You have been assigned \"{title}\"."},
			models.NotificationUrgentAlert:     {"Urgent alert", "\"{title}\" needs your immediate attention."},
			models.NotificationDailyDigest:     {"Today's tasks", "You have {count} task(s) due today."},
			models.NotificationTest:            {"Test notification", "FructoSahel notifications are working on this device."},
		},
	},
}

var matcher = func() language.Matcher {
	tags := make([]language.Tag, len(locales))
	for i, l := range locales {
		tags[i] = l.tag
	}
	return language.NewMatcher(tags)
}()

// Catalog renders notification payloads in the recipient's language. Due
// dates are shown in loc.
type Catalog struct {
	loc *time.Location
}

func NewCatalog(loc *time.Location) *Catalog {
	if loc == nil {
		loc = time.UTC
	}
	return &Catalog{loc: loc}
}

// MatchLocale maps an arbitrary locale string (e.g. "en-GB", "fr_SN") to a
// supported one, defaulting to French.
func MatchLocale(locale string) string {
	return locales[matchIndex(locale)].tag.String()
}

func matchIndex(locale string) int {
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return 0
	}
	_, index, confidence := matcher.Match(tag)
	if confidence == language.No {
		return 0
	}
	return index
}

// BuildPayload renders with due dates in UTC.
func BuildPayload(notificationType models.NotificationType, locale string, data map[string]interface{}) models.NotificationPayload {
	return NewCatalog(time.UTC).Build(notificationType, locale, data)
}

// Build fills the per-type template with the title, due and count data keys.
// A non-empty "message" data value replaces the templated body.
func (c *Catalog) Build(notificationType models.NotificationType, locale string, data map[string]interface{}) models.NotificationPayload {
	l := locales[matchIndex(locale)]

	msg, ok := l.messages[notificationType]
	if !ok {
		msg = message{title: l.defaultTitle, body: ""}
	}

	title := stringValue(data, "title")
	if title == "" {
		title = l.untitled
	}

	replacer := strings.NewReplacer(
		"{title}", title,
		"{due}", c.formatDue(data, l.dueLayout),
		"{count}", countValue(data),
	)

	body := replacer.Replace(msg.body)
	if custom := stringValue(data, "message"); custom != "" {
		body = custom
	}

	payloadData := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		payloadData[k] = v
	}
	payloadData["locale"] = l.tag.String()

	return models.NotificationPayload{
		Type:  notificationType,
		Title: msg.title,
		Body:  body,
		Data:  payloadData,
	}
}

func (c *Catalog) formatDue(data map[string]interface{}, layout string) string {
	switch v := data["due"].(type) {
	case time.Time:
		return v.In(c.loc).Format(layout)
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.In(c.loc).Format(layout)
		}
		return v
	}
	return ""
}

func stringValue(data map[string]interface{}, key string) string {
	if s, ok := data[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func countValue(data map[string]interface{}) string {
	switch v := data["count"].(type) {
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	}
	return "0"
}
