package specialaction

import "testing"

type texts map[string]string

func (t texts) Text(key string) (string, bool) {
	v, ok := t[key]
	return v, ok
}

func TestRenderNotification(t *testing.T) {
	tests := []struct {
		name     string
		texts    texts
		locale   string
		explicit string
		want     string
	}{
		{"default", texts{}, "", "", defaultNotification},
		{"session override", texts{NotificationKey: "Payday!"}, "", "", "Payday!"},
		{"explicit message wins", texts{NotificationKey: "Payday!"}, "", "Bonus round", "Bonus round"},
		{"localised override", texts{NotificationKey: "Palkkapäivä!"}, "fi", "", "Palkkapäivä!"},
		{"percent sign kept literally", texts{NotificationKey: "Tax of 20% applied"}, "", "", "Tax of 20% applied"},
		{"percent verbs not expanded", texts{NotificationKey: "100%s %d done"}, "de", "", "100%s %d done"},
		{"bad locale falls back", texts{NotificationKey: "Payday!"}, "not a locale!", "", "Payday!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderNotification(tt.texts, tt.locale, tt.explicit); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
